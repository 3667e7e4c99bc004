package llm

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

type purposeKey struct{}

// WithPurpose labels calls made with ctx, e.g. "screen" or "refine".
func WithPurpose(ctx context.Context, purpose string) context.Context {
	return context.WithValue(ctx, purposeKey{}, purpose)
}

// PurposeFrom returns the label set by WithPurpose.
func PurposeFrom(ctx context.Context) string {
	if v, ok := ctx.Value(purposeKey{}).(string); ok {
		return v
	}
	return "unknown"
}

type loggingProvider struct {
	inner  Provider
	logger *logrus.Logger
}

// WithLogging logs every call with its latency and token usage. Prompts and outputs are
// logged only at trace level since they carry patient answers.
func WithLogging(p Provider, logger *logrus.Logger) Provider {
	return &loggingProvider{inner: p, logger: logger}
}

func (l *loggingProvider) ModelID() string { return l.inner.ModelID() }

func (l *loggingProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := l.inner.Generate(ctx, req)

	fields := logrus.Fields{
		"model":      l.inner.ModelID(),
		"purpose":    PurposeFrom(ctx),
		"latency_ms": time.Since(start).Milliseconds(),
		"success":    err == nil,
	}
	if resp != nil {
		fields["input_tokens"] = resp.Usage.InputTokens
		fields["output_tokens"] = resp.Usage.OutputTokens
		fields["stop_reason"] = resp.StopReason
	}
	entry := l.logger.WithFields(fields)

	if err != nil {
		entry.WithError(err).Warn("Reasoning call failed")
		return nil, err
	}
	entry.Debug("Reasoning call completed")
	if l.logger.IsLevelEnabled(logrus.TraceLevel) {
		entry.WithFields(logrus.Fields{
			"system":   req.System,
			"messages": req.Messages,
			"content":  string(resp.Content),
		}).Trace("Reasoning call payload")
	}
	return resp, nil
}
