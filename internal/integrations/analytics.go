package integrations

import (
	"context"

	"github.com/symptom-intake-server/internal/domain"
	"github.com/symptom-intake-server/internal/repository"
)

// EventRecorder stores aggregate diagnosis rows.
type EventRecorder interface {
	Record(ctx context.Context, ev repository.DiagnosisEvent) error
}

// Analytics records one anonymous row per report.
type Analytics struct {
	recorder EventRecorder
}

func NewAnalytics(recorder EventRecorder) *Analytics {
	return &Analytics{recorder: recorder}
}

func (a *Analytics) Name() string  { return "analytics" }
func (a *Analytics) Enabled() bool { return a != nil && a.recorder != nil }

func (a *Analytics) Publish(ctx context.Context, r *domain.Report) error {
	ev, ok := repository.EventFromReport(r)
	if !ok {
		return nil
	}
	return a.recorder.Record(ctx, ev)
}
