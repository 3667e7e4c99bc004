package history

import (
	"context"

	"github.com/symptom-intake-server/internal/domain"
)

// Sink records every fresh report in a store.
type Sink struct {
	store domain.ReportStore
}

// NewSink wraps a store. A nil store yields a disabled sink.
func NewSink(store domain.ReportStore) *Sink {
	return &Sink{store: store}
}

func (s *Sink) Name() string  { return "history" }
func (s *Sink) Enabled() bool { return s != nil && s.store != nil }

func (s *Sink) Publish(ctx context.Context, r *domain.Report) error {
	return s.store.Save(ctx, r)
}
