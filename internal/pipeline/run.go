package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/symptom-intake-server/internal/domain"
)

// A run emits at most one event per stage plus Failed.
const eventBuffer = 8

// Run is one asynchronous pipeline execution.
type Run struct {
	ID          string
	Fingerprint string

	events chan domain.ProgressEvent
	done   chan struct{}
	notify func(domain.ProgressEvent)

	mu      sync.Mutex
	seq     int
	reached int
	stage   domain.Stage
	report  *domain.Report
	err     error
	cached  bool
	closed  bool
}

func newRun(id, fingerprint string, notify func(domain.ProgressEvent)) *Run {
	return &Run{
		ID:          id,
		Fingerprint: fingerprint,
		events:      make(chan domain.ProgressEvent, eventBuffer),
		done:        make(chan struct{}),
		notify:      notify,
		reached:     -1,
	}
}

// Events delivers progress in transition order. The channel is closed after the terminal
// event. Reading it is optional.
func (r *Run) Events() <-chan domain.ProgressEvent { return r.events }

// Done is closed when the run has finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Stage is the last stage the run reached.
func (r *Run) Stage() domain.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage
}

// Cached reports whether the report was served without recomputation.
func (r *Run) Cached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cached
}

// Wait blocks until the run finishes or ctx ends.
func (r *Run) Wait(ctx context.Context) (*domain.Report, error) {
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.report, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// advance emits every stage between the last one reached and target, so a run's events
// always follow the stage order even when a shared or cached result skips the work.
func (r *Run) advance(target domain.Stage, message string) {
	pos := target.Position()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	for i := r.reached + 1; i <= pos; i++ {
		r.emitLocked(domain.ProgressEvent{Stage: domain.StageOrder[i], Message: message})
	}
	if pos > r.reached {
		r.reached = pos
	}
}

func (r *Run) fail(perr *domain.PipelineError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.emitLocked(domain.ProgressEvent{Stage: domain.StageFailed, Message: perr.Message, Error: perr})
	r.err = perr
}

func (r *Run) emitLocked(ev domain.ProgressEvent) {
	r.seq++
	ev.RunID = r.ID
	ev.Sequence = r.seq
	ev.At = time.Now().UTC()
	r.stage = ev.Stage
	select {
	case r.events <- ev:
	default:
	}
	if r.notify != nil {
		r.notify(ev)
	}
}

// finish closes the run. Stage updates arriving afterwards, from a shared
// computation the caller stopped waiting for, are dropped.
func (r *Run) finish(rep *domain.Report, cached bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if rep != nil {
		r.report = rep
		r.cached = cached
	}
	r.closed = true
	close(r.events)
	close(r.done)
}
