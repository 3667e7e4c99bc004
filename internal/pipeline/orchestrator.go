// Package pipeline drives a completed answer set through feature building, ensemble scoring,
// refinement and report compilation.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/symptom-intake-server/internal/catalog"
	"github.com/symptom-intake-server/internal/domain"
	"github.com/symptom-intake-server/internal/features"
	"github.com/symptom-intake-server/internal/refine"
	"github.com/symptom-intake-server/internal/report"
)

// Predictor scores a feature vector.
type Predictor interface {
	Predict(ctx context.Context, vec domain.FeatureVector) (*domain.DiagnosisResult, error)
}

// Refiner reorders and explains an ensemble result. It never fails; a nil Refiner passes
// the ensemble ranking through with a locally written rationale.
type Refiner interface {
	Available() bool
	Refine(ctx context.Context, set *domain.AnswerSet, vec domain.FeatureVector, result *domain.DiagnosisResult) (*domain.DiagnosisResult, refine.Outcome)
}

// Options alter a single run.
type Options struct {
	// Reanalyze bypasses the cache and recomputes the report.
	Reanalyze bool
}

// Stats counts runs since startup.
type Stats struct {
	Runs      int64 `json:"runs"`
	CacheHits int64 `json:"cache_hits"`
	Shared    int64 `json:"shared"`
	Refined   int64 `json:"refined"`
	Fallbacks int64 `json:"fallbacks"`
	Failures  int64 `json:"failures"`
	Cancelled int64 `json:"cancelled"`
}

// Orchestrator runs the pipeline. It is safe for concurrent use.
type Orchestrator struct {
	catalog   *catalog.Catalog
	predictor Predictor
	refiner   Refiner
	compiler  *report.Compiler
	logger    *logrus.Logger

	cache       Cache
	sinks       []domain.ReportSink
	sinkTimeout time.Duration
	runTimeout  time.Duration
	observers   []func(domain.ProgressEvent)

	flights singleflight.Group
	sinkWG  sync.WaitGroup

	mu    sync.Mutex
	stats Stats
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCache replaces the default in-process cache.
func WithCache(c Cache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithSinks registers report sinks. Disabled sinks are skipped.
func WithSinks(sinks ...domain.ReportSink) Option {
	return func(o *Orchestrator) { o.sinks = append(o.sinks, sinks...) }
}

// WithSinkTimeout bounds each sink publication.
func WithSinkTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.sinkTimeout = d }
}

// WithRunTimeout bounds one shared computation, independent of the callers
// waiting on it.
func WithRunTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.runTimeout = d }
}

// WithObserver receives every progress event of every run. It must not block.
func WithObserver(fn func(domain.ProgressEvent)) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, fn) }
}

// New creates an orchestrator.
func New(cat *catalog.Catalog, predictor Predictor, refiner Refiner, compiler *report.Compiler, logger *logrus.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		catalog:     cat,
		predictor:   predictor,
		refiner:     refiner,
		compiler:    compiler,
		logger:      logger,
		sinkTimeout: 30 * time.Second,
		runTimeout:  2 * time.Minute,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.runTimeout <= 0 {
		o.runTimeout = 2 * time.Minute
	}
	if o.cache == nil {
		local, _ := NewLocalCache(0)
		o.cache = local
	}
	if o.refiner == nil {
		o.refiner = refine.NewAgent(nil, cat, 0, logger)
	}
	return o
}

// Analyze runs the pipeline and waits for the report.
func (o *Orchestrator) Analyze(ctx context.Context, set *domain.AnswerSet) (*domain.Report, error) {
	return o.Start(ctx, set, Options{}).Wait(ctx)
}

// Reanalyze recomputes the report even when one is cached for the same answers.
func (o *Orchestrator) Reanalyze(ctx context.Context, set *domain.AnswerSet) (*domain.Report, error) {
	return o.Start(ctx, set, Options{Reanalyze: true}).Wait(ctx)
}

// Start launches a run in the background. The answer set is copied; later changes by the
// caller do not affect the run.
func (o *Orchestrator) Start(ctx context.Context, set *domain.AnswerSet, opts Options) *Run {
	var snapshot *domain.AnswerSet
	fingerprint := ""
	if set != nil {
		snapshot = set.Clone()
		fingerprint = snapshot.Fingerprint()
	}
	run := newRun(uuid.New().String(), fingerprint, o.notify)
	go o.execute(ctx, run, snapshot, opts)
	return run
}

// cacheKey scopes cached and shared reports to the session that asked. A
// report carries its session's identity and answers, so two sessions with
// identical answers never receive the same report.
func cacheKey(set *domain.AnswerSet) string {
	if set.SessionID == "" {
		return set.Fingerprint()
	}
	return set.SessionID + "/" + set.Fingerprint()
}

func (o *Orchestrator) notify(ev domain.ProgressEvent) {
	for _, fn := range o.observers {
		fn(ev)
	}
}

type flightResult struct {
	report  *domain.Report
	outcome refine.Outcome
}

func (o *Orchestrator) execute(ctx context.Context, run *Run, set *domain.AnswerSet, opts Options) {
	logger := o.logger.WithFields(logrus.Fields{"run_id": run.ID, "fingerprint": run.Fingerprint})
	o.bump(func(s *Stats) { s.Runs++ })

	if set == nil {
		o.failRun(run, logger, domain.NewPipelineError(domain.KindUnrecoverable, domain.StageIntakeComplete, domain.ErrIncompleteAnswers))
		return
	}
	run.advance(domain.StageIntakeComplete, "answers received")
	key := cacheKey(set)

	// Step 1: serve from cache
	if !opts.Reanalyze {
		if rep, ok := o.cache.Get(ctx, key); ok {
			o.bump(func(s *Stats) { s.CacheHits++ })
			run.advance(domain.StageReportReady, "cached report")
			logger.WithField("report_id", rep.ID).Debug("Served cached report")
			run.finish(rep, true)
			return
		}
	}

	// Step 2: compute, collapsing identical concurrent runs. The shared
	// computation is detached from every caller; each caller only stops
	// waiting when its own context ends.
	flightKey := key
	if opts.Reanalyze {
		flightKey += ":reanalyze"
	}
	leader := false
	ch := o.flights.DoChan(flightKey, func() (interface{}, error) {
		leader = true
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.runTimeout)
		defer cancel()
		res, err := o.compute(cctx, run, set, key, logger)
		if err != nil {
			return nil, err
		}
		if res.outcome == refine.OutcomeRefined {
			o.bump(func(s *Stats) { s.Refined++ })
		} else {
			o.bump(func(s *Stats) { s.Fallbacks++ })
		}
		o.publish(cctx, res.report)
		return res, nil
	})

	var result singleflight.Result
	select {
	case result = <-ch:
	case <-ctx.Done():
		o.cancelRun(run, logger, ctx.Err())
		return
	}
	if result.Err != nil {
		perr, ok := domain.AsPipelineError(result.Err)
		if !ok {
			perr = domain.NewPipelineError(domain.KindUnrecoverable, run.Stage(), result.Err)
		}
		o.failRun(run, logger, perr)
		return
	}

	res := result.Val.(*flightResult)
	if !leader {
		o.bump(func(s *Stats) { s.Shared++ })
		run.advance(domain.StageReportReady, "shared result")
		run.finish(res.report, true)
		return
	}
	run.finish(res.report, false)
}

func (o *Orchestrator) compute(ctx context.Context, run *Run, set *domain.AnswerSet, key string, logger *logrus.Entry) (*flightResult, error) {
	vec, err := features.Build(set, o.catalog)
	if err != nil {
		return nil, domain.NewPipelineError(domain.KindUnrecoverable, domain.StageFeaturesBuilt, err)
	}
	run.advance(domain.StageFeaturesBuilt, "feature vector built")
	logger.WithField("present", len(vec.Present())).Debug("Features built")

	result, err := o.predictor.Predict(ctx, vec)
	if err != nil {
		return nil, domain.NewPipelineError(domain.KindUnrecoverable, domain.StageEnsembleScored, err)
	}
	run.advance(domain.StageEnsembleScored, "classifiers scored")

	refined, outcome := o.refiner.Refine(ctx, set, vec, result)
	if err := ctx.Err(); err != nil {
		return nil, domain.NewPipelineError(domain.KindUnrecoverable, domain.StageRefined, err)
	}
	run.advance(domain.StageRefined, string(outcome))

	rep, err := o.compiler.Compile(refined, set)
	if err != nil {
		return nil, domain.NewPipelineError(domain.KindUnrecoverable, domain.StageReportReady, err)
	}
	o.cache.Put(ctx, key, rep)
	run.advance(domain.StageReportReady, "report ready")

	logger.WithFields(logrus.Fields{
		"report_id": rep.ID,
		"source":    rep.Source,
		"refine":    outcome,
		"degraded":  rep.Degraded,
	}).Info("Pipeline run completed")
	return &flightResult{report: rep, outcome: outcome}, nil
}

// cancelRun ends a run whose caller went away. A shared computation it was
// waiting on keeps going for the other callers.
func (o *Orchestrator) cancelRun(run *Run, logger *logrus.Entry, err error) {
	o.bump(func(s *Stats) { s.Cancelled++ })
	perr := domain.NewPipelineError(domain.KindCancelled, run.Stage(), err)
	logger.WithField("stage", perr.Stage).WithError(err).Info("Pipeline run abandoned by caller")
	run.fail(perr)
	run.finish(nil, false)
}

func (o *Orchestrator) failRun(run *Run, logger *logrus.Entry, perr *domain.PipelineError) {
	o.bump(func(s *Stats) { s.Failures++ })
	logger.WithFields(logrus.Fields{
		"kind":  perr.Kind,
		"stage": perr.Stage,
	}).WithError(perr.Err).Error("Pipeline run failed")
	run.fail(perr)
	run.finish(nil, false)
}

// publish hands a fresh report to every enabled sink in the background.
func (o *Orchestrator) publish(ctx context.Context, rep *domain.Report) {
	base := context.WithoutCancel(ctx)
	for _, sink := range o.sinks {
		if !sink.Enabled() {
			continue
		}
		o.sinkWG.Add(1)
		go func(sink domain.ReportSink) {
			defer o.sinkWG.Done()
			sctx, cancel := context.WithTimeout(base, o.sinkTimeout)
			defer cancel()
			if err := sink.Publish(sctx, rep); err != nil {
				o.logger.WithFields(logrus.Fields{
					"sink":      sink.Name(),
					"report_id": rep.ID,
				}).WithError(err).Warn("Report sink failed")
			}
		}(sink)
	}
}

// Wait blocks until background sink publications finish.
func (o *Orchestrator) Wait() {
	o.sinkWG.Wait()
}

// Stats returns a copy of the run counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

// RefinerAvailable reports whether runs will attempt refinement.
func (o *Orchestrator) RefinerAvailable() bool {
	return o.refiner.Available()
}

// Sinks lists the registered sinks.
func (o *Orchestrator) Sinks() []domain.ReportSink {
	return append([]domain.ReportSink(nil), o.sinks...)
}

func (o *Orchestrator) bump(f func(*Stats)) {
	o.mu.Lock()
	f(&o.stats)
	o.mu.Unlock()
}
