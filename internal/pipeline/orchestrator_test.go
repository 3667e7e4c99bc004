package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symptom-intake-server/internal/catalog"
	"github.com/symptom-intake-server/internal/domain"
	"github.com/symptom-intake-server/internal/ensemble"
	"github.com/symptom-intake-server/internal/intake"
	"github.com/symptom-intake-server/internal/model"
	"github.com/symptom-intake-server/internal/refine"
	"github.com/symptom-intake-server/internal/report"
	"github.com/symptom-intake-server/internal/session"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newEngine(t *testing.T, cat *catalog.Catalog) *ensemble.Engine {
	t.Helper()
	var members []ensemble.Member
	for _, kind := range []model.Kind{model.KindForest, model.KindMargin} {
		a, err := model.Compile(kind, cat)
		require.NoError(t, err)
		c, err := model.New(a, cat)
		require.NoError(t, err)
		members = append(members, ensemble.Member{Name: string(kind), Classifier: c})
	}
	return ensemble.NewEngine(cat, members, ensemble.Config{}, quietLogger())
}

// countingPredictor counts calls and can hold them until released.
type countingPredictor struct {
	inner   Predictor
	err     error
	entered chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func (p *countingPredictor) Predict(ctx context.Context, vec domain.FeatureVector) (*domain.DiagnosisResult, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.entered != nil {
		p.entered <- struct{}{}
	}
	if p.release != nil {
		<-p.release
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.inner.Predict(ctx, vec)
}

func (p *countingPredictor) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// lastCandidateRefiner promotes the weakest differential candidate.
type lastCandidateRefiner struct{}

func (lastCandidateRefiner) Available() bool { return true }

func (lastCandidateRefiner) Refine(ctx context.Context, req domain.RefineRequest) (*domain.RefineResponse, error) {
	last := req.Candidates[len(req.Candidates)-1]
	return &domain.RefineResponse{
		Ranking:   []domain.RefinedCandidate{{DiseaseID: last.Disease.ID, Annotation: "promoted"}},
		Rationale: "The interview answers favour " + last.Disease.Label + ".",
	}, nil
}

type recordingSink struct {
	name    string
	enabled bool
	err     error

	mu      sync.Mutex
	reports []string
}

func (s *recordingSink) Name() string  { return s.name }
func (s *recordingSink) Enabled() bool { return s.enabled }

func (s *recordingSink) Publish(ctx context.Context, r *domain.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r.ID)
	return s.err
}

func (s *recordingSink) Published() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.reports...)
}

// interview runs the intake for the reference complaint and answers the required steps.
func interview(t *testing.T, cat *catalog.Catalog) *domain.AnswerSet {
	t.Helper()
	gen, err := intake.NewGenerator(cat, nil, intake.Config{}, quietLogger())
	require.NoError(t, err)
	store := session.NewStore(gen, 10, time.Hour, quietLogger())

	result, sess, err := store.Start(context.Background(), "persistent cough and fever for 3 days, body aches")
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Contains(t, result.Suggested, "cough")
	require.Contains(t, result.Suggested, "high_fever")

	require.NoError(t, sess.Record(intake.KeyDemographics, domain.MapAnswer(map[string]string{"age": "26-35", "gender": "Female"}), ""))
	require.NoError(t, sess.Record(intake.KeyDuration, domain.ScalarAnswer("1-3 days"), ""))
	require.NoError(t, sess.Record(intake.KeySeverity, domain.ScalarAnswer("Moderate"), ""))
	require.NoError(t, sess.Record(intake.KeySymptoms, domain.ListAnswer(result.Suggested...), ""))
	require.Empty(t, sess.Missing())
	return sess.AnswerSet()
}

func collect(run *Run) []domain.ProgressEvent {
	var events []domain.ProgressEvent
	for ev := range run.Events() {
		events = append(events, ev)
	}
	return events
}

func stages(events []domain.ProgressEvent) []domain.Stage {
	out := make([]domain.Stage, len(events))
	for i, ev := range events {
		out[i] = ev.Stage
	}
	return out
}

func TestAnalyze_EndToEnd(t *testing.T) {
	cat := catalog.MustLoad()
	o := New(cat, newEngine(t, cat), nil, report.NewCompiler(cat, quietLogger()), quietLogger())
	set := interview(t, cat)

	// Act
	run := o.Start(context.Background(), set, Options{})
	events := collect(run)
	rep, err := run.Wait(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.StageOrder, stages(events))
	for i, ev := range events {
		assert.Equal(t, i+1, ev.Sequence)
		assert.Equal(t, run.ID, ev.RunID)
	}

	require.NoError(t, rep.Validate())
	assert.Equal(t, domain.SourceEnsembleOnly, rep.Source)
	assert.Equal(t, set.Fingerprint(), rep.Fingerprint)
	primary, ok := rep.PrimaryDiagnosis()
	require.True(t, ok)
	assert.InDelta(t, 0.5, primary.Confidence, 0.5)
	assert.Len(t, primary.Votes, 2)

	rationale, _ := rep.Section(domain.SectionRationale)
	assert.Contains(t, rationale.Text, "derived from statistical model agreement")
	assert.Contains(t, rationale.Text, "cough")

	diff, _ := rep.Section(domain.SectionDifferential)
	seen := map[string]bool{primary.Disease.ID: true}
	for _, c := range diff.Candidates {
		assert.False(t, seen[c.Disease.ID], "duplicate candidate %s", c.Disease.ID)
		seen[c.Disease.ID] = true
		assert.LessOrEqual(t, c.Confidence, primary.Confidence)
	}
	assert.Equal(t, Stats{Runs: 1, Fallbacks: 1}, o.Stats())
}

func TestAnalyze_Refined(t *testing.T) {
	cat := catalog.MustLoad()
	engine := newEngine(t, cat)
	agent := refine.NewAgent(lastCandidateRefiner{}, cat, time.Second, quietLogger())
	o := New(cat, engine, agent, report.NewCompiler(cat, quietLogger()), quietLogger())
	set := interview(t, cat)

	ensembleOnly, err := New(cat, engine, nil, report.NewCompiler(cat, quietLogger()), quietLogger()).Analyze(context.Background(), set)
	require.NoError(t, err)
	diff, _ := ensembleOnly.Section(domain.SectionDifferential)
	require.NotEmpty(t, diff.Candidates)
	weakest := diff.Candidates[len(diff.Candidates)-1]

	// Act
	rep, err := o.Analyze(context.Background(), set)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.SourceAIRefined, rep.Source)
	primary, _ := rep.PrimaryDiagnosis()
	assert.Equal(t, weakest.Disease.ID, primary.Disease.ID)
	assert.Equal(t, "promoted", primary.Annotation)
	assert.Equal(t, weakest.Confidence, primary.Confidence)
	assert.Equal(t, weakest.EnsembleRank, primary.EnsembleRank)

	// The refined order is the reasoning service's; entries keep their ensemble scores.
	refinedDiff, _ := rep.Section(domain.SectionDifferential)
	require.Len(t, refinedDiff.Candidates, len(diff.Candidates))
	ensemblePrimary, _ := ensembleOnly.PrimaryDiagnosis()
	assert.Equal(t, ensemblePrimary.Disease.ID, refinedDiff.Candidates[0].Disease.ID)
	assert.GreaterOrEqual(t, refinedDiff.Candidates[0].Confidence, primary.Confidence)
	ranks := map[int]bool{primary.EnsembleRank: true}
	for _, c := range refinedDiff.Candidates {
		ranks[c.EnsembleRank] = true
	}
	for r := 1; r <= len(diff.Candidates)+1; r++ {
		assert.True(t, ranks[r], "ensemble rank %d missing after refinement", r)
	}
	assert.True(t, o.RefinerAvailable())
	assert.Equal(t, int64(1), o.Stats().Refined)
}

func TestAnalyze_CachesBySessionAndFingerprint(t *testing.T) {
	cat := catalog.MustLoad()
	predictor := &countingPredictor{inner: newEngine(t, cat)}
	sink := &recordingSink{name: "history", enabled: true}
	o := New(cat, predictor, nil, report.NewCompiler(cat, quietLogger()), quietLogger(), WithSinks(sink))
	set := interview(t, cat)
	require.NotEmpty(t, set.SessionID)

	first, err := o.Analyze(context.Background(), set)
	require.NoError(t, err)

	t.Run("same session repeat is served from cache", func(t *testing.T) {
		run := o.Start(context.Background(), set.Clone(), Options{})
		events := collect(run)
		again, err := run.Wait(context.Background())

		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
		assert.True(t, run.Cached())
		assert.Equal(t, domain.StageOrder, stages(events))
		assert.Equal(t, 1, predictor.Calls())
	})

	t.Run("another session with identical answers gets its own report", func(t *testing.T) {
		other := set.Clone()
		other.SessionID = "another-session"

		run := o.Start(context.Background(), other, Options{})
		again, err := run.Wait(context.Background())

		require.NoError(t, err)
		assert.NotEqual(t, first.ID, again.ID)
		assert.Equal(t, "another-session", again.SessionID)
		require.NotNil(t, again.Answers)
		assert.Equal(t, "another-session", again.Answers.SessionID)
		assert.Equal(t, first.Fingerprint, again.Fingerprint)
		assert.Equal(t, set.SessionID, first.SessionID, "first report keeps its owner")
		assert.False(t, run.Cached())
		assert.Equal(t, 2, predictor.Calls())
	})

	t.Run("reanalyze recomputes", func(t *testing.T) {
		fresh, err := o.Reanalyze(context.Background(), set)

		require.NoError(t, err)
		assert.NotEqual(t, first.ID, fresh.ID)
		assert.Equal(t, 3, predictor.Calls())
	})

	o.Wait()
	assert.Len(t, sink.Published(), 3, "sinks see every fresh report")
	assert.Equal(t, int64(1), o.Stats().CacheHits)
}

func TestAnalyze_UnrecoverableFailures(t *testing.T) {
	cat := catalog.MustLoad()

	t.Run("incomplete answers", func(t *testing.T) {
		sink := &recordingSink{name: "history", enabled: true}
		o := New(cat, newEngine(t, cat), nil, report.NewCompiler(cat, quietLogger()), quietLogger(), WithSinks(sink))
		set := interview(t, cat)
		delete(set.Answers, intake.KeySeverity)

		run := o.Start(context.Background(), set, Options{})
		events := collect(run)
		rep, err := run.Wait(context.Background())

		assert.Nil(t, rep)
		perr, ok := domain.AsPipelineError(err)
		require.True(t, ok)
		assert.Equal(t, domain.KindUnrecoverable, perr.Kind)
		assert.Equal(t, domain.StageFeaturesBuilt, perr.Stage)
		assert.ErrorIs(t, err, domain.ErrIncompleteAnswers)
		assert.Equal(t, []domain.Stage{domain.StageIntakeComplete, domain.StageFailed}, stages(events))
		require.NotNil(t, events[1].Error)
		o.Wait()
		assert.Empty(t, sink.Published())
	})

	t.Run("no classifiers", func(t *testing.T) {
		predictor := &countingPredictor{err: domain.ErrNoClassifiers}
		o := New(cat, predictor, nil, report.NewCompiler(cat, quietLogger()), quietLogger())

		_, err := o.Analyze(context.Background(), interview(t, cat))

		perr, ok := domain.AsPipelineError(err)
		require.True(t, ok)
		assert.Equal(t, domain.StageEnsembleScored, perr.Stage)
		assert.ErrorIs(t, err, domain.ErrNoClassifiers)
		assert.Equal(t, int64(1), o.Stats().Failures)
	})

	t.Run("nil answer set", func(t *testing.T) {
		o := New(cat, newEngine(t, cat), nil, report.NewCompiler(cat, quietLogger()), quietLogger())

		_, err := o.Analyze(context.Background(), nil)

		assert.ErrorIs(t, err, domain.ErrIncompleteAnswers)
	})
}

func TestStart_CollapsesConcurrentRuns(t *testing.T) {
	cat := catalog.MustLoad()
	predictor := &countingPredictor{
		inner:   newEngine(t, cat),
		entered: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	o := New(cat, predictor, nil, report.NewCompiler(cat, quietLogger()), quietLogger())
	set := interview(t, cat)

	leader := o.Start(context.Background(), set, Options{})
	<-predictor.entered
	follower := o.Start(context.Background(), set, Options{})
	time.Sleep(50 * time.Millisecond)
	close(predictor.release)

	a, err := leader.Wait(context.Background())
	require.NoError(t, err)
	b, err := follower.Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, 1, predictor.Calls())
	assert.Equal(t, domain.StageOrder, stages(collect(follower)))
}

func TestStart_LeaderCancelDoesNotFailFollowers(t *testing.T) {
	cat := catalog.MustLoad()
	predictor := &countingPredictor{
		inner:   newEngine(t, cat),
		entered: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	sink := &recordingSink{name: "history", enabled: true}
	o := New(cat, predictor, nil, report.NewCompiler(cat, quietLogger()), quietLogger(), WithSinks(sink))
	set := interview(t, cat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	leader := o.Start(ctx, set, Options{})
	<-predictor.entered
	follower := o.Start(context.Background(), set, Options{})
	time.Sleep(50 * time.Millisecond)

	// Act
	cancel()
	_, err := leader.Wait(context.Background())

	// Assert
	perr, ok := domain.AsPipelineError(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindCancelled, perr.Kind)
	assert.ErrorIs(t, err, context.Canceled)
	leaderEvents := collect(leader)
	require.NotEmpty(t, leaderEvents)
	assert.Equal(t, domain.StageFailed, leaderEvents[len(leaderEvents)-1].Stage)

	close(predictor.release)
	rep, err := follower.Wait(context.Background())
	require.NoError(t, err)
	require.NoError(t, rep.Validate())
	assert.Equal(t, domain.StageOrder, stages(collect(follower)))
	assert.Equal(t, 1, predictor.Calls())

	o.Wait()
	assert.Equal(t, []string{rep.ID}, sink.Published())
	stats := o.Stats()
	assert.Equal(t, int64(1), stats.Cancelled)
	assert.Equal(t, int64(1), stats.Shared)
	assert.Zero(t, stats.Failures)
}

func TestSinks_FailuresDoNotAffectReport(t *testing.T) {
	cat := catalog.MustLoad()
	failing := &recordingSink{name: "archive", enabled: true, err: errors.New("bucket unreachable")}
	disabled := &recordingSink{name: "speech", enabled: false}
	o := New(cat, newEngine(t, cat), nil, report.NewCompiler(cat, quietLogger()), quietLogger(),
		WithSinks(failing, disabled), WithSinkTimeout(time.Second))

	rep, err := o.Analyze(context.Background(), interview(t, cat))
	o.Wait()

	require.NoError(t, err)
	assert.Equal(t, []string{rep.ID}, failing.Published())
	assert.Empty(t, disabled.Published())
}

func TestObserver_ReceivesEveryEvent(t *testing.T) {
	cat := catalog.MustLoad()
	var mu sync.Mutex
	var seen []domain.Stage
	o := New(cat, newEngine(t, cat), nil, report.NewCompiler(cat, quietLogger()), quietLogger(),
		WithObserver(func(ev domain.ProgressEvent) {
			mu.Lock()
			seen = append(seen, ev.Stage)
			mu.Unlock()
		}))

	_, err := o.Analyze(context.Background(), interview(t, cat))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, domain.StageOrder, seen)
}

func TestTieredCache(t *testing.T) {
	local, err := NewLocalCache(4)
	require.NoError(t, err)
	shared, err := NewLocalCache(4)
	require.NoError(t, err)
	cache := NewTiered(local, shared)
	rep := &domain.Report{ID: "r-1"}

	shared.Put(context.Background(), "fp", rep)
	got, ok := cache.Get(context.Background(), "fp")

	require.True(t, ok)
	assert.Same(t, rep, got)
	assert.Equal(t, 1, local.Len(), "shared hits back-fill the local cache")

	_, ok = cache.Get(context.Background(), "missing")
	assert.False(t, ok)
	assert.Same(t, local, NewTiered(local, nil))
}
