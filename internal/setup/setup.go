// Package setup assembles the intake and diagnosis services from configuration.
// Both the HTTP server and the MCP binary are built on the App it returns.
package setup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/symptom-intake-server/internal/catalog"
	"github.com/symptom-intake-server/internal/database"
	"github.com/symptom-intake-server/internal/domain"
	"github.com/symptom-intake-server/internal/ensemble"
	"github.com/symptom-intake-server/internal/history"
	"github.com/symptom-intake-server/internal/intake"
	"github.com/symptom-intake-server/internal/integrations"
	"github.com/symptom-intake-server/internal/llm"
	"github.com/symptom-intake-server/internal/model"
	"github.com/symptom-intake-server/internal/pipeline"
	"github.com/symptom-intake-server/internal/reasoning"
	"github.com/symptom-intake-server/internal/refine"
	"github.com/symptom-intake-server/internal/report"
	"github.com/symptom-intake-server/internal/repository"
	"github.com/symptom-intake-server/internal/session"
)

// App holds every long-lived service.
type App struct {
	Config       *domain.Config
	Logger       *logrus.Logger
	Catalog      *catalog.Catalog
	Reasoning    *reasoning.Service
	Generator    *intake.Generator
	Sessions     *session.Store
	Engine       *ensemble.Engine
	Orchestrator *pipeline.Orchestrator

	// History and Analytics are nil when their integration is off.
	History   history.Store
	Analytics *repository.AnalyticsRepository

	provider *llm.Guarded

	obsMu     sync.RWMutex
	observers []func(domain.ProgressEvent)

	closers []func() error
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	provider llm.Provider
}

// WithProvider replaces the configured reasoning backend, e.g. with llm.MockProvider.
func WithProvider(p llm.Provider) Option {
	return func(o *buildOptions) { o.provider = p }
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	var out io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		out = os.Stderr
	}
	logger.SetOutput(out)
	return logger
}

// Build wires the services. Optional capabilities that fail to start are
// logged and left off; only catalog, classifier and store errors that would
// make results wrong are returned.
func Build(ctx context.Context, cfg *domain.Config, logger *logrus.Logger, opts ...Option) (*App, error) {
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	app := &App{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = app.Close()
		}
	}()

	// Step 1: static reference data
	cat, err := catalog.Load()
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	app.Catalog = cat

	// Step 2: reasoning service
	app.provider = buildProvider(ctx, cfg.Reasoning, bo.provider, logger)
	var backend reasoning.Backend
	if app.provider != nil {
		backend = app.provider
	}
	app.Reasoning = reasoning.NewService(backend, cat, reasoning.Config{
		MaxTokens:   cfg.Reasoning.MaxTokens,
		Temperature: cfg.Reasoning.Temperature,
	}, logger)

	// Step 3: intake and sessions
	app.Generator, err = intake.NewGenerator(cat, app.Reasoning, intake.Config{
		ScreenTimeout: cfg.Reasoning.ScreenTimeout,
		CacheSize:     cfg.Cache.ScreenEntries,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating step generator: %w", err)
	}
	app.Sessions = session.NewStore(app.Generator, cfg.Server.MaxSessions, cfg.Server.SessionTTL, logger)

	// Step 4: classifiers
	members := make([]ensemble.Member, 0, 2)
	for _, slot := range []struct {
		kind model.Kind
		path string
	}{
		{model.KindForest, cfg.Models.ForestPath},
		{model.KindMargin, cfg.Models.MarginPath},
	} {
		c, err := model.Open(slot.path, slot.kind, cat, logger)
		if err != nil {
			return nil, fmt.Errorf("loading %s classifier: %w", slot.kind, err)
		}
		members = append(members, ensemble.Member{Name: string(slot.kind), Classifier: c})
	}
	app.Engine = ensemble.NewEngine(cat, members, ensemble.Config{
		Weights:      cfg.Models.Weights,
		Priority:     cfg.Models.Priority,
		TopK:         cfg.Models.TopK,
		TieEpsilon:   cfg.Models.TieEpsilon,
		MinCandidate: cfg.Models.MinCandidate,
	}, logger)

	// Step 5: caches
	cache, redisCache, err := app.buildCache(cfg.Cache)
	if err != nil {
		return nil, err
	}

	// Step 6: persistence and report sinks
	sinks, err := app.buildSinks(ctx, cfg, redisCache)
	if err != nil {
		return nil, err
	}

	// Step 7: the pipeline
	agent := refine.NewAgent(app.Reasoning, cat, cfg.Reasoning.RefineTimeout, logger)
	app.Orchestrator = pipeline.New(cat, app.Engine, agent, report.NewCompiler(cat, logger), logger,
		pipeline.WithCache(cache),
		pipeline.WithSinks(sinks...),
		pipeline.WithObserver(app.broadcast),
		pipeline.WithRunTimeout(max(cfg.Server.RequestTimeout, 2*cfg.Reasoning.RefineTimeout)),
	)

	ok = true
	return app, nil
}

func buildProvider(ctx context.Context, cfg domain.ReasoningConfig, override llm.Provider, logger *logrus.Logger) *llm.Guarded {
	if override != nil {
		return llm.WithGuard(override, llm.GuardConfig{
			FailureThreshold: uint32(max(cfg.BreakerFailures, 0)),
			Cooldown:         cfg.BreakerCooldown,
		}, logger)
	}
	guarded, err := llm.NewProvider(ctx, cfg, logger)
	switch {
	case errors.Is(err, llm.ErrNotConfigured):
		logger.Warn("No reasoning provider configured; using local screening and ensemble-only reports")
		return nil
	case err != nil:
		logger.WithError(err).Warn("Reasoning provider unavailable; using local screening and ensemble-only reports")
		return nil
	}
	return guarded
}

func (a *App) buildCache(cfg domain.CacheConfig) (pipeline.Cache, *pipeline.RedisCache, error) {
	local, err := pipeline.NewLocalCache(cfg.LocalEntries)
	if err != nil {
		return nil, nil, fmt.Errorf("creating report cache: %w", err)
	}
	if cfg.RedisURL == "" {
		return local, nil, nil
	}
	shared, err := pipeline.NewRedisCache(cfg, a.Logger)
	if err != nil {
		a.Logger.WithError(err).Warn("Shared report cache unavailable; caching in process only")
		return local, nil, nil
	}
	a.closers = append(a.closers, shared.Close)
	return pipeline.NewTiered(local, shared), shared, nil
}

func (a *App) buildSinks(ctx context.Context, cfg *domain.Config, redisCache *pipeline.RedisCache) ([]domain.ReportSink, error) {
	integ := cfg.Integrations
	var sinks []domain.ReportSink

	var pool *database.DB
	if cfg.Database.Host != "" && (integ.Analytics.Enabled || integ.History.Backend == "postgres") {
		dbcfg := database.FromDomain(cfg.Database)
		if err := database.Migrate(dbcfg.URL(), cfg.Database.MigrationsPath, a.Logger); err != nil {
			return nil, fmt.Errorf("migrating database: %w", err)
		}
		var err error
		pool, err = database.NewConnection(ctx, dbcfg, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
	}

	if integ.History.Enabled {
		var (
			store history.Store
			err   error
		)
		switch integ.History.Backend {
		case "postgres":
			store, err = history.NewPostgresStoreFromURL(database.FromDomain(cfg.Database).URL(), cfg.Database)
		default:
			store, err = history.NewSQLiteStore(integ.History.SQLitePath)
		}
		if err != nil {
			return nil, fmt.Errorf("opening report history: %w", err)
		}
		a.History = store
		a.closers = append(a.closers, store.Close)
		sinks = append(sinks, history.NewSink(store))
	}

	if integ.Analytics.Enabled && pool != nil {
		a.Analytics = repository.NewAnalyticsRepository(pool.Pool, a.Logger)
		sinks = append(sinks, integrations.NewAnalytics(a.Analytics))
	}

	var audio integrations.AudioStore
	if integ.Archive.Enabled {
		archive, err := integrations.NewArchive(integ.Archive, a.Logger)
		if err != nil {
			a.Logger.WithError(err).Warn("Report archive disabled")
		} else {
			audio = archive
			sinks = append(sinks, archive)
		}
	}

	if integ.Notary.Enabled {
		if redisCache == nil {
			a.Logger.Warn("Report notary disabled: no Redis connection")
		} else {
			sinks = append(sinks, integrations.NewNotary(redisCache.Client(), integ.Notary, a.Logger))
		}
	}

	if integ.Speech.Enabled {
		sinks = append(sinks, integrations.NewSpeech(integrations.NewSpeechClient(integ.Speech), audio, a.Logger))
	}

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	a.Logger.WithField("sinks", names).Info("Report sinks configured")
	return sinks, nil
}

// Observe registers fn for every pipeline progress event. fn must not block.
func (a *App) Observe(fn func(domain.ProgressEvent)) {
	a.obsMu.Lock()
	defer a.obsMu.Unlock()
	a.observers = append(a.observers, fn)
}

func (a *App) broadcast(ev domain.ProgressEvent) {
	a.obsMu.RLock()
	defer a.obsMu.RUnlock()
	for _, fn := range a.observers {
		fn(ev)
	}
}

// Close waits for in-flight sinks and releases connections.
func (a *App) Close() error {
	if a.Orchestrator != nil {
		a.Orchestrator.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// ReasoningStatus describes the reasoning capability.
type ReasoningStatus struct {
	Available bool   `json:"available"`
	Model     string `json:"model,omitempty"`
	Circuit   string `json:"circuit,omitempty"`
}

// Status is the answer to a pipeline status query.
type Status struct {
	Reasoning    ReasoningStatus         `json:"reasoning"`
	Classifiers  []ensemble.MemberStatus `json:"classifiers"`
	Diseases     int                     `json:"diseases"`
	Symptoms     int                     `json:"symptoms"`
	Integrations map[string]bool         `json:"integrations"`
	Sessions     int                     `json:"sessions"`
	Pipeline     pipeline.Stats          `json:"pipeline"`
	Intake       intake.Stats            `json:"intake"`
}

// Status reports what the services can currently do.
func (a *App) Status() Status {
	st := Status{
		Reasoning: ReasoningStatus{
			Available: a.Reasoning.Available(),
			Model:     a.Reasoning.ModelID(),
		},
		Classifiers:  a.Engine.Status(),
		Diseases:     len(a.Catalog.Diseases()),
		Symptoms:     a.Catalog.Len(),
		Integrations: map[string]bool{},
		Sessions:     a.Sessions.Len(),
		Pipeline:     a.Orchestrator.Stats(),
		Intake:       a.Generator.Stats(),
	}
	if a.provider != nil {
		st.Reasoning.Circuit = a.provider.State()
	}
	for _, s := range a.Orchestrator.Sinks() {
		st.Integrations[s.Name()] = s.Enabled()
	}
	return st
}
