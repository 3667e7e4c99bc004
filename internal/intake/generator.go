// Package intake screens a free-text complaint and generates the interview that follows it.
package intake

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/symptom-intake-server/internal/catalog"
	"github.com/symptom-intake-server/internal/domain"
)

// Screening policies recorded on IntakeResult.ScreenedBy.
const (
	ScreenedByService = "reasoning-service"
	ScreenedByLocal   = "local"
)

// Config represents configuration for the step generator
type Config struct {
	// ScreenTimeout bounds a reasoning service screening call.
	ScreenTimeout time.Duration
	// CacheSize is the number of screening verdicts kept in memory.
	CacheSize int
}

// Stats counts how complaints were screened.
type Stats struct {
	ServiceScreens int64 `json:"service_screens"`
	LocalScreens   int64 `json:"local_screens"`
	CacheHits      int64 `json:"cache_hits"`
	ServiceErrors  int64 `json:"service_errors"`
	Rejected       int64 `json:"rejected"`
}

// Generator validates complaints and produces the ordered interview steps.
type Generator struct {
	catalog  *catalog.Catalog
	screener domain.ComplaintScreener
	verdicts *lru.Cache
	timeout  time.Duration
	logger   *logrus.Logger

	statsMu sync.Mutex
	stats   Stats
}

// NewGenerator creates a step generator. screener may be nil, in which case every
// complaint is judged by the local keyword screen.
func NewGenerator(cat *catalog.Catalog, screener domain.ComplaintScreener, config Config, logger *logrus.Logger) (*Generator, error) {
	if config.ScreenTimeout == 0 {
		config.ScreenTimeout = 8 * time.Second
	}
	if config.CacheSize == 0 {
		config.CacheSize = 512
	}
	if logger == nil {
		logger = logrus.New()
	}

	verdicts, err := lru.New(config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create screening cache: %w", err)
	}

	return &Generator{
		catalog:  cat,
		screener: screener,
		verdicts: verdicts,
		timeout:  config.ScreenTimeout,
		logger:   logger,
	}, nil
}

// Generate screens the complaint and, when it is accepted, returns the interview steps and
// the catalog symptoms inferred from the text. A rejection is a normal result.
func (g *Generator) Generate(ctx context.Context, complaint string) (*domain.IntakeResult, error) {
	complaint = strings.TrimSpace(complaint)

	if reason := shapeCheck(g.catalog, complaint); reason != "" {
		return g.reject(reason, ScreenedByLocal), nil
	}

	extracted := g.catalog.ExtractSymptoms(complaint)

	verdict, by := g.screen(ctx, complaint, extracted)
	if !verdict.Valid {
		return g.reject(verdict.Reason, by), nil
	}

	hints := mergeHints(g.catalog, extracted, verdict.Symptoms)

	g.logger.WithFields(logrus.Fields{
		"screened_by": by,
		"hints":       len(hints),
	}).Debug("Complaint accepted")

	return &domain.IntakeResult{
		Valid:      true,
		Steps:      buildSteps(g.catalog, hints),
		Suggested:  hints,
		ScreenedBy: by,
	}, nil
}

// screen delegates to the reasoning service when it is available and falls back to the
// local policy when it is not or when the call fails.
func (g *Generator) screen(ctx context.Context, complaint string, extracted []string) (*domain.ScreenVerdict, string) {
	if g.screener != nil && g.screener.Available() {
		key := strings.ToLower(complaint)
		if cached, ok := g.verdicts.Get(key); ok {
			g.bump(func(s *Stats) { s.CacheHits++ })
			return cached.(*domain.ScreenVerdict), ScreenedByService
		}

		sctx, cancel := context.WithTimeout(ctx, g.timeout)
		verdict, err := g.screener.ScreenComplaint(sctx, complaint)
		cancel()
		if err == nil && verdict != nil {
			if !verdict.Valid && verdict.Reason == "" {
				verdict.Reason = g.catalog.Intake().Messages.NotHealth
			}
			g.verdicts.Add(key, verdict)
			g.bump(func(s *Stats) { s.ServiceScreens++ })
			return verdict, ScreenedByService
		}

		g.bump(func(s *Stats) { s.ServiceErrors++ })
		g.logger.WithFields(logrus.Fields{
			"kind":  domain.KindDegradedCapability,
			"error": err,
		}).Warn("Complaint screening unavailable, using local screen")
	}

	g.bump(func(s *Stats) { s.LocalScreens++ })
	ok, reason := localVerdict(g.catalog, complaint, extracted)
	return &domain.ScreenVerdict{Valid: ok, Reason: reason}, ScreenedByLocal
}

func (g *Generator) reject(reason, by string) *domain.IntakeResult {
	g.bump(func(s *Stats) { s.Rejected++ })
	return &domain.IntakeResult{
		Valid:      false,
		Error:      reason,
		Steps:      domain.StepList{},
		Suggested:  []string{},
		ScreenedBy: by,
	}
}

// Stats returns a snapshot of screening counters.
func (g *Generator) Stats() Stats {
	g.statsMu.Lock()
	defer g.statsMu.Unlock()
	return g.stats
}

func (g *Generator) bump(f func(*Stats)) {
	g.statsMu.Lock()
	f(&g.stats)
	g.statsMu.Unlock()
}

// mergeHints unions locally extracted symptoms with service-suggested ones, dropping any
// suggestion that is not a catalog symptom.
func mergeHints(cat *catalog.Catalog, extracted, suggested []string) []string {
	seen := make(map[string]struct{}, len(extracted)+len(suggested))
	hints := make([]string, 0, len(extracted)+len(suggested))
	for _, list := range [][]string{extracted, suggested} {
		for _, id := range list {
			if _, ok := cat.Symptom(id); !ok {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			hints = append(hints, id)
		}
	}
	return hints
}
