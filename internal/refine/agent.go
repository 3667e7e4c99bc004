// Package refine lets the reasoning service re-rank and explain the ensemble's differential
// without ever stepping outside it.
package refine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/symptom-intake-server/internal/catalog"
	"github.com/symptom-intake-server/internal/domain"
)

// DefaultTimeout bounds one refinement call.
const DefaultTimeout = 12 * time.Second

// Outcome describes how a refinement attempt ended.
type Outcome string

const (
	OutcomeRefined     Outcome = "refined"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeFailed      Outcome = "failed"
	OutcomeTimedOut    Outcome = "timed_out"
	OutcomeUnanchored  Outcome = "unanchored"
)

// Agent wraps a domain.Refiner with anchoring and a local fallback.
type Agent struct {
	refiner domain.Refiner
	catalog *catalog.Catalog
	timeout time.Duration
	logger  *logrus.Logger
}

// NewAgent creates an agent. refiner may be nil.
func NewAgent(refiner domain.Refiner, cat *catalog.Catalog, timeout time.Duration, logger *logrus.Logger) *Agent {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Agent{refiner: refiner, catalog: cat, timeout: timeout, logger: logger}
}

// Available reports whether refinement will be attempted.
func (a *Agent) Available() bool {
	return a.refiner != nil && a.refiner.Available()
}

// Refine returns a refined copy of result. It never fails: when the service is unavailable,
// errors, times out or answers with nothing usable, the ensemble ranking passes through with
// Source ensemble-only and a locally written rationale. The input result is not modified.
func (a *Agent) Refine(ctx context.Context, set *domain.AnswerSet, vec domain.FeatureVector, result *domain.DiagnosisResult) (*domain.DiagnosisResult, Outcome) {
	out := result.Clone()
	if !a.Available() {
		return a.fallback(out, vec), OutcomeUnavailable
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req := domain.RefineRequest{Answers: set, Candidates: out.Candidates()}
	if set != nil {
		req.Complaint = set.Complaint
	}
	resp, err := a.refiner.Refine(callCtx, req)
	if err != nil {
		outcome := OutcomeFailed
		if callCtx.Err() != nil && ctx.Err() == nil {
			outcome = OutcomeTimedOut
		}
		a.logger.WithFields(logrus.Fields{
			"kind":    domain.KindDegradedCapability,
			"outcome": outcome,
			"error":   err.Error(),
		}).Warn("Refinement unavailable; using ensemble ranking")
		return a.fallback(out, vec), outcome
	}

	ordered, ok := anchor(out.Candidates(), resp.Ranking)
	if !ok {
		a.logger.WithField("kind", domain.KindDegradedCapability).
			Warn("Refinement returned no known candidates; using ensemble ranking")
		return a.fallback(out, vec), OutcomeUnanchored
	}

	copy(out.Ranked, ordered)
	out.Source = domain.SourceAIRefined
	if resp.Rationale != "" {
		out.Rationale = resp.Rationale
		out.RationaleSource = domain.SourceAIRefined
	} else {
		out.Rationale = a.localRationale(out, vec)
		out.RationaleSource = domain.SourceEnsembleOnly
	}
	if rec := resp.Recommendation; rec != nil {
		cp := *rec
		cp.Condition = out.Ranked[0].Disease.Label
		out.Recommendation = &cp
	}

	a.logger.WithFields(logrus.Fields{
		"primary":       out.Ranked[0].Disease.ID,
		"ensemble_rank": out.Ranked[0].EnsembleRank,
	}).Debug("Candidates refined")
	return out, OutcomeRefined
}

// anchor keeps only proposals naming one of the candidates, in the proposed order and
// without repeats, then appends the candidates the proposal left out in ensemble order.
// It fails when no proposal names a candidate.
func anchor(candidates []domain.RankedDiagnosis, proposal []domain.RefinedCandidate) ([]domain.RankedDiagnosis, bool) {
	index := make(map[string]int, len(candidates))
	for i, c := range candidates {
		index[c.Disease.ID] = i
	}

	used := make([]bool, len(candidates))
	out := make([]domain.RankedDiagnosis, 0, len(candidates))
	for _, p := range proposal {
		i, ok := index[strings.TrimSpace(p.DiseaseID)]
		if !ok || used[i] {
			continue
		}
		used[i] = true
		c := candidates[i]
		c.Annotation = strings.TrimSpace(p.Annotation)
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, false
	}
	for i, c := range candidates {
		if !used[i] {
			out = append(out, c)
		}
	}
	return out, true
}

func (a *Agent) fallback(out *domain.DiagnosisResult, vec domain.FeatureVector) *domain.DiagnosisResult {
	out.Source = domain.SourceEnsembleOnly
	out.Rationale = a.localRationale(out, vec)
	out.RationaleSource = domain.SourceEnsembleOnly
	out.Recommendation = nil
	return out
}

// localRationale explains the ranking from the classifier scores alone.
func (a *Agent) localRationale(r *domain.DiagnosisResult, vec domain.FeatureVector) string {
	primary, ok := r.Primary()
	if !ok {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "This assessment is derived from statistical model agreement. ")
	fmt.Fprintf(&b, "The classifiers agree most strongly on %s with an agreement score of %.0f%% (%s).",
		primary.Disease.Label, primary.Confidence*100, primary.Level)

	if symptoms := a.presentLabels(vec); len(symptoms) > 0 {
		fmt.Fprintf(&b, " It is based on the reported symptoms: %s.", strings.Join(symptoms, ", "))
	}

	others := r.Candidates()[1:]
	if len(others) > 0 {
		parts := make([]string, len(others))
		for i, c := range others {
			parts[i] = fmt.Sprintf("%s (%.0f%%)", c.Disease.Label, c.Confidence*100)
		}
		fmt.Fprintf(&b, " Other possibilities considered: %s.", strings.Join(parts, ", "))
	}
	if len(r.Degraded) > 0 {
		fmt.Fprintf(&b, " Not every classifier was available for this analysis (%s missing).", strings.Join(r.Degraded, ", "))
	}
	return b.String()
}

func (a *Agent) presentLabels(vec domain.FeatureVector) []string {
	symptoms := a.catalog.Symptoms()
	var out []string
	for _, i := range vec.Present() {
		if i < len(symptoms) {
			out = append(out, strings.ToLower(symptoms[i].Label))
		}
	}
	return out
}
