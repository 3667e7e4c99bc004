// Package ensemble combines the classifier votes into one complete, deterministic ranking.
package ensemble

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/symptom-intake-server/internal/catalog"
	"github.com/symptom-intake-server/internal/domain"
	"github.com/symptom-intake-server/internal/model"
)

// Defaults applied when the configuration leaves a field zero.
const (
	DefaultTopK         = 3
	DefaultTieEpsilon   = 1e-9
	DefaultMinCandidate = 0.01
)

// Member is a configured classifier slot. A nil Classifier marks the slot unavailable.
type Member struct {
	Name       string
	Classifier model.Classifier
}

// Config tunes the combination step.
type Config struct {
	// Weights by member name. Missing names share 1 minus the configured sum
	// equally. When the configured weights already reach 1 that remainder is
	// empty and each missing name gets 1/len(members) instead. Config
	// validation rejects such maps for the built-in classifiers.
	Weights map[string]float64
	// Priority names the member whose score breaks ties. Empty selects the member with the
	// highest validation accuracy.
	Priority     string
	TopK         int
	TieEpsilon   float64
	MinCandidate float64
}

// MemberStatus describes one classifier slot for status reporting.
type MemberStatus struct {
	Name               string  `json:"name"`
	Loaded             bool    `json:"loaded"`
	Kind               string  `json:"kind,omitempty"`
	ValidationAccuracy float64 `json:"validation_accuracy,omitempty"`
	Weight             float64 `json:"weight"`
	Priority           bool    `json:"priority"`
}

// Engine scores a feature vector with every available classifier and merges the votes.
type Engine struct {
	catalog  *catalog.Catalog
	members  []Member
	weights  map[string]float64
	priority string
	topK     int
	epsilon  float64
	floor    float64
	logger   *logrus.Logger
}

// NewEngine builds an engine. Weights are fixed here and never change at runtime.
func NewEngine(cat *catalog.Catalog, members []Member, config Config, logger *logrus.Logger) *Engine {
	if config.TopK <= 0 {
		config.TopK = DefaultTopK
	}
	if config.TieEpsilon <= 0 {
		config.TieEpsilon = DefaultTieEpsilon
	}
	if config.MinCandidate <= 0 {
		config.MinCandidate = DefaultMinCandidate
	}

	e := &Engine{
		catalog: cat,
		members: members,
		weights: resolveWeights(members, config.Weights),
		topK:    config.TopK,
		epsilon: config.TieEpsilon,
		floor:   config.MinCandidate,
		logger:  logger,
	}
	e.priority = e.resolvePriority(config.Priority)

	logger.WithFields(logrus.Fields{
		"available": e.Available(),
		"weights":   e.weights,
		"priority":  e.priority,
		"top_k":     e.topK,
	}).Info("Ensemble engine initialized")
	return e
}

func resolveWeights(members []Member, configured map[string]float64) map[string]float64 {
	weights := make(map[string]float64, len(members))
	assigned, unassigned := 0.0, 0
	for _, m := range members {
		if w, ok := configured[m.Name]; ok && w > 0 {
			weights[m.Name] = w
			assigned += w
		} else {
			unassigned++
		}
	}
	if unassigned > 0 {
		share := 1.0 / float64(len(members))
		if assigned > 0 && assigned < 1 {
			share = (1 - assigned) / float64(unassigned)
		}
		for _, m := range members {
			if _, ok := weights[m.Name]; !ok {
				weights[m.Name] = share
			}
		}
	}
	return weights
}

func (e *Engine) resolvePriority(configured string) string {
	for _, m := range e.members {
		if m.Name == configured && m.Classifier != nil {
			return configured
		}
	}
	best, bestAcc := "", -1.0
	for _, m := range e.members {
		if m.Classifier == nil {
			continue
		}
		if acc := m.Classifier.ValidationAccuracy(); acc > bestAcc {
			best, bestAcc = m.Name, acc
		}
	}
	return best
}

// Available returns the names of loaded classifiers.
func (e *Engine) Available() []string {
	var names []string
	for _, m := range e.members {
		if m.Classifier != nil {
			names = append(names, m.Name)
		}
	}
	return names
}

// Status reports every configured slot.
func (e *Engine) Status() []MemberStatus {
	out := make([]MemberStatus, 0, len(e.members))
	for _, m := range e.members {
		s := MemberStatus{Name: m.Name, Weight: e.weights[m.Name], Priority: m.Name == e.priority}
		if m.Classifier != nil {
			s.Loaded = true
			s.Kind = string(m.Classifier.Kind())
			s.ValidationAccuracy = m.Classifier.ValidationAccuracy()
		}
		out = append(out, s)
	}
	return out
}

// Predict runs the available classifiers concurrently and ranks the whole label space by the
// weighted average of their scores. A classifier that is missing or fails is left out and
// named in Degraded; the survivors' weights are renormalized. Only when no classifier produces
// a vote does Predict fail, with ErrNoClassifiers.
func (e *Engine) Predict(ctx context.Context, vec domain.FeatureVector) (*domain.DiagnosisResult, error) {
	labels := len(e.catalog.Diseases())
	scores := make([][]float64, len(e.members))
	errs := make([]error, len(e.members))

	var g errgroup.Group
	for i, m := range e.members {
		if m.Classifier == nil {
			continue
		}
		g.Go(func() error {
			s, err := m.Classifier.Score(ctx, vec)
			if err == nil {
				err = checkVote(s, labels)
			}
			scores[i], errs[i] = s, err
			return nil
		})
	}
	_ = g.Wait()

	var (
		votes    []domain.ClassifierVote
		weights  []float64
		degraded []string
	)
	for i, m := range e.members {
		switch {
		case m.Classifier == nil:
			degraded = append(degraded, m.Name)
		case errs[i] != nil:
			degraded = append(degraded, m.Name)
			e.logger.WithFields(logrus.Fields{
				"classifier": m.Name,
				"kind":       domain.KindPartialModelFailure,
				"error":      errs[i].Error(),
			}).Warn("Classifier failed; continuing with remaining classifiers")
		default:
			votes = append(votes, domain.ClassifierVote{Classifier: m.Name, Scores: scores[i]})
			weights = append(weights, e.weights[m.Name])
		}
	}

	if len(votes) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: unavailable %v", domain.ErrNoClassifiers, degraded)
	}

	combined := combine(votes, weights, labels)
	order := e.rank(combined, votes)

	ranked := make([]domain.RankedDiagnosis, len(order))
	for pos, d := range order {
		disease, _ := e.catalog.DiseaseAt(d)
		perClassifier := make(map[string]float64, len(votes))
		for _, v := range votes {
			perClassifier[v.Classifier] = v.Scores[d]
		}
		ranked[pos] = domain.RankedDiagnosis{
			Disease:      disease,
			Confidence:   combined[d],
			Level:        domain.ConfidenceFor(combined[d]),
			EnsembleRank: pos + 1,
			Votes:        perClassifier,
		}
	}

	result := &domain.DiagnosisResult{
		Ranked:   ranked,
		TopK:       e.differentialSize(ranked),
		Source:     domain.SourceEnsembleOnly,
		TieEpsilon: e.epsilon,
		Degraded:   degraded,
	}

	primary := ranked[0]
	e.logger.WithFields(logrus.Fields{
		"primary":    primary.Disease.ID,
		"confidence": primary.Confidence,
		"voters":     len(votes),
		"degraded":   degraded,
	}).Debug("Ensemble scored")
	return result, nil
}

// checkVote requires a full, non-negative distribution and normalizes it in place.
func checkVote(s []float64, labels int) error {
	if len(s) != labels {
		return fmt.Errorf("vote covers %d labels, want %d", len(s), labels)
	}
	total := 0.0
	for _, p := range s {
		if p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return fmt.Errorf("invalid score %v", p)
		}
		total += p
	}
	if total <= 0 {
		return fmt.Errorf("vote has no mass")
	}
	for i := range s {
		s[i] /= total
	}
	return nil
}

func combine(votes []domain.ClassifierVote, weights []float64, labels int) []float64 {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	out := make([]float64, labels)
	for i, v := range votes {
		w := weights[i] / total
		for d, p := range v.Scores {
			out[d] += w * p
		}
	}
	return out
}

// rank orders disease indexes by combined score. Scores within epsilon tie and fall back to
// the priority classifier's score, then to disease index.
func (e *Engine) rank(combined []float64, votes []domain.ClassifierVote) []int {
	var tiebreak []float64
	for _, v := range votes {
		if v.Classifier == e.priority {
			tiebreak = v.Scores
		}
	}

	order := make([]int, len(combined))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		da, db := order[a], order[b]
		if diff := combined[da] - combined[db]; math.Abs(diff) > e.epsilon {
			return diff > 0
		}
		if tiebreak != nil {
			if diff := tiebreak[da] - tiebreak[db]; math.Abs(diff) > e.epsilon {
				return diff > 0
			}
		}
		return da < db
	})
	return order
}

// differentialSize is top-K, shortened to the entries above the score floor. The primary is
// always kept.
func (e *Engine) differentialSize(ranked []domain.RankedDiagnosis) int {
	k := min(e.topK, len(ranked))
	n := 1
	for n < k && ranked[n].Confidence >= e.floor {
		n++
	}
	return n
}
