package domain

import (
	"fmt"
	"time"
)

// FeatureVector is the dense classifier input. Symptoms has exactly one
// position per catalog symptom; Auxiliary carries non-symptom answers for
// classifiers trained on them.
type FeatureVector struct {
	Symptoms  []float64 `json:"symptoms"`
	Auxiliary []float64 `json:"auxiliary,omitempty"`
	AuxNames  []string  `json:"aux_names,omitempty"`
}

// Present returns the indexes of symptom positions that are set.
func (v FeatureVector) Present() []int {
	var idx []int
	for i, x := range v.Symptoms {
		if x > 0 {
			idx = append(idx, i)
		}
	}
	return idx
}

// DiseaseScore is a probability-like score for one disease.
type DiseaseScore struct {
	DiseaseIndex int     `json:"disease_index"`
	Score        float64 `json:"score"`
}

// ClassifierVote is one classifier's output over the full label space.
// Scores are indexed by disease index, non-negative and sum to 1.
type ClassifierVote struct {
	Classifier string    `json:"classifier"`
	Scores     []float64 `json:"scores"`
}

// RankedDiagnosis is one entry of a diagnosis ranking.
type RankedDiagnosis struct {
	Disease Disease `json:"disease"`
	// Confidence is the ensemble agreement score, not a clinical probability.
	Confidence float64         `json:"confidence"`
	Level      ConfidenceLevel `json:"level"`
	// EnsembleRank is the 1-based position assigned by the ensemble.
	EnsembleRank int `json:"ensemble_rank"`
	// Votes holds the per-classifier scores that produced Confidence.
	Votes map[string]float64 `json:"votes,omitempty"`
	// Annotation is an optional note from the reasoning service.
	Annotation string `json:"annotation,omitempty"`
}

// RecommendationText is guidance attached to the primary diagnosis.
type RecommendationText struct {
	Condition       string   `json:"condition"`
	Medicines       []string `json:"medicines,omitempty"`
	HomeRemedies    []string `json:"home_remedies,omitempty"`
	DietaryAdvice   []string `json:"dietary_advice,omitempty"`
	LifestyleChange []string `json:"lifestyle_changes,omitempty"`
	Specialist      string   `json:"specialist,omitempty"`
	Summary         string   `json:"summary,omitempty"`
	UrgentWarning   string   `json:"urgent_warning,omitempty"`
}

// RecommendationSource records where the recommendation section came from.
type RecommendationSource string

const (
	RecommendationAI      RecommendationSource = "reasoning-service"
	RecommendationLocal   RecommendationSource = "local-table"
	RecommendationGeneric RecommendationSource = "generic"
)

// DiagnosisResult is the ranked outcome of the pipeline before report compilation.
type DiagnosisResult struct {
	// Ranked is the complete ranking. Ranked[0] is the primary diagnosis.
	Ranked []RankedDiagnosis `json:"ranked"`
	// TopK is how many leading entries form the differential.
	TopK   int    `json:"top_k"`
	Source Source `json:"source"`
	// TieEpsilon is the score difference the ensemble treated as a tie.
	TieEpsilon float64 `json:"tie_epsilon,omitempty"`
	// Degraded names classifiers that could not run for this result.
	Degraded        []string            `json:"degraded,omitempty"`
	Rationale       string              `json:"rationale,omitempty"`
	RationaleSource Source              `json:"rationale_source,omitempty"`
	Recommendation  *RecommendationText `json:"recommendation,omitempty"`
}

// Primary returns the top-ranked diagnosis.
func (r *DiagnosisResult) Primary() (RankedDiagnosis, bool) {
	if r == nil || len(r.Ranked) == 0 {
		return RankedDiagnosis{}, false
	}
	return r.Ranked[0], true
}

// Candidates returns the top-K entries carried forward as the differential.
func (r *DiagnosisResult) Candidates() []RankedDiagnosis {
	if r == nil {
		return nil
	}
	k := r.TopK
	if k <= 0 || k > len(r.Ranked) {
		k = len(r.Ranked)
	}
	return r.Ranked[:k]
}

// CheckOrder verifies the ranking contract. An ensemble-only ranking is in
// non-increasing confidence order, up to TieEpsilon where ties were broken by
// the priority classifier, with EnsembleRank matching position. A refined
// ranking keeps each entry's ensemble confidence, so confidence may rise down
// the list; only the first TopK entries may move and together they still hold
// exactly the ensemble ranks 1..TopK.
func (r *DiagnosisResult) CheckOrder() error {
	k := len(r.Candidates())
	seen := make([]bool, k+1)
	for i, d := range r.Ranked {
		switch {
		case r.Source == SourceAIRefined && i < k:
			if d.EnsembleRank < 1 || d.EnsembleRank > k || seen[d.EnsembleRank] {
				return NewValidationError("ranked", fmt.Sprintf("entry %d has ensemble rank %d outside the reordered candidates", i, d.EnsembleRank), d.EnsembleRank)
			}
			seen[d.EnsembleRank] = true
		case d.EnsembleRank != i+1:
			return NewValidationError("ranked", fmt.Sprintf("entry %d has ensemble rank %d", i, d.EnsembleRank), d.EnsembleRank)
		}
		if r.Source != SourceAIRefined && i > 0 && d.Confidence-r.Ranked[i-1].Confidence > r.TieEpsilon {
			return NewValidationError("ranked", fmt.Sprintf("entry %d is more confident than entry %d", i, i-1), d.Confidence)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (r *DiagnosisResult) Clone() *DiagnosisResult {
	out := *r
	out.Ranked = make([]RankedDiagnosis, len(r.Ranked))
	for i, d := range r.Ranked {
		cp := d
		if d.Votes != nil {
			cp.Votes = make(map[string]float64, len(d.Votes))
			for k, v := range d.Votes {
				cp.Votes[k] = v
			}
		}
		out.Ranked[i] = cp
	}
	out.Degraded = append([]string(nil), r.Degraded...)
	if r.Recommendation != nil {
		rec := *r.Recommendation
		out.Recommendation = &rec
	}
	return &out
}

// Stage is a pipeline state.
type Stage string

const (
	StageIntakeComplete Stage = "IntakeComplete"
	StageFeaturesBuilt  Stage = "FeaturesBuilt"
	StageEnsembleScored Stage = "EnsembleScored"
	StageRefined        Stage = "Refined"
	StageReportReady    Stage = "ReportReady"
	StageFailed         Stage = "Failed"
)

// StageOrder is the only legal forward sequence of non-terminal states.
var StageOrder = []Stage{
	StageIntakeComplete,
	StageFeaturesBuilt,
	StageEnsembleScored,
	StageRefined,
	StageReportReady,
}

// Position returns the stage's index in StageOrder, or -1 for Failed.
func (s Stage) Position() int {
	for i, st := range StageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// IsTerminal reports whether no further transition can happen.
func (s Stage) IsTerminal() bool {
	return s == StageReportReady || s == StageFailed
}

// ProgressEvent is emitted on every state transition of a pipeline run.
// Events are advisory; ignoring them does not change the outcome.
type ProgressEvent struct {
	RunID    string    `json:"run_id"`
	Sequence int       `json:"sequence"`
	Stage    Stage     `json:"stage"`
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at"`
	// Error is set only on the Failed event.
	Error *PipelineError `json:"error,omitempty"`
}
