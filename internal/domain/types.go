// Package domain contains the core entities of the symptom intake and diagnosis pipeline:
// catalog reference data, interview step specifications, collected answers, classifier votes,
// diagnosis results and compiled reports.
//
// Every entity here is produced by exactly one component and treated as read-only by every
// other component. Nothing in this package performs I/O.
package domain

import (
	"errors"
	"fmt"
)

// Category groups catalog symptoms for the categorized checkbox step.
// The set is fixed; catalog data referencing any other category fails to load.
type Category string

const (
	CategoryGeneral         Category = "general"
	CategoryNeurological    Category = "neurological"
	CategoryRespiratory     Category = "respiratory"
	CategoryDigestive       Category = "digestive"
	CategorySkin            Category = "skin"
	CategoryMusculoskeletal Category = "musculoskeletal"
	CategoryUrinary         Category = "urinary"
	CategoryCardiovascular  Category = "cardiovascular"
	CategoryMentalHealth    Category = "mental_health"
	CategoryEyesEars        Category = "eyes_ears"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryGeneral,
	CategoryNeurological,
	CategoryRespiratory,
	CategoryDigestive,
	CategorySkin,
	CategoryMusculoskeletal,
	CategoryUrinary,
	CategoryCardiovascular,
	CategoryMentalHealth,
	CategoryEyesEars,
}

// IsValid reports whether the category belongs to the fixed set.
func (c Category) IsValid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// String returns the category tag.
func (c Category) String() string {
	return string(c)
}

// Label returns the human-readable heading used in interview steps.
func (c Category) Label() string {
	switch c {
	case CategoryGeneral:
		return "General"
	case CategoryNeurological:
		return "Head & Neurological"
	case CategoryRespiratory:
		return "Respiratory"
	case CategoryDigestive:
		return "Digestive"
	case CategorySkin:
		return "Skin"
	case CategoryMusculoskeletal:
		return "Musculoskeletal"
	case CategoryUrinary:
		return "Urinary"
	case CategoryCardiovascular:
		return "Cardiovascular"
	case CategoryMentalHealth:
		return "Mental Health"
	case CategoryEyesEars:
		return "Eyes & Ears"
	default:
		return string(c)
	}
}

// Symptom is one canonical catalog symptom.
// ID is a stable snake_case token and doubles as the classifier feature name.
type Symptom struct {
	ID       string   `json:"id" yaml:"id"`
	Label    string   `json:"label" yaml:"label"`
	Category Category `json:"category" yaml:"category"`
	Aliases  []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// Disease is one entry of the classifiers' shared label space.
type Disease struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	// Index is the position of the disease in every classifier's output vector.
	Index int `json:"index"`
}

// ConfidenceLevel is the coarse label shown next to a differential candidate.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "High"
	ConfidenceMedium ConfidenceLevel = "Medium"
	ConfidenceLow    ConfidenceLevel = "Low"
)

// ConfidenceFor maps an ensemble agreement score onto a coarse level.
func ConfidenceFor(score float64) ConfidenceLevel {
	switch {
	case score > 0.5:
		return ConfidenceHigh
	case score > 0.2:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Source records which path produced the final ranking of a DiagnosisResult.
type Source string

const (
	// SourceEnsembleOnly means the ranking comes straight from the classifier ensemble.
	SourceEnsembleOnly Source = "ensemble-only"
	// SourceAIRefined means the reasoning service re-ranked the ensemble candidates.
	SourceAIRefined Source = "ai-refined"
)

// IsValid reports whether the source tag is known.
func (s Source) IsValid() bool {
	return s == SourceEnsembleOnly || s == SourceAIRefined
}

// Sentinel errors shared across the pipeline.
var (
	ErrNotFound          = errors.New("not found")
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidAnswer     = errors.New("invalid answer")
	ErrIncompleteAnswers = errors.New("answer set incomplete")
	ErrNoClassifiers     = errors.New("no classifier available")
	ErrUnknownStepKind   = errors.New("unknown step kind")
	ErrInvalidCategory   = errors.New("invalid symptom category")
)

// LogFields returns structured logging fields for a symptom.
func (s Symptom) LogFields() map[string]any {
	return map[string]any{
		"symptom_id":       s.ID,
		"symptom_category": string(s.Category),
	}
}

// String returns "label (id)".
func (d Disease) String() string {
	return fmt.Sprintf("%s (%s)", d.Label, d.ID)
}
