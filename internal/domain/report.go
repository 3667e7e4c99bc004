package domain

import (
	"fmt"
	"time"
)

// SectionKind names one of the fixed report sections.
type SectionKind string

const (
	SectionPrimaryDiagnosis SectionKind = "primary_diagnosis"
	SectionDifferential     SectionKind = "differential"
	SectionRationale        SectionKind = "rationale"
	SectionRecommendations  SectionKind = "recommendations"
	SectionDisclaimer       SectionKind = "disclaimer"
)

// SectionOrder is the exact section sequence of every report.
var SectionOrder = []SectionKind{
	SectionPrimaryDiagnosis,
	SectionDifferential,
	SectionRationale,
	SectionRecommendations,
	SectionDisclaimer,
}

// Section is one report section. Which payload fields are set depends on Kind.
type Section struct {
	Kind  SectionKind `json:"kind"`
	Title string      `json:"title"`

	Primary        *RankedDiagnosis     `json:"primary,omitempty"`
	Candidates     []RankedDiagnosis    `json:"candidates,omitempty"`
	Text           string               `json:"text,omitempty"`
	Source         string               `json:"source,omitempty"`
	Recommendation *RecommendationText  `json:"recommendation,omitempty"`
	RecSource      RecommendationSource `json:"recommendation_source,omitempty"`
}

// Report is the compiled, user-facing outcome of a pipeline run.
type Report struct {
	ID          string     `json:"id"`
	CreatedAt   time.Time  `json:"created_at"`
	SessionID   string     `json:"session_id,omitempty"`
	Fingerprint string     `json:"fingerprint"`
	Complaint   string     `json:"complaint"`
	Answers     *AnswerSet `json:"answers"`
	Source      Source     `json:"source"`
	Degraded    []string   `json:"degraded,omitempty"`
	Sections    []Section  `json:"sections"`
}

// Section returns the section of the given kind.
func (r *Report) Section(kind SectionKind) (*Section, bool) {
	for i := range r.Sections {
		if r.Sections[i].Kind == kind {
			return &r.Sections[i], true
		}
	}
	return nil, false
}

// PrimaryDiagnosis returns the primary entry of the report.
func (r *Report) PrimaryDiagnosis() (RankedDiagnosis, bool) {
	s, ok := r.Section(SectionPrimaryDiagnosis)
	if !ok || s.Primary == nil {
		return RankedDiagnosis{}, false
	}
	return *s.Primary, true
}

// Validate checks the structural contract: all five sections in order with
// their mandatory payloads, confidences in [0,1] and a known source.
func (r *Report) Validate() error {
	if r.ID == "" {
		return NewValidationError("id", "report id is required", r.ID)
	}
	if !r.Source.IsValid() {
		return NewValidationError("source", "unknown source", r.Source)
	}
	if len(r.Sections) != len(SectionOrder) {
		return NewValidationError("sections", fmt.Sprintf("expected %d sections, got %d", len(SectionOrder), len(r.Sections)), len(r.Sections))
	}
	for i, kind := range SectionOrder {
		s := r.Sections[i]
		if s.Kind != kind {
			return NewValidationError("sections", fmt.Sprintf("section %d must be %s", i, kind), s.Kind)
		}
		switch kind {
		case SectionPrimaryDiagnosis:
			if s.Primary == nil {
				return NewValidationError("primary_diagnosis", "missing primary diagnosis", nil)
			}
			if err := checkConfidence(*s.Primary); err != nil {
				return err
			}
		case SectionDifferential:
			for _, c := range s.Candidates {
				if err := checkConfidence(c); err != nil {
					return err
				}
			}
		case SectionRationale, SectionDisclaimer:
			if s.Text == "" {
				return NewValidationError(string(kind), "text is required", nil)
			}
		case SectionRecommendations:
			if s.Recommendation == nil {
				return NewValidationError("recommendations", "missing recommendation", nil)
			}
		}
	}
	return nil
}

func checkConfidence(d RankedDiagnosis) error {
	if d.Confidence < 0 || d.Confidence > 1 {
		return NewValidationError("confidence", "must be within [0,1]", d.Confidence)
	}
	return nil
}
