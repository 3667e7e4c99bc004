// Package report turns a ranked diagnosis into the five-section report handed to users and
// report sinks.
package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/symptom-intake-server/internal/catalog"
	"github.com/symptom-intake-server/internal/domain"
)

// ErrNoDiagnosis is returned when a result has nothing ranked.
var ErrNoDiagnosis = errors.New("diagnosis result has no ranked entries")

const genericSummary = "No condition-specific guidance is available. Please consult a medical professional for an assessment."

var sectionTitles = map[domain.SectionKind]string{
	domain.SectionPrimaryDiagnosis: "Primary Diagnosis",
	domain.SectionDifferential:     "Differential Diagnosis",
	domain.SectionRationale:        "Rationale",
	domain.SectionRecommendations:  "Recommendations",
	domain.SectionDisclaimer:       "Disclaimer",
}

// Title returns the display title of a section kind.
func Title(kind domain.SectionKind) string {
	return sectionTitles[kind]
}

// Compiler assembles reports.
type Compiler struct {
	catalog *catalog.Catalog
	logger  *logrus.Logger
	now     func() time.Time
	newID   func() string
}

// NewCompiler creates a compiler backed by the catalog's recommendation table and disclaimer.
func NewCompiler(cat *catalog.Catalog, logger *logrus.Logger) *Compiler {
	return &Compiler{
		catalog: cat,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.New().String() },
	}
}

// Compile builds a report from a refined (or passed-through) diagnosis and the answers that
// produced it.
func (c *Compiler) Compile(result *domain.DiagnosisResult, set *domain.AnswerSet) (*domain.Report, error) {
	primary, ok := result.Primary()
	if !ok {
		return nil, ErrNoDiagnosis
	}
	if err := result.CheckOrder(); err != nil {
		return nil, fmt.Errorf("diagnosis ranking is out of order: %w", err)
	}

	rec, recSource := c.recommendation(result, primary)

	r := &domain.Report{
		ID:        c.newID(),
		CreatedAt: c.now(),
		Source:    result.Source,
		Degraded:  append([]string(nil), result.Degraded...),
	}
	if set != nil {
		r.SessionID = set.SessionID
		r.Complaint = set.Complaint
		r.Answers = set.Clone()
		r.Fingerprint = set.Fingerprint()
	}

	differential := result.Candidates()[1:]
	rationaleSource := result.RationaleSource
	if rationaleSource == "" {
		rationaleSource = domain.SourceEnsembleOnly
	}

	r.Sections = []domain.Section{
		{Kind: domain.SectionPrimaryDiagnosis, Primary: &primary},
		{Kind: domain.SectionDifferential, Candidates: append([]domain.RankedDiagnosis{}, differential...)},
		{Kind: domain.SectionRationale, Text: result.Rationale, Source: string(rationaleSource)},
		{Kind: domain.SectionRecommendations, Recommendation: &rec, RecSource: recSource, Source: string(recSource)},
		{Kind: domain.SectionDisclaimer, Text: c.catalog.Disclaimer()},
	}
	for i := range r.Sections {
		r.Sections[i].Title = Title(r.Sections[i].Kind)
	}

	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("compiled report is invalid: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"report_id":      r.ID,
		"primary":        primary.Disease.ID,
		"source":         r.Source,
		"recommendation": recSource,
	}).Info("Report compiled")
	return r, nil
}

// recommendation prefers text from the reasoning service, then the local table, then the
// generic entry.
func (c *Compiler) recommendation(result *domain.DiagnosisResult, primary domain.RankedDiagnosis) (domain.RecommendationText, domain.RecommendationSource) {
	if ai := result.Recommendation; ai != nil && hasContent(ai) {
		rec := *ai
		rec.Condition = primary.Disease.Label
		return rec, domain.RecommendationAI
	}

	rec, source := c.catalog.Recommendation(primary.Disease.ID)
	if source == domain.RecommendationGeneric && rec.Summary == "" {
		rec.Summary = genericSummary
	}
	return rec, source
}

func hasContent(r *domain.RecommendationText) bool {
	return len(r.Medicines)+len(r.HomeRemedies)+len(r.DietaryAdvice)+len(r.LifestyleChange) > 0 ||
		r.Specialist != "" || r.Summary != "" || r.UrgentWarning != ""
}

// Decode parses a report from its JSON form and checks the section contract.
func Decode(data []byte) (*domain.Report, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var r domain.Report
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}
