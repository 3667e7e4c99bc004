// Package features turns a completed answer set into the dense vector the classifiers score.
package features

import (
	"fmt"

	"github.com/symptom-intake-server/internal/catalog"
	"github.com/symptom-intake-server/internal/domain"
	"github.com/symptom-intake-server/internal/intake"
)

// Auxiliary dimension names, in vector order. Lifestyle factors follow as "lifestyle_<key>".
const (
	AuxAgeGroup      = "age_group"
	AuxGenderMale    = "gender_male"
	AuxGenderFemale  = "gender_female"
	AuxDuration      = "duration"
	AuxSeverity      = "severity"
	AuxPreexisting   = "preexisting_count"
	AuxFamilyHistory = "family_history_count"
)

// Build maps an answer set onto the catalog's symptom positions. A symptom is present when
// it was selected in any checklist, implied by a selected body area, mentioned in an "other"
// free-text field, or inferred at intake and not deselected since. Non-symptom answers fill
// the auxiliary dimensions. Build never returns a partial vector.
func Build(set *domain.AnswerSet, cat *catalog.Catalog) (domain.FeatureVector, error) {
	if set == nil {
		return domain.FeatureVector{}, fmt.Errorf("%w: no answers", domain.ErrIncompleteAnswers)
	}

	var missing []string
	for _, key := range intake.RequiredKeys {
		if _, ok := set.Answer(key); !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return domain.FeatureVector{}, fmt.Errorf("%w: missing %v", domain.ErrIncompleteAnswers, missing)
	}

	symptoms := make([]float64, cat.Len())
	mark := func(id string) {
		if i, ok := cat.SymptomIndex(id); ok {
			symptoms[i] = 1
		}
	}

	for _, answer := range set.Answers {
		if answer.Shape != domain.ShapeList {
			continue
		}
		for _, v := range answer.Values {
			mark(v)
		}
	}
	if areas, ok := set.Answer(intake.KeyBodyAreas); ok {
		for _, area := range areas.Values {
			for _, id := range cat.BodyAreaSymptoms(area) {
				mark(id)
			}
		}
	}
	for _, text := range set.Other {
		for _, id := range cat.ExtractSymptoms(text) {
			mark(id)
		}
	}
	for _, id := range set.Hints {
		if !set.IsDeselected(id) {
			mark(id)
		}
	}

	vec := domain.FeatureVector{Symptoms: symptoms}
	if len(vec.Present()) == 0 {
		return domain.FeatureVector{}, fmt.Errorf("%w: no symptoms present", domain.ErrIncompleteAnswers)
	}

	vec.AuxNames, vec.Auxiliary = auxiliary(set, cat)
	return vec, nil
}

// AuxNames returns the auxiliary dimension names Build produces for a catalog.
func AuxNames(cat *catalog.Catalog) []string {
	names := []string{AuxAgeGroup, AuxGenderMale, AuxGenderFemale, AuxDuration, AuxSeverity, AuxPreexisting, AuxFamilyHistory}
	for _, f := range cat.Intake().Lifestyle {
		names = append(names, "lifestyle_"+f.Key)
	}
	return names
}

func auxiliary(set *domain.AnswerSet, cat *catalog.Catalog) ([]string, []float64) {
	opts := cat.Intake()
	names := AuxNames(cat)
	values := make([]float64, len(names))

	if demo, ok := set.Answer(intake.KeyDemographics); ok && demo.Shape == domain.ShapeMap {
		values[0] = ordinal(opts.AgeGroups, demo.PerCategory["age"])
		switch demo.PerCategory["gender"] {
		case "Male":
			values[1] = 1
		case "Female":
			values[2] = 1
		}
	}
	if d, ok := set.Answer(intake.KeyDuration); ok {
		values[3] = ordinal(opts.Durations, d.Scalar)
	}
	if s, ok := set.Answer(intake.KeySeverity); ok {
		levels := make([]string, len(opts.Severities))
		for i, o := range opts.Severities {
			levels[i] = o.Value
		}
		values[4] = ordinal(levels, s.Scalar)
	}
	values[5] = countFraction(set, intake.KeyPreexisting, len(opts.Preexisting)-1)
	values[6] = countFraction(set, intake.KeyFamilyHistory, len(opts.FamilyHistory)-1)

	if ls, ok := set.Answer(intake.KeyLifestyle); ok && ls.Shape == domain.ShapeMap {
		for i, f := range opts.Lifestyle {
			values[7+i] = ordinal(f.Options, ls.PerCategory[f.Key])
		}
	}
	return names, values
}

// ordinal maps an option onto (0,1] by its position; unknown or empty values map to 0.
func ordinal(options []string, v string) float64 {
	for i, o := range options {
		if o == v {
			return float64(i+1) / float64(len(options))
		}
	}
	return 0
}

// countFraction is the share of real (non-"None") options selected in a checklist.
func countFraction(set *domain.AnswerSet, key string, total int) float64 {
	a, ok := set.Answer(key)
	if !ok || total <= 0 {
		return 0
	}
	n := 0
	for _, v := range a.Values {
		if v != domain.NoneOption {
			n++
		}
	}
	return float64(n) / float64(total)
}
