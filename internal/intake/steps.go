package intake

import (
	"github.com/symptom-intake-server/internal/catalog"
	"github.com/symptom-intake-server/internal/domain"
)

// Step keys. The order of buildSteps below is the interview order.
const (
	KeyDemographics  = "demographics"
	KeyDuration      = "duration"
	KeySeverity      = "severity"
	KeyBodyAreas     = "body_areas"
	KeySymptoms      = "symptoms"
	KeyPreexisting   = "preexisting"
	KeyLifestyle     = "lifestyle"
	KeyFamilyHistory = "family_history"
)

// RequiredKeys are the steps that must be answered before analysis.
var RequiredKeys = []string{KeyDemographics, KeyDuration, KeySeverity, KeySymptoms}

// relatedLimit caps how many co-occurring symptoms are highlighted.
const relatedLimit = 12

func buildSteps(cat *catalog.Catalog, hints []string) domain.StepList {
	opts := cat.Intake()
	related := cat.RelatedSymptoms(hints, relatedLimit)

	var groups []domain.SymptomGroup
	for _, category := range cat.CategoryRelevance(hints, related) {
		symptoms := cat.ByCategory(category)
		if len(symptoms) == 0 {
			continue
		}
		g := domain.SymptomGroup{Category: category, Label: category.Label()}
		for _, s := range symptoms {
			g.Symptoms = append(g.Symptoms, domain.SymptomOption{ID: s.ID, Label: s.Label})
		}
		groups = append(groups, g)
	}

	areas := make([]string, 0, len(opts.BodyAreas))
	for _, a := range opts.BodyAreas {
		areas = append(areas, a.Area)
	}

	return domain.StepList{
		&domain.GroupRadioStep{
			StepHeader: domain.StepHeader{
				Key:      KeyDemographics,
				Title:    "Tell us about yourself",
				Subtitle: "Age and gender help narrow down likely conditions.",
				Required: true,
			},
			Groups: []domain.RadioGroup{
				{Key: "age", Label: "Age group", Options: opts.AgeGroups},
				{Key: "gender", Label: "Gender", Options: opts.Genders},
			},
		},
		&domain.RadioStep{
			StepHeader: domain.StepHeader{
				Key:      KeyDuration,
				Title:    "How long have you had these symptoms?",
				Required: true,
			},
			Options: opts.Durations,
		},
		&domain.DescribedRadioStep{
			StepHeader: domain.StepHeader{
				Key:      KeySeverity,
				Title:    "How severe are your symptoms?",
				Required: true,
			},
			Options: opts.Severities,
		},
		&domain.CheckboxStep{
			StepHeader: domain.StepHeader{
				Key:      KeyBodyAreas,
				Title:    "Which areas of your body are affected?",
				Subtitle: "Select all that apply.",
			},
			Options:    areas,
			Suggested:  cat.BodyAreasFor(hints),
			AllowOther: true,
		},
		&domain.CategorizedCheckboxStep{
			StepHeader: domain.StepHeader{
				Key:      KeySymptoms,
				Title:    "Which symptoms are you experiencing?",
				Subtitle: "Symptoms we picked up from your description are already checked.",
				Required: true,
			},
			Groups:       groups,
			Suggested:    related,
			AutoSelected: append([]string(nil), hints...),
			AllowOther:   true,
		},
		&domain.CheckboxStep{
			StepHeader: domain.StepHeader{
				Key:   KeyPreexisting,
				Title: "Do you have any pre-existing conditions?",
			},
			Options:    opts.Preexisting,
			Exclusive:  domain.NoneOption,
			AllowOther: true,
		},
		&domain.LifestyleStep{
			StepHeader: domain.StepHeader{
				Key:   KeyLifestyle,
				Title: "A few questions about your lifestyle",
			},
			Factors: opts.Lifestyle,
		},
		&domain.CheckboxStep{
			StepHeader: domain.StepHeader{
				Key:   KeyFamilyHistory,
				Title: "Does your family have a history of any of these?",
			},
			Options:   opts.FamilyHistory,
			Exclusive: domain.NoneOption,
		},
	}
}
