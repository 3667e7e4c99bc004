package catalog

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symptom-intake-server/internal/domain"
)

func loadTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Load()
	require.NoError(t, err)
	return c
}

func TestLoad_EmbeddedData(t *testing.T) {
	c := loadTestCatalog(t)

	assert.Equal(t, 125, c.Len())
	assert.Len(t, c.Diseases(), 41)

	for i, d := range c.Diseases() {
		assert.Equal(t, i, d.Index)
		assert.NotEmpty(t, c.Profile(d.ID), "profile for %s", d.ID)
	}
	for _, s := range c.Symptoms() {
		assert.True(t, s.Category.IsValid(), "category of %s", s.ID)
		assert.NotEmpty(t, s.Label)
	}

	fever, ok := c.Symptom("high_fever")
	require.True(t, ok)
	assert.Equal(t, "High fever", fever.Label)
	assert.Equal(t, domain.CategoryGeneral, fever.Category)
}

func TestLoadFS_RejectsBadReferences(t *testing.T) {
	base := func() fstest.MapFS {
		return fstest.MapFS{
			"symptoms.yaml":        {Data: []byte("symptoms:\n  - {id: cough, category: respiratory}\n")},
			"diseases.yaml":        {Data: []byte("diseases:\n  - {id: cold, label: Cold, symptoms: [cough]}\n")},
			"recommendations.yaml": {Data: []byte("generic: {specialist: GP}\nrecommendations: {}\n")},
			"intake.yaml":          {Data: []byte("body_areas: []\n")},
		}
	}

	t.Run("valid minimal", func(t *testing.T) {
		c, err := LoadFS(base())
		require.NoError(t, err)
		assert.Equal(t, 1, c.Len())
	})

	t.Run("unknown category", func(t *testing.T) {
		fsys := base()
		fsys["symptoms.yaml"] = &fstest.MapFile{Data: []byte("symptoms:\n  - {id: cough, category: lungs}\n")}
		_, err := LoadFS(fsys)
		assert.ErrorIs(t, err, domain.ErrInvalidCategory)
	})

	t.Run("profile references unknown symptom", func(t *testing.T) {
		fsys := base()
		fsys["diseases.yaml"] = &fstest.MapFile{Data: []byte("diseases:\n  - {id: cold, label: Cold, symptoms: [sneeze]}\n")}
		_, err := LoadFS(fsys)
		assert.ErrorContains(t, err, "unknown symptom")
	})

	t.Run("recommendation for unknown disease", func(t *testing.T) {
		fsys := base()
		fsys["recommendations.yaml"] = &fstest.MapFile{Data: []byte("recommendations:\n  flu: {specialist: GP}\n")}
		_, err := LoadFS(fsys)
		assert.ErrorContains(t, err, "unknown disease")
	})

	t.Run("missing file", func(t *testing.T) {
		fsys := base()
		delete(fsys, "intake.yaml")
		_, err := LoadFS(fsys)
		assert.Error(t, err)
	})
}

func TestRecommendation(t *testing.T) {
	c := loadTestCatalog(t)

	rec, src := c.Recommendation("common_cold")
	assert.Equal(t, domain.RecommendationLocal, src)
	assert.Equal(t, "Common Cold", rec.Condition)
	assert.Equal(t, "General Physician", rec.Specialist)
	assert.Contains(t, rec.HomeRemedies, "Steam inhalation")

	rec, src = c.Recommendation("unlisted")
	assert.Equal(t, domain.RecommendationGeneric, src)
	assert.Equal(t, []string{"Consult a doctor"}, rec.Medicines)

	rec, _ = c.Recommendation("heart_attack")
	assert.NotEmpty(t, rec.UrgentWarning)
}

func TestRelatedSymptoms(t *testing.T) {
	c := loadTestCatalog(t)

	related := c.RelatedSymptoms([]string{"cough", "high_fever"}, 10)

	assert.Len(t, related, 10)
	assert.NotContains(t, related, "cough")
	assert.NotContains(t, related, "high_fever")
	assert.Contains(t, related, "fatigue")
	assert.Nil(t, c.RelatedSymptoms(nil, 10))
}

func TestCategoryRelevance(t *testing.T) {
	c := loadTestCatalog(t)

	order := c.CategoryRelevance([]string{"cough", "breathlessness"}, []string{"high_fever"})

	require.Len(t, order, len(domain.Categories))
	assert.Equal(t, domain.CategoryRespiratory, order[0])
	assert.Equal(t, domain.CategoryGeneral, order[1])
}

func TestBodyAreas(t *testing.T) {
	c := loadTestCatalog(t)

	assert.Equal(t, []string{"back_pain"}, c.BodyAreaSymptoms("Back"))
	assert.Equal(t, []string{"Chest", "Throat"}, c.BodyAreasFor([]string{"cough"}))
	assert.Empty(t, c.BodyAreaSymptoms("Elbow"))
}

func TestIntakeOptions(t *testing.T) {
	c := loadTestCatalog(t)
	in := c.Intake()

	assert.Len(t, in.AgeGroups, 7)
	assert.Equal(t, domain.NoneOption, in.Preexisting[len(in.Preexisting)-1])
	assert.Equal(t, domain.NoneOption, in.FamilyHistory[len(in.FamilyHistory)-1])
	assert.Len(t, in.Lifestyle, 6)
	assert.True(t, c.IsHealthKeyword("fever"))
	assert.False(t, c.IsHealthKeyword("weather"))
	assert.NotEmpty(t, c.Disclaimer())
	assert.Contains(t, in.Messages.NotHealth, "persistent cough and fever")
}
