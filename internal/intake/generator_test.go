package intake

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symptom-intake-server/internal/catalog"
	"github.com/symptom-intake-server/internal/domain"
)

type stubScreener struct {
	available bool
	verdict   *domain.ScreenVerdict
	err       error
	calls     int
}

func (s *stubScreener) Available() bool { return s.available }

func (s *stubScreener) ScreenComplaint(ctx context.Context, complaint string) (*domain.ScreenVerdict, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	v := *s.verdict
	return &v, nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestGenerator(t *testing.T, screener domain.ComplaintScreener) (*Generator, *catalog.Catalog) {
	t.Helper()
	cat, err := catalog.Load()
	require.NoError(t, err)
	g, err := NewGenerator(cat, screener, Config{}, quietLogger())
	require.NoError(t, err)
	return g, cat
}

func TestGenerate_LocalScreen(t *testing.T) {
	g, cat := newTestGenerator(t, nil)
	msgs := cat.Intake().Messages

	tests := []struct {
		name      string
		complaint string
		valid     bool
		reason    string
	}{
		{"too short", "ow", false, msgs.TooShort},
		{"single word", "headache", false, msgs.TooFewWords},
		{"not health related", "what is the weather like today", false, msgs.NotHealth},
		{"keyword", "my knee hurts", true, ""},
		{"stemmed keyword", "knees keep hurting", true, ""},
		{"extracted symptom only", "constant vomitting lately", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := g.Generate(context.Background(), tt.complaint)

			require.NoError(t, err)
			assert.Equal(t, tt.valid, result.Valid)
			assert.Equal(t, tt.reason, result.Error)
			assert.Equal(t, ScreenedByLocal, result.ScreenedBy)
			if !tt.valid {
				assert.Empty(t, result.Steps)
				assert.NotNil(t, result.Suggested)
			}
		})
	}
}

func TestGenerate_StepTaxonomy(t *testing.T) {
	g, _ := newTestGenerator(t, nil)

	// Act
	result, err := g.Generate(context.Background(), "persistent cough and fever for 3 days, body aches")

	// Assert
	require.NoError(t, err)
	require.True(t, result.Valid)
	assert.Subset(t, result.Suggested, []string{"cough", "high_fever"})

	wantKeys := []string{KeyDemographics, KeyDuration, KeySeverity, KeyBodyAreas, KeySymptoms, KeyPreexisting, KeyLifestyle, KeyFamilyHistory}
	wantKinds := []domain.StepKind{
		domain.StepGroupRadio, domain.StepRadio, domain.StepDescribedRadio, domain.StepCheckbox,
		domain.StepCategorizedCheckbox, domain.StepCheckbox, domain.StepLifestyle, domain.StepCheckbox,
	}
	require.Len(t, result.Steps, len(wantKeys))
	for i, s := range result.Steps {
		assert.Equal(t, wantKeys[i], s.Header().Key)
		assert.Equal(t, wantKinds[i], s.Kind())
	}
	assert.Equal(t, []string{KeyDemographics, KeyDuration, KeySeverity, KeySymptoms}, result.Steps.Required())

	symptoms := result.Steps[4].(*domain.CategorizedCheckboxStep)
	assert.Subset(t, symptoms.AutoSelected, []string{"cough", "high_fever"})
	position := map[domain.Category]int{}
	for i, grp := range symptoms.Groups {
		position[grp.Category] = i
	}
	assert.Less(t, position[domain.CategoryRespiratory], position[domain.CategoryUrinary])
	assert.Less(t, position[domain.CategoryGeneral], position[domain.CategoryEyesEars])
	assert.True(t, symptoms.Offers("cough"))
	for _, id := range symptoms.Suggested {
		assert.NotContains(t, symptoms.AutoSelected, id)
	}

	areas := result.Steps[3].(*domain.CheckboxStep)
	assert.Contains(t, areas.Suggested, "Chest")

	preexisting := result.Steps[5].(*domain.CheckboxStep)
	assert.Equal(t, domain.NoneOption, preexisting.Exclusive)
}

func TestGenerate_ShapeIsContentIndependent(t *testing.T) {
	g, _ := newTestGenerator(t, nil)

	a, err := g.Generate(context.Background(), "itchy skin rash on my arms")
	require.NoError(t, err)
	b, err := g.Generate(context.Background(), "burning when urinating and dark urine")
	require.NoError(t, err)

	require.Len(t, b.Steps, len(a.Steps))
	for i := range a.Steps {
		assert.Equal(t, a.Steps[i].Kind(), b.Steps[i].Kind())
		assert.Equal(t, a.Steps[i].Header(), b.Steps[i].Header())
	}
}

func TestGenerate_ServiceScreening(t *testing.T) {
	screener := &stubScreener{
		available: true,
		verdict:   &domain.ScreenVerdict{Valid: true, Symptoms: []string{"chills", "unicorn_horn"}},
	}
	g, _ := newTestGenerator(t, screener)

	result, err := g.Generate(context.Background(), "I have a fever and feel awful")
	require.NoError(t, err)

	assert.True(t, result.Valid)
	assert.Equal(t, ScreenedByService, result.ScreenedBy)
	assert.Contains(t, result.Suggested, "high_fever")
	assert.Contains(t, result.Suggested, "chills")
	assert.NotContains(t, result.Suggested, "unicorn_horn")

	_, err = g.Generate(context.Background(), "I have a fever and feel awful")
	require.NoError(t, err)
	assert.Equal(t, 1, screener.calls)
	assert.Equal(t, int64(1), g.Stats().CacheHits)
}

func TestGenerate_ServiceRejectionGetsReason(t *testing.T) {
	screener := &stubScreener{available: true, verdict: &domain.ScreenVerdict{Valid: false}}
	g, cat := newTestGenerator(t, screener)

	result, err := g.Generate(context.Background(), "my cat has a cough")

	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, cat.Intake().Messages.NotHealth, result.Error)
	assert.Equal(t, ScreenedByService, result.ScreenedBy)
}

func TestGenerate_ServiceFailureFallsBack(t *testing.T) {
	screener := &stubScreener{available: true, err: errors.New("upstream 503")}
	g, _ := newTestGenerator(t, screener)

	result, err := g.Generate(context.Background(), "sore throat and runny nose")

	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, ScreenedByLocal, result.ScreenedBy)
	assert.Equal(t, int64(1), g.Stats().ServiceErrors)
}

func TestGenerate_UnavailableServiceIsNotCalled(t *testing.T) {
	screener := &stubScreener{available: false}
	g, _ := newTestGenerator(t, screener)

	result, err := g.Generate(context.Background(), "sore throat and runny nose")

	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Zero(t, screener.calls)
}

func TestStems(t *testing.T) {
	assert.Contains(t, stems("pains"), "pain")
	assert.Contains(t, stems("hurting"), "hurt")
	assert.Contains(t, stems("burned"), "burn")
	assert.Contains(t, stems("soreness"), "sore")
	assert.Equal(t, []string{"gas"}, stems("gas"))
}
