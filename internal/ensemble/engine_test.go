package ensemble

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symptom-intake-server/internal/catalog"
	"github.com/symptom-intake-server/internal/domain"
	"github.com/symptom-intake-server/internal/model"
)

type fixedClassifier struct {
	name     string
	accuracy float64
	scores   map[int]float64
	err      error
	labels   int
}

func (f *fixedClassifier) Name() string                { return f.name }
func (f *fixedClassifier) Kind() model.Kind            { return model.Kind(f.name) }
func (f *fixedClassifier) ValidationAccuracy() float64 { return f.accuracy }

func (f *fixedClassifier) Score(ctx context.Context, vec domain.FeatureVector) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]float64, f.labels)
	for d, s := range f.scores {
		out[d] = s
	}
	return out, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testVector(cat *catalog.Catalog) domain.FeatureVector {
	vec := domain.FeatureVector{Symptoms: make([]float64, cat.Len())}
	vec.Symptoms[0] = 1
	return vec
}

func newFixed(cat *catalog.Catalog, name string, accuracy float64, scores map[int]float64) *fixedClassifier {
	return &fixedClassifier{name: name, accuracy: accuracy, scores: scores, labels: len(cat.Diseases())}
}

func rankedIndexes(r *domain.DiagnosisResult) []int {
	out := make([]int, len(r.Ranked))
	for i, d := range r.Ranked {
		out[i] = d.Disease.Index
	}
	return out
}

func TestPredict_WeightedAverage(t *testing.T) {
	cat := catalog.MustLoad()
	forest := newFixed(cat, "forest", 0.9, map[int]float64{0: 0.6, 1: 0.4})
	margin := newFixed(cat, "margin", 0.8, map[int]float64{1: 0.8, 2: 0.2})
	engine := NewEngine(cat, []Member{{"forest", forest}, {"margin", margin}}, Config{}, quietLogger())

	// Act
	result, err := engine.Predict(context.Background(), testVector(cat))

	// Assert
	require.NoError(t, err)
	require.Len(t, result.Ranked, len(cat.Diseases()))
	primary, ok := result.Primary()
	require.True(t, ok)
	assert.Equal(t, 1, primary.Disease.Index)
	assert.InDelta(t, 0.6, primary.Confidence, 1e-12)
	assert.Equal(t, domain.ConfidenceHigh, primary.Level)
	assert.Equal(t, map[string]float64{"forest": 0.4, "margin": 0.8}, primary.Votes)
	assert.Equal(t, domain.SourceEnsembleOnly, result.Source)
	assert.Empty(t, result.Degraded)
	assert.Equal(t, []int{1, 0, 2}, rankedIndexes(result)[:3])
	assert.Equal(t, 3, result.TopK)
	assert.NoError(t, result.CheckOrder())

	total := 0.0
	for i, d := range result.Ranked {
		assert.Equal(t, i+1, d.EnsembleRank)
		total += d.Confidence
	}
	assert.InDelta(t, 1.0, total, 1e-9)
}

func TestPredict_ConfiguredWeights(t *testing.T) {
	cat := catalog.MustLoad()
	forest := newFixed(cat, "forest", 0.9, map[int]float64{0: 1})
	margin := newFixed(cat, "margin", 0.8, map[int]float64{1: 1})
	engine := NewEngine(cat, []Member{{"forest", forest}, {"margin", margin}},
		Config{Weights: map[string]float64{"forest": 0.25, "margin": 0.75}}, quietLogger())

	result, err := engine.Predict(context.Background(), testVector(cat))

	require.NoError(t, err)
	assert.Equal(t, 1, result.Ranked[0].Disease.Index)
	assert.InDelta(t, 0.75, result.Ranked[0].Confidence, 1e-12)
}

func TestPredict_TieBreaking(t *testing.T) {
	cat := catalog.MustLoad()

	t.Run("priority classifier decides", func(t *testing.T) {
		forest := newFixed(cat, "forest", 0.95, map[int]float64{3: 0.3, 4: 0.2, 5: 0.5})
		margin := newFixed(cat, "margin", 0.80, map[int]float64{3: 0.2, 4: 0.3, 5: 0.5})
		engine := NewEngine(cat, []Member{{"forest", forest}, {"margin", margin}}, Config{}, quietLogger())

		result, err := engine.Predict(context.Background(), testVector(cat))

		require.NoError(t, err)
		assert.Equal(t, []int{5, 3, 4}, rankedIndexes(result)[:3], "forest has higher accuracy")
	})

	t.Run("configured priority overrides accuracy", func(t *testing.T) {
		forest := newFixed(cat, "forest", 0.95, map[int]float64{3: 0.3, 4: 0.2, 5: 0.5})
		margin := newFixed(cat, "margin", 0.80, map[int]float64{3: 0.2, 4: 0.3, 5: 0.5})
		engine := NewEngine(cat, []Member{{"forest", forest}, {"margin", margin}},
			Config{Priority: "margin"}, quietLogger())

		result, err := engine.Predict(context.Background(), testVector(cat))

		require.NoError(t, err)
		assert.Equal(t, []int{5, 4, 3}, rankedIndexes(result)[:3])
	})

	t.Run("full tie falls back to index order", func(t *testing.T) {
		forest := newFixed(cat, "forest", 0.9, map[int]float64{7: 0.5, 2: 0.5})
		margin := newFixed(cat, "margin", 0.9, map[int]float64{7: 0.5, 2: 0.5})
		engine := NewEngine(cat, []Member{{"forest", forest}, {"margin", margin}}, Config{}, quietLogger())

		result, err := engine.Predict(context.Background(), testVector(cat))

		require.NoError(t, err)
		assert.Equal(t, []int{2, 7, 0, 1}, rankedIndexes(result)[:4])
	})
}

func TestPredict_IsDeterministic(t *testing.T) {
	cat := catalog.MustLoad()
	forest, err := model.Open("", model.KindForest, cat, quietLogger())
	require.NoError(t, err)
	margin, err := model.Open("", model.KindMargin, cat, quietLogger())
	require.NoError(t, err)
	engine := NewEngine(cat, []Member{{"forest", forest}, {"margin", margin}}, Config{}, quietLogger())

	vec := domain.FeatureVector{Symptoms: make([]float64, cat.Len())}
	for _, id := range []string{"cough", "high_fever", "chills"} {
		i, _ := cat.SymptomIndex(id)
		vec.Symptoms[i] = 1
	}

	first, err := engine.Predict(context.Background(), vec)
	require.NoError(t, err)
	for range 5 {
		again, err := engine.Predict(context.Background(), vec)
		require.NoError(t, err)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("ranking changed between runs (-first +again):\n%s", diff)
		}
	}
}

func TestPredict_PartialFailure(t *testing.T) {
	cat := catalog.MustLoad()
	margin := newFixed(cat, "margin", 0.8, map[int]float64{4: 0.7, 6: 0.3})

	t.Run("missing classifier", func(t *testing.T) {
		engine := NewEngine(cat, []Member{{"forest", nil}, {"margin", margin}}, Config{}, quietLogger())

		result, err := engine.Predict(context.Background(), testVector(cat))

		require.NoError(t, err)
		assert.Equal(t, []string{"forest"}, result.Degraded)
		assert.InDelta(t, 0.7, result.Ranked[0].Confidence, 1e-12, "survivor weight renormalized to 1")
		assert.Equal(t, []string{"margin"}, engine.Available())
	})

	t.Run("erroring classifier", func(t *testing.T) {
		forest := newFixed(cat, "forest", 0.9, nil)
		forest.err = errors.New("tree exploded")
		engine := NewEngine(cat, []Member{{"forest", forest}, {"margin", margin}}, Config{}, quietLogger())

		result, err := engine.Predict(context.Background(), testVector(cat))

		require.NoError(t, err)
		assert.Equal(t, []string{"forest"}, result.Degraded)
		assert.Equal(t, 4, result.Ranked[0].Disease.Index)
	})

	t.Run("invalid vote counts as failure", func(t *testing.T) {
		forest := newFixed(cat, "forest", 0.9, map[int]float64{0: -1})
		engine := NewEngine(cat, []Member{{"forest", forest}, {"margin", margin}}, Config{}, quietLogger())

		result, err := engine.Predict(context.Background(), testVector(cat))

		require.NoError(t, err)
		assert.Equal(t, []string{"forest"}, result.Degraded)
	})

	t.Run("both missing", func(t *testing.T) {
		engine := NewEngine(cat, []Member{{"forest", nil}, {"margin", nil}}, Config{}, quietLogger())

		_, err := engine.Predict(context.Background(), testVector(cat))

		assert.ErrorIs(t, err, domain.ErrNoClassifiers)
	})
}

func TestPredict_DifferentialFloor(t *testing.T) {
	cat := catalog.MustLoad()
	forest := newFixed(cat, "forest", 0.9, map[int]float64{0: 0.995, 1: 0.005})
	engine := NewEngine(cat, []Member{{"forest", forest}}, Config{}, quietLogger())

	result, err := engine.Predict(context.Background(), testVector(cat))

	require.NoError(t, err)
	assert.Equal(t, 1, result.TopK)
	assert.Len(t, result.Candidates(), 1)
	assert.Len(t, result.Ranked, len(cat.Diseases()), "ranking stays complete")
}

func TestStatus(t *testing.T) {
	cat := catalog.MustLoad()
	forest := newFixed(cat, "forest", 0.9, map[int]float64{0: 1})
	engine := NewEngine(cat, []Member{{"forest", forest}, {"margin", nil}}, Config{}, quietLogger())

	status := engine.Status()

	require.Len(t, status, 2)
	assert.True(t, status[0].Loaded)
	assert.True(t, status[0].Priority)
	assert.Equal(t, 0.9, status[0].ValidationAccuracy)
	assert.False(t, status[1].Loaded)
	assert.Equal(t, 0.5, status[1].Weight)
}
