package model

import (
	"context"
	"math"

	"github.com/symptom-intake-server/internal/domain"
)

// Margin is a one-vs-rest linear classifier. Per-class margins go through a scaled softmax
// so its output is comparable with the forest's distribution.
type Margin struct {
	binding
	params MarginParams
}

func (m *Margin) Name() string                { return m.name }
func (m *Margin) Kind() Kind                  { return KindMargin }
func (m *Margin) ValidationAccuracy() float64 { return m.accuracy }

func (m *Margin) Score(ctx context.Context, vec domain.FeatureVector) ([]float64, error) {
	x, err := m.input(vec)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	margins := make([]float64, m.labels)
	for k, row := range m.params.Weights {
		s := m.params.Bias[k]
		for j, w := range row {
			s += w * x[j]
		}
		margins[k] = s * m.params.Scale
	}
	return softmax(margins), nil
}

func softmax(z []float64) []float64 {
	maxZ := math.Inf(-1)
	for _, v := range z {
		maxZ = math.Max(maxZ, v)
	}
	out := make([]float64, len(z))
	for i, v := range z {
		out[i] = math.Exp(v - maxZ)
	}
	return normalize(out)
}
