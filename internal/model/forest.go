package model

import (
	"context"

	"github.com/symptom-intake-server/internal/domain"
)

// Forest is a tree ensemble. Each tree routes the input to a leaf; the leaf class
// distributions of the voting trees are averaged.
type Forest struct {
	binding
	trees []Tree
}

func (f *Forest) Name() string                { return f.name }
func (f *Forest) Kind() Kind                  { return KindForest }
func (f *Forest) ValidationAccuracy() float64 { return f.accuracy }

// Score averages leaf distributions. Abstaining leaves do not vote; when every tree
// abstains the result is uniform.
func (f *Forest) Score(ctx context.Context, vec domain.FeatureVector) ([]float64, error) {
	x, err := f.input(vec)
	if err != nil {
		return nil, err
	}

	sum := make([]float64, f.labels)
	votes := 0
	for i, t := range f.trees {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		dist := t.route(x)
		if len(dist) == 0 {
			continue
		}
		for k, p := range dist {
			sum[k] += p
		}
		votes++
	}

	if votes == 0 {
		return uniform(f.labels), nil
	}
	return normalize(sum), nil
}

func (t Tree) route(x []float64) []float64 {
	n := t.Nodes[0]
	for !n.IsLeaf() {
		if x[n.Feature] <= n.Threshold {
			n = t.Nodes[n.Left]
		} else {
			n = t.Nodes[n.Right]
		}
	}
	return n.Distribution
}

func uniform(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1 / float64(n)
	}
	return out
}

// normalize scales v to sum to 1 in place. A zero vector becomes uniform.
func normalize(v []float64) []float64 {
	total := 0.0
	for _, p := range v {
		total += p
	}
	if total <= 0 {
		return uniform(len(v))
	}
	for i := range v {
		v[i] /= total
	}
	return v
}
