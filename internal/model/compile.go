package model

import (
	"context"
	"fmt"
	"math"

	"github.com/symptom-intake-server/internal/catalog"
	"github.com/symptom-intake-server/internal/domain"
)

// CompiledVersion tags artifacts derived from catalog profiles.
const CompiledVersion = "profiles-1"

const (
	// marginScale sharpens the softmax over profile-match margins.
	marginScale = 4.0
	// marginPenalty weighs a present symptom outside a disease's profile.
	marginPenalty = 0.1
)

// Compile derives an artifact of the given kind from the catalog's disease profiles. The
// result depends only on the catalog, so repeated compiles are identical. Validation accuracy
// is measured on the profile prototypes.
func Compile(kind Kind, cat *catalog.Catalog) (*Artifact, error) {
	a := &Artifact{
		Kind:     kind,
		Name:     string(kind),
		Version:  CompiledVersion,
		Labels:   cat.DiseaseIDs(),
		Features: cat.SymptomIDs(),
	}

	carriers := carriersBySymptom(cat)
	switch kind {
	case KindForest:
		a.Forest = compileForest(cat, carriers)
	case KindMargin:
		a.Margin = compileMargin(cat, carriers)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrCorruptArtifact, kind)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}

	c, err := New(a, cat)
	if err != nil {
		return nil, err
	}
	acc, err := Evaluate(context.Background(), c, cat)
	if err != nil {
		return nil, err
	}
	a.ValidationAccuracy = acc
	return a, nil
}

// carriersBySymptom lists, per symptom position, the disease indexes whose profile has it.
func carriersBySymptom(cat *catalog.Catalog) [][]int {
	out := make([][]int, cat.Len())
	for d, disease := range cat.Diseases() {
		for _, id := range cat.Profile(disease.ID) {
			if s, ok := cat.SymptomIndex(id); ok {
				out[s] = append(out[s], d)
			}
		}
	}
	return out
}

// compileForest grows one tree per symptom. A tree abstains when its symptom is absent.
// Otherwise it checks the co-occurring symptom that best divides the symptom's carriers:
// when that one is present too the tree votes for the shared carriers only, otherwise for all
// carriers.
func compileForest(cat *catalog.Catalog, carriers [][]int) *ForestParams {
	labels := len(cat.Diseases())
	params := &ForestParams{}

	for s, ds := range carriers {
		if len(ds) == 0 {
			continue
		}
		abstain := Node{Feature: -1}
		present := Node{Feature: -1, Distribution: spread(labels, ds)}

		second, with := bestSplit(s, ds, carriers)
		if second < 0 {
			params.Trees = append(params.Trees, Tree{Nodes: []Node{
				{Feature: s, Threshold: 0.5, Left: 1, Right: 2},
				abstain,
				present,
			}})
			continue
		}
		params.Trees = append(params.Trees, Tree{Nodes: []Node{
			{Feature: s, Threshold: 0.5, Left: 1, Right: 2},
			abstain,
			{Feature: second, Threshold: 0.5, Left: 3, Right: 4},
			present,
			{Feature: -1, Distribution: spread(labels, with)},
		}})
	}
	return params
}

// bestSplit picks the symptom other than s whose carriers overlap ds the most without
// covering all of it. Ties go to the lower symptom position.
func bestSplit(s int, ds []int, carriers [][]int) (int, []int) {
	member := make(map[int]bool, len(ds))
	for _, d := range ds {
		member[d] = true
	}

	best, bestOverlap := -1, 0
	for t, dt := range carriers {
		if t == s {
			continue
		}
		overlap := 0
		for _, d := range dt {
			if member[d] {
				overlap++
			}
		}
		if overlap > bestOverlap && overlap < len(ds) {
			best, bestOverlap = t, overlap
		}
	}
	if best < 0 {
		return -1, nil
	}

	inBest := make(map[int]bool, len(carriers[best]))
	for _, d := range carriers[best] {
		inBest[d] = true
	}
	var with []int
	for _, d := range ds {
		if inBest[d] {
			with = append(with, d)
		}
	}
	return best, with
}

func spread(labels int, ds []int) []float64 {
	dist := make([]float64, labels)
	for _, d := range ds {
		dist[d] = 1 / float64(len(ds))
	}
	return dist
}

// compileMargin weights each profile symptom by its inverse carrier frequency. Rows are divided
// by the square root of their L2 norm.
func compileMargin(cat *catalog.Catalog, carriers [][]int) *MarginParams {
	diseases := cat.Diseases()
	idf := make([]float64, len(carriers))
	for s, ds := range carriers {
		idf[s] = math.Log(1 + float64(len(diseases))/float64(max(len(ds), 1)))
	}

	params := &MarginParams{
		Weights: make([][]float64, len(diseases)),
		Bias:    make([]float64, len(diseases)),
		Scale:   marginScale,
	}
	for d, disease := range diseases {
		inProfile := make(map[int]bool)
		norm := 0.0
		for _, id := range cat.Profile(disease.ID) {
			if s, ok := cat.SymptomIndex(id); ok {
				inProfile[s] = true
				norm += idf[s] * idf[s]
			}
		}
		norm = math.Sqrt(math.Sqrt(norm))
		if norm == 0 {
			norm = 1
		}

		row := make([]float64, len(carriers))
		for s := range row {
			if inProfile[s] {
				row[s] = idf[s] / norm
			} else {
				row[s] = -marginPenalty * idf[s] / norm
			}
		}
		params.Weights[d] = row
	}
	return params
}

// Evaluate measures top-1 accuracy on profile prototypes: each disease's full profile and
// every profile with one symptom left out.
func Evaluate(ctx context.Context, c Classifier, cat *catalog.Catalog) (float64, error) {
	correct, total := 0, 0
	for d, disease := range cat.Diseases() {
		profile := cat.Profile(disease.ID)
		cases := [][]string{profile}
		if len(profile) > 1 {
			for skip := range profile {
				variant := make([]string, 0, len(profile)-1)
				variant = append(variant, profile[:skip]...)
				variant = append(variant, profile[skip+1:]...)
				cases = append(cases, variant)
			}
		}

		for _, ids := range cases {
			vec := domain.FeatureVector{Symptoms: make([]float64, cat.Len())}
			for _, id := range ids {
				if s, ok := cat.SymptomIndex(id); ok {
					vec.Symptoms[s] = 1
				}
			}
			scores, err := c.Score(ctx, vec)
			if err != nil {
				return 0, err
			}
			if argmax(scores) == d {
				correct++
			}
			total++
		}
	}
	if total == 0 {
		return 0, nil
	}
	return float64(correct) / float64(total), nil
}

// argmax returns the first index holding the maximum.
func argmax(v []float64) int {
	best := 0
	for i, x := range v {
		if x > v[best] {
			best = i
		}
	}
	return best
}
