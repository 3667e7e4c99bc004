package model

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/symptom-intake-server/internal/catalog"
	"github.com/symptom-intake-server/internal/domain"
)

// Classifier scores a feature vector over the full label space. Scores are indexed by disease
// index, are non-negative and sum to 1.
type Classifier interface {
	Name() string
	Kind() Kind
	ValidationAccuracy() float64
	Score(ctx context.Context, vec domain.FeatureVector) ([]float64, error)
}

// binding maps artifact feature positions onto catalog symptom positions.
type binding struct {
	name     string
	accuracy float64
	labels   int
	features []int
	symptoms int
}

func bind(a *Artifact, cat *catalog.Catalog) (binding, error) {
	ids := cat.DiseaseIDs()
	if len(a.Labels) != len(ids) {
		return binding{}, fmt.Errorf("%w: %s has %d labels, catalog has %d", ErrLabelSpaceMismatch, a.Name, len(a.Labels), len(ids))
	}
	for i, label := range a.Labels {
		if label != ids[i] {
			return binding{}, fmt.Errorf("%w: %s label %d is %q, catalog has %q", ErrLabelSpaceMismatch, a.Name, i, label, ids[i])
		}
	}

	features := make([]int, len(a.Features))
	for i, id := range a.Features {
		pos, ok := cat.SymptomIndex(id)
		if !ok {
			return binding{}, fmt.Errorf("%w: %s feature %q", ErrFeatureSpaceMismatch, a.Name, id)
		}
		features[i] = pos
	}

	name := a.Name
	if name == "" {
		name = string(a.Kind)
	}
	return binding{
		name:     name,
		accuracy: a.ValidationAccuracy,
		labels:   len(ids),
		features: features,
		symptoms: cat.Len(),
	}, nil
}

func (b binding) input(vec domain.FeatureVector) ([]float64, error) {
	if len(vec.Symptoms) != b.symptoms {
		return nil, fmt.Errorf("feature vector has %d symptom positions, want %d", len(vec.Symptoms), b.symptoms)
	}
	x := make([]float64, len(b.features))
	for i, pos := range b.features {
		x[i] = vec.Symptoms[pos]
	}
	return x, nil
}

// New builds a classifier from a validated artifact, checking it against the catalog.
func New(a *Artifact, cat *catalog.Catalog) (Classifier, error) {
	b, err := bind(a, cat)
	if err != nil {
		return nil, err
	}
	switch a.Kind {
	case KindForest:
		return &Forest{binding: b, trees: a.Forest.Trees}, nil
	case KindMargin:
		return &Margin{binding: b, params: *a.Margin}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrCorruptArtifact, a.Kind)
	}
}

// Open loads the artifact at path. An empty path selects the artifact compiled from the catalog
// profiles. A missing or corrupt file leaves the classifier unavailable: Open returns nil and
// no error, and logs the cause. A label-space mismatch is a configuration error and is returned.
func Open(path string, kind Kind, cat *catalog.Catalog, logger *logrus.Logger) (Classifier, error) {
	var (
		a   *Artifact
		err error
	)
	if path == "" {
		a, err = Compile(kind, cat)
		if err != nil {
			return nil, fmt.Errorf("compiling %s: %w", kind, err)
		}
	} else {
		a, err = LoadArtifact(path)
		if err != nil {
			fields := logrus.Fields{"path": path, "kind": kind, "error": err.Error()}
			if errors.Is(err, os.ErrNotExist) {
				logger.WithFields(fields).Error("Classifier artifact missing; classifier unavailable")
			} else {
				logger.WithFields(fields).Error("Classifier artifact unreadable; classifier unavailable")
			}
			return nil, nil
		}
		if a.Kind != kind {
			return nil, fmt.Errorf("%w: %s holds a %s artifact, want %s", ErrCorruptArtifact, path, a.Kind, kind)
		}
	}

	c, err := New(a, cat)
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"classifier":          c.Name(),
		"kind":                kind,
		"validation_accuracy": c.ValidationAccuracy(),
		"compiled":            path == "",
	}).Info("Classifier loaded")
	return c, nil
}
