// Package model loads and evaluates the two trained diagnosis classifiers: a tree ensemble
// that averages leaf class distributions, and a margin-based linear classifier with a softmax
// output. Both are read from JSON artifacts and scored against the catalog's label space.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Kind identifies the classifier family of an artifact.
type Kind string

const (
	KindForest Kind = "forest"
	KindMargin Kind = "margin"
)

var (
	// ErrLabelSpaceMismatch means an artifact's labels differ from the catalog's disease list.
	ErrLabelSpaceMismatch = errors.New("classifier label space does not match catalog")
	// ErrFeatureSpaceMismatch means an artifact names a feature the catalog does not have.
	ErrFeatureSpaceMismatch = errors.New("classifier feature unknown to catalog")
	// ErrCorruptArtifact means the artifact is structurally invalid.
	ErrCorruptArtifact = errors.New("corrupt classifier artifact")
)

// Artifact is the serialized form of a trained classifier.
type Artifact struct {
	Kind      Kind      `json:"kind"`
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	// Labels are disease IDs in output order.
	Labels []string `json:"labels"`
	// Features are symptom IDs in input order.
	Features           []string      `json:"features"`
	ValidationAccuracy float64       `json:"validation_accuracy"`
	Forest             *ForestParams `json:"forest,omitempty"`
	Margin             *MarginParams `json:"margin,omitempty"`
}

// ForestParams holds the trees of a tree-ensemble artifact.
type ForestParams struct {
	Trees []Tree `json:"trees"`
}

// Tree is a binary decision tree stored as a node array; node 0 is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Node is a split when Feature >= 0 and a leaf otherwise. Values at or below Threshold go
// Left. A leaf with no Distribution abstains from the vote.
type Node struct {
	Feature      int       `json:"feature"`
	Threshold    float64   `json:"threshold,omitempty"`
	Left         int       `json:"left,omitempty"`
	Right        int       `json:"right,omitempty"`
	Distribution []float64 `json:"distribution,omitempty"`
}

// IsLeaf reports whether the node terminates a path.
func (n Node) IsLeaf() bool { return n.Feature < 0 }

// MarginParams holds one-vs-rest linear weights; Scale sharpens the softmax.
type MarginParams struct {
	Weights [][]float64 `json:"weights"`
	Bias    []float64   `json:"bias"`
	Scale   float64     `json:"scale"`
}

// LoadArtifact reads and validates an artifact file.
func LoadArtifact(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening artifact: %w", err)
	}
	defer f.Close()
	return DecodeArtifact(f)
}

// DecodeArtifact parses and validates an artifact.
func DecodeArtifact(r io.Reader) (*Artifact, error) {
	var a Artifact
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Encode writes the artifact as indented JSON.
func (a *Artifact) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(a)
}

// Save writes the artifact to path.
func (a *Artifact) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating artifact: %w", err)
	}
	if err := a.Encode(f); err != nil {
		f.Close()
		return fmt.Errorf("writing artifact: %w", err)
	}
	return f.Close()
}

// Validate checks the structural invariants of the artifact.
func (a *Artifact) Validate() error {
	if len(a.Labels) == 0 {
		return fmt.Errorf("%w: no labels", ErrCorruptArtifact)
	}
	if len(a.Features) == 0 {
		return fmt.Errorf("%w: no features", ErrCorruptArtifact)
	}
	if a.ValidationAccuracy < 0 || a.ValidationAccuracy > 1 {
		return fmt.Errorf("%w: validation accuracy %v out of range", ErrCorruptArtifact, a.ValidationAccuracy)
	}

	switch a.Kind {
	case KindForest:
		if a.Forest == nil || len(a.Forest.Trees) == 0 {
			return fmt.Errorf("%w: forest without trees", ErrCorruptArtifact)
		}
		for i, t := range a.Forest.Trees {
			if err := t.validate(len(a.Features), len(a.Labels)); err != nil {
				return fmt.Errorf("%w: tree %d: %v", ErrCorruptArtifact, i, err)
			}
		}
	case KindMargin:
		m := a.Margin
		if m == nil {
			return fmt.Errorf("%w: margin parameters missing", ErrCorruptArtifact)
		}
		if len(m.Weights) != len(a.Labels) || len(m.Bias) != len(a.Labels) {
			return fmt.Errorf("%w: weight rows %d, bias %d, labels %d", ErrCorruptArtifact, len(m.Weights), len(m.Bias), len(a.Labels))
		}
		for i, row := range m.Weights {
			if len(row) != len(a.Features) {
				return fmt.Errorf("%w: weight row %d has %d columns, want %d", ErrCorruptArtifact, i, len(row), len(a.Features))
			}
		}
		if m.Scale <= 0 {
			return fmt.Errorf("%w: scale must be positive", ErrCorruptArtifact)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrCorruptArtifact, a.Kind)
	}
	return nil
}

// validate requires children to follow their parent, which rules out cycles.
func (t Tree) validate(features, labels int) error {
	if len(t.Nodes) == 0 {
		return errors.New("empty tree")
	}
	for i, n := range t.Nodes {
		if n.IsLeaf() {
			if len(n.Distribution) != 0 && len(n.Distribution) != labels {
				return fmt.Errorf("node %d: distribution has %d entries, want %d", i, len(n.Distribution), labels)
			}
			for _, p := range n.Distribution {
				if p < 0 {
					return fmt.Errorf("node %d: negative probability", i)
				}
			}
			continue
		}
		if n.Feature >= features {
			return fmt.Errorf("node %d: feature %d out of range", i, n.Feature)
		}
		if n.Left <= i || n.Right <= i || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d: invalid children %d/%d", i, n.Left, n.Right)
		}
	}
	return nil
}
