package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// AnswerShape identifies which field of an Answer carries the value.
type AnswerShape int

const (
	ShapeScalar AnswerShape = iota
	ShapeList
	ShapeMap
)

func (s AnswerShape) String() string {
	switch s {
	case ShapeScalar:
		return "scalar"
	case ShapeList:
		return "list"
	case ShapeMap:
		return "per-category"
	default:
		return "unknown"
	}
}

// Answer is one recorded response. Its JSON form is the natural value:
// a string, an array of strings, or an object of strings.
type Answer struct {
	Shape       AnswerShape
	Scalar      string
	Values      []string
	PerCategory map[string]string
}

// ScalarAnswer builds a single-choice answer.
func ScalarAnswer(v string) Answer { return Answer{Shape: ShapeScalar, Scalar: v} }

// ListAnswer builds a multiple-choice answer.
func ListAnswer(values ...string) Answer {
	if values == nil {
		values = []string{}
	}
	return Answer{Shape: ShapeList, Values: values}
}

// MapAnswer builds a per-category answer.
func MapAnswer(m map[string]string) Answer {
	if m == nil {
		m = map[string]string{}
	}
	return Answer{Shape: ShapeMap, PerCategory: m}
}

// Clone returns a deep copy.
func (a Answer) Clone() Answer {
	out := Answer{Shape: a.Shape, Scalar: a.Scalar}
	if a.Values != nil {
		out.Values = append([]string(nil), a.Values...)
	}
	if a.PerCategory != nil {
		out.PerCategory = make(map[string]string, len(a.PerCategory))
		for k, v := range a.PerCategory {
			out.PerCategory[k] = v
		}
	}
	return out
}

// MarshalJSON encodes the answer as its natural JSON value.
func (a Answer) MarshalJSON() ([]byte, error) {
	switch a.Shape {
	case ShapeList:
		if a.Values == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(a.Values)
	case ShapeMap:
		if a.PerCategory == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(a.PerCategory)
	default:
		return json.Marshal(a.Scalar)
	}
}

// UnmarshalJSON detects the answer shape from the JSON value.
func (a *Answer) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("%w: empty value", ErrInvalidAnswer)
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*a = ScalarAnswer(s)
	case '[':
		var vs []string
		if err := json.Unmarshal(trimmed, &vs); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAnswer, err)
		}
		*a = ListAnswer(vs...)
	case '{':
		var m map[string]string
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAnswer, err)
		}
		*a = MapAnswer(m)
	default:
		return fmt.Errorf("%w: unsupported JSON value %s", ErrInvalidAnswer, trimmed)
	}
	return nil
}

// AnswerSet is everything collected during one interview. It is built by the
// session collector and read-only to every downstream stage.
type AnswerSet struct {
	SessionID string            `json:"session_id,omitempty"`
	Complaint string            `json:"complaint"`
	Answers   map[string]Answer `json:"answers"`
	// Other holds free-text "other" fields keyed by step key.
	Other map[string]string `json:"other,omitempty"`
	// Hints are the symptoms inferred from the complaint at intake.
	Hints []string `json:"hints,omitempty"`
	// Deselected are hint symptoms the user explicitly unchecked.
	Deselected []string `json:"deselected,omitempty"`
}

// Answer returns the answer recorded for a step key.
func (a *AnswerSet) Answer(key string) (Answer, bool) {
	if a == nil || a.Answers == nil {
		return Answer{}, false
	}
	v, ok := a.Answers[key]
	return v, ok
}

// IsDeselected reports whether a hint symptom was explicitly unchecked.
func (a *AnswerSet) IsDeselected(symptomID string) bool {
	for _, d := range a.Deselected {
		if d == symptomID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to another goroutine.
func (a *AnswerSet) Clone() *AnswerSet {
	out := &AnswerSet{
		SessionID:  a.SessionID,
		Complaint:  a.Complaint,
		Answers:    make(map[string]Answer, len(a.Answers)),
		Hints:      append([]string(nil), a.Hints...),
		Deselected: append([]string(nil), a.Deselected...),
	}
	for k, v := range a.Answers {
		out.Answers[k] = v.Clone()
	}
	if a.Other != nil {
		out.Other = make(map[string]string, len(a.Other))
		for k, v := range a.Other {
			out.Other[k] = v
		}
	}
	return out
}

// Fingerprint is a content hash identifying the answer set regardless of
// session, map ordering or list ordering.
func (a *AnswerSet) Fingerprint() string {
	canon := a.Clone()
	canon.SessionID = ""
	for k, v := range canon.Answers {
		if v.Shape == ShapeList {
			sort.Strings(v.Values)
			canon.Answers[k] = v
		}
	}
	sort.Strings(canon.Hints)
	sort.Strings(canon.Deselected)

	// encoding/json sorts map keys, which makes this canonical.
	b, _ := json.Marshal(canon)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
