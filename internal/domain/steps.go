package domain

import (
	"encoding/json"
	"fmt"
)

// StepKind is the discriminator of the StepSpec tagged variant.
type StepKind string

const (
	StepGroupRadio          StepKind = "single-group-radio-set"
	StepRadio               StepKind = "single-radio"
	StepDescribedRadio      StepKind = "described-radio"
	StepCheckbox            StepKind = "checkbox-set"
	StepCategorizedCheckbox StepKind = "categorized-checkbox-set"
	StepLifestyle           StepKind = "lifestyle"
)

// StepKinds is the closed step taxonomy.
var StepKinds = []StepKind{
	StepGroupRadio,
	StepRadio,
	StepDescribedRadio,
	StepCheckbox,
	StepCategorizedCheckbox,
	StepLifestyle,
}

// IsValid reports whether k is part of the taxonomy.
func (k StepKind) IsValid() bool {
	for _, known := range StepKinds {
		if k == known {
			return true
		}
	}
	return false
}

// NoneOption is the mutually exclusive choice offered by history checkbox steps.
const NoneOption = "None"

// StepSpec is one generated interview question. Implementations are the six
// variant types below; each carries only the payload its kind needs.
type StepSpec interface {
	Kind() StepKind
	Header() StepHeader
	// Validate checks that an answer has the shape and values this step accepts.
	Validate(answer Answer) error
	// Normalize applies the step's canonicalization rules to an accepted answer.
	Normalize(answer Answer) Answer
}

// StepHeader holds the attributes shared by every step variant.
type StepHeader struct {
	Key      string `json:"key"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle,omitempty"`
	Required bool   `json:"required"`
}

// Header returns the shared step attributes.
func (h StepHeader) Header() StepHeader { return h }

// RadioGroup is one independent single choice inside a GroupRadioStep.
type RadioGroup struct {
	Key     string   `json:"key"`
	Label   string   `json:"label"`
	Options []string `json:"options"`
}

// GroupRadioStep asks several single-choice questions on one screen (age group, gender).
// Answered with a per-group map.
type GroupRadioStep struct {
	StepHeader
	Groups []RadioGroup `json:"groups"`
}

func (s *GroupRadioStep) Kind() StepKind { return StepGroupRadio }

func (s *GroupRadioStep) Validate(answer Answer) error {
	if answer.Shape != ShapeMap {
		return shapeError(s.Key, ShapeMap, answer.Shape)
	}
	for _, g := range s.Groups {
		v, ok := answer.PerCategory[g.Key]
		if !ok {
			return NewValidationError(s.Key+"."+g.Key, "missing selection", nil)
		}
		if !contains(g.Options, v) {
			return NewValidationError(s.Key+"."+g.Key, "unknown option", v)
		}
	}
	for k := range answer.PerCategory {
		if s.group(k) == nil {
			return NewValidationError(s.Key+"."+k, "unknown group", k)
		}
	}
	return nil
}

func (s *GroupRadioStep) Normalize(answer Answer) Answer { return answer.Clone() }

func (s *GroupRadioStep) group(key string) *RadioGroup {
	for i := range s.Groups {
		if s.Groups[i].Key == key {
			return &s.Groups[i]
		}
	}
	return nil
}

// RadioStep is a plain single choice. Answered with a scalar.
type RadioStep struct {
	StepHeader
	Options []string `json:"options"`
}

func (s *RadioStep) Kind() StepKind { return StepRadio }

func (s *RadioStep) Validate(answer Answer) error {
	if answer.Shape != ShapeScalar {
		return shapeError(s.Key, ShapeScalar, answer.Shape)
	}
	if !contains(s.Options, answer.Scalar) {
		return NewValidationError(s.Key, "unknown option", answer.Scalar)
	}
	return nil
}

func (s *RadioStep) Normalize(answer Answer) Answer { return answer.Clone() }

// DescribedOption is a radio choice with an explanatory line.
type DescribedOption struct {
	Value       string `json:"value"`
	Description string `json:"description"`
}

// DescribedRadioStep is a single choice whose options carry descriptions (severity).
type DescribedRadioStep struct {
	StepHeader
	Options []DescribedOption `json:"options"`
}

func (s *DescribedRadioStep) Kind() StepKind { return StepDescribedRadio }

func (s *DescribedRadioStep) Validate(answer Answer) error {
	if answer.Shape != ShapeScalar {
		return shapeError(s.Key, ShapeScalar, answer.Shape)
	}
	for _, o := range s.Options {
		if o.Value == answer.Scalar {
			return nil
		}
	}
	return NewValidationError(s.Key, "unknown option", answer.Scalar)
}

func (s *DescribedRadioStep) Normalize(answer Answer) Answer { return answer.Clone() }

// CheckboxStep is a multiple choice over a flat option list.
type CheckboxStep struct {
	StepHeader
	Options []string `json:"options"`
	// Suggested options are highlighted, not pre-selected.
	Suggested []string `json:"suggested,omitempty"`
	// Exclusive, when set, must be the sole selected value if selected at all.
	Exclusive  string `json:"exclusive,omitempty"`
	AllowOther bool   `json:"allow_other,omitempty"`
}

func (s *CheckboxStep) Kind() StepKind { return StepCheckbox }

func (s *CheckboxStep) Validate(answer Answer) error {
	if answer.Shape != ShapeList {
		return shapeError(s.Key, ShapeList, answer.Shape)
	}
	for _, v := range answer.Values {
		if !contains(s.Options, v) {
			return NewValidationError(s.Key, "unknown option", v)
		}
	}
	return nil
}

// Normalize removes duplicates and enforces the exclusive option: selecting any
// other value removes it.
func (s *CheckboxStep) Normalize(answer Answer) Answer {
	out := answer.Clone()
	out.Values = dedupe(out.Values)
	if s.Exclusive != "" && len(out.Values) > 1 {
		kept := out.Values[:0]
		for _, v := range out.Values {
			if v != s.Exclusive {
				kept = append(kept, v)
			}
		}
		out.Values = kept
	}
	return out
}

// SymptomOption is one selectable catalog symptom.
type SymptomOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// SymptomGroup is one category block of a CategorizedCheckboxStep.
type SymptomGroup struct {
	Category Category        `json:"category"`
	Label    string          `json:"label"`
	Symptoms []SymptomOption `json:"symptoms"`
}

// CategorizedCheckboxStep offers catalog symptoms grouped by category.
// Answered with a list of symptom IDs.
type CategorizedCheckboxStep struct {
	StepHeader
	Groups []SymptomGroup `json:"groups"`
	// Suggested symptoms are highlighted as related to the complaint.
	Suggested []string `json:"suggested,omitempty"`
	// AutoSelected symptoms were inferred from the complaint text and start checked.
	AutoSelected []string `json:"auto_selected,omitempty"`
	AllowOther   bool     `json:"allow_other,omitempty"`
}

func (s *CategorizedCheckboxStep) Kind() StepKind { return StepCategorizedCheckbox }

func (s *CategorizedCheckboxStep) Validate(answer Answer) error {
	if answer.Shape != ShapeList {
		return shapeError(s.Key, ShapeList, answer.Shape)
	}
	for _, v := range answer.Values {
		if !s.Offers(v) {
			return NewValidationError(s.Key, "unknown symptom", v)
		}
	}
	return nil
}

func (s *CategorizedCheckboxStep) Normalize(answer Answer) Answer {
	out := answer.Clone()
	out.Values = dedupe(out.Values)
	return out
}

// Offers reports whether the symptom ID appears in any group.
func (s *CategorizedCheckboxStep) Offers(symptomID string) bool {
	for _, g := range s.Groups {
		for _, o := range g.Symptoms {
			if o.ID == symptomID {
				return true
			}
		}
	}
	return false
}

// LifestyleFactor is one single-choice row of the lifestyle step.
type LifestyleFactor struct {
	Key     string   `json:"key"`
	Label   string   `json:"label"`
	Options []string `json:"options"`
}

// LifestyleStep asks one choice per lifestyle factor. Answered with a per-factor map;
// unanswered factors are allowed.
type LifestyleStep struct {
	StepHeader
	Factors []LifestyleFactor `json:"factors"`
}

func (s *LifestyleStep) Kind() StepKind { return StepLifestyle }

func (s *LifestyleStep) Validate(answer Answer) error {
	if answer.Shape != ShapeMap {
		return shapeError(s.Key, ShapeMap, answer.Shape)
	}
	for k, v := range answer.PerCategory {
		f := s.factor(k)
		if f == nil {
			return NewValidationError(s.Key+"."+k, "unknown lifestyle factor", k)
		}
		if !contains(f.Options, v) {
			return NewValidationError(s.Key+"."+k, "unknown option", v)
		}
	}
	return nil
}

func (s *LifestyleStep) Normalize(answer Answer) Answer { return answer.Clone() }

func (s *LifestyleStep) factor(key string) *LifestyleFactor {
	for i := range s.Factors {
		if s.Factors[i].Key == key {
			return &s.Factors[i]
		}
	}
	return nil
}

// MarshalStep encodes a step with its "type" discriminator.
func MarshalStep(s StepSpec) ([]byte, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	kind, _ := json.Marshal(s.Kind())
	fields["type"] = kind
	return json.Marshal(fields)
}

// DecodeStep decodes one step, dispatching on its "type" discriminator.
func DecodeStep(data []byte) (StepSpec, error) {
	var probe struct {
		Type StepKind `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decoding step type: %w", err)
	}

	var step StepSpec
	switch probe.Type {
	case StepGroupRadio:
		step = &GroupRadioStep{}
	case StepRadio:
		step = &RadioStep{}
	case StepDescribedRadio:
		step = &DescribedRadioStep{}
	case StepCheckbox:
		step = &CheckboxStep{}
	case StepCategorizedCheckbox:
		step = &CategorizedCheckboxStep{}
	case StepLifestyle:
		step = &LifestyleStep{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStepKind, probe.Type)
	}

	if err := json.Unmarshal(data, step); err != nil {
		return nil, fmt.Errorf("decoding %s step: %w", probe.Type, err)
	}
	return step, nil
}

// StepList is an ordered step sequence with a discriminated JSON form.
type StepList []StepSpec

// MarshalJSON encodes every step with its discriminator.
func (l StepList) MarshalJSON() ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(l))
	for _, s := range l {
		b, err := MarshalStep(s)
		if err != nil {
			return nil, err
		}
		raw = append(raw, b)
	}
	return json.Marshal(raw)
}

// UnmarshalJSON decodes a discriminated step array.
func (l *StepList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(StepList, 0, len(raw))
	for i, r := range raw {
		s, err := DecodeStep(r)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		out = append(out, s)
	}
	*l = out
	return nil
}

// Find returns the step with the given key.
func (l StepList) Find(key string) (StepSpec, bool) {
	for _, s := range l {
		if s.Header().Key == key {
			return s, true
		}
	}
	return nil, false
}

// Required returns the keys of steps that must be answered before analysis.
func (l StepList) Required() []string {
	var keys []string
	for _, s := range l {
		if h := s.Header(); h.Required {
			keys = append(keys, h.Key)
		}
	}
	return keys
}

func shapeError(key string, want, got AnswerShape) error {
	return NewValidationError(key, fmt.Sprintf("expected %s answer, got %s", want, got), nil)
}

func contains(options []string, v string) bool {
	for _, o := range options {
		if o == v {
			return true
		}
	}
	return false
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
