package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSteps() StepList {
	return StepList{
		&GroupRadioStep{
			StepHeader: StepHeader{Key: "demographics", Title: "About you", Required: true},
			Groups: []RadioGroup{
				{Key: "age", Label: "Age group", Options: []string{"18-25", "26-35"}},
				{Key: "gender", Label: "Gender", Options: []string{"Male", "Female"}},
			},
		},
		&RadioStep{
			StepHeader: StepHeader{Key: "duration", Title: "How long?", Required: true},
			Options:    []string{"1-3 days", "4-7 days"},
		},
		&DescribedRadioStep{
			StepHeader: StepHeader{Key: "severity", Title: "How severe?", Required: true},
			Options:    []DescribedOption{{Value: "Mild", Description: "Noticeable"}},
		},
		&CheckboxStep{
			StepHeader: StepHeader{Key: "preexisting", Title: "Conditions"},
			Options:    []string{"Diabetes", "Asthma", NoneOption},
			Exclusive:  NoneOption,
			AllowOther: true,
		},
		&CategorizedCheckboxStep{
			StepHeader: StepHeader{Key: "symptoms", Title: "Symptoms", Required: true},
			Groups: []SymptomGroup{{
				Category: CategoryRespiratory,
				Label:    CategoryRespiratory.Label(),
				Symptoms: []SymptomOption{{ID: "cough", Label: "Cough"}},
			}},
			AutoSelected: []string{"cough"},
		},
		&LifestyleStep{
			StepHeader: StepHeader{Key: "lifestyle", Title: "Lifestyle"},
			Factors:    []LifestyleFactor{{Key: "smoking", Label: "Smoking", Options: []string{"Never", "Daily"}}},
		},
	}
}

func TestStepList_JSONRoundTrip(t *testing.T) {
	steps := sampleSteps()

	// Act
	data, err := json.Marshal(steps)
	require.NoError(t, err)

	var decoded StepList
	err = json.Unmarshal(data, &decoded)

	// Assert
	require.NoError(t, err)
	require.Len(t, decoded, len(steps))
	for i := range steps {
		assert.Equal(t, steps[i].Kind(), decoded[i].Kind())
		assert.Equal(t, steps[i], decoded[i])
	}
	assert.Contains(t, string(data), `"type":"categorized-checkbox-set"`)
}

func TestDecodeStep_UnknownKind(t *testing.T) {
	_, err := DecodeStep([]byte(`{"type":"slider","key":"x"}`))

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownStepKind))
}

func TestStepList_FindAndRequired(t *testing.T) {
	steps := sampleSteps()

	s, ok := steps.Find("severity")
	require.True(t, ok)
	assert.Equal(t, StepDescribedRadio, s.Kind())

	_, ok = steps.Find("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"demographics", "duration", "severity", "symptoms"}, steps.Required())
}

func TestStepValidate(t *testing.T) {
	steps := sampleSteps()

	tests := []struct {
		name    string
		key     string
		answer  Answer
		wantErr bool
	}{
		{"group radio complete", "demographics", MapAnswer(map[string]string{"age": "18-25", "gender": "Male"}), false},
		{"group radio missing group", "demographics", MapAnswer(map[string]string{"age": "18-25"}), true},
		{"group radio wrong shape", "demographics", ScalarAnswer("18-25"), true},
		{"radio offered", "duration", ScalarAnswer("1-3 days"), false},
		{"radio not offered", "duration", ScalarAnswer("forever"), true},
		{"described radio offered", "severity", ScalarAnswer("Mild"), false},
		{"checkbox offered", "preexisting", ListAnswer("Asthma"), false},
		{"checkbox unknown", "preexisting", ListAnswer("Gout"), true},
		{"symptom offered", "symptoms", ListAnswer("cough"), false},
		{"symptom not offered", "symptoms", ListAnswer("rash"), true},
		{"lifestyle partial", "lifestyle", MapAnswer(map[string]string{"smoking": "Never"}), false},
		{"lifestyle unknown factor", "lifestyle", MapAnswer(map[string]string{"diet": "Poor"}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step, ok := steps.Find(tt.key)
			require.True(t, ok)

			err := step.Validate(tt.answer)

			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAnswer)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckboxStep_NormalizeExclusiveNone(t *testing.T) {
	step := &CheckboxStep{Options: []string{"Diabetes", "Asthma", NoneOption}, Exclusive: NoneOption}

	tests := []struct {
		name   string
		values []string
		want   []string
	}{
		{"none alone kept", []string{NoneOption}, []string{NoneOption}},
		{"none dropped with others", []string{NoneOption, "Asthma"}, []string{"Asthma"}},
		{"duplicates removed", []string{"Asthma", "Asthma", "Diabetes"}, []string{"Asthma", "Diabetes"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := step.Normalize(ListAnswer(tt.values...))

			assert.Equal(t, tt.want, got.Values)
		})
	}
}
