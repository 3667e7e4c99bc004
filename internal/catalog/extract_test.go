package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractSymptoms(t *testing.T) {
	c := loadTestCatalog(t)

	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "aliases and labels",
			text: "Persistent cough and fever for 3 days, body aches",
			want: []string{"cough", "high_fever", "muscle_pain"},
		},
		{
			name: "longest phrase wins",
			text: "I woke up with a stiff neck",
			want: []string{"stiff_neck"},
		},
		{
			name: "misspelling matched approximately",
			text: "constant vomitting since morning",
			want: []string{"vomiting"},
		},
		{
			name: "snake case ids accepted",
			text: "skin_rash and joint_pain",
			want: []string{"skin_rash", "joint_pain"},
		},
		{
			name: "duplicates collapsed",
			text: "headache, bad headache",
			want: []string{"headache"},
		},
		{
			name: "nothing medical",
			text: "what is the weather like today",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.ExtractSymptoms(tt.text)

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"sore", "throat", "3", "days"}, tokenize("Sore-throat, 3 days!"))
	assert.Empty(t, tokenize("  ...  "))
}
