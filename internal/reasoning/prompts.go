package reasoning

import (
	"github.com/symptom-intake-server/internal/llm"
)

const screenSystem = `You triage messages sent to a symptom checker.
Decide whether the message describes a personal health concern: symptoms, pain, illness,
injury or a question about the sender's own body or mind. Greetings, general knowledge
questions and unrelated requests are not health concerns.
When it is a health concern, list the symptom identifiers it mentions, chosen only from the
identifier list supplied by the user message. When it is not, give a short, polite reason
addressed to the sender.`

const refineSystem = `You review the output of two statistical diagnosis classifiers for a
symptom checker. You receive the patient's complaint, their structured interview answers and
the classifiers' leading candidates with agreement scores.
Reorder the candidates from most to least likely given all the evidence. Use only the
disease_id values you were given. Add a one-sentence annotation per candidate.
Write a short rationale in plain language explaining the ordering.
Also give care recommendations for the first candidate in your ordering: common medicines,
home remedies, dietary advice, lifestyle changes and the kind of specialist to see. Set
urgent_warning only when the picture needs emergency care.
Never present the result as a definitive diagnosis.`

var stringArray = map[string]any{"type": "array", "items": map[string]any{"type": "string"}}

var screenSchema = &llm.Schema{
	Name:        "complaint-screen",
	Description: "Health-relatedness verdict for a complaint",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"valid":    map[string]any{"type": "boolean"},
			"reason":   map[string]any{"type": "string"},
			"symptoms": stringArray,
		},
		"required": []string{"valid", "symptoms"},
	},
}

var refineSchema = &llm.Schema{
	Name:        "candidate-refinement",
	Description: "Reordered diagnosis candidates with rationale and recommendations",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"ranking": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"disease_id": map[string]any{"type": "string"},
						"annotation": map[string]any{"type": "string"},
					},
					"required": []string{"disease_id"},
				},
			},
			"rationale": map[string]any{"type": "string"},
			"recommendation": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"medicines":         stringArray,
					"home_remedies":     stringArray,
					"dietary_advice":    stringArray,
					"lifestyle_changes": stringArray,
					"specialist":        map[string]any{"type": "string"},
					"urgent_warning":    map[string]any{"type": "string"},
				},
			},
		},
		"required": []string{"ranking", "rationale"},
	},
}
