package intake

import (
	"strings"
	"unicode"

	"github.com/symptom-intake-server/internal/catalog"
)

const (
	minComplaintLength = 5
	minComplaintWords  = 2
)

// ambiguousMatches are extraction hits too weak to establish health relevance alone.
var ambiguousMatches = map[string]struct{}{
	"back_pain":        {},
	"passage_of_gases": {},
}

// localVerdict applies the keyword screen. reason is empty when the complaint is accepted.
func localVerdict(cat *catalog.Catalog, complaint string, extracted []string) (ok bool, reason string) {
	if reason := shapeCheck(cat, complaint); reason != "" {
		return false, reason
	}

	for _, w := range words(complaint) {
		for _, stem := range stems(w) {
			if cat.IsHealthKeyword(stem) {
				return true, ""
			}
		}
	}

	strong := 0
	for _, id := range extracted {
		if _, weak := ambiguousMatches[id]; !weak {
			strong++
		}
	}
	if strong > 0 {
		return true, ""
	}
	return false, cat.Intake().Messages.NotHealth
}

// shapeCheck rejects complaints too short to interpret, before any policy runs.
func shapeCheck(cat *catalog.Catalog, complaint string) string {
	msgs := cat.Intake().Messages
	if len([]rune(complaint)) < minComplaintLength {
		return msgs.TooShort
	}
	if len(strings.Fields(complaint)) < minComplaintWords {
		return msgs.TooFewWords
	}
	return ""
}

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// stems returns the word plus its plural, tense and -ness stripped forms.
func stems(w string) []string {
	out := []string{w}
	n := len(w)
	if strings.HasSuffix(w, "s") && n > 3 {
		out = append(out, w[:n-1])
	}
	if strings.HasSuffix(w, "es") && n > 4 {
		out = append(out, w[:n-2])
	}
	if strings.HasSuffix(w, "ing") && n > 5 {
		out = append(out, w[:n-3])
	}
	if strings.HasSuffix(w, "ed") && n > 4 {
		out = append(out, w[:n-2])
	}
	if strings.HasSuffix(w, "ness") && n > 6 {
		out = append(out, w[:n-4])
	}
	return out
}
