package catalog

import (
	"sort"
	"strings"
	"unicode"

	"github.com/agext/levenshtein"

	"github.com/symptom-intake-server/internal/domain"
)

const (
	maxExactWords  = 4
	maxFuzzyWords  = 3
	minFuzzyLength = 5
	fuzzyThreshold = 0.8
)

// matcher resolves free-text phrases to symptom IDs.
type matcher struct {
	phrases map[string]string
	// fuzzyKeys are the phrases long enough for approximate matching, sorted for determinism.
	fuzzyKeys []string
}

func newMatcher(symptoms []domain.Symptom) *matcher {
	m := &matcher{phrases: make(map[string]string)}
	add := func(phrase, id string) {
		key := strings.Join(tokenize(phrase), " ")
		if key == "" {
			return
		}
		if _, taken := m.phrases[key]; !taken {
			m.phrases[key] = id
		}
	}
	for _, s := range symptoms {
		add(s.ID, s.ID)
		add(s.Label, s.ID)
		for _, a := range s.Aliases {
			add(a, s.ID)
		}
	}
	for key := range m.phrases {
		if len(key) >= minFuzzyLength {
			m.fuzzyKeys = append(m.fuzzyKeys, key)
		}
	}
	sort.Strings(m.fuzzyKeys)
	return m
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

type hit struct {
	pos int
	id  string
}

// ExtractSymptoms finds catalog symptoms mentioned in free text and returns their IDs in
// order of first mention. Exact label or alias matches win, longest phrase first; words
// not consumed by an exact match are then compared approximately.
func (c *Catalog) ExtractSymptoms(text string) []string {
	return c.matcher.extract(tokenize(text))
}

func (m *matcher) extract(words []string) []string {
	consumed := make([]bool, len(words))
	var hits []hit

	for i := 0; i < len(words); {
		matched := 0
		for n := maxExactWords; n >= 1; n-- {
			if i+n > len(words) {
				continue
			}
			if id, ok := m.phrases[strings.Join(words[i:i+n], " ")]; ok {
				hits = append(hits, hit{pos: i, id: id})
				matched = n
				break
			}
		}
		if matched == 0 {
			i++
			continue
		}
		for k := i; k < i+matched; k++ {
			consumed[k] = true
		}
		i += matched
	}

	for n := maxFuzzyWords; n >= 1; n-- {
		for i := 0; i+n <= len(words); i++ {
			if anyConsumed(consumed[i : i+n]) {
				continue
			}
			phrase := strings.Join(words[i:i+n], " ")
			if len(phrase) < minFuzzyLength {
				continue
			}
			if id, ok := m.closest(phrase); ok {
				hits = append(hits, hit{pos: i, id: id})
				for k := i; k < i+n; k++ {
					consumed[k] = true
				}
			}
		}
	}

	sort.SliceStable(hits, func(a, b int) bool { return hits[a].pos < hits[b].pos })
	seen := make(map[string]struct{}, len(hits))
	var out []string
	for _, h := range hits {
		if _, dup := seen[h.id]; dup {
			continue
		}
		seen[h.id] = struct{}{}
		out = append(out, h.id)
	}
	return out
}

func (m *matcher) closest(phrase string) (string, bool) {
	best, bestScore := "", 0.0
	for _, key := range m.fuzzyKeys {
		score := levenshtein.Similarity(phrase, key, nil)
		if score > bestScore {
			best, bestScore = key, score
		}
	}
	if bestScore < fuzzyThreshold {
		return "", false
	}
	return m.phrases[best], true
}

func anyConsumed(flags []bool) bool {
	for _, f := range flags {
		if f {
			return true
		}
	}
	return false
}
