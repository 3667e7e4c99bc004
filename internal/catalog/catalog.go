// Package catalog loads the static reference data shared by every pipeline stage: the
// canonical symptom list, the disease label space with its symptom profiles, the local
// recommendation table and the interview option lists.
//
// A Catalog is built once at startup and never mutated, so it is safe for concurrent use.
package catalog

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/symptom-intake-server/internal/domain"
)

//go:embed data/*.yaml
var embedded embed.FS

// BodyArea maps an interview body area to the symptoms it implies.
type BodyArea struct {
	Area     string   `yaml:"area" json:"area"`
	Symptoms []string `yaml:"symptoms" json:"symptoms"`
}

// Messages are the user-facing rejection reasons of the local complaint screen.
type Messages struct {
	TooShort    string `yaml:"too_short"`
	TooFewWords string `yaml:"too_few_words"`
	NotHealth   string `yaml:"not_health"`
}

// IntakeOptions holds the option lists used to build interview steps.
type IntakeOptions struct {
	AgeGroups      []string                 `yaml:"age_groups"`
	Genders        []string                 `yaml:"genders"`
	Durations      []string                 `yaml:"durations"`
	Severities     []domain.DescribedOption `yaml:"severities"`
	BodyAreas      []BodyArea               `yaml:"body_areas"`
	Preexisting    []string                 `yaml:"preexisting"`
	FamilyHistory  []string                 `yaml:"family_history"`
	Lifestyle      []domain.LifestyleFactor `yaml:"lifestyle"`
	HealthKeywords []string                 `yaml:"health_keywords"`
	Disclaimer     string                   `yaml:"disclaimer"`
	Messages       Messages                 `yaml:"messages"`
}

type symptomFile struct {
	Symptoms []domain.Symptom `yaml:"symptoms"`
}

type diseaseEntry struct {
	ID       string   `yaml:"id"`
	Label    string   `yaml:"label"`
	Symptoms []string `yaml:"symptoms"`
}

type diseaseFile struct {
	Diseases []diseaseEntry `yaml:"diseases"`
}

type recommendationEntry struct {
	Medicines        []string `yaml:"medicines"`
	HomeRemedies     []string `yaml:"home_remedies"`
	DietaryAdvice    []string `yaml:"dietary_advice"`
	LifestyleChanges []string `yaml:"lifestyle_changes"`
	Specialist       string   `yaml:"specialist"`
	Urgent           string   `yaml:"urgent"`
}

type recommendationFile struct {
	Generic         recommendationEntry            `yaml:"generic"`
	Recommendations map[string]recommendationEntry `yaml:"recommendations"`
}

// Catalog is the immutable reference data set.
type Catalog struct {
	symptoms     []domain.Symptom
	symptomIndex map[string]int
	diseases     []domain.Disease
	diseaseIndex map[string]int
	profiles     [][]string
	recs         map[string]recommendationEntry
	generic      recommendationEntry
	intake       IntakeOptions
	keywords     map[string]struct{}
	areas        map[string][]string
	matcher      *matcher
}

// Load reads the embedded catalog data.
func Load() (*Catalog, error) {
	sub, err := fs.Sub(embedded, "data")
	if err != nil {
		return nil, fmt.Errorf("opening embedded catalog: %w", err)
	}
	return LoadFS(sub)
}

// MustLoad is Load for program initialization; it panics on malformed embedded data.
func MustLoad() *Catalog {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

// LoadFS reads symptoms.yaml, diseases.yaml, recommendations.yaml and intake.yaml from fsys
// and cross-checks every reference between them.
func LoadFS(fsys fs.FS) (*Catalog, error) {
	var sf symptomFile
	if err := decode(fsys, "symptoms.yaml", &sf); err != nil {
		return nil, err
	}
	var df diseaseFile
	if err := decode(fsys, "diseases.yaml", &df); err != nil {
		return nil, err
	}
	var rf recommendationFile
	if err := decode(fsys, "recommendations.yaml", &rf); err != nil {
		return nil, err
	}
	var intake IntakeOptions
	if err := decode(fsys, "intake.yaml", &intake); err != nil {
		return nil, err
	}

	c := &Catalog{
		symptomIndex: make(map[string]int, len(sf.Symptoms)),
		diseaseIndex: make(map[string]int, len(df.Diseases)),
		recs:         rf.Recommendations,
		generic:      rf.Generic,
		intake:       intake,
		keywords:     make(map[string]struct{}, len(intake.HealthKeywords)),
		areas:        make(map[string][]string, len(intake.BodyAreas)),
	}

	for i, s := range sf.Symptoms {
		if s.ID == "" {
			return nil, fmt.Errorf("symptom %d: missing id", i)
		}
		if !s.Category.IsValid() {
			return nil, fmt.Errorf("symptom %q: %w: %q", s.ID, domain.ErrInvalidCategory, s.Category)
		}
		if _, dup := c.symptomIndex[s.ID]; dup {
			return nil, fmt.Errorf("symptom %q: duplicate id", s.ID)
		}
		if s.Label == "" {
			s.Label = labelFromID(s.ID)
		}
		c.symptomIndex[s.ID] = len(c.symptoms)
		c.symptoms = append(c.symptoms, s)
	}

	for i, d := range df.Diseases {
		if _, dup := c.diseaseIndex[d.ID]; dup {
			return nil, fmt.Errorf("disease %q: duplicate id", d.ID)
		}
		if len(d.Symptoms) == 0 {
			return nil, fmt.Errorf("disease %q: empty symptom profile", d.ID)
		}
		for _, sid := range d.Symptoms {
			if _, ok := c.symptomIndex[sid]; !ok {
				return nil, fmt.Errorf("disease %q: unknown symptom %q", d.ID, sid)
			}
		}
		c.diseaseIndex[d.ID] = i
		c.diseases = append(c.diseases, domain.Disease{ID: d.ID, Label: d.Label, Index: i})
		c.profiles = append(c.profiles, append([]string(nil), d.Symptoms...))
	}

	for id := range c.recs {
		if _, ok := c.diseaseIndex[id]; !ok {
			return nil, fmt.Errorf("recommendation for unknown disease %q", id)
		}
	}

	for _, area := range intake.BodyAreas {
		for _, sid := range area.Symptoms {
			if _, ok := c.symptomIndex[sid]; !ok {
				return nil, fmt.Errorf("body area %q: unknown symptom %q", area.Area, sid)
			}
		}
		c.areas[area.Area] = area.Symptoms
	}

	for _, kw := range intake.HealthKeywords {
		c.keywords[strings.ToLower(kw)] = struct{}{}
	}

	c.matcher = newMatcher(c.symptoms)
	return c, nil
}

func decode(fsys fs.FS, name string, out any) error {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	return nil
}

func labelFromID(id string) string {
	s := strings.ReplaceAll(id, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Symptoms returns the catalog in feature order. The slice must not be modified.
func (c *Catalog) Symptoms() []domain.Symptom { return c.symptoms }

// Len is the number of symptoms and therefore the feature vector length.
func (c *Catalog) Len() int { return len(c.symptoms) }

// SymptomIDs returns symptom IDs in feature order.
func (c *Catalog) SymptomIDs() []string {
	ids := make([]string, len(c.symptoms))
	for i, s := range c.symptoms {
		ids[i] = s.ID
	}
	return ids
}

// Symptom looks up a symptom by ID.
func (c *Catalog) Symptom(id string) (domain.Symptom, bool) {
	i, ok := c.symptomIndex[id]
	if !ok {
		return domain.Symptom{}, false
	}
	return c.symptoms[i], true
}

// SymptomIndex returns the feature position of a symptom.
func (c *Catalog) SymptomIndex(id string) (int, bool) {
	i, ok := c.symptomIndex[id]
	return i, ok
}

// Diseases returns the label space in index order.
func (c *Catalog) Diseases() []domain.Disease { return c.diseases }

// DiseaseIDs returns disease IDs in index order.
func (c *Catalog) DiseaseIDs() []string {
	ids := make([]string, len(c.diseases))
	for i, d := range c.diseases {
		ids[i] = d.ID
	}
	return ids
}

// Disease looks up a disease by ID.
func (c *Catalog) Disease(id string) (domain.Disease, bool) {
	i, ok := c.diseaseIndex[id]
	if !ok {
		return domain.Disease{}, false
	}
	return c.diseases[i], true
}

// DiseaseAt returns the disease at a label-space index.
func (c *Catalog) DiseaseAt(index int) (domain.Disease, bool) {
	if index < 0 || index >= len(c.diseases) {
		return domain.Disease{}, false
	}
	return c.diseases[index], true
}

// Profile returns the characteristic symptom IDs of a disease.
func (c *Catalog) Profile(diseaseID string) []string {
	i, ok := c.diseaseIndex[diseaseID]
	if !ok {
		return nil
	}
	return c.profiles[i]
}

// Intake returns the interview option lists.
func (c *Catalog) Intake() IntakeOptions { return c.intake }

// IsHealthKeyword reports whether a lower-cased word is in the screening vocabulary.
func (c *Catalog) IsHealthKeyword(word string) bool {
	_, ok := c.keywords[word]
	return ok
}

// BodyAreaSymptoms returns the symptoms implied by a body area.
func (c *Catalog) BodyAreaSymptoms(area string) []string {
	return c.areas[area]
}

// BodyAreasFor returns the body areas whose symptoms intersect ids, in display order.
func (c *Catalog) BodyAreasFor(ids []string) []string {
	want := toSet(ids)
	var out []string
	for _, area := range c.intake.BodyAreas {
		for _, sid := range area.Symptoms {
			if _, ok := want[sid]; ok {
				out = append(out, area.Area)
				break
			}
		}
	}
	return out
}

// Recommendation returns the local table entry for a disease, falling back to the generic
// entry for diseases without one.
func (c *Catalog) Recommendation(diseaseID string) (domain.RecommendationText, domain.RecommendationSource) {
	label := diseaseID
	if d, ok := c.Disease(diseaseID); ok {
		label = d.Label
	}
	if e, ok := c.recs[diseaseID]; ok {
		return e.toText(label), domain.RecommendationLocal
	}
	return c.generic.toText(label), domain.RecommendationGeneric
}

// Disclaimer returns the fixed report disclaimer.
func (c *Catalog) Disclaimer() string { return c.intake.Disclaimer }

func (e recommendationEntry) toText(condition string) domain.RecommendationText {
	return domain.RecommendationText{
		Condition:       condition,
		Medicines:       append([]string(nil), e.Medicines...),
		HomeRemedies:    append([]string(nil), e.HomeRemedies...),
		DietaryAdvice:   append([]string(nil), e.DietaryAdvice...),
		LifestyleChange: append([]string(nil), e.LifestyleChanges...),
		Specialist:      e.Specialist,
		UrgentWarning:   e.Urgent,
	}
}

// RelatedSymptoms returns symptoms that co-occur with the given ones in disease profiles,
// most frequent first, excluding the input. At most limit IDs are returned.
func (c *Catalog) RelatedSymptoms(ids []string, limit int) []string {
	seed := toSet(ids)
	if len(seed) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, profile := range c.profiles {
		if !intersects(profile, seed) {
			continue
		}
		for _, sid := range profile {
			if _, in := seed[sid]; !in {
				counts[sid]++
			}
		}
	}

	related := make([]string, 0, len(counts))
	for sid := range counts {
		related = append(related, sid)
	}
	sort.Slice(related, func(i, j int) bool {
		ci, cj := counts[related[i]], counts[related[j]]
		if ci != cj {
			return ci > cj
		}
		return c.symptomIndex[related[i]] < c.symptomIndex[related[j]]
	})
	if limit > 0 && len(related) > limit {
		related = related[:limit]
	}
	return related
}

// CategoryRelevance orders the fixed categories by how many of the primary and secondary
// symptoms fall in each; primary symptoms weigh double. Ties keep the display order.
func (c *Catalog) CategoryRelevance(primary, secondary []string) []domain.Category {
	score := make(map[domain.Category]int)
	for _, sid := range primary {
		if s, ok := c.Symptom(sid); ok {
			score[s.Category] += 2
		}
	}
	for _, sid := range secondary {
		if s, ok := c.Symptom(sid); ok {
			score[s.Category]++
		}
	}
	out := append([]domain.Category(nil), domain.Categories...)
	sort.SliceStable(out, func(i, j int) bool {
		return score[out[i]] > score[out[j]]
	})
	return out
}

// ByCategory returns the catalog symptoms of one category in feature order.
func (c *Catalog) ByCategory(cat domain.Category) []domain.Symptom {
	var out []domain.Symptom
	for _, s := range c.symptoms {
		if s.Category == cat {
			out = append(out, s)
		}
	}
	return out
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func intersects(list []string, set map[string]struct{}) bool {
	for _, v := range list {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}
