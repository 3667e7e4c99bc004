// Package reasoning adapts a generative model to the two jobs the pipeline delegates to it:
// judging whether a complaint is health related and re-ranking ensemble candidates.
package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/symptom-intake-server/internal/catalog"
	"github.com/symptom-intake-server/internal/domain"
	"github.com/symptom-intake-server/internal/llm"
)

// Backend is a provider that can report whether it should be called at all.
type Backend interface {
	llm.Provider
	Available() bool
}

// Config tunes generation.
type Config struct {
	MaxTokens   int
	Temperature float64
}

// Service implements domain.ComplaintScreener and domain.Refiner.
type Service struct {
	backend Backend
	catalog *catalog.Catalog
	config  Config
	logger  *logrus.Logger
}

// NewService creates a reasoning service. A nil backend yields a service that is never
// available.
func NewService(backend Backend, cat *catalog.Catalog, config Config, logger *logrus.Logger) *Service {
	if config.MaxTokens <= 0 {
		config.MaxTokens = 1024
	}
	return &Service{backend: backend, catalog: cat, config: config, logger: logger}
}

// Available reports whether calls may be attempted.
func (s *Service) Available() bool {
	return s != nil && s.backend != nil && s.backend.Available()
}

// ModelID names the backing model, or "" when there is none.
func (s *Service) ModelID() string {
	if s == nil || s.backend == nil {
		return ""
	}
	return s.backend.ModelID()
}

// ScreenComplaint asks the model whether the complaint is health related and which catalog
// symptoms it mentions.
func (s *Service) ScreenComplaint(ctx context.Context, complaint string) (*domain.ScreenVerdict, error) {
	if !s.Available() {
		return nil, &llm.ErrProviderUnavailable{}
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Message:\n%s\n\nSymptom identifiers:\n%s\n", complaint, strings.Join(s.catalog.SymptomIDs(), ", "))

	resp, err := s.backend.Generate(llm.WithPurpose(ctx, "screen"), llm.Request{
		System:      screenSystem,
		Messages:    llm.UserMessage(prompt.String()),
		Schema:      screenSchema,
		MaxTokens:   s.config.MaxTokens,
		Temperature: s.config.Temperature,
	})
	if err != nil {
		return nil, err
	}

	var verdict domain.ScreenVerdict
	if err := json.Unmarshal(resp.Content, &verdict); err != nil {
		return nil, &llm.ErrInvalidResponse{Content: resp.Content, Err: err}
	}
	return &verdict, nil
}

type refineCandidate struct {
	DiseaseID  string             `json:"disease_id"`
	Label      string             `json:"label"`
	Agreement  float64            `json:"agreement_score"`
	Classifier map[string]float64 `json:"classifier_scores,omitempty"`
}

type refinePrompt struct {
	Complaint  string            `json:"complaint"`
	Answers    map[string]any    `json:"answers"`
	Symptoms   []string          `json:"reported_symptoms"`
	Candidates []refineCandidate `json:"candidates"`
}

type refineReply struct {
	Ranking        []domain.RefinedCandidate `json:"ranking"`
	Rationale      string                    `json:"rationale"`
	Recommendation *struct {
		Medicines       []string `json:"medicines"`
		HomeRemedies    []string `json:"home_remedies"`
		DietaryAdvice   []string `json:"dietary_advice"`
		LifestyleChange []string `json:"lifestyle_changes"`
		Specialist      string   `json:"specialist"`
		UrgentWarning   string   `json:"urgent_warning"`
	} `json:"recommendation"`
}

// Refine asks the model to reorder candidates. The reply is returned as given; anchoring it
// to the candidate set is the caller's job.
func (s *Service) Refine(ctx context.Context, req domain.RefineRequest) (*domain.RefineResponse, error) {
	if !s.Available() {
		return nil, &llm.ErrProviderUnavailable{}
	}

	payload := refinePrompt{Complaint: req.Complaint, Answers: map[string]any{}}
	if req.Answers != nil {
		for key, a := range req.Answers.Answers {
			payload.Answers[key] = a
		}
		for key, text := range req.Answers.Other {
			payload.Answers[key+"_other"] = text
		}
		payload.Symptoms = s.reportedSymptoms(req.Answers)
	}
	for _, c := range req.Candidates {
		payload.Candidates = append(payload.Candidates, refineCandidate{
			DiseaseID:  c.Disease.ID,
			Label:      c.Disease.Label,
			Agreement:  c.Confidence,
			Classifier: c.Votes,
		})
	}
	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding refine prompt: %w", err)
	}

	resp, err := s.backend.Generate(llm.WithPurpose(ctx, "refine"), llm.Request{
		System:      refineSystem,
		Messages:    llm.UserMessage(string(body)),
		Schema:      refineSchema,
		MaxTokens:   s.config.MaxTokens,
		Temperature: s.config.Temperature,
	})
	if err != nil {
		return nil, err
	}

	var reply refineReply
	if err := json.Unmarshal(resp.Content, &reply); err != nil {
		return nil, &llm.ErrInvalidResponse{Content: resp.Content, Err: err}
	}

	out := &domain.RefineResponse{Ranking: reply.Ranking, Rationale: strings.TrimSpace(reply.Rationale)}
	if r := reply.Recommendation; r != nil {
		out.Recommendation = &domain.RecommendationText{
			Medicines:       r.Medicines,
			HomeRemedies:    r.HomeRemedies,
			DietaryAdvice:   r.DietaryAdvice,
			LifestyleChange: r.LifestyleChange,
			Specialist:      r.Specialist,
			UrgentWarning:   r.UrgentWarning,
		}
	}
	return out, nil
}

// reportedSymptoms lists the labels of hinted symptoms the patient kept.
func (s *Service) reportedSymptoms(set *domain.AnswerSet) []string {
	var out []string
	for _, id := range set.Hints {
		if set.IsDeselected(id) {
			continue
		}
		if sym, ok := s.catalog.Symptom(id); ok {
			out = append(out, sym.Label)
		}
	}
	return out
}
