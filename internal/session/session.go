// Package session accumulates interview answers for one user across requests.
//
// Each session holds the steps generated for its complaint, produced exactly once when the
// session starts. Answers are validated against those steps and normalized on entry, so the
// AnswerSet handed to the pipeline never needs re-checking for shape.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/symptom-intake-server/internal/domain"
)

// StepGenerator produces the interview for a complaint.
type StepGenerator interface {
	Generate(ctx context.Context, complaint string) (*domain.IntakeResult, error)
}

// Session is one interview in progress.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Complaint string    `json:"complaint"`
	// Steps is fixed at creation and never regenerated.
	Steps domain.StepList `json:"steps"`
	Hints []string        `json:"hints"`

	mu       sync.Mutex
	answers  map[string]domain.Answer
	other    map[string]string
	reportID string
	updated  time.Time
}

// Snapshot is a consistent, copyable view of a session.
type Snapshot struct {
	ID        string                   `json:"id"`
	CreatedAt time.Time                `json:"created_at"`
	UpdatedAt time.Time                `json:"updated_at"`
	Complaint string                   `json:"complaint"`
	Steps     domain.StepList          `json:"steps"`
	Hints     []string                 `json:"hints"`
	Answers   map[string]domain.Answer `json:"answers"`
	Other     map[string]string        `json:"other,omitempty"`
	Missing   []string                 `json:"missing"`
	ReportID  string                   `json:"report_id,omitempty"`
}

// Store keeps sessions in memory and expires idle ones.
type Store struct {
	generator StepGenerator
	sessions  *expirable.LRU[string, *Session]
	logger    *logrus.Logger
}

// NewStore creates a session store holding at most size sessions for ttl each.
func NewStore(generator StepGenerator, size int, ttl time.Duration, logger *logrus.Logger) *Store {
	if size <= 0 {
		size = 10000
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	if logger == nil {
		logger = logrus.New()
	}
	s := &Store{generator: generator, logger: logger}
	s.sessions = expirable.NewLRU[string, *Session](size, func(id string, _ *Session) {
		logger.WithField("session_id", id).Debug("Session expired")
	}, ttl)
	return s
}

// Start screens the complaint and opens a session when it is accepted. A rejected
// complaint returns the rejection result and a nil session.
func (s *Store) Start(ctx context.Context, complaint string) (*domain.IntakeResult, *Session, error) {
	result, err := s.generator.Generate(ctx, complaint)
	if err != nil {
		return nil, nil, fmt.Errorf("generating steps: %w", err)
	}
	if !result.Valid {
		return result, nil, nil
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:        uuid.New().String(),
		CreatedAt: now,
		Complaint: complaint,
		Steps:     result.Steps,
		Hints:     append([]string(nil), result.Suggested...),
		answers:   make(map[string]domain.Answer),
		other:     make(map[string]string),
		updated:   now,
	}
	s.sessions.Add(sess.ID, sess)

	s.logger.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"steps":      len(sess.Steps),
		"hints":      len(sess.Hints),
	}).Info("Session started")
	return result, sess, nil
}

// Get returns a live session.
func (s *Store) Get(id string) (*Session, error) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return sess, nil
}

// Delete ends a session.
func (s *Store) Delete(id string) bool {
	return s.sessions.Remove(id)
}

// Len is the number of live sessions.
func (s *Store) Len() int {
	return s.sessions.Len()
}

// RecordAnswer validates and stores the answer to one step. Re-answering a step replaces
// the previous answer; other steps are untouched.
func (s *Store) RecordAnswer(id, key string, answer domain.Answer, other string) error {
	sess, err := s.Get(id)
	if err != nil {
		return err
	}
	return sess.Record(key, answer, other)
}

// Record validates, normalizes and stores one answer.
func (sess *Session) Record(key string, answer domain.Answer, other string) error {
	step, ok := sess.Steps.Find(key)
	if !ok {
		return domain.NewValidationError("key", "no such step in this session", key)
	}
	if err := step.Validate(answer); err != nil {
		return err
	}
	normalized := step.Normalize(answer)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.answers[key] = normalized
	if other != "" && allowsOther(step) {
		sess.other[key] = other
	} else {
		delete(sess.other, key)
	}
	sess.updated = time.Now().UTC()
	return nil
}

// Missing returns the required step keys that have no answer yet.
func (sess *Session) Missing() []string {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.missingLocked()
}

func (sess *Session) missingLocked() []string {
	missing := []string{}
	for _, key := range sess.Steps.Required() {
		if _, ok := sess.answers[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}

// AnswerSet builds the immutable answer set for analysis. Hint symptoms left unchecked in an
// answered symptom checklist are recorded as deselected.
func (sess *Session) AnswerSet() *domain.AnswerSet {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	set := &domain.AnswerSet{
		SessionID: sess.ID,
		Complaint: sess.Complaint,
		Answers:   make(map[string]domain.Answer, len(sess.answers)),
		Hints:     append([]string(nil), sess.Hints...),
	}
	for k, v := range sess.answers {
		set.Answers[k] = v.Clone()
	}
	if len(sess.other) > 0 {
		set.Other = make(map[string]string, len(sess.other))
		for k, v := range sess.other {
			set.Other[k] = v
		}
	}

	for _, step := range sess.Steps {
		if step.Kind() != domain.StepCategorizedCheckbox {
			continue
		}
		chosen, ok := sess.answers[step.Header().Key]
		if !ok {
			continue
		}
		selected := make(map[string]struct{}, len(chosen.Values))
		for _, v := range chosen.Values {
			selected[v] = struct{}{}
		}
		for _, h := range sess.Hints {
			if _, kept := selected[h]; !kept {
				set.Deselected = append(set.Deselected, h)
			}
		}
	}
	return set
}

// SetReport remembers the latest report produced for this session.
func (sess *Session) SetReport(reportID string) {
	sess.mu.Lock()
	sess.reportID = reportID
	sess.mu.Unlock()
}

// Snapshot returns a copy of the session state.
func (sess *Session) Snapshot() Snapshot {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	snap := Snapshot{
		ID:        sess.ID,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.updated,
		Complaint: sess.Complaint,
		Steps:     sess.Steps,
		Hints:     append([]string(nil), sess.Hints...),
		Answers:   make(map[string]domain.Answer, len(sess.answers)),
		Missing:   sess.missingLocked(),
		ReportID:  sess.reportID,
	}
	for k, v := range sess.answers {
		snap.Answers[k] = v.Clone()
	}
	if len(sess.other) > 0 {
		snap.Other = make(map[string]string, len(sess.other))
		for k, v := range sess.other {
			snap.Other[k] = v
		}
	}
	return snap
}

func allowsOther(step domain.StepSpec) bool {
	switch st := step.(type) {
	case *domain.CheckboxStep:
		return st.AllowOther
	case *domain.CategorizedCheckboxStep:
		return st.AllowOther
	default:
		return false
	}
}
