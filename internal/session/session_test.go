package session

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symptom-intake-server/internal/domain"
)

type stubGenerator struct {
	result *domain.IntakeResult
	err    error
	calls  int
}

func (g *stubGenerator) Generate(ctx context.Context, complaint string) (*domain.IntakeResult, error) {
	g.calls++
	return g.result, g.err
}

func testSteps() domain.StepList {
	return domain.StepList{
		&domain.RadioStep{
			StepHeader: domain.StepHeader{Key: "duration", Required: true},
			Options:    []string{"1-3 days", "4-7 days"},
		},
		&domain.CategorizedCheckboxStep{
			StepHeader: domain.StepHeader{Key: "symptoms", Required: true},
			Groups: []domain.SymptomGroup{{
				Category: domain.CategoryRespiratory,
				Symptoms: []domain.SymptomOption{{ID: "cough"}, {ID: "high_fever"}, {ID: "chills"}},
			}},
			AutoSelected: []string{"cough", "high_fever"},
			AllowOther:   true,
		},
		&domain.CheckboxStep{
			StepHeader: domain.StepHeader{Key: "preexisting"},
			Options:    []string{"Asthma", domain.NoneOption},
			Exclusive:  domain.NoneOption,
		},
	}
}

func newTestStore(t *testing.T) (*Store, *stubGenerator) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	gen := &stubGenerator{result: &domain.IntakeResult{
		Valid:     true,
		Steps:     testSteps(),
		Suggested: []string{"cough", "high_fever"},
	}}
	return NewStore(gen, 10, time.Hour, logger), gen
}

func TestStart(t *testing.T) {
	store, gen := newTestStore(t)

	result, sess, err := store.Start(context.Background(), "cough and fever")

	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.True(t, result.Valid)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, []string{"duration", "symptoms"}, sess.Missing())

	got, err := store.Get(sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)
	assert.Equal(t, 1, gen.calls, "steps are generated once per session")
}

func TestStart_Rejected(t *testing.T) {
	store, gen := newTestStore(t)
	gen.result = &domain.IntakeResult{Valid: false, Error: "too short"}

	result, sess, err := store.Start(context.Background(), "hm")

	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.False(t, result.Valid)
	assert.Zero(t, store.Len())
}

func TestStart_GeneratorError(t *testing.T) {
	store, gen := newTestStore(t)
	gen.err = errors.New("boom")

	_, _, err := store.Start(context.Background(), "cough and fever")

	assert.Error(t, err)
}

func TestGet_Unknown(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get("missing")

	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestRecordAnswer(t *testing.T) {
	store, _ := newTestStore(t)
	_, sess, err := store.Start(context.Background(), "cough and fever")
	require.NoError(t, err)

	t.Run("unknown step", func(t *testing.T) {
		err := store.RecordAnswer(sess.ID, "mood", domain.ScalarAnswer("ok"), "")
		assert.ErrorIs(t, err, domain.ErrInvalidAnswer)
	})

	t.Run("invalid option", func(t *testing.T) {
		err := store.RecordAnswer(sess.ID, "duration", domain.ScalarAnswer("forever"), "")
		assert.ErrorIs(t, err, domain.ErrInvalidAnswer)
	})

	t.Run("none is dropped when combined", func(t *testing.T) {
		err := store.RecordAnswer(sess.ID, "preexisting", domain.ListAnswer(domain.NoneOption, "Asthma"), "")
		require.NoError(t, err)
		snap := sess.Snapshot()
		assert.Equal(t, []string{"Asthma"}, snap.Answers["preexisting"].Values)
	})

	t.Run("other text only kept where allowed", func(t *testing.T) {
		require.NoError(t, store.RecordAnswer(sess.ID, "duration", domain.ScalarAnswer("1-3 days"), "ignored"))
		require.NoError(t, store.RecordAnswer(sess.ID, "symptoms", domain.ListAnswer("cough"), "tingling hands"))
		snap := sess.Snapshot()
		assert.Equal(t, map[string]string{"symptoms": "tingling hands"}, snap.Other)
		assert.Empty(t, snap.Missing)
	})

	t.Run("revisiting replaces only that answer", func(t *testing.T) {
		require.NoError(t, store.RecordAnswer(sess.ID, "duration", domain.ScalarAnswer("4-7 days"), ""))
		snap := sess.Snapshot()
		assert.Equal(t, "4-7 days", snap.Answers["duration"].Scalar)
		assert.Equal(t, []string{"cough"}, snap.Answers["symptoms"].Values)
	})
}

func TestAnswerSet_Deselection(t *testing.T) {
	store, _ := newTestStore(t)
	_, sess, err := store.Start(context.Background(), "cough and fever")
	require.NoError(t, err)

	before := sess.AnswerSet()
	assert.Empty(t, before.Deselected, "unanswered checklist keeps every hint")

	require.NoError(t, sess.Record("symptoms", domain.ListAnswer("cough", "chills"), ""))
	set := sess.AnswerSet()

	assert.Equal(t, sess.ID, set.SessionID)
	assert.Equal(t, []string{"cough", "high_fever"}, set.Hints)
	assert.Equal(t, []string{"high_fever"}, set.Deselected)
	assert.True(t, set.IsDeselected("high_fever"))

	set.Answers["symptoms"].Values[0] = "mutated"
	assert.Equal(t, "cough", sess.Snapshot().Answers["symptoms"].Values[0])
}

func TestDelete(t *testing.T) {
	store, _ := newTestStore(t)
	_, sess, err := store.Start(context.Background(), "cough and fever")
	require.NoError(t, err)

	assert.True(t, store.Delete(sess.ID))
	_, err = store.Get(sess.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}
