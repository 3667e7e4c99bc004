package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symptom-intake-server/internal/config"
	"github.com/symptom-intake-server/internal/domain"
	"github.com/symptom-intake-server/internal/llm"
	"github.com/symptom-intake-server/internal/session"
	"github.com/symptom-intake-server/internal/setup"
)

const complaint = "persistent cough and fever for 3 days, body aches"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	lite := config.DefaultLiteConfig()
	lite.DataDir = filepath.Join(t.TempDir(), "data")
	cfg := lite.Domain()
	cfg.Logging.Level = "info"

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	app, err := setup.Build(context.Background(), cfg, logger, setup.WithProvider(llm.NewMockProvider()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	s := NewServer(app)
	gin.SetMode(gin.TestMode)
	return s
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type createSessionResponse struct {
	Intake  domain.IntakeResult `json:"intake"`
	Session *session.Snapshot   `json:"session"`
}

func startSession(t *testing.T, s *Server) createSessionResponse {
	t.Helper()
	w := do(t, s, http.MethodPost, "/api/v1/sessions", gin.H{"complaint": complaint})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode[createSessionResponse](t, w)
	require.NotNil(t, resp.Session)
	return resp
}

func answerAll(t *testing.T, s *Server, resp createSessionResponse) {
	t.Helper()
	base := "/api/v1/sessions/" + resp.Session.ID + "/answers/"
	answers := map[string]any{
		"demographics": gin.H{"answer": gin.H{"age": "26-35", "gender": "Female"}},
		"duration":     gin.H{"answer": "1-3 days"},
		"severity":     gin.H{"answer": "Moderate"},
		"symptoms":     gin.H{"answer": resp.Intake.Suggested},
	}
	for key, body := range answers {
		w := do(t, s, http.MethodPut, base+key, body)
		require.Equal(t, http.StatusOK, w.Code, "%s: %s", key, w.Body.String())
	}
}

func TestHealthAndStatus(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[struct {
		Status setup.Status `json:"status"`
	}](t, w)
	assert.Len(t, body.Status.Classifiers, 2)
	assert.True(t, body.Status.Integrations["history"])
	assert.NotZero(t, body.Status.Diseases)
}

func TestIntakeSteps(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/v1/intake/steps", gin.H{"complaint": complaint})
	require.Equal(t, http.StatusOK, w.Code)
	result := decode[domain.IntakeResult](t, w)
	assert.True(t, result.Valid)
	assert.Contains(t, result.Suggested, "cough")
	assert.NotEmpty(t, result.Steps)

	w = do(t, s, http.MethodPost, "/api/v1/intake/steps", gin.H{"complaint": "hi"})
	require.Equal(t, http.StatusOK, w.Code, "a rejection is a normal result")
	result = decode[domain.IntakeResult](t, w)
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Error)
}

func TestSessionFlow(t *testing.T) {
	s := newTestServer(t)
	resp := startSession(t, s)
	answerAll(t, s, resp)
	id := resp.Session.ID

	// Act
	w := do(t, s, http.MethodPost, "/api/v1/sessions/"+id+"/analyze", nil)

	// Assert
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rep := decode[domain.Report](t, w)
	require.NoError(t, rep.Validate())
	assert.Len(t, rep.Sections, len(domain.SectionOrder))
	assert.Equal(t, complaint, rep.Complaint)
	assert.NotEmpty(t, w.Header().Get("X-Run-ID"))

	w = do(t, s, http.MethodGet, "/api/v1/sessions/"+id, nil)
	snap := decode[session.Snapshot](t, w)
	assert.Equal(t, rep.ID, snap.ReportID)
	assert.Empty(t, snap.Missing)

	s.app.Orchestrator.Wait()

	w = do(t, s, http.MethodGet, "/api/v1/reports/"+rep.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, rep.ID, decode[domain.Report](t, w).ID)

	w = do(t, s, http.MethodGet, "/api/v1/reports/"+rep.ID+"/markdown", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "# Health Assessment Report"))

	w = do(t, s, http.MethodGet, "/api/v1/reports", nil)
	list := decode[struct {
		Reports []domain.ReportSummary `json:"reports"`
		Total   int                    `json:"total"`
	}](t, w)
	assert.Equal(t, 1, list.Total)
	require.Len(t, list.Reports, 1)
	assert.Equal(t, rep.ID, list.Reports[0].ID)

	w = do(t, s, http.MethodPost, "/api/v1/sessions/"+id+"/analyze", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, rep.ID, decode[domain.Report](t, w).ID, "same answers give the cached report")
}

func TestSessionErrors(t *testing.T) {
	s := newTestServer(t)
	resp := startSession(t, s)
	id := resp.Session.ID

	t.Run("incomplete answers", func(t *testing.T) {
		w := do(t, s, http.MethodPost, "/api/v1/sessions/"+id+"/analyze", nil)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		body := decode[map[string]any](t, w)
		assert.Equal(t, string(domain.KindUnrecoverable), body["kind"])
		assert.Len(t, body["missing"], 4)
	})

	t.Run("invalid answer", func(t *testing.T) {
		w := do(t, s, http.MethodPut, "/api/v1/sessions/"+id+"/answers/duration", gin.H{"answer": "forever"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), `"kind":"validation"`)
	})

	t.Run("unknown step", func(t *testing.T) {
		w := do(t, s, http.MethodPut, "/api/v1/sessions/"+id+"/answers/nope", gin.H{"answer": "x"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing answer field", func(t *testing.T) {
		w := do(t, s, http.MethodPut, "/api/v1/sessions/"+id+"/answers/duration", gin.H{"other": "x"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown session", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/v1/sessions/does-not-exist", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		w = do(t, s, http.MethodDelete, "/api/v1/sessions/does-not-exist", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("rejected complaint opens no session", func(t *testing.T) {
		w := do(t, s, http.MethodPost, "/api/v1/sessions", gin.H{"complaint": "what is the weather like today"})
		require.Equal(t, http.StatusOK, w.Code)
		body := decode[createSessionResponse](t, w)
		assert.False(t, body.Intake.Valid)
		assert.Nil(t, body.Session)
	})

	t.Run("delete", func(t *testing.T) {
		w := do(t, s, http.MethodDelete, "/api/v1/sessions/"+id, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestAnalyzeDirect(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/v1/analyze", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/api/v1/analyze", gin.H{"answer_set": gin.H{
		"complaint": complaint,
		"answers":   gin.H{"duration": "1-3 days"},
	}})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	body := decode[map[string]any](t, w)
	assert.Equal(t, string(domain.KindUnrecoverable), body["kind"])
}

func TestReportsAndStatsUnavailable(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/v1/stats", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/reports/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReportsExportImport(t *testing.T) {
	s := newTestServer(t)
	resp := startSession(t, s)
	answerAll(t, s, resp)
	w := do(t, s, http.MethodPost, "/api/v1/sessions/"+resp.Session.ID+"/analyze", nil)
	require.Equal(t, http.StatusOK, w.Code)
	s.app.Orchestrator.Wait()

	w = do(t, s, http.MethodGet, "/api/v1/reports/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	exported := w.Body.Bytes()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports/import", bytes.NewReader(exported))
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode[map[string]int](t, w)
	assert.Equal(t, 0, body["imported"])
	assert.Equal(t, 1, body["skipped"])
}

func TestProgressSocket(t *testing.T) {
	s := newTestServer(t)
	resp := startSession(t, s)
	answerAll(t, s, resp)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/progress"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	// Act
	w := do(t, s, http.MethodPost, "/api/v1/sessions/"+resp.Session.ID+"/analyze?async=true", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	runID := decode[map[string]string](t, w)["run_id"]

	// Assert
	var got []domain.Stage
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		var ev domain.ProgressEvent
		require.NoError(t, json.Unmarshal(msg, &ev))
		assert.Equal(t, runID, ev.RunID)
		got = append(got, ev.Stage)
		if ev.Stage.IsTerminal() {
			break
		}
	}
	assert.Equal(t, domain.StageOrder, got)

	require.Eventually(t, func() bool {
		sess, err := s.app.Sessions.Get(resp.Session.ID)
		return err == nil && sess.Snapshot().ReportID != ""
	}, time.Second, 5*time.Millisecond)
}

func TestWriteError_PipelineKinds(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"caller went away", domain.NewPipelineError(domain.KindCancelled, domain.StageEnsembleScored, context.Canceled), http.StatusRequestTimeout},
		{"run deadline", domain.NewPipelineError(domain.KindUnrecoverable, domain.StageRefined, context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"no classifiers", domain.NewPipelineError(domain.KindUnrecoverable, domain.StageEnsembleScored, domain.ErrNoClassifiers), http.StatusServiceUnavailable},
		{"incomplete answers", domain.NewPipelineError(domain.KindUnrecoverable, domain.StageFeaturesBuilt, domain.ErrIncompleteAnswers), http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			s.writeError(c, tt.err)

			assert.Equal(t, tt.want, w.Code)
		})
	}
}
