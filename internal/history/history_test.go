package history

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symptom-intake-server/internal/catalog"
	"github.com/symptom-intake-server/internal/domain"
	"github.com/symptom-intake-server/internal/report"
)

var testCatalog = catalog.MustLoad()

func sampleReport(t *testing.T, diseaseID string, created time.Time) *domain.Report {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	d, ok := testCatalog.Disease(diseaseID)
	require.True(t, ok)
	result := &domain.DiagnosisResult{
		Ranked:          []domain.RankedDiagnosis{{Disease: d, Confidence: 0.42, Level: domain.ConfidenceMedium, EnsembleRank: 1}},
		TopK:            1,
		Source:          domain.SourceEnsembleOnly,
		Rationale:       "This assessment is derived from statistical model agreement.",
		RationaleSource: domain.SourceEnsembleOnly,
	}
	set := &domain.AnswerSet{
		Complaint: "cough and fever",
		Answers:   map[string]domain.Answer{"duration": domain.ScalarAnswer("1-3 days")},
	}
	r, err := report.NewCompiler(testCatalog, logger).Compile(result, set)
	require.NoError(t, err)
	r.CreatedAt = created
	return r
}

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_SaveAndGet(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()
	r := sampleReport(t, "pneumonia", time.Now())

	// Act
	err := store.Save(ctx, r)

	// Assert
	require.NoError(t, err)
	got, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, r.Fingerprint, got.Fingerprint)
	primary, _ := got.PrimaryDiagnosis()
	assert.Equal(t, "pneumonia", primary.Disease.ID)

	require.NoError(t, store.Save(ctx, r), "saving twice replaces the row")
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQLiteStore_NotFound(t *testing.T) {
	store := createTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = store.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLiteStore_ListNewestFirst(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	older := sampleReport(t, "common_cold", base)
	newer := sampleReport(t, "pneumonia", base.Add(90*time.Second))
	require.NoError(t, store.Save(ctx, older))
	require.NoError(t, store.Save(ctx, newer))

	// Act
	list, err := store.List(ctx, 10, 0)

	// Assert
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, "pneumonia", list[0].PrimaryDiagnosis)
	assert.Equal(t, domain.SourceEnsembleOnly, list[0].Source)
	assert.InDelta(t, 0.42, list[0].Confidence, 1e-9)

	page, err := store.List(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, older.ID, page[0].ID)

	require.NoError(t, store.Delete(ctx, older.ID))
	count, _ := store.Count(ctx)
	assert.Equal(t, 1, count)
}

func TestSQLiteStore_ExportImport(t *testing.T) {
	source := createTestStore(t)
	target := createTestStore(t)
	ctx := context.Background()
	shared := sampleReport(t, "pneumonia", time.Now())
	require.NoError(t, source.Save(ctx, shared))
	require.NoError(t, source.Save(ctx, sampleReport(t, "common_cold", time.Now())))
	require.NoError(t, target.Save(ctx, shared))

	var buf bytes.Buffer
	require.NoError(t, source.ExportJSON(ctx, &buf))

	var export Export
	require.NoError(t, json.Unmarshal(buf.Bytes(), &export))
	assert.Equal(t, 2, export.Count)

	// Act
	imported, skipped, err := target.ImportJSON(ctx, &buf)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, imported)
	assert.Equal(t, 1, skipped)
	count, _ := target.Count(ctx)
	assert.Equal(t, 2, count)
}

func TestSQLiteStore_ImportRejectsBrokenReports(t *testing.T) {
	store := createTestStore(t)
	data := `{"version":"1.0","count":1,"reports":[{"id":"x","source":"ensemble-only","sections":[]}]}`

	_, _, err := store.ImportJSON(context.Background(), bytes.NewBufferString(data))

	assert.Error(t, err)
}

func TestPostgresStore_Save(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	defer store.Close()
	r := sampleReport(t, "pneumonia", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))

	mock.ExpectExec("INSERT INTO reports").
		WithArgs(r.ID, r.CreatedAt, r.SessionID, r.Fingerprint, r.Complaint, "pneumonia", 0.42, "ensemble-only", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Act
	err = store.Save(context.Background(), r)

	// Assert
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	defer store.Close()
	r := sampleReport(t, "pneumonia", time.Now().UTC())
	body, err := json.Marshal(r)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT body FROM reports WHERE id = \\$1").
		WithArgs(r.ID).
		WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow(body))
	mock.ExpectQuery("SELECT body FROM reports WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"body"}))

	got, err := store.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)

	_, err = store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListCountDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	mock.ExpectQuery("SELECT id, created_at, complaint, primary_diagnosis, confidence, source").
		WithArgs(20, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "complaint", "primary_diagnosis", "confidence", "source"}).
			AddRow("r-2", "2026-02-02T00:00:00Z", "fever", "malaria", 0.7, "ai-refined").
			AddRow("r-1", "2026-02-01T00:00:00Z", "cough", "pneumonia", 0.4, "ensemble-only"))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectExec("DELETE FROM reports").WithArgs("r-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM reports").WithArgs("r-9").WillReturnResult(sqlmock.NewResult(0, 0))

	list, err := store.List(ctx, 20, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.SourceAIRefined, list[0].Source)
	assert.Equal(t, "malaria", list[0].PrimaryDiagnosis)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, store.Delete(ctx, "r-1"))
	assert.ErrorIs(t, store.Delete(ctx, "r-9"), domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPostgresStore_RequiresConnection(t *testing.T) {
	_, err := NewPostgresStore(nil)
	assert.Error(t, err)
}

func TestSink(t *testing.T) {
	store := createTestStore(t)
	sink := NewSink(store)
	r := sampleReport(t, "pneumonia", time.Now())

	assert.Equal(t, "history", sink.Name())
	assert.True(t, sink.Enabled())
	require.NoError(t, sink.Publish(context.Background(), r))

	_, err := store.Get(context.Background(), r.ID)
	assert.NoError(t, err)
	assert.False(t, NewSink(nil).Enabled())
}
