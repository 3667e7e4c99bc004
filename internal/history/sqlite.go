package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/symptom-intake-server/internal/domain"
	"github.com/symptom-intake-server/internal/report"
)

// SQLiteStore keeps report history in a local SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens (and if needed creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		session_id TEXT DEFAULT '',
		fingerprint TEXT NOT NULL,
		complaint TEXT DEFAULT '',
		primary_diagnosis TEXT NOT NULL,
		confidence REAL NOT NULL,
		source TEXT NOT NULL,
		body TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reports_created_at ON reports(created_at);
	CREATE INDEX IF NOT EXISTS idx_reports_fingerprint ON reports(fingerprint);
	`
	_, err := db.Exec(schema)
	return err
}

// Path is the database file location.
func (s *SQLiteStore) Path() string { return s.dbPath }

// Save stores a report, replacing any earlier copy with the same ID.
func (s *SQLiteStore) Save(ctx context.Context, r *domain.Report) error {
	rw, err := toRow(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reports (
			id, created_at, session_id, fingerprint, complaint,
			primary_diagnosis, confidence, source, body
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			body = excluded.body,
			primary_diagnosis = excluded.primary_diagnosis,
			confidence = excluded.confidence,
			source = excluded.source
	`,
		rw.ID, rw.CreatedAt.Format(timeLayout), rw.SessionID, rw.Fingerprint, rw.Complaint,
		rw.Primary, rw.Confidence, rw.Source, string(rw.Body),
	)
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// Get loads a report by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.Report, error) {
	var body string
	err := s.db.QueryRowContext(ctx, "SELECT body FROM reports WHERE id = ?", id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return report.Decode([]byte(body))
}

// List returns report summaries, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]domain.ReportSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, complaint, primary_diagnosis, confidence, source
		FROM reports
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	result := []domain.ReportSummary{}
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, sum)
	}
	return result, rows.Err()
}

// Count returns the number of stored reports.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reports").Scan(&count)
	return count, err
}

// Delete removes a report.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM reports WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("report %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ExportJSON writes every report to writer.
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return exportReports(ctx, s, writer)
}

// ImportJSON stores reports from an export, skipping known IDs.
func (s *SQLiteStore) ImportJSON(ctx context.Context, reader io.Reader) (int, int, error) {
	return importReports(ctx, s, reader)
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
