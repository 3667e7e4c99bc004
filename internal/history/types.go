// Package history persists compiled reports so they can be listed and fetched later.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/symptom-intake-server/internal/domain"
	"github.com/symptom-intake-server/internal/report"
)

// Store is a report store with bulk export and import.
type Store interface {
	domain.ReportStore

	// ExportJSON writes every stored report to writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON reads an export and stores reports whose ID is not present yet.
	// Returns the number of imported and skipped entries.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)
}

// Export is the JSON export format.
type Export struct {
	Version    string            `json:"version"`
	ExportedAt time.Time         `json:"exported_at"`
	Count      int               `json:"count"`
	Reports    []json.RawMessage `json:"reports"`
}

const exportVersion = "1.0"

// maxExportLimit caps a single export.
const maxExportLimit = 1000000

// timeLayout is fixed-width so text timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// row is the indexed projection of a report.
type row struct {
	ID          string
	CreatedAt   time.Time
	SessionID   string
	Fingerprint string
	Complaint   string
	Primary     string
	Confidence  float64
	Source      string
	Body        []byte
}

func toRow(r *domain.Report) (*row, error) {
	primary, ok := r.PrimaryDiagnosis()
	if !ok {
		return nil, domain.NewValidationError("primary_diagnosis", "report has no primary diagnosis", r.ID)
	}
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding report: %w", err)
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return &row{
		ID:          r.ID,
		CreatedAt:   created.UTC(),
		SessionID:   r.SessionID,
		Fingerprint: r.Fingerprint,
		Complaint:   r.Complaint,
		Primary:     primary.Disease.ID,
		Confidence:  primary.Confidence,
		Source:      string(r.Source),
		Body:        body,
	}, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSummary(s scanner) (domain.ReportSummary, error) {
	var sum domain.ReportSummary
	var source string
	if err := s.Scan(&sum.ID, &sum.CreatedAt, &sum.Complaint, &sum.PrimaryDiagnosis, &sum.Confidence, &source); err != nil {
		return sum, err
	}
	sum.Source = domain.Source(source)
	return sum, nil
}

func exportReports(ctx context.Context, s domain.ReportStore, writer io.Writer) error {
	summaries, err := s.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list reports: %w", err)
	}

	export := &Export{Version: exportVersion, ExportedAt: time.Now().UTC()}
	for _, sum := range summaries {
		r, err := s.Get(ctx, sum.ID)
		if err != nil {
			return fmt.Errorf("failed to load report %s: %w", sum.ID, err)
		}
		body, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode report %s: %w", sum.ID, err)
		}
		export.Reports = append(export.Reports, body)
	}
	export.Count = len(export.Reports)

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

func importReports(ctx context.Context, s domain.ReportStore, reader io.Reader) (imported int, skipped int, err error) {
	var export Export
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, raw := range export.Reports {
		r, err := report.Decode(raw)
		if err != nil {
			return imported, skipped, fmt.Errorf("invalid report in export: %w", err)
		}
		if _, err := s.Get(ctx, r.ID); err == nil {
			skipped++
			continue
		}
		if err := s.Save(ctx, r); err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}
	return imported, skipped, nil
}
