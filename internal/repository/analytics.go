// Package repository holds the pgx-backed aggregate analytics over finished diagnoses.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/symptom-intake-server/internal/domain"
)

// DiagnosisEvent is the anonymous aggregate row recorded per report.
type DiagnosisEvent struct {
	ReportID         string
	CreatedAt        time.Time
	AgeGroup         string
	Gender           string
	PrimaryDiagnosis string
	Confidence       float64
	Source           domain.Source
	Degraded         bool
}

// DiagnosisCount is one row of the per-diagnosis statistics.
type DiagnosisCount struct {
	DiseaseID     string  `json:"disease_id"`
	Count         int64   `json:"count"`
	AIRefined     int64   `json:"ai_refined"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// Stats summarizes recorded diagnoses.
type Stats struct {
	Total       int64            `json:"total"`
	BySource    map[string]int64 `json:"by_source"`
	ByDiagnosis []DiagnosisCount `json:"by_diagnosis"`
}

// AnalyticsRepository records and aggregates diagnosis events.
type AnalyticsRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewAnalyticsRepository creates a new analytics repository
func NewAnalyticsRepository(db *pgxpool.Pool, logger *logrus.Logger) *AnalyticsRepository {
	return &AnalyticsRepository{db: db, log: logger}
}

// EventFromReport projects a report onto its analytics row.
func EventFromReport(r *domain.Report) (DiagnosisEvent, bool) {
	primary, ok := r.PrimaryDiagnosis()
	if !ok {
		return DiagnosisEvent{}, false
	}
	ev := DiagnosisEvent{
		ReportID:         r.ID,
		CreatedAt:        r.CreatedAt,
		PrimaryDiagnosis: primary.Disease.ID,
		Confidence:       primary.Confidence,
		Source:           r.Source,
		Degraded:         len(r.Degraded) > 0,
	}
	if demo, ok := r.Answers.Answer("demographics"); ok {
		ev.AgeGroup = demo.PerCategory["age"]
		ev.Gender = demo.PerCategory["gender"]
	}
	return ev, true
}

// Record inserts an event. Recording the same report twice is a no-op.
func (r *AnalyticsRepository) Record(ctx context.Context, ev DiagnosisEvent) error {
	query := `
		INSERT INTO diagnosis_events (
			report_id, created_at, age_group, gender, primary_diagnosis, confidence, source, degraded
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (report_id) DO NOTHING`

	_, err := r.db.Exec(ctx, query,
		ev.ReportID, ev.CreatedAt, ev.AgeGroup, ev.Gender,
		ev.PrimaryDiagnosis, ev.Confidence, string(ev.Source), ev.Degraded,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"report_id": ev.ReportID,
			"error":     err,
		}).Error("Failed to record diagnosis event")
		return fmt.Errorf("recording diagnosis event: %w", err)
	}
	return nil
}

// Stats returns totals and the most frequent diagnoses, at most limit of them.
func (r *AnalyticsRepository) Stats(ctx context.Context, limit int) (*Stats, error) {
	if limit <= 0 {
		limit = 20
	}
	stats := &Stats{BySource: map[string]int64{}, ByDiagnosis: []DiagnosisCount{}}

	rows, err := r.db.Query(ctx, `SELECT source, COUNT(*) FROM diagnosis_events GROUP BY source`)
	if err != nil {
		return nil, fmt.Errorf("counting by source: %w", err)
	}
	for rows.Next() {
		var source string
		var n int64
		if err := rows.Scan(&source, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning source count: %w", err)
		}
		stats.BySource[source] = n
		stats.Total += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("counting by source: %w", err)
	}

	rows, err = r.db.Query(ctx, `
		SELECT primary_diagnosis,
			   COUNT(*),
			   COUNT(*) FILTER (WHERE source = $2),
			   AVG(confidence)
		FROM diagnosis_events
		GROUP BY primary_diagnosis
		ORDER BY COUNT(*) DESC, primary_diagnosis
		LIMIT $1`, limit, string(domain.SourceAIRefined))
	if err != nil {
		return nil, fmt.Errorf("counting by diagnosis: %w", err)
	}
	counts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (DiagnosisCount, error) {
		var c DiagnosisCount
		err := row.Scan(&c.DiseaseID, &c.Count, &c.AIRefined, &c.AvgConfidence)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning diagnosis counts: %w", err)
	}
	stats.ByDiagnosis = append(stats.ByDiagnosis, counts...)
	return stats, nil
}
