package domain

import (
	"context"
)

// IntakeResult is the outcome of complaint screening and step generation.
// A rejected complaint is a normal result with Valid=false and a reason.
type IntakeResult struct {
	Valid     bool     `json:"valid"`
	Error     string   `json:"error,omitempty"`
	Steps     StepList `json:"steps"`
	Suggested []string `json:"suggested"`
	// ScreenedBy records which policy judged the complaint.
	ScreenedBy string `json:"screened_by,omitempty"`
}

// ScreenVerdict is the reasoning service's judgement on a complaint.
type ScreenVerdict struct {
	Valid    bool     `json:"valid"`
	Reason   string   `json:"reason,omitempty"`
	Symptoms []string `json:"symptoms,omitempty"`
}

// RefineRequest carries everything the reasoning service sees for a re-rank.
type RefineRequest struct {
	Complaint  string
	Answers    *AnswerSet
	Candidates []RankedDiagnosis
}

// RefinedCandidate is one entry of the service's proposed ordering.
type RefinedCandidate struct {
	DiseaseID  string `json:"disease_id"`
	Annotation string `json:"annotation,omitempty"`
}

// RefineResponse is the raw, unanchored reply of the reasoning service.
type RefineResponse struct {
	Ranking        []RefinedCandidate  `json:"ranking"`
	Rationale      string              `json:"rationale"`
	Recommendation *RecommendationText `json:"recommendation,omitempty"`
}

// ComplaintScreener judges complaints on behalf of the step generator.
type ComplaintScreener interface {
	Available() bool
	ScreenComplaint(ctx context.Context, complaint string) (*ScreenVerdict, error)
}

// Refiner re-ranks ensemble candidates.
type Refiner interface {
	Available() bool
	Refine(ctx context.Context, req RefineRequest) (*RefineResponse, error)
}

// ReportSink is an optional collaborator that receives finished reports.
// Sinks never influence diagnostic output; their failures are logged only.
type ReportSink interface {
	Name() string
	Enabled() bool
	Publish(ctx context.Context, report *Report) error
}

// ReportSummary is a list-view row of a stored report.
type ReportSummary struct {
	ID               string  `json:"id"`
	CreatedAt        string  `json:"created_at"`
	Complaint        string  `json:"complaint"`
	PrimaryDiagnosis string  `json:"primary_diagnosis"`
	Confidence       float64 `json:"confidence"`
	Source           Source  `json:"source"`
}

// ReportStore persists compiled reports.
type ReportStore interface {
	Save(ctx context.Context, report *Report) error
	Get(ctx context.Context, id string) (*Report, error)
	List(ctx context.Context, limit, offset int) ([]ReportSummary, error)
	Count(ctx context.Context) (int, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
