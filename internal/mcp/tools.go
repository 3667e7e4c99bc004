package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/symptom-intake-server/internal/domain"
	"github.com/symptom-intake-server/internal/pipeline"
	"github.com/symptom-intake-server/internal/report"
)

const maxListLimit = 100

// GenerateStepsParams defines parameters for generate_intake_steps.
type GenerateStepsParams struct {
	Complaint string `json:"complaint"`
}

// AnalyzeParams defines parameters for analyze_answers. Answers are keyed by
// step key: a string for single choice, an array for multiple choice and an
// object of category to value for demographics.
type AnalyzeParams struct {
	Complaint  string            `json:"complaint"`
	Answers    map[string]any    `json:"answers"`
	Other      map[string]string `json:"other,omitempty"`
	Hints      []string          `json:"hints,omitempty"`
	Deselected []string          `json:"deselected,omitempty"`
	Reanalyze  bool              `json:"reanalyze,omitempty"`
}

// StatusParams is empty; pipeline_status takes no arguments.
type StatusParams struct{}

// GetReportParams defines parameters for get_report.
type GetReportParams struct {
	ID     string `json:"id"`
	Format string `json:"format,omitempty"`
}

// ListReportsParams defines parameters for list_reports.
type ListReportsParams struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// ExportReportsParams defines parameters for export_reports.
type ExportReportsParams struct {
	Filename string `json:"filename,omitempty"`
}

// AnalyzeResult is the analyze_answers payload.
type AnalyzeResult struct {
	RunID    string         `json:"run_id"`
	Report   *domain.Report `json:"report"`
	Markdown string         `json:"markdown"`
}

func (s *Server) handleGenerateSteps(ctx context.Context, req *mcp.CallToolRequest, params GenerateStepsParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "generate_intake_steps").Info("Tool invoked")

	result, err := s.app.Generator.Generate(ctx, params.Complaint)
	if err != nil {
		return errorResult("intake generation failed", err), nil, nil
	}
	return jsonResult(result)
}

func (s *Server) handleAnalyze(ctx context.Context, req *mcp.CallToolRequest, params AnalyzeParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "analyze_answers").Info("Tool invoked")

	set, err := params.answerSet()
	if err != nil {
		return errorResult("invalid answers", err), nil, nil
	}

	run := s.app.Orchestrator.Start(ctx, set, pipeline.Options{Reanalyze: params.Reanalyze})
	rep, err := run.Wait(ctx)
	if err != nil {
		return errorResult("analysis failed", err), nil, nil
	}
	return jsonResult(AnalyzeResult{
		RunID:    run.ID,
		Report:   rep,
		Markdown: report.RenderMarkdown(rep),
	})
}

func (s *Server) handleStatus(ctx context.Context, req *mcp.CallToolRequest, params StatusParams) (*mcp.CallToolResult, any, error) {
	return jsonResult(s.app.Status())
}

func (s *Server) handleGetReport(ctx context.Context, req *mcp.CallToolRequest, params GetReportParams) (*mcp.CallToolResult, any, error) {
	if s.app.History == nil {
		return errorResult("report history is disabled", nil), nil, nil
	}
	if params.ID == "" {
		return errorResult("missing required parameter", errors.New("id is required")), nil, nil
	}

	rep, err := s.app.History.Get(ctx, params.ID)
	if err != nil {
		return errorResult("report lookup failed", err), nil, nil
	}

	switch params.Format {
	case "", "json":
		return jsonResult(rep)
	case "markdown", "md":
		return textResult(report.RenderMarkdown(rep)), nil, nil
	default:
		return errorResult("unsupported format", fmt.Errorf("format %q is not json or markdown", params.Format)), nil, nil
	}
}

func (s *Server) handleListReports(ctx context.Context, req *mcp.CallToolRequest, params ListReportsParams) (*mcp.CallToolResult, any, error) {
	if s.app.History == nil {
		return errorResult("report history is disabled", nil), nil, nil
	}
	limit := params.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = 20
	}
	offset := max(params.Offset, 0)

	reports, err := s.app.History.List(ctx, limit, offset)
	if err != nil {
		return errorResult("listing reports failed", err), nil, nil
	}
	total, err := s.app.History.Count(ctx)
	if err != nil {
		return errorResult("counting reports failed", err), nil, nil
	}
	return jsonResult(map[string]any{
		"reports": reports,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

func (s *Server) handleExportReports(ctx context.Context, req *mcp.CallToolRequest, params ExportReportsParams) (*mcp.CallToolResult, any, error) {
	if s.app.History == nil {
		return errorResult("report history is disabled", nil), nil, nil
	}
	if s.exportDir == "" {
		return errorResult("no export directory configured", nil), nil, nil
	}

	name := filepath.Base(params.Filename)
	if params.Filename == "" || name == "." || name == string(filepath.Separator) {
		name = fmt.Sprintf("reports-%s.json", time.Now().UTC().Format("20060102-150405"))
	}
	path := filepath.Join(s.exportDir, name)

	f, err := os.Create(path)
	if err != nil {
		return errorResult("cannot create export file", err), nil, nil
	}
	defer f.Close()

	if err := s.app.History.ExportJSON(ctx, f); err != nil {
		return errorResult("export failed", err), nil, nil
	}
	s.logger.WithFields(logrus.Fields{"tool": "export_reports", "path": path}).Info("Reports exported")
	return jsonResult(map[string]string{"path": path})
}

// answerSet decodes the loosely typed tool arguments through the answer JSON
// codec so shape rules match the HTTP API.
func (p AnalyzeParams) answerSet() (*domain.AnswerSet, error) {
	raw, err := json.Marshal(map[string]any{
		"complaint":  p.Complaint,
		"answers":    p.Answers,
		"other":      p.Other,
		"hints":      p.Hints,
		"deselected": p.Deselected,
	})
	if err != nil {
		return nil, err
	}
	var set domain.AnswerSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, err
	}
	return &set, nil
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("encoding result failed", err), nil, nil
	}
	return textResult(string(data)), nil, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// errorResult creates a standardized error result for tool calls. Pipeline
// errors carry their kind and stage.
func errorResult(message string, err error) *mcp.CallToolResult {
	text := "Error: " + message
	if perr, ok := domain.AsPipelineError(err); ok {
		text += fmt.Sprintf(" [%s at %s] %s", perr.Kind, perr.Stage, perr.Message)
	} else if err != nil {
		text += " - " + err.Error()
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}
