package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/symptom-intake-server/internal/domain"
	"github.com/symptom-intake-server/internal/middleware"
	"github.com/symptom-intake-server/internal/pipeline"
	"github.com/symptom-intake-server/internal/report"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type complaintRequest struct {
	Complaint string `json:"complaint"`
}

type analyzeRequest struct {
	AnswerSet *domain.AnswerSet `json:"answer_set" binding:"required"`
}

type answerRequest struct {
	Answer *domain.Answer `json:"answer" binding:"required"`
	Other  string         `json:"other,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   s.app.Config.MCP.ServerVersion,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	st := s.app.Status()
	c.JSON(http.StatusOK, gin.H{
		"status":            st,
		"progress_watchers": s.hub.Subscribers(),
		"progress_dropped":  s.hub.Dropped(),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	if s.app.Analytics == nil {
		s.unavailable(c, "analytics are disabled")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	stats, err := s.app.Analytics.Stats(c.Request.Context(), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleIntakeSteps(c *gin.Context) {
	var req complaintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	result, err := s.app.Generator.Generate(c.Request.Context(), req.Complaint)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	run := s.app.Orchestrator.Start(c.Request.Context(), req.AnswerSet, pipeline.Options{Reanalyze: c.Query("reanalyze") == "true"})
	rep, err := run.Wait(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("X-Run-ID", run.ID)
	c.JSON(http.StatusOK, rep)
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req complaintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	result, sess, err := s.app.Sessions.Start(c.Request.Context(), req.Complaint)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if sess == nil {
		c.JSON(http.StatusOK, gin.H{"intake": result})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"intake": result, "session": sess.Snapshot()})
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, err := s.app.Sessions.Get(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	if !s.app.Sessions.Delete(c.Param("id")) {
		s.writeError(c, domain.ErrSessionNotFound)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRecordAnswer(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	sess, err := s.app.Sessions.Get(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if err := sess.Record(c.Param("key"), *req.Answer, req.Other); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

// handleAnalyzeSession runs the pipeline on a session's answers. With
// async=true it answers 202 at once and the run is followed through the
// progress socket; the session records the report ID when it completes.
func (s *Server) handleAnalyzeSession(c *gin.Context) {
	sess, err := s.app.Sessions.Get(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if missing := sess.Missing(); len(missing) > 0 {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
			"kind":       domain.KindUnrecoverable,
			"message":    domain.ErrIncompleteAnswers.Error(),
			"stage":      domain.StageIntakeComplete,
			"missing":    missing,
			"request_id": c.GetString(middleware.RequestIDKey),
		})
		return
	}

	opts := pipeline.Options{Reanalyze: c.Query("reanalyze") == "true"}
	set := sess.AnswerSet()

	if c.Query("async") == "true" {
		run := s.app.Orchestrator.Start(context.WithoutCancel(c.Request.Context()), set, opts)
		go func() {
			rep, err := run.Wait(context.Background())
			if err != nil {
				return
			}
			sess.SetReport(rep.ID)
		}()
		c.JSON(http.StatusAccepted, gin.H{
			"run_id":      run.ID,
			"fingerprint": run.Fingerprint,
			"progress":    "/api/v1/progress?run_id=" + run.ID,
		})
		return
	}

	run := s.app.Orchestrator.Start(c.Request.Context(), set, opts)
	rep, err := run.Wait(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	sess.SetReport(rep.ID)
	c.Header("X-Run-ID", run.ID)
	c.JSON(http.StatusOK, rep)
}

func (s *Server) handleListReports(c *gin.Context) {
	if s.app.History == nil {
		s.unavailable(c, "report history is disabled")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}

	ctx := c.Request.Context()
	reports, err := s.app.History.List(ctx, limit, offset)
	if err != nil {
		s.writeError(c, err)
		return
	}
	total, err := s.app.History.Count(ctx)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports, "total": total, "limit": limit, "offset": offset})
}

func (s *Server) storedReport(c *gin.Context) (*domain.Report, bool) {
	if s.app.History == nil {
		s.unavailable(c, "report history is disabled")
		return nil, false
	}
	rep, err := s.app.History.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return nil, false
	}
	return rep, true
}

func (s *Server) handleGetReport(c *gin.Context) {
	if rep, ok := s.storedReport(c); ok {
		c.JSON(http.StatusOK, rep)
	}
}

func (s *Server) handleReportMarkdown(c *gin.Context) {
	if rep, ok := s.storedReport(c); ok {
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(report.RenderMarkdown(rep)))
	}
}

func (s *Server) handleDeleteReport(c *gin.Context) {
	if s.app.History == nil {
		s.unavailable(c, "report history is disabled")
		return
	}
	if err := s.app.History.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleExportReports(c *gin.Context) {
	if s.app.History == nil {
		s.unavailable(c, "report history is disabled")
		return
	}
	c.Header("Content-Type", "application/json")
	c.Header("Content-Disposition", `attachment; filename="reports.json"`)
	c.Status(http.StatusOK)
	if err := s.app.History.ExportJSON(c.Request.Context(), c.Writer); err != nil {
		s.logger.WithError(err).Error("Report export interrupted")
	}
}

func (s *Server) handleImportReports(c *gin.Context) {
	if s.app.History == nil {
		s.unavailable(c, "report history is disabled")
		return
	}
	imported, skipped, err := s.app.History.ImportJSON(c.Request.Context(), c.Request.Body)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": imported, "skipped": skipped})
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"kind":       "validation",
		"message":    err.Error(),
		"request_id": c.GetString(middleware.RequestIDKey),
	})
}

func (s *Server) unavailable(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
		"kind":       "unavailable",
		"message":    msg,
		"request_id": c.GetString(middleware.RequestIDKey),
	})
}

// writeError maps service errors to HTTP responses.
func (s *Server) writeError(c *gin.Context, err error) {
	requestID := c.GetString(middleware.RequestIDKey)

	if perr, ok := domain.AsPipelineError(err); ok {
		status := http.StatusUnprocessableEntity
		switch {
		case errors.Is(perr, domain.ErrNoClassifiers):
			status = http.StatusServiceUnavailable
		case errors.Is(perr, context.DeadlineExceeded):
			status = http.StatusGatewayTimeout
		case perr.Kind == domain.KindCancelled:
			status = http.StatusRequestTimeout
		}
		c.AbortWithStatusJSON(status, gin.H{
			"kind":       perr.Kind,
			"message":    perr.Message,
			"stage":      perr.Stage,
			"request_id": requestID,
		})
		return
	}

	var verr *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
			"kind":       "not_found",
			"message":    err.Error(),
			"request_id": requestID,
		})
	case errors.As(err, &verr):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"kind":       "validation",
			"field":      verr.Field,
			"message":    verr.Message,
			"request_id": requestID,
		})
	case errors.Is(err, context.DeadlineExceeded):
		c.AbortWithStatusJSON(http.StatusGatewayTimeout, gin.H{
			"kind":       "timeout",
			"message":    err.Error(),
			"request_id": requestID,
		})
	default:
		s.logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("Request failed")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"kind":       "internal",
			"message":    "internal server error",
			"request_id": requestID,
		})
	}
}
