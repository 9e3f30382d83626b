package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"caseflow/backend/internal/auth"
	"caseflow/backend/pkg/models"
)

// RefinanceReadyColumn is the board column surfaced by the refinance-ready
// report.
const RefinanceReadyColumn = "💰 Refinance Ready"

// Register mounts the workflow routes on the given group. overrideGuard gates
// the override route; pass nil to leave it open (tests, bypass mode).
func (s *Server) Register(g *echo.Group, overrideGuard echo.MiddlewareFunc) {
	g.POST("/cases", s.CreateCase)
	g.GET("/cases/:case_id/workflow", s.CaseWorkflow)
	g.POST("/cases/:case_id/actions", s.RecordAction)
	g.POST("/cases/:case_id/documents", s.RecordDocument)

	if overrideGuard != nil {
		g.POST("/cases/:case_id/workflow/override", s.Override, overrideGuard)
	} else {
		g.POST("/cases/:case_id/workflow/override", s.Override)
	}

	g.GET("/kanban/foreclosure", s.Kanban)
	g.GET("/workflow/analytics", s.Analytics)
	g.GET("/workflow/reports/stage-distribution", s.ReportStageDistribution)
	g.GET("/workflow/reports/time-per-stage", s.ReportTimePerStage)
	g.GET("/workflow/reports/block-reasons", s.ReportBlockReasons)
	g.GET("/workflow/reports/sla-breaches", s.ReportSLABreaches)
	g.GET("/workflow/reports/refinance-ready", s.ReportRefinanceReady)
}

type createCaseRequest struct {
	Reference string `json:"reference"`
}

// CreateCase creates a case and initializes its workflow instance.
// (POST /api/v1/cases)
func (s *Server) CreateCase(c echo.Context) error {
	ctx := c.Request().Context()

	var req createCaseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	newCase := &models.Case{Reference: req.Reference}
	if err := s.Repo.CreateCase(ctx, newCase); err != nil {
		return problem(c, err)
	}
	if _, err := s.Engine.Initialize(ctx, newCase.ID); err != nil {
		return problem(c, err)
	}

	summary, err := s.Engine.Summary(ctx, newCase.ID)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"case": newCase, "workflow": summary})
}

// CaseWorkflow initializes (idempotently), syncs and summarizes the case's
// workflow state.
// (GET /api/v1/cases/:case_id/workflow)
func (s *Server) CaseWorkflow(c echo.Context) error {
	ctx := c.Request().Context()
	caseID := c.Param("case_id")

	if _, err := s.Engine.Initialize(ctx, caseID); err != nil {
		return problem(c, err)
	}
	summary, err := s.Engine.Summary(ctx, caseID)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, summary)
}

type overrideRequest struct {
	ToStepKey      string `json:"to_step_key"`
	Reason         string `json:"reason"`
	ReasonCategory string `json:"reason_category"`
}

// Override force-sets the case's current step, subject to the governance cap.
// (POST /api/v1/cases/:case_id/workflow/override)
func (s *Server) Override(c echo.Context) error {
	ctx := c.Request().Context()
	caseID := c.Param("case_id")

	var req overrideRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.ToStepKey == "" || req.Reason == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "to_step_key and reason are required")
	}

	actor := auth.ActorID(c)
	if actor == "" {
		actor = "unknown"
	}

	if _, err := s.Engine.Initialize(ctx, caseID); err != nil {
		return problem(c, err)
	}
	_, err := s.Engine.ApplyOverride(ctx, caseID, req.ToStepKey, actor, req.Reason, models.OverrideCategory(req.ReasonCategory))
	if err != nil {
		return problem(c, err)
	}

	summary, err := s.Engine.Summary(ctx, caseID)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, summary)
}

type recordActionRequest struct {
	ActionTag  string `json:"action_tag"`
	ReasonCode string `json:"reason_code"`
}

// RecordAction appends an action tag to the case's audit log and re-syncs.
// (POST /api/v1/cases/:case_id/actions)
func (s *Server) RecordAction(c echo.Context) error {
	ctx := c.Request().Context()
	caseID := c.Param("case_id")

	var req recordActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.ActionTag == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "action_tag is required")
	}

	if _, err := s.Repo.GetCase(ctx, caseID); err != nil {
		return problem(c, err)
	}

	actor := auth.ActorID(c)
	entry := &models.AuditEntry{
		CaseID:     caseID,
		ActorID:    actor,
		ActionType: req.ActionTag,
		ReasonCode: req.ReasonCode,
	}
	if err := s.Repo.RecordAction(ctx, entry); err != nil {
		return problem(c, err)
	}

	if _, err := s.Engine.Initialize(ctx, caseID); err != nil {
		return problem(c, err)
	}
	summary, err := s.Engine.Summary(ctx, caseID)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, summary)
}

type recordDocumentRequest struct {
	DocType string `json:"doc_type"`
}

// RecordDocument appends a document record for the case and re-syncs.
// (POST /api/v1/cases/:case_id/documents)
func (s *Server) RecordDocument(c echo.Context) error {
	ctx := c.Request().Context()
	caseID := c.Param("case_id")

	var req recordDocumentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.DocType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "doc_type is required")
	}

	if _, err := s.Repo.GetCase(ctx, caseID); err != nil {
		return problem(c, err)
	}

	doc := &models.DocumentRecord{
		CaseID:     caseID,
		DocType:    req.DocType,
		UploadedBy: auth.ActorID(c),
	}
	if err := s.Repo.RecordDocument(ctx, doc); err != nil {
		return problem(c, err)
	}

	if _, err := s.Engine.Initialize(ctx, caseID); err != nil {
		return problem(c, err)
	}
	summary, err := s.Engine.Summary(ctx, caseID)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, summary)
}

// Kanban returns the board projection.
// (GET /api/v1/kanban/foreclosure)
func (s *Server) Kanban(c echo.Context) error {
	board, err := s.Projector.Board(c.Request().Context())
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, board)
}

// Analytics returns the portfolio metrics.
// (GET /api/v1/workflow/analytics?sla_days=N)
func (s *Server) Analytics(c echo.Context) error {
	slaDays := s.DefaultSLADays
	if raw := c.QueryParam("sla_days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "sla_days must be a positive integer")
		}
		slaDays = parsed
	}

	analytics, err := s.Projector.Analytics(c.Request().Context(), slaDays)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, analytics)
}

// ReportStageDistribution reports case counts per board column.
// (GET /api/v1/workflow/reports/stage-distribution)
func (s *Server) ReportStageDistribution(c echo.Context) error {
	distribution, err := s.Projector.StageDistribution(c.Request().Context())
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"stage_distribution": distribution})
}

// ReportTimePerStage reports average dwell days per step.
// (GET /api/v1/workflow/reports/time-per-stage)
func (s *Server) ReportTimePerStage(c echo.Context) error {
	analytics, err := s.Projector.Analytics(c.Request().Context(), s.DefaultSLADays)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"avg_days_per_stage": analytics.Portfolio.AvgDaysPerStage})
}

// ReportBlockReasons reports the block-reason histogram.
// (GET /api/v1/workflow/reports/block-reasons)
func (s *Server) ReportBlockReasons(c echo.Context) error {
	analytics, err := s.Projector.Analytics(c.Request().Context(), s.DefaultSLADays)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"block_reason_frequency": analytics.Portfolio.BlockReasonFrequency})
}

// ReportSLABreaches reports SLA breach and time-risk counts.
// (GET /api/v1/workflow/reports/sla-breaches)
func (s *Server) ReportSLABreaches(c echo.Context) error {
	analytics, err := s.Projector.Analytics(c.Request().Context(), s.DefaultSLADays)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"sla_breach_count": analytics.Portfolio.SLABreachCount,
		"time_risk_count":  analytics.Portfolio.TimeRiskCount,
	})
}

// ReportRefinanceReady lists the cases sitting in the refinance-ready column.
// (GET /api/v1/workflow/reports/refinance-ready)
func (s *Server) ReportRefinanceReady(c echo.Context) error {
	board, err := s.Projector.Board(c.Request().Context())
	if err != nil {
		return problem(c, err)
	}
	for _, column := range board.Columns {
		if column.Name == RefinanceReadyColumn {
			return c.JSON(http.StatusOK, map[string]any{
				"refinance_ready_count": len(column.Cases),
				"cases":                 column.Cases,
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"refinance_ready_count": 0, "cases": []any{}})
}
