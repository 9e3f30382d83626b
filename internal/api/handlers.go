// Package api contains the HTTP handlers for the case workflow service.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"caseflow/backend/internal/engine"
	"caseflow/backend/internal/logging"
	"caseflow/backend/internal/projection"
	"caseflow/backend/internal/repository"
)

// Server holds the dependencies for the API server.
type Server struct {
	Repo           repository.Store
	Engine         *engine.Engine
	Projector      *projection.Projector
	Log            *logging.Logger
	DefaultSLADays int
}

// NewServer creates a new Server.
func NewServer(repo repository.Store, eng *engine.Engine, proj *projection.Projector, log *logging.Logger, defaultSLADays int) *Server {
	return &Server{Repo: repo, Engine: eng, Projector: proj, Log: log, DefaultSLADays: defaultSLADays}
}

// HealthStatus represents the health check response.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// HandleHealth returns basic health status (always returns 200 OK).
func (s *Server) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "caseflow",
		Version:   "1.0.0",
	})
}

// ProblemDetails represents an RFC 7807 Problem Details response.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// problem maps engine and store errors onto problem+json responses, keeping
// governance rejections distinguishable from bad targets.
func problem(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	title := "Internal Server Error"
	switch {
	case errors.Is(err, repository.ErrNotFound):
		status, title = http.StatusNotFound, "Not Found"
	case errors.Is(err, engine.ErrInvalidTarget):
		status, title = http.StatusBadRequest, "Invalid Override Target"
	case errors.Is(err, repository.ErrOverrideLimit):
		status, title = http.StatusConflict, "Override Limit Reached"
	case errors.Is(err, repository.ErrConflict):
		status, title = http.StatusConflict, "Concurrent Modification"
	}

	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(status, ProblemDetails{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   err.Error(),
		Instance: c.Request().URL.Path,
	})
}
