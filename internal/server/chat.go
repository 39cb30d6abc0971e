package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/medsterhq/medster/internal/agent/core"
	"github.com/medsterhq/medster/internal/agent/telemetry"
	"github.com/medsterhq/medster/internal/docstore"
)

var chatRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "medster_chat_runs_total",
	Help: "Completed chat runs by terminal status.",
}, []string{"status"})

// QueryRunner is the slice of the agent the chat API needs.
type QueryRunner interface {
	Run(ctx context.Context, query string) core.RunResult
}

// ChatHandler serves the query API and the persisted run history.
type ChatHandler struct {
	Agent     QueryRunner
	Runs      docstore.RunRepository
	Telemetry *telemetry.Telemetry
	Logger    *log.Logger
}

// Register mounts the chat routes on an API group.
func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("/chat", h.chat)
	g.GET("/runs", h.listRuns)
	g.GET("/runs/:id", h.getRun)
	g.DELETE("/runs/:id", h.deleteRun)
	g.GET("/telemetry", h.telemetry)
}

type chatRequest struct {
	Query string `json:"query"`
}

func (h *ChatHandler) chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	ctx := c.Request().Context()
	result := h.Agent.Run(ctx, req.Query)
	chatRunsTotal.WithLabelValues(result.Status).Inc()

	record := docstore.RunRecord{
		ID:         result.ID,
		Query:      result.Query,
		Answer:     result.Answer,
		Status:     result.Status,
		Steps:      result.Steps,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
	}
	if err := h.Runs.SaveRun(ctx, record); err != nil {
		// the answer still goes out; persistence is best effort
		h.Logger.Printf("saving run %s failed: %v", result.ID, err)
	}

	return c.JSON(http.StatusOK, result)
}

func (h *ChatHandler) listRuns(c echo.Context) error {
	runs, err := h.Runs.GetAllRuns(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "listing runs failed")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"runs": runs, "count": len(runs)})
}

func (h *ChatHandler) getRun(c echo.Context) error {
	run, err := h.Runs.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, docstore.ErrRunNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "loading run failed")
	}
	return c.JSON(http.StatusOK, run)
}

func (h *ChatHandler) deleteRun(c echo.Context) error {
	if err := h.Runs.DeleteRun(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "deleting run failed")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *ChatHandler) telemetry(c echo.Context) error {
	if h.Telemetry == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "telemetry disabled")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"metrics": h.Telemetry.GetMetrics(),
		"costs":   h.Telemetry.GetCostSummary(),
	})
}
