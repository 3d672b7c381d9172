package api

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/spotguard/spotguard/internal/consolidator"
	"github.com/spotguard/spotguard/internal/store"
	"github.com/spotguard/spotguard/pkg/types"
)

// ConsolidationHandler exposes job history and on-demand catch-up runs
type ConsolidationHandler struct {
	store  *store.Store
	runner *consolidator.Runner
}

// NewConsolidationHandler creates a new consolidation handler
func NewConsolidationHandler(s *store.Store, r *consolidator.Runner) *ConsolidationHandler {
	return &ConsolidationHandler{store: s, runner: r}
}

// CatchupRequest represents an operator-triggered recovery run
type CatchupRequest struct {
	From time.Time `json:"from" validate:"required"`
	To   time.Time `json:"to" validate:"required"`
}

// Jobs handles GET /api/v1/consolidation/jobs
func (h *ConsolidationHandler) Jobs(c echo.Context) error {
	params := ParsePaginationParams(c)

	jobs, err := h.store.Jobs.List(c.Request().Context(), params.Limit, params.Offset)
	if err != nil {
		return ErrorFromStore(c, err)
	}

	return SuccessList(c, jobs, len(jobs))
}

// Job handles GET /api/v1/consolidation/jobs/:id
func (h *ConsolidationHandler) Job(c echo.Context) error {
	job, err := h.store.Jobs.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return ErrorFromStore(c, err)
	}

	return SuccessOK(c, job)
}

// Catchup handles POST /api/v1/consolidation/catchup. Re-consolidating
// an already-covered window is safe: points upsert to identical values.
func (h *ConsolidationHandler) Catchup(c echo.Context) error {
	var req CatchupRequest
	if err := c.Bind(&req); err != nil {
		return ErrorBadRequest(c, "Invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return ErrorBadRequest(c, err.Error())
	}
	if !req.To.After(req.From) {
		return ErrorBadRequest(c, "to must be after from")
	}

	job, err := h.runner.RunWindow(c.Request().Context(), req.From, req.To, types.TriggerCatchup)
	if err != nil {
		return ErrorInternal(c, err.Error())
	}

	return SuccessAccepted(c, job)
}
