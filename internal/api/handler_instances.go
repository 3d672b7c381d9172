package api

import (
	"github.com/labstack/echo/v4"

	"github.com/spotguard/spotguard/internal/store"
)

// InstanceHandler exposes instance state for operator visibility
type InstanceHandler struct {
	store *store.Store
}

// NewInstanceHandler creates a new instance handler
func NewInstanceHandler(s *store.Store) *InstanceHandler {
	return &InstanceHandler{store: s}
}

// List handles GET /api/v1/instances?agent_id=...
func (h *InstanceHandler) List(c echo.Context) error {
	agentID := c.QueryParam("agent_id")
	if agentID == "" {
		return ErrorBadRequest(c, "agent_id query parameter is required")
	}

	instances, err := h.store.Instances.ListByAgent(c.Request().Context(), agentID)
	if err != nil {
		return ErrorFromStore(c, err)
	}

	return SuccessList(c, instances, len(instances))
}

// Get handles GET /api/v1/instances/:id
func (h *InstanceHandler) Get(c echo.Context) error {
	instance, err := h.store.Instances.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return ErrorFromStore(c, err)
	}

	return SuccessOK(c, instance)
}
