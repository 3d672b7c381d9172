package api

import (
	"github.com/labstack/echo/v4"

	"github.com/spotguard/spotguard/internal/auth"
	"github.com/spotguard/spotguard/internal/store"
)

// CommandHandler serves the agent command queue
type CommandHandler struct {
	store     *store.Store
	pollLimit int
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(s *store.Store, pollLimit int) *CommandHandler {
	return &CommandHandler{store: s, pollLimit: pollLimit}
}

// Poll handles GET /api/v1/agents/:id/commands. Pending commands are
// handed out in priority order and marked DELIVERED; polling again
// without acking returns nothing new for those commands.
func (h *CommandHandler) Poll(c echo.Context) error {
	agentID := c.Param("id")
	if auth.AgentID(c) != agentID {
		return ErrorForbidden(c, "Agents may only poll their own queue")
	}

	commands, err := h.store.Commands.Poll(c.Request().Context(), agentID, h.pollLimit)
	if err != nil {
		return ErrorFromStore(c, err)
	}

	return SuccessList(c, commands, len(commands))
}

// History handles GET /api/v1/agents/:id/commands/history
func (h *CommandHandler) History(c echo.Context) error {
	agentID := c.Param("id")
	if auth.AgentID(c) != agentID {
		return ErrorForbidden(c, "Agents may only read their own history")
	}

	params := ParsePaginationParams(c)
	commands, err := h.store.Commands.ListByAgent(c.Request().Context(), agentID, params.Limit, params.Offset)
	if err != nil {
		return ErrorFromStore(c, err)
	}

	return SuccessList(c, commands, len(commands))
}
