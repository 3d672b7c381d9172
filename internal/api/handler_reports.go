package api

import (
	"errors"

	"github.com/labstack/echo/v4"

	"github.com/spotguard/spotguard/internal/auth"
	"github.com/spotguard/spotguard/internal/ingest"
	"github.com/spotguard/spotguard/internal/orchestrator"
	"github.com/spotguard/spotguard/internal/store"
	"github.com/spotguard/spotguard/pkg/types"
)

// ReportHandler handles everything agents push: pricing telemetry,
// heartbeats, interruption notices and command execution reports
type ReportHandler struct {
	store     *store.Store
	validator *ingest.Validator
	orch      *orchestrator.Orchestrator
}

// NewReportHandler creates a new report handler
func NewReportHandler(s *store.Store, v *ingest.Validator, o *orchestrator.Orchestrator) *ReportHandler {
	return &ReportHandler{store: s, validator: v, orch: o}
}

// PricingReportRequest represents a batch of price observations
type PricingReportRequest struct {
	Reports []ingest.Report `json:"reports" validate:"required,min=1,max=500"`
}

// PricingReportResponse summarizes what the validator did with the batch
type PricingReportResponse struct {
	Accepted int                `json:"accepted"`
	Rejected []ingest.Rejection `json:"rejected,omitempty"`
}

// HeartbeatRequest represents one instance heartbeat
type HeartbeatRequest struct {
	InstanceID string `json:"instance_id" validate:"required"`
	Version    int64  `json:"version" validate:"required,min=1"`
}

// HeartbeatResponse returns the agent's current config snapshot; agents
// compare the version against their cache
type HeartbeatResponse struct {
	Config types.AgentConfig `json:"config"`
}

// NoticeRequest represents a rebalance or termination notice
type NoticeRequest struct {
	InstanceID string `json:"instance_id" validate:"required"`
}

// ExecutionReportRequest acknowledges a delivered command
type ExecutionReportRequest struct {
	CommandID       string        `json:"command_id" validate:"required"`
	Success         bool          `json:"success"`
	ErrorMessage    *string       `json:"error_message,omitempty"`
	PostState       types.Payload `json:"post_state,omitempty"`
	ReplicaID       string        `json:"replica_id,omitempty"`
	ProviderID      string        `json:"provider_id,omitempty"`
	BootTimeSeconds float64       `json:"boot_time_seconds,omitempty"`
}

// Pricing handles POST /api/v1/reports/pricing
func (h *ReportHandler) Pricing(c echo.Context) error {
	agentID := auth.AgentID(c)

	var req PricingReportRequest
	if err := c.Bind(&req); err != nil {
		return ErrorBadRequest(c, "Invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return ErrorBadRequest(c, err.Error())
	}

	result, err := h.validator.IngestBatch(c.Request().Context(), agentID, req.Reports)
	if err != nil {
		if errors.Is(err, ingest.ErrRateLimited) {
			return ErrorTooManyRequests(c, "Pricing report rate limit exceeded")
		}
		return ErrorInternal(c, err.Error())
	}

	return SuccessOK(c, &PricingReportResponse{
		Accepted: len(result.Accepted),
		Rejected: result.Rejected,
	})
}

// Heartbeat handles POST /api/v1/reports/heartbeat. A version conflict
// returns the instance's fresh state so the agent can resync instead of
// retrying blind.
func (h *ReportHandler) Heartbeat(c echo.Context) error {
	agentID := auth.AgentID(c)
	ctx := c.Request().Context()

	var req HeartbeatRequest
	if err := c.Bind(&req); err != nil {
		return ErrorBadRequest(c, "Invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return ErrorBadRequest(c, err.Error())
	}

	instance, err := h.store.Instances.GetByID(ctx, req.InstanceID)
	if err != nil {
		return ErrorFromStore(c, err)
	}
	if instance.AgentID != agentID {
		return ErrorForbidden(c, "Instance belongs to another agent")
	}

	if err := h.store.Instances.Heartbeat(ctx, req.InstanceID, req.Version); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			fresh, getErr := h.store.Instances.GetByID(ctx, req.InstanceID)
			if getErr != nil {
				return ErrorFromStore(c, getErr)
			}
			return c.JSON(409, map[string]interface{}{
				"error":    "version_conflict",
				"instance": fresh,
			})
		}
		return ErrorFromStore(c, err)
	}

	if err := h.store.Agents.Touch(ctx, agentID); err != nil {
		c.Logger().Error("touch agent: ", err)
	}

	agent, err := h.store.Agents.GetByID(ctx, agentID)
	if err != nil {
		return ErrorFromStore(c, err)
	}

	return SuccessOK(c, &HeartbeatResponse{
		Config: types.AgentConfig{
			Version:                agent.ConfigVersion,
			ReplicaMode:            agent.Mode(),
			HeartbeatIntervalSec:   30,
			PriceReportIntervalSec: 60,
		},
	})
}

// Rebalance handles POST /api/v1/reports/rebalance
func (h *ReportHandler) Rebalance(c echo.Context) error {
	agentID := auth.AgentID(c)

	var req NoticeRequest
	if err := c.Bind(&req); err != nil {
		return ErrorBadRequest(c, "Invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return ErrorBadRequest(c, err.Error())
	}

	result, err := h.orch.HandleRebalance(c.Request().Context(), agentID, req.InstanceID)
	if err != nil {
		return ErrorFromStore(c, err)
	}

	return SuccessAccepted(c, result)
}

// Termination handles POST /api/v1/reports/termination
func (h *ReportHandler) Termination(c echo.Context) error {
	agentID := auth.AgentID(c)

	var req NoticeRequest
	if err := c.Bind(&req); err != nil {
		return ErrorBadRequest(c, "Invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return ErrorBadRequest(c, err.Error())
	}

	result, err := h.orch.HandleTermination(c.Request().Context(), agentID, req.InstanceID)
	if err != nil {
		return ErrorFromStore(c, err)
	}

	return SuccessAccepted(c, result)
}

// Execution handles POST /api/v1/reports/execution. Acks are idempotent:
// re-reporting an already-acked command returns it unchanged.
func (h *ReportHandler) Execution(c echo.Context) error {
	agentID := auth.AgentID(c)
	ctx := c.Request().Context()

	var req ExecutionReportRequest
	if err := c.Bind(&req); err != nil {
		return ErrorBadRequest(c, "Invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return ErrorBadRequest(c, err.Error())
	}

	cmd, err := h.store.Commands.GetByID(ctx, req.CommandID)
	if err != nil {
		return ErrorFromStore(c, err)
	}
	if cmd.AgentID != agentID {
		return ErrorForbidden(c, "Command belongs to another agent")
	}

	acked, err := h.store.Commands.Ack(ctx, req.CommandID, req.Success, req.ErrorMessage, req.PostState)
	if err != nil {
		return ErrorFromStore(c, err)
	}

	// A successful replica build flips the replica record to READY,
	// activates its instance and feeds the boot time into placement
	if req.Success && req.ReplicaID != "" && req.BootTimeSeconds > 0 {
		if err := h.orch.HandleReplicaBuilt(ctx, agentID, req.ReplicaID, req.ProviderID, req.BootTimeSeconds); err != nil {
			if errors.Is(err, orchestrator.ErrNotOwner) {
				return ErrorForbidden(c, "Replica belongs to another agent")
			}
			return ErrorFromStore(c, err)
		}
	}

	return SuccessOK(c, acked)
}
