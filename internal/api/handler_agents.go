package api

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/spotguard/spotguard/internal/auth"
	"github.com/spotguard/spotguard/internal/pool"
	"github.com/spotguard/spotguard/internal/store"
	"github.com/spotguard/spotguard/pkg/types"
)

// AgentHandler handles agent registration, tokens and mode changes
type AgentHandler struct {
	store    *store.Store
	auth     *auth.Auth
	registry *pool.Registry
}

// NewAgentHandler creates a new agent handler
func NewAgentHandler(s *store.Store, a *auth.Auth, r *pool.Registry) *AgentHandler {
	return &AgentHandler{store: s, auth: a, registry: r}
}

// RegisterAgentRequest represents the API request to register an agent.
// PoolID names the pool the agent's machine runs in; ProviderID is set
// when the machine already exists at the provider.
type RegisterAgentRequest struct {
	Name       string `json:"name" validate:"required,min=3,max=63"`
	ClientID   string `json:"client_id" validate:"required"`
	PoolID     string `json:"pool_id" validate:"required"`
	ProviderID string `json:"provider_id,omitempty"`
}

// RegisterAgentResponse returns the agent, its primary instance and the
// API key. The key is shown exactly once; only the hash survives.
type RegisterAgentResponse struct {
	Agent    *types.Agent    `json:"agent"`
	Instance *types.Instance `json:"instance"`
	APIKey   string          `json:"api_key"`
}

// TokenRequest represents the API request to exchange a key for a token
type TokenRequest struct {
	APIKey string `json:"api_key" validate:"required"`
}

// TokenResponse carries a session token
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// ModeRequest represents the API request to change the replica mode
type ModeRequest struct {
	Mode types.ReplicaMode `json:"mode" validate:"required,oneof=off manual emergency"`
}

// Register handles POST /api/v1/agents. Registration also creates the
// agent's primary instance: LAUNCHING, then confirmed RUNNING right away
// when the machine already has a provider id.
func (h *AgentHandler) Register(c echo.Context) error {
	ctx := c.Request().Context()

	var req RegisterAgentRequest
	if err := c.Bind(&req); err != nil {
		return ErrorBadRequest(c, "Invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return ErrorBadRequest(c, err.Error())
	}

	if !h.registry.Exists(req.PoolID) {
		return ErrorBadRequest(c, "Unknown pool: "+req.PoolID)
	}

	apiKey, err := auth.GenerateAPIKey()
	if err != nil {
		return ErrorInternal(c, "Failed to generate API key")
	}
	hash, err := auth.HashAPIKey(apiKey)
	if err != nil {
		return ErrorInternal(c, "Failed to hash API key")
	}

	agent := &types.Agent{
		ID:         types.GenerateAgentID(),
		Name:       req.Name,
		ClientID:   req.ClientID,
		APIKeyHash: hash,
	}
	if err := h.store.Agents.Create(ctx, agent); err != nil {
		return ErrorFromStore(c, err)
	}

	now := time.Now().UTC()
	instance := &types.Instance{
		ID:                types.GenerateInstanceID(),
		AgentID:           agent.ID,
		Role:              types.RolePrimary,
		Status:            types.InstanceStatusLaunching,
		Mode:              types.ModeDiscounted,
		PoolID:            req.PoolID,
		LaunchRequestedAt: &now,
	}
	if err := h.store.Instances.Create(ctx, instance); err != nil {
		return ErrorFromStore(c, err)
	}

	if req.ProviderID != "" {
		if _, err := h.store.Instances.ConfirmLaunch(ctx, instance.ID, instance.Version, req.ProviderID); err != nil {
			return ErrorFromStore(c, err)
		}
		fresh, err := h.store.Instances.GetByID(ctx, instance.ID)
		if err != nil {
			return ErrorFromStore(c, err)
		}
		instance = fresh
	}

	return SuccessCreated(c, &RegisterAgentResponse{Agent: agent, Instance: instance, APIKey: apiKey})
}

// Token handles POST /api/v1/agents/:id/token
func (h *AgentHandler) Token(c echo.Context) error {
	var req TokenRequest
	if err := c.Bind(&req); err != nil {
		return ErrorBadRequest(c, "Invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return ErrorBadRequest(c, err.Error())
	}

	agent, err := h.store.Agents.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		// A wrong ID and a wrong key answer identically
		return ErrorUnauthorized(c, "Invalid agent credentials")
	}

	if err := auth.CheckAPIKey(req.APIKey, agent.APIKeyHash); err != nil {
		return ErrorUnauthorized(c, "Invalid agent credentials")
	}

	token, err := h.auth.GenerateToken(agent)
	if err != nil {
		return ErrorInternal(c, "Failed to issue token")
	}

	return SuccessOK(c, &TokenResponse{
		Token:     token,
		ExpiresIn: int64(h.auth.TokenTTL().Seconds()),
	})
}

// Mode handles PATCH /api/v1/agents/:id/mode. The two replica modes are
// mutually exclusive: enabling one while the other is on is a conflict,
// never a silent override.
func (h *AgentHandler) Mode(c echo.Context) error {
	agentID := c.Param("id")
	if auth.AgentID(c) != agentID {
		return ErrorForbidden(c, "Agents may only change their own mode")
	}

	var req ModeRequest
	if err := c.Bind(&req); err != nil {
		return ErrorBadRequest(c, "Invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return ErrorBadRequest(c, err.Error())
	}

	ctx := c.Request().Context()

	var err error
	switch req.Mode {
	case types.ReplicaModeManual:
		err = h.store.Agents.EnableManualReplica(ctx, agentID)
	case types.ReplicaModeEmergency:
		err = h.store.Agents.EnableEmergencyAuto(ctx, agentID)
	case types.ReplicaModeOff:
		err = h.store.Agents.DisableReplicaModes(ctx, agentID)
	}
	if err != nil {
		return ErrorFromStore(c, err)
	}

	event := &types.AuditEvent{
		ID:      types.GenerateEventID(),
		Actor:   agentID,
		Action:  types.AuditActionModeChange,
		AgentID: &agentID,
		Reason:  "replica mode set to " + string(req.Mode),
	}
	if err := h.store.Audit.Log(ctx, event); err != nil {
		c.Logger().Error("record mode change: ", err)
	}

	agent, err := h.store.Agents.GetByID(ctx, agentID)
	if err != nil {
		return ErrorFromStore(c, err)
	}

	return SuccessOK(c, agent)
}

// Get handles GET /api/v1/agents/:id
func (h *AgentHandler) Get(c echo.Context) error {
	agent, err := h.store.Agents.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return ErrorFromStore(c, err)
	}
	return SuccessOK(c, agent)
}
