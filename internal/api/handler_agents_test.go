package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spotguard/spotguard/internal/auth"
	"github.com/spotguard/spotguard/internal/pool"
	"github.com/spotguard/spotguard/internal/store"
	"github.com/spotguard/spotguard/pkg/types"
)

func setupAgentHandler(t *testing.T) (*AgentHandler, *store.Store) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test")
	}
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	st, err := store.NewStore(url)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	require.NoError(t, st.Migrate(context.Background()))

	registry, err := pool.NewRegistry(pool.NewLoader("../pool/catalog"))
	require.NoError(t, err)

	return NewAgentHandler(st, auth.NewAuth("test-secret", time.Hour), registry), st
}

func postRegister(t *testing.T, h *AgentHandler, body string) (*httptest.ResponseRecorder, *RegisterAgentResponse) {
	t.Helper()

	e := echo.New()
	e.Validator = NewValidator()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	require.NoError(t, h.Register(e.NewContext(req, rec)))

	var resp RegisterAgentResponse
	if rec.Code == http.StatusCreated {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, &resp
}

func TestAgentRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("creates the primary instance alongside the agent", func(t *testing.T) {
		h, st := setupAgentHandler(t)

		rec, resp := postRegister(t, h, `{
			"name": "web-`+ksuid.New().String()[:8]+`",
			"client_id": "cli_`+ksuid.New().String()+`",
			"pool_id": "us-east-1a-m5-large"
		}`)
		require.Equal(t, http.StatusCreated, rec.Code)
		require.NotNil(t, resp)
		require.NotNil(t, resp.Instance)

		assert.Equal(t, types.RolePrimary, resp.Instance.Role)
		assert.Equal(t, types.InstanceStatusLaunching, resp.Instance.Status)
		assert.Equal(t, "us-east-1a-m5-large", resp.Instance.PoolID)

		stored, err := st.Instances.GetPrimary(ctx, resp.Agent.ID)
		require.NoError(t, err)
		assert.Equal(t, resp.Instance.ID, stored.ID)
	})

	t.Run("provider id confirms the instance running immediately", func(t *testing.T) {
		h, st := setupAgentHandler(t)

		rec, resp := postRegister(t, h, `{
			"name": "web-`+ksuid.New().String()[:8]+`",
			"client_id": "cli_`+ksuid.New().String()+`",
			"pool_id": "us-east-1a-m5-large",
			"provider_id": "i-`+ksuid.New().String()[:10]+`"
		}`)
		require.Equal(t, http.StatusCreated, rec.Code)
		require.NotNil(t, resp.Instance)

		assert.Equal(t, types.InstanceStatusRunning, resp.Instance.Status)
		assert.NotEmpty(t, resp.Instance.ProviderID)

		stored, err := st.Instances.GetByID(ctx, resp.Instance.ID)
		require.NoError(t, err)
		assert.Equal(t, types.InstanceStatusRunning, stored.Status)
	})

	t.Run("rejects an unknown pool", func(t *testing.T) {
		h, _ := setupAgentHandler(t)

		rec, _ := postRegister(t, h, `{
			"name": "web-`+ksuid.New().String()[:8]+`",
			"client_id": "cli_`+ksuid.New().String()+`",
			"pool_id": "no-such-pool"
		}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
