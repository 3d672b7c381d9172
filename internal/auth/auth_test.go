package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spotguard/spotguard/pkg/types"
)

func TestAPIKeys(t *testing.T) {
	key, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "sgk_"))

	hash, err := HashAPIKey(key)
	require.NoError(t, err)
	assert.NotEqual(t, key, hash)

	assert.NoError(t, CheckAPIKey(key, hash))
	assert.Error(t, CheckAPIKey("sgk_wrong", hash))
}

func TestTokens(t *testing.T) {
	a := NewAuth("test-secret-at-least-32-characters!!", time.Hour)
	agent := &types.Agent{ID: "agt_1", ClientID: "client-1"}

	t.Run("round trip", func(t *testing.T) {
		token, err := a.GenerateToken(agent)
		require.NoError(t, err)

		claims, err := a.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, "agt_1", claims.AgentID)
		assert.Equal(t, "client-1", claims.ClientID)
		assert.Equal(t, "agt_1", claims.Subject)
	})

	t.Run("rejects token signed with another secret", func(t *testing.T) {
		other := NewAuth("a-different-secret-also-32-chars!!!!", time.Hour)
		token, err := other.GenerateToken(agent)
		require.NoError(t, err)

		_, err = a.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("rejects expired token", func(t *testing.T) {
		shortLived := NewAuth("test-secret-at-least-32-characters!!", -time.Minute)
		token, err := shortLived.GenerateToken(agent)
		require.NoError(t, err)

		_, err = a.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := a.ValidateToken("not.a.token")
		assert.Error(t, err)
	})
}
