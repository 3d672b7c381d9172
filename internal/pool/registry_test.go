package pool_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spotguard/spotguard/internal/pool"
)

func TestRegistry_Get(t *testing.T) {
	loader := pool.NewLoader("catalog")
	registry, err := pool.NewRegistry(loader)
	require.NoError(t, err)

	t.Run("retrieves existing pool", func(t *testing.T) {
		p, err := registry.Get("us-east-1a-m5-large")
		require.NoError(t, err)
		assert.Equal(t, "us-east-1a-m5-large", p.Name)
		assert.Equal(t, "m5.large", p.InstanceType)
	})

	t.Run("returns error for non-existent pool", func(t *testing.T) {
		_, err := registry.Get("non-existent")
		assert.Error(t, err)
	})

	t.Run("returns error for disabled pool", func(t *testing.T) {
		_, err := registry.Get("us-west-2a-m5-large")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "disabled")
	})
}

func TestRegistry_List(t *testing.T) {
	loader := pool.NewLoader("catalog")
	registry, err := pool.NewRegistry(loader)
	require.NoError(t, err)

	pools := registry.List()
	assert.NotEmpty(t, pools)

	// Only enabled pools are listed
	for _, p := range pools {
		assert.True(t, p.Enabled, "pool %s should be enabled", p.Name)
	}

	// ListAll also includes the disabled one
	assert.Greater(t, len(registry.ListAll()), len(pools))
}

func TestRegistry_Safest(t *testing.T) {
	loader := pool.NewLoader("catalog")
	registry, err := pool.NewRegistry(loader)
	require.NoError(t, err)

	// us-west-2a has rank 0 but is disabled, so the enabled rank-0 pool wins
	p, err := registry.Safest()
	require.NoError(t, err)
	assert.Equal(t, "us-east-1a-m5-large", p.Name)
}

func TestRegistry_StablePrice(t *testing.T) {
	loader := pool.NewLoader("catalog")
	registry, err := pool.NewRegistry(loader)
	require.NoError(t, err)

	price, err := registry.StablePrice("us-east-1a-c6i-xlarge")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("0.17")))
}
