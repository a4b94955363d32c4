package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chorus-chat/chorus/internal/role"
)

// TestPurpose: Validates the graph cache's load-once behavior and that
// invalidation forces a reload on the next read.
// Scope: Unit Test
// Expected: One upstream load for repeated reads, a second after
// Invalidate, and unaffected tenants keep their entries.
// Test Case ID: RES-07
func TestResolver_GraphCache(t *testing.T) {
	source := &MockGraphSource{graphs: map[string][]*role.Role{
		"t1": chatRoles(),
		"t2": chatRoles(),
	}}
	cache, err := NewGraphCache(source, 8)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := cache.Graph(ctx, "t1")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, source.loads)

	_, err = cache.Graph(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, 2, source.loads)

	cache.Invalidate("t1")
	_, err = cache.Graph(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 3, source.loads)

	// t2 stayed cached through t1's invalidation.
	_, err = cache.Graph(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, 3, source.loads)

	// Load failures are not cached.
	_, err = cache.Graph(ctx, "t-missing")
	assert.Error(t, err)
}
