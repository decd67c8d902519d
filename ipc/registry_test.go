package ipc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDuplicateListenerReplaced(t *testing.T) {
	tr := NewMemoryTransport()
	reg := NewRegistry(tr)
	ctx := context.Background()

	var first, second int
	require.NoError(t, reg.AttachListener(ctx, "events/backend", func(ctx context.Context, payload any) {
		first++
	}))
	require.NoError(t, reg.AttachListener(ctx, "events/backend", func(ctx context.Context, payload any) {
		second++
	}))

	require.NoError(t, tr.Fire(ctx, "events/backend", nil))

	// Exactly one active listener remains: the second.
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestRegistryDuplicateHandlerReplaced(t *testing.T) {
	tr := NewMemoryTransport()
	reg := NewRegistry(tr)
	ctx := context.Background()

	require.NoError(t, reg.AttachHandler(ctx, "test/which", func(ctx context.Context, payload any) (any, error) {
		return "first", nil
	}))
	require.NoError(t, reg.AttachHandler(ctx, "test/which", func(ctx context.Context, payload any) (any, error) {
		return "second", nil
	}))

	out, err := tr.Invoke(ctx, "test/which", nil)
	require.NoError(t, err)
	assert.Equal(t, "second", out)
}

func TestRegistryHandlerReplacesListener(t *testing.T) {
	tr := NewMemoryTransport()
	reg := NewRegistry(tr)
	ctx := context.Background()

	var fired int
	require.NoError(t, reg.AttachListener(ctx, "test/shared", func(ctx context.Context, payload any) {
		fired++
	}))
	require.NoError(t, reg.AttachHandler(ctx, "test/shared", func(ctx context.Context, payload any) (any, error) {
		return "handled", nil
	}))

	out, err := tr.Invoke(ctx, "test/shared", nil)
	require.NoError(t, err)
	assert.Equal(t, "handled", out)
	assert.Equal(t, 0, fired)
}

func TestRegistryDetachAll(t *testing.T) {
	tr := NewMemoryTransport()
	reg := NewRegistry(tr)
	ctx := context.Background()

	var fired int
	require.NoError(t, reg.AttachListener(ctx, "events/a", func(ctx context.Context, payload any) {
		fired++
	}))
	require.NoError(t, reg.AttachHandler(ctx, "test/b", func(ctx context.Context, payload any) (any, error) {
		return nil, nil
	}))
	assert.Equal(t, []string{"events/a", "test/b"}, reg.Channels())

	require.NoError(t, reg.DetachAll(ctx))
	assert.Empty(t, reg.Channels())

	// Firing previously registered channels invokes nothing.
	require.NoError(t, tr.Fire(ctx, "events/a", nil))
	assert.Equal(t, 0, fired)
	_, err := tr.Invoke(ctx, "test/b", nil)
	require.ErrorIs(t, err, ErrNoHandler)

	// DetachAll on an empty registry is a no-op.
	require.NoError(t, reg.DetachAll(ctx))
}
