package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offline-sync-service/internal/kv"
)

func TestPendingOperationStoreEnqueue(t *testing.T) {
	ctx := context.Background()
	store, err := NewPendingOperationStore(ctx, kv.NewMemoryStore())
	require.NoError(t, err)

	id, err := store.Enqueue(ctx, "tasks", OpCreate, map[string]interface{}{"title": "buy milk"}, "")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	ops := store.List()
	require.Len(t, ops, 1)
	assert.Equal(t, "tasks", ops[0].Table)
	assert.Equal(t, OpCreate, ops[0].Kind)
	assert.Equal(t, 0, ops[0].RetryCount)
	assert.False(t, ops[0].QueuedAt.IsZero())
}

func TestPendingOperationStoreRequiresRecordID(t *testing.T) {
	ctx := context.Background()
	store, err := NewPendingOperationStore(ctx, kv.NewMemoryStore())
	require.NoError(t, err)

	tests := []struct {
		name    string
		kind    OperationKind
		id      string
		wantErr bool
	}{
		{"update without record id", OpUpdate, "", true},
		{"delete without record id", OpDelete, "", true},
		{"create without record id", OpCreate, "", false},
		{"update with record id", OpUpdate, "r1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Enqueue(ctx, "tasks", tt.kind, nil, tt.id)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPendingOperationStoreDurability(t *testing.T) {
	ctx := context.Background()
	backing := kv.NewMemoryStore()

	store, err := NewPendingOperationStore(ctx, backing)
	require.NoError(t, err)

	_, err = store.Enqueue(ctx, "tasks", OpCreate, map[string]interface{}{"title": "first"}, "")
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, "expenses", OpUpdate, map[string]interface{}{"amount": 12.5}, "e1")
	require.NoError(t, err)

	before := store.List()

	// Simulated crash: a fresh store reloads from the same persistence layer.
	reloaded, err := NewPendingOperationStore(ctx, backing)
	require.NoError(t, err)

	assert.Equal(t, before, reloaded.List())
}

func TestPendingOperationStoreRemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, err := NewPendingOperationStore(ctx, kv.NewMemoryStore())
	require.NoError(t, err)

	id, err := store.Enqueue(ctx, "tasks", OpCreate, nil, "")
	require.NoError(t, err)

	store.Remove(ctx, id)
	assert.Equal(t, 0, store.Count())

	// Removing again, and removing garbage, are no-ops.
	store.Remove(ctx, id)
	store.Remove(ctx, "no-such-id")
	assert.Equal(t, 0, store.Count())
}

func TestPendingOperationStoreIncrementRetry(t *testing.T) {
	ctx := context.Background()
	store, err := NewPendingOperationStore(ctx, kv.NewMemoryStore())
	require.NoError(t, err)

	id, err := store.Enqueue(ctx, "tasks", OpCreate, nil, "")
	require.NoError(t, err)

	assert.Equal(t, 1, store.IncrementRetry(ctx, id))
	assert.Equal(t, 2, store.IncrementRetry(ctx, id))
	assert.Equal(t, 0, store.IncrementRetry(ctx, "no-such-id"))
}

func TestPendingOperationStoreApplyPass(t *testing.T) {
	ctx := context.Background()
	store, err := NewPendingOperationStore(ctx, kv.NewMemoryStore())
	require.NoError(t, err)

	a, _ := store.Enqueue(ctx, "tasks", OpCreate, nil, "")
	b, _ := store.Enqueue(ctx, "tasks", OpCreate, nil, "")
	c, _ := store.Enqueue(ctx, "tasks", OpCreate, nil, "")

	store.ApplyPass(ctx, []string{a}, []string{b})

	ops := store.List()
	require.Len(t, ops, 2)
	assert.Equal(t, b, ops[0].ID)
	assert.Equal(t, 1, ops[0].RetryCount)
	assert.Equal(t, c, ops[1].ID)
	assert.Equal(t, 0, ops[1].RetryCount)
}

func TestPendingOperationStoreMeanRetryCount(t *testing.T) {
	ctx := context.Background()
	store, err := NewPendingOperationStore(ctx, kv.NewMemoryStore())
	require.NoError(t, err)

	assert.Equal(t, 0, store.MeanRetryCount())

	a, _ := store.Enqueue(ctx, "tasks", OpCreate, nil, "")
	b, _ := store.Enqueue(ctx, "tasks", OpCreate, nil, "")
	for i := 0; i < 4; i++ {
		store.IncrementRetry(ctx, a)
	}
	store.IncrementRetry(ctx, b)

	// (4 + 1) / 2
	assert.Equal(t, 2, store.MeanRetryCount())
}

func TestPendingOperationStorePreservesInsertionOrder(t *testing.T) {
	ctx := context.Background()
	store, err := NewPendingOperationStore(ctx, kv.NewMemoryStore())
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := store.Enqueue(ctx, "tasks", OpCreate, nil, "")
		require.NoError(t, err)
		ids = append(ids, id)
	}

	ops := store.List()
	require.Len(t, ops, len(ids))
	for i, op := range ops {
		assert.Equal(t, ids[i], op.ID)
	}
}

func TestOperationKindJSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	backing := kv.NewMemoryStore()

	store, err := NewPendingOperationStore(ctx, backing)
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, "tasks", OpDelete, nil, "t9")
	require.NoError(t, err)

	reloaded, err := NewPendingOperationStore(ctx, backing)
	require.NoError(t, err)

	ops := reloaded.List()
	require.Len(t, ops, 1)
	assert.Equal(t, OpDelete, ops[0].Kind)
	assert.WithinDuration(t, time.Now(), ops[0].QueuedAt, time.Minute)
}
