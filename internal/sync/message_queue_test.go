package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offline-sync-service/internal/kv"
	"offline-sync-service/internal/remote"
)

type fakeSender struct {
	calls int
	err   error
}

func (f *fakeSender) Send(_ context.Context, _, _ map[string]interface{}) error {
	f.calls++
	return f.err
}

func newTestMessageQueue(t *testing.T) (*OfflineMessageQueue, kv.Store) {
	t.Helper()

	backing := kv.NewMemoryStore()
	q, err := NewOfflineMessageQueue(context.Background(), backing, 3)
	require.NoError(t, err)
	return q, backing
}

func message(id string) map[string]interface{} {
	return map[string]interface{}{"id": id, "body": "hello"}
}

func TestMessageQueueEnqueueRequiresID(t *testing.T) {
	q, _ := newTestMessageQueue(t)

	err := q.Enqueue(context.Background(), map[string]interface{}{"body": "no id"}, nil)
	assert.Error(t, err)
}

func TestMessageQueueEnqueueReplacesDuplicate(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestMessageQueue(t)

	require.NoError(t, q.Enqueue(ctx, message("m1"), nil))
	require.NoError(t, q.Enqueue(ctx, map[string]interface{}{"id": "m1", "body": "edited"}, nil))

	pending := q.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "edited", pending[0].Message["body"])
}

func TestMessageQueueDurability(t *testing.T) {
	ctx := context.Background()
	q, backing := newTestMessageQueue(t)

	require.NoError(t, q.Enqueue(ctx, message("m1"), map[string]interface{}{"source": "test"}))

	reloaded, err := NewOfflineMessageQueue(ctx, backing, 3)
	require.NoError(t, err)
	assert.Equal(t, q.Pending(), reloaded.Pending())
}

func TestMessageQueueDrainDelivers(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestMessageQueue(t)

	require.NoError(t, q.Enqueue(ctx, message("m1"), nil))
	require.NoError(t, q.Enqueue(ctx, message("m2"), nil))

	sender := &fakeSender{}
	sent, failed := q.Drain(ctx, sender)

	assert.Equal(t, 2, sent)
	assert.Equal(t, 0, failed)
	assert.Empty(t, q.Pending())
	assert.Empty(t, q.Failed())
}

func TestMessageQueueDeadLetterAfterCeiling(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestMessageQueue(t)

	require.NoError(t, q.Enqueue(ctx, message("m1"), nil))

	sender := &fakeSender{err: &remote.Error{Category: remote.CategoryServer, Status: 503}}

	q.Drain(ctx, sender)
	require.Len(t, q.Pending(), 1)
	assert.Equal(t, 1, q.Pending()[0].RetryCount)

	q.Drain(ctx, sender)
	require.Len(t, q.Pending(), 1)
	assert.Equal(t, 2, q.Pending()[0].RetryCount)

	// Third failure exhausts the budget: dead-lettered, not dropped.
	q.Drain(ctx, sender)
	assert.Empty(t, q.Pending())

	failed := q.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "m1", failed[0].ID())
	assert.Equal(t, 3, failed[0].RetryCount)

	q.ClearFailed(ctx)
	assert.Empty(t, q.Failed())
}

func TestMessageQueueDeadLettersNonRetryable(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestMessageQueue(t)

	require.NoError(t, q.Enqueue(ctx, message("m1"), nil))

	sender := &fakeSender{err: &remote.Error{Category: remote.CategoryValidation, Status: 422}}
	q.Drain(ctx, sender)

	assert.Empty(t, q.Pending())
	assert.Len(t, q.Failed(), 1)
}

func TestMessageQueueStalePredicate(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestMessageQueue(t)

	require.NoError(t, q.Enqueue(ctx, message("old"), nil))
	require.NoError(t, q.Enqueue(ctx, message("fresh"), nil))

	// Age the first message past the 24h threshold.
	q.mu.Lock()
	q.pending[0].QueuedAt = time.Now().Add(-25 * time.Hour)
	q.mu.Unlock()

	stale := q.Stale()
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].ID())

	// Stale messages are flagged, never auto-deleted.
	assert.Len(t, q.Pending(), 2)
}
