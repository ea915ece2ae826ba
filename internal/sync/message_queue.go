package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"offline-sync-service/internal/kv"
	"offline-sync-service/internal/logger"
	"offline-sync-service/internal/remote"
)

const (
	messageQueueKey   = "offline_message_queue"
	failedMessagesKey = "offline_failed_messages"

	// Messages older than this are flagged stale for the caller to clean up;
	// the queue never deletes them on its own.
	messageStaleAfter = 24 * time.Hour
)

// QueuedMessage is one message awaiting delivery. Identity is the message's
// own "id" field.
type QueuedMessage struct {
	Message    map[string]interface{} `json:"message"`
	Context    map[string]interface{} `json:"context,omitempty"`
	QueuedAt   time.Time              `json:"queued_at"`
	RetryCount int                    `json:"retry_count"`
}

func (m QueuedMessage) ID() string {
	id, _ := m.Message["id"].(string)
	return id
}

// Stale reports whether the message has sat in the queue for over 24 hours.
func (m QueuedMessage) Stale(now time.Time) bool {
	return now.Sub(m.QueuedAt) > messageStaleAfter
}

// OfflineMessageQueue is the message-scoped sibling of PendingOperationStore.
// It retries per message rather than per pass, and a message that exhausts
// its retry budget moves to a dead-letter bucket instead of being dropped,
// so callers can present failed deliveries for manual recovery.
type OfflineMessageQueue struct {
	mu         sync.Mutex
	store      kv.Store
	pending    []QueuedMessage
	failed     []QueuedMessage
	maxRetries int
	now        func() time.Time
}

func NewOfflineMessageQueue(ctx context.Context, store kv.Store, maxRetries int) (*OfflineMessageQueue, error) {
	q := &OfflineMessageQueue{
		store:      store,
		maxRetries: maxRetries,
		now:        time.Now,
	}
	if err := q.loadBucket(ctx, messageQueueKey, &q.pending); err != nil {
		return nil, err
	}
	if err := q.loadBucket(ctx, failedMessagesKey, &q.failed); err != nil {
		return nil, err
	}
	return q, nil
}

// Enqueue records a message for later delivery. The message must carry an
// "id" field; enqueueing an id already present replaces the older entry.
func (q *OfflineMessageQueue) Enqueue(ctx context.Context, message, msgContext map[string]interface{}) error {
	msg := QueuedMessage{
		Message:  message,
		Context:  msgContext,
		QueuedAt: q.now().UTC(),
	}
	if msg.ID() == "" {
		return fmt.Errorf("queued message requires an id field")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.removePendingLocked(msg.ID())
	q.pending = append(q.pending, msg)
	q.persistLocked(ctx)
	return nil
}

func (q *OfflineMessageQueue) Pending() []QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return copyMessages(q.pending)
}

// Failed returns the dead-letter bucket.
func (q *OfflineMessageQueue) Failed() []QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return copyMessages(q.failed)
}

// Stale returns pending messages queued over 24 hours ago.
func (q *OfflineMessageQueue) Stale() []QueuedMessage {
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	var out []QueuedMessage
	for _, msg := range q.pending {
		if msg.Stale(now) {
			out = append(out, msg)
		}
	}
	return out
}

// Remove drops a pending message by id. Unknown ids are a no-op.
func (q *OfflineMessageQueue) Remove(ctx context.Context, id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.removePendingLocked(id) {
		q.persistLocked(ctx)
	}
}

func (q *OfflineMessageQueue) ClearFailed(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.failed = nil
	q.persistLocked(ctx)
}

// Drain attempts delivery of every pending message in queue order. Failures
// bump the per-message retry counter; a message past its ceiling moves to the
// dead-letter bucket. State is persisted once per drain.
func (q *OfflineMessageQueue) Drain(ctx context.Context, sender remote.MessageSender) (sent, failed int) {
	snapshot := q.Pending()

	var delivered []string
	var deadLettered []string
	retries := make(map[string]bool)

	for _, msg := range snapshot {
		if ctx.Err() != nil {
			break
		}

		err := sender.Send(ctx, msg.Message, msg.Context)
		if err == nil {
			delivered = append(delivered, msg.ID())
			sent++
			continue
		}
		failed++

		if msg.RetryCount+1 >= q.maxRetries || !remote.Retryable(err) {
			logger.Log.Warn("Moving message to dead-letter bucket",
				zap.String("id", msg.ID()),
				zap.Int("retries", msg.RetryCount+1),
				zap.Error(err),
			)
			deadLettered = append(deadLettered, msg.ID())
			continue
		}
		retries[msg.ID()] = true
	}

	q.mu.Lock()
	for _, id := range delivered {
		q.removePendingLocked(id)
	}
	for _, id := range deadLettered {
		for i := range q.pending {
			if q.pending[i].ID() == id {
				dead := q.pending[i]
				dead.RetryCount++
				q.failed = append(q.failed, dead)
				q.pending = append(q.pending[:i], q.pending[i+1:]...)
				break
			}
		}
	}
	for i := range q.pending {
		if retries[q.pending[i].ID()] {
			q.pending[i].RetryCount++
		}
	}
	q.persistLocked(ctx)
	q.mu.Unlock()

	return sent, failed
}

func (q *OfflineMessageQueue) removePendingLocked(id string) bool {
	for i := range q.pending {
		if q.pending[i].ID() == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (q *OfflineMessageQueue) persistLocked(ctx context.Context) {
	q.persistBucket(ctx, messageQueueKey, q.pending)
	q.persistBucket(ctx, failedMessagesKey, q.failed)
}

func (q *OfflineMessageQueue) persistBucket(ctx context.Context, key string, bucket []QueuedMessage) {
	encoded, err := json.Marshal(bucket)
	if err != nil {
		logger.Log.Error("Failed to encode message queue", zap.String("key", key), zap.Error(err))
		return
	}
	if err := q.store.Set(ctx, key, encoded); err != nil {
		logger.Log.Warn("Failed to persist message queue; in-memory state remains authoritative",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

func (q *OfflineMessageQueue) loadBucket(ctx context.Context, key string, bucket *[]QueuedMessage) error {
	raw, err := q.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to load message queue %s: %w", key, err)
	}
	if raw == nil {
		return nil
	}
	if err := json.Unmarshal(raw, bucket); err != nil {
		return fmt.Errorf("failed to decode message queue %s: %w", key, err)
	}
	return nil
}

func copyMessages(in []QueuedMessage) []QueuedMessage {
	out := make([]QueuedMessage, len(in))
	copy(out, in)
	return out
}
