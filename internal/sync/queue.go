package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"offline-sync-service/internal/kv"
	"offline-sync-service/internal/logger"
)

const pendingOpsKey = "pending_sync_operations"

// PendingOperationStore is the durable, ordered collection of not-yet-applied
// local mutations. Every mutating call writes the full list back to the
// key-value layer so a crash between calls loses nothing; when that write
// fails it is logged and swallowed, and the in-memory list stays
// authoritative for the rest of the process lifetime.
type PendingOperationStore struct {
	mu    sync.Mutex
	store kv.Store
	ops   []PendingOperation
	now   func() time.Time
}

func NewPendingOperationStore(ctx context.Context, store kv.Store) (*PendingOperationStore, error) {
	s := &PendingOperationStore{
		store: store,
		now:   time.Now,
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Enqueue records a mutation and persists the queue. It never touches the
// network and fails only on programmer error: an update or delete without a
// record id.
func (s *PendingOperationStore) Enqueue(ctx context.Context, table string, kind OperationKind, payload map[string]interface{}, recordID string) (string, error) {
	if (kind == OpUpdate || kind == OpDelete) && recordID == "" {
		return "", fmt.Errorf("%s operation on %s requires a record id", kind, table)
	}

	op := PendingOperation{
		ID:       uuid.New().String(),
		Table:    table,
		Kind:     kind,
		Payload:  payload,
		RecordID: recordID,
		QueuedAt: s.now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ops = append(s.ops, op)
	s.persistLocked(ctx)

	logger.Log.Debug("Queued operation",
		zap.String("id", op.ID),
		zap.String("table", table),
		zap.String("kind", kind.String()),
	)
	return op.ID, nil
}

// List returns a snapshot of the queue in insertion order.
func (s *PendingOperationStore) List() []PendingOperation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PendingOperation, len(s.ops))
	copy(out, s.ops)
	return out
}

func (s *PendingOperationStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops)
}

// Remove drops the operation with the given id. Removing an unknown id is a
// no-op.
func (s *PendingOperationStore) Remove(ctx context.Context, operationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removeLocked(operationID) {
		s.persistLocked(ctx)
	}
}

// IncrementRetry bumps the retry counter and returns the new count, or zero
// when the id is unknown.
func (s *PendingOperationStore) IncrementRetry(ctx context.Context, operationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.ops {
		if s.ops[i].ID == operationID {
			s.ops[i].RetryCount++
			s.persistLocked(ctx)
			return s.ops[i].RetryCount
		}
	}
	return 0
}

// ApplyPass applies the outcome of one sync pass in a single persist: the
// removed ids disappear, the retried ids get their counters bumped.
func (s *PendingOperationStore) ApplyPass(ctx context.Context, removed, retried []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range removed {
		s.removeLocked(id)
	}
	for _, id := range retried {
		for i := range s.ops {
			if s.ops[i].ID == id {
				s.ops[i].RetryCount++
				break
			}
		}
	}
	s.persistLocked(ctx)
}

// Clear empties the queue.
func (s *PendingOperationStore) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ops = nil
	s.persistLocked(ctx)
}

// MeanRetryCount averages the retry counters across the queue; the
// orchestrator seeds its whole-pass backoff with it.
func (s *PendingOperationStore) MeanRetryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.ops) == 0 {
		return 0
	}
	total := 0
	for _, op := range s.ops {
		total += op.RetryCount
	}
	return total / len(s.ops)
}

func (s *PendingOperationStore) removeLocked(operationID string) bool {
	for i := range s.ops {
		if s.ops[i].ID == operationID {
			s.ops = append(s.ops[:i], s.ops[i+1:]...)
			return true
		}
	}
	return false
}

func (s *PendingOperationStore) persistLocked(ctx context.Context) {
	encoded, err := json.Marshal(s.ops)
	if err != nil {
		logger.Log.Error("Failed to encode pending operations", zap.Error(err))
		return
	}
	if err := s.store.Set(ctx, pendingOpsKey, encoded); err != nil {
		logger.Log.Warn("Failed to persist pending operations; in-memory queue remains authoritative",
			zap.Int("count", len(s.ops)),
			zap.Error(err),
		)
	}
}

func (s *PendingOperationStore) load(ctx context.Context) error {
	raw, err := s.store.Get(ctx, pendingOpsKey)
	if err != nil {
		return fmt.Errorf("failed to load pending operations: %w", err)
	}
	if raw == nil {
		return nil
	}
	if err := json.Unmarshal(raw, &s.ops); err != nil {
		return fmt.Errorf("failed to decode pending operations: %w", err)
	}
	return nil
}
