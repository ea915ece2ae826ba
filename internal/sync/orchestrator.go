package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"offline-sync-service/internal/backoff"
	"offline-sync-service/internal/config"
	"offline-sync-service/internal/kv"
	"offline-sync-service/internal/logger"
	"offline-sync-service/internal/remote"
)

// ConnectivitySource is the network reachability signal the orchestrator
// consumes: a current-status query plus a stream of transitions.
type ConnectivitySource interface {
	Online() bool
	Subscribe() <-chan bool
}

// Orchestrator drains the pending-operation queue against the remote API,
// reconciles queued writes with pushed remote changes, and exposes status and
// event streams. At most one sync pass runs at a time; concurrent triggers
// collapse into no-ops.
type Orchestrator struct {
	cfg      config.SyncConfig
	store    *PendingOperationStore
	remote   remote.API
	resolver *ConflictResolver
	cache    kv.Store
	conn     ConnectivitySource
	hub      *Hub
	policy   backoff.Policy

	mu            sync.Mutex
	status        Status
	syncing       bool
	lastSync      map[string]time.Time
	debounceTimer *time.Timer
	retryTimer    *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

func NewOrchestrator(
	cfg config.SyncConfig,
	store *PendingOperationStore,
	api remote.API,
	resolver *ConflictResolver,
	cache kv.Store,
	conn ConnectivitySource,
	hub *Hub,
) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		remote:   api,
		resolver: resolver,
		cache:    cache,
		conn:     conn,
		hub:      hub,
		policy: backoff.Policy{
			Initial:    cfg.GetInitialRetryDelay(),
			Max:        cfg.GetMaxRetryDelay(),
			Multiplier: cfg.BackoffMultiplier,
		},
		status:   StatusIdle,
		lastSync: make(map[string]time.Time),
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
	}
}

// Start publishes the initial status and begins following connectivity
// transitions.
func (o *Orchestrator) Start() {
	if o.conn.Online() {
		o.setStatus(StatusIdle)
	} else {
		o.setStatus(StatusOffline)
	}

	o.wg.Add(1)
	go o.watchConnectivity()
}

func (o *Orchestrator) Close() {
	o.cancel()

	o.mu.Lock()
	if o.debounceTimer != nil {
		o.debounceTimer.Stop()
	}
	if o.retryTimer != nil {
		o.retryTimer.Stop()
	}
	o.mu.Unlock()

	o.wg.Wait()
}

// QueueOperation records a local mutation and, when online, schedules a
// debounced sync attempt so rapid successive calls batch into one pass.
func (o *Orchestrator) QueueOperation(ctx context.Context, table string, kind OperationKind, payload map[string]interface{}, recordID string) (string, error) {
	id, err := o.store.Enqueue(ctx, table, kind, payload, recordID)
	if err != nil {
		return "", err
	}

	o.hub.PublishEvent(Event{
		Kind:        EventOperationQueued,
		Table:       table,
		OperationID: id,
		Timestamp:   o.now(),
	})

	if o.conn.Online() {
		o.scheduleDebouncedSync()
	}
	return id, nil
}

// Sync drains a snapshot of the pending queue in enqueue order. It is a
// no-op while another pass is in flight, and while offline unless forced.
// Operations enqueued during the pass wait for the next one.
func (o *Orchestrator) Sync(ctx context.Context, force bool) {
	o.mu.Lock()
	if o.syncing {
		o.mu.Unlock()
		logger.Log.Debug("Sync already in progress, skipping")
		return
	}
	if !force && !o.conn.Online() {
		o.mu.Unlock()
		logger.Log.Debug("Offline, skipping sync pass")
		return
	}
	o.syncing = true
	o.setStatusLocked(StatusSyncing)
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.syncing = false
		o.mu.Unlock()
	}()

	snapshot := o.store.List()

	var removed, retried []string
	successCount, errorCount := 0, 0

	for _, op := range snapshot {
		if ctx.Err() != nil {
			break
		}

		err := o.apply(ctx, op)
		if err == nil {
			removed = append(removed, op.ID)
			successCount++
			continue
		}
		errorCount++

		if !remote.Retryable(err) {
			logger.Log.Warn("Dropping non-retryable operation",
				zap.String("id", op.ID),
				zap.String("table", op.Table),
				zap.String("kind", op.Kind.String()),
				zap.Error(err),
			)
			removed = append(removed, op.ID)
			continue
		}

		if op.RetryCount+1 >= o.cfg.MaxRetries {
			// Explicit bound, not a bug: the local change is dropped after
			// the retry budget and the loss is logged.
			logger.Log.Error("Dropping operation after retry ceiling; local change is lost",
				zap.String("id", op.ID),
				zap.String("table", op.Table),
				zap.String("kind", op.Kind.String()),
				zap.Int("retries", op.RetryCount+1),
				zap.Error(err),
			)
			removed = append(removed, op.ID)
			continue
		}
		retried = append(retried, op.ID)
	}

	o.store.ApplyPass(ctx, removed, retried)

	if errorCount == 0 {
		o.setStatus(StatusSuccess)
	} else if !o.conn.Online() {
		o.setStatus(StatusOffline)
	} else {
		o.setStatus(StatusError)
	}

	o.hub.PublishEvent(Event{
		Kind:         EventSyncCompleted,
		SuccessCount: successCount,
		ErrorCount:   errorCount,
		Timestamp:    o.now(),
	})

	if errorCount > 0 && o.store.Count() > 0 && o.conn.Online() {
		o.scheduleRetry()
	}
}

// HandleRealtimeChange reconciles a pushed remote change against the queue,
// then unconditionally moves the local cache to the pushed value and stamps
// the table's last sync time.
func (o *Orchestrator) HandleRealtimeChange(ctx context.Context, table string, change OperationKind, record map[string]interface{}) {
	now := o.now()
	recordID, _ := record["id"].(string)

	if recordID != "" {
		remoteModified := remoteTimestamp(record, now)
		for _, op := range o.resolver.Candidates(o.store.List(), table, recordID) {
			if o.resolver.Resolve(op, remoteModified, now) == VerdictDiscard {
				logger.Log.Info("Remote change supersedes pending operation",
					zap.String("operation", op.ID),
					zap.String("table", table),
					zap.String("record", recordID),
				)
				o.store.Remove(ctx, op.ID)
			}
		}
		o.updateCache(ctx, table, recordID, change, record)
	}

	o.mu.Lock()
	o.lastSync[table] = now
	o.mu.Unlock()

	o.hub.PublishEvent(Event{
		Kind:      EventRealtimeChangeProcessed,
		Table:     table,
		Timestamp: now,
	})
}

// NeedsSync reports whether the table has never synced or its last sync is
// older than maxAge (the configured interval when maxAge is zero).
func (o *Orchestrator) NeedsSync(table string, maxAge time.Duration) bool {
	if maxAge <= 0 {
		maxAge = o.cfg.Interval()
	}

	o.mu.Lock()
	last, ok := o.lastSync[table]
	o.mu.Unlock()

	if !ok {
		return true
	}
	return o.now().Sub(last) > maxAge
}

func (o *Orchestrator) LastSyncTime(table string) (time.Time, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	last, ok := o.lastSync[table]
	return last, ok
}

// LastSyncTimes returns a copy of the per-table last-sync map.
func (o *Orchestrator) LastSyncTimes() map[string]time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make(map[string]time.Time, len(o.lastSync))
	for table, ts := range o.lastSync {
		out[table] = ts
	}
	return out
}

func (o *Orchestrator) PendingOperationsCount() int {
	return o.store.Count()
}

func (o *Orchestrator) PendingOperations() []PendingOperation {
	return o.store.List()
}

func (o *Orchestrator) ClearPendingOperations(ctx context.Context) {
	o.store.Clear(ctx)
	o.hub.PublishEvent(Event{
		Kind:      EventPendingOperationsCleared,
		Timestamp: o.now(),
	})
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

func (o *Orchestrator) StatusStream() <-chan Status {
	return o.hub.StatusStream()
}

func (o *Orchestrator) Events() <-chan Event {
	return o.hub.Events()
}

func (o *Orchestrator) apply(ctx context.Context, op PendingOperation) error {
	switch op.Kind {
	case OpCreate:
		_, err := o.remote.Create(ctx, op.Table, remote.Record(op.Payload))
		return err
	case OpUpdate:
		_, err := o.remote.Update(ctx, op.Table, op.RecordID, remote.Record(op.Payload))
		return err
	case OpDelete:
		return o.remote.Delete(ctx, op.Table, op.RecordID)
	default:
		return fmt.Errorf("unknown operation kind %d", op.Kind)
	}
}

func (o *Orchestrator) updateCache(ctx context.Context, table, recordID string, change OperationKind, record map[string]interface{}) {
	key := cacheKey(table, recordID)

	var err error
	if change == OpDelete {
		err = o.cache.Delete(ctx, key)
	} else {
		var encoded []byte
		encoded, err = json.Marshal(record)
		if err == nil {
			err = o.cache.Set(ctx, key, encoded)
		}
	}
	if err != nil {
		logger.Log.Warn("Failed to update local cache",
			zap.String("table", table),
			zap.String("record", recordID),
			zap.Error(err),
		)
	}
}

// CachedRecord returns the locally cached copy of a row, or nil when absent.
func (o *Orchestrator) CachedRecord(ctx context.Context, table, recordID string) (map[string]interface{}, error) {
	raw, err := o.cache.Get(ctx, cacheKey(table, recordID))
	if err != nil || raw == nil {
		return nil, err
	}
	var record map[string]interface{}
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, err
	}
	return record, nil
}

func (o *Orchestrator) watchConnectivity() {
	defer o.wg.Done()

	transitions := o.conn.Subscribe()
	for {
		select {
		case <-o.ctx.Done():
			return
		case online, ok := <-transitions:
			if !ok {
				return
			}
			o.onConnectivityChange(online)
		}
	}
}

func (o *Orchestrator) onConnectivityChange(online bool) {
	o.hub.PublishEvent(Event{
		Kind:      EventConnectivityChanged,
		Online:    online,
		Timestamp: o.now(),
	})

	if !online {
		o.setStatus(StatusOffline)
		return
	}

	o.setStatus(StatusIdle)
	o.scheduleDebouncedSync()
}

func (o *Orchestrator) scheduleDebouncedSync() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ctx.Err() != nil {
		return
	}
	if o.debounceTimer != nil {
		o.debounceTimer.Stop()
	}
	o.debounceTimer = time.AfterFunc(o.cfg.Debounce(), func() {
		o.Sync(o.ctx, false)
	})
}

// scheduleRetry arms the whole-pass retry. All remaining operations share one
// backoff clock seeded by the mean retry count across the queue.
func (o *Orchestrator) scheduleRetry() {
	delay := o.policy.Delay(o.store.MeanRetryCount())

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ctx.Err() != nil {
		return
	}
	if o.retryTimer != nil {
		o.retryTimer.Stop()
	}
	o.retryTimer = time.AfterFunc(delay, func() {
		o.Sync(o.ctx, false)
	})

	logger.Log.Info("Scheduled sync retry", zap.Duration("delay", delay))
}

func (o *Orchestrator) setStatus(status Status) {
	o.mu.Lock()
	o.setStatusLocked(status)
	o.mu.Unlock()
}

func (o *Orchestrator) setStatusLocked(status Status) {
	if o.status == status {
		return
	}
	o.status = status
	o.hub.PublishStatus(status)
}

func cacheKey(table, recordID string) string {
	return fmt.Sprintf("cache:%s:%s", table, recordID)
}

// remoteTimestamp extracts the pushed record's "last modified" moment.
// A record without one is treated as modified now, which lets the remote win
// inside the conflict window rather than silently keeping a stale local write.
func remoteTimestamp(record map[string]interface{}, fallback time.Time) time.Time {
	for _, field := range []string{"updated_at", "last_modified"} {
		switch v := record[field].(type) {
		case string:
			if ts, err := time.Parse(time.RFC3339, v); err == nil {
				return ts
			}
		case time.Time:
			return v
		}
	}
	return fallback
}
