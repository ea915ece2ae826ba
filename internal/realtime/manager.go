package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"offline-sync-service/internal/backoff"
	"offline-sync-service/internal/config"
	"offline-sync-service/internal/logger"
)

type ChannelState int

const (
	StateDisconnected ChannelState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ChannelState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ChannelStatus is one entry in the status snapshot broadcast on every
// transition. Abandoned means the reconnect budget ran out; the channel stays
// in Error and will not recover without a new Subscribe or ReconnectAll.
type ChannelStatus struct {
	State     ChannelState `json:"state"`
	Abandoned bool         `json:"abandoned,omitempty"`
}

func (c ChannelStatus) String() string {
	if c.Abandoned {
		return c.State.String() + " (abandoned)"
	}
	return c.State.String()
}

type RecordHandler func(record map[string]interface{})

type subscription struct {
	id     string
	table  string
	filter string

	onInsert RecordHandler
	onUpdate RecordHandler
	onDelete RecordHandler

	state     ChannelState
	abandoned bool
	attempts  int
	channel   Channel
	reconnect *time.Timer
}

// Manager owns one logical channel per watched table. It keeps each channel's
// subscribe configuration so the channel can be recreated on reconnect, and
// drives the per-channel state machine from transport callbacks and the
// reconnect scheduler.
type Manager struct {
	transport   Transport
	policy      backoff.Policy
	maxAttempts int

	mu         sync.Mutex
	subs       map[string]*subscription
	statusSubs []chan map[string]ChannelStatus

	ctx    context.Context
	cancel context.CancelFunc
}

func NewManager(transport Transport, cfg config.RealtimeConfig) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		transport: transport,
		policy: backoff.Policy{
			Initial:    cfg.GetReconnectBaseDelay(),
			Max:        cfg.GetReconnectMaxDelay(),
			Multiplier: cfg.ReconnectMultiplier,
		},
		maxAttempts: cfg.ReconnectMaxAttempts,
		subs:        make(map[string]*subscription),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Subscribe creates the channel for id, replacing any existing one. The
// stored configuration survives transport failures so reconnects recreate
// the channel with the same table, filter and handlers.
func (m *Manager) Subscribe(id, table, filter string, onInsert, onUpdate, onDelete RecordHandler) {
	m.mu.Lock()
	if old, ok := m.subs[id]; ok {
		m.teardownLocked(old)
	}
	sub := &subscription{
		id:       id,
		table:    table,
		filter:   filter,
		onInsert: onInsert,
		onUpdate: onUpdate,
		onDelete: onDelete,
		state:    StateConnecting,
	}
	m.subs[id] = sub
	m.mu.Unlock()

	m.broadcast()
	go m.connect(sub)
}

func (m *Manager) Unsubscribe(id string) {
	m.mu.Lock()
	sub, ok := m.subs[id]
	if ok {
		m.teardownLocked(sub)
		delete(m.subs, id)
	}
	m.mu.Unlock()

	if ok {
		m.broadcast()
	}
}

func (m *Manager) UnsubscribeAll() {
	m.mu.Lock()
	for id, sub := range m.subs {
		m.teardownLocked(sub)
		delete(m.subs, id)
	}
	m.mu.Unlock()

	m.broadcast()
}

// ReconnectAll tears down and recreates every configured channel. Used after
// the app returns from background or the network comes back.
func (m *Manager) ReconnectAll() {
	m.mu.Lock()
	pending := make([]*subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		m.teardownLocked(sub)
		sub.state = StateConnecting
		sub.abandoned = false
		sub.attempts = 0
		pending = append(pending, sub)
	}
	m.mu.Unlock()

	m.broadcast()
	for _, sub := range pending {
		go m.connect(sub)
	}
}

// Snapshot returns the current channelID -> state map.
func (m *Manager) Snapshot() map[string]ChannelStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// StatusUpdates returns a channel receiving a status snapshot on every
// state transition.
func (m *Manager) StatusUpdates() <-chan map[string]ChannelStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan map[string]ChannelStatus, 8)
	m.statusSubs = append(m.statusSubs, ch)
	return ch
}

func (m *Manager) Close() {
	m.cancel()
	m.UnsubscribeAll()
}

// teardownLocked stops the channel's reconnect timer before anything else,
// so a superseding Subscribe can never race an old timer into reviving a
// replaced channel.
func (m *Manager) teardownLocked(sub *subscription) {
	if sub.reconnect != nil {
		sub.reconnect.Stop()
		sub.reconnect = nil
	}
	if sub.channel != nil {
		_ = sub.channel.Close()
		sub.channel = nil
	}
}

func (m *Manager) connect(sub *subscription) {
	ch, err := m.transport.OpenChannel(m.ctx, sub.table, sub.filter)

	m.mu.Lock()
	if m.subs[sub.id] != sub || m.ctx.Err() != nil {
		m.mu.Unlock()
		if err == nil {
			_ = ch.Close()
		}
		return
	}
	if err != nil {
		sub.state = StateError
		m.mu.Unlock()

		logger.Log.Warn("Failed to open realtime channel",
			zap.String("channel", sub.id),
			zap.String("table", sub.table),
			zap.Error(err),
		)
		m.broadcast()
		m.scheduleReconnect(sub)
		return
	}
	sub.channel = ch
	m.mu.Unlock()

	go m.watch(sub, ch)
}

func (m *Manager) watch(sub *subscription, ch Channel) {
	events := ch.Events()
	status := ch.Status()

	for {
		select {
		case <-m.ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				// The transport closes both channels when the connection
				// dies; the terminal status may still be buffered, so keep
				// draining status instead of returning.
				events = nil
				continue
			}
			m.dispatch(sub, ev)

		case st, ok := <-status:
			if ok && st == StatusSubscribed {
				m.mu.Lock()
				if m.subs[sub.id] != sub {
					m.mu.Unlock()
					return
				}
				sub.state = StateConnected
				sub.attempts = 0
				sub.abandoned = false
				m.mu.Unlock()

				logger.Log.Info("Realtime channel connected",
					zap.String("channel", sub.id),
					zap.String("table", sub.table),
				)
				m.broadcast()
				continue
			}

			// Timed out, channel error, closed, or the status channel shut
			// without a terminal value.
			if !ok {
				st = StatusChannelError
			}
			_ = ch.Close()

			m.mu.Lock()
			if m.subs[sub.id] != sub {
				m.mu.Unlock()
				return
			}
			sub.state = StateError
			sub.channel = nil
			m.mu.Unlock()

			logger.Log.Warn("Realtime channel lost",
				zap.String("channel", sub.id),
				zap.String("status", st.String()),
			)
			m.broadcast()
			m.scheduleReconnect(sub)
			return
		}
	}
}

func (m *Manager) dispatch(sub *subscription, ev ChangeEvent) {
	var handler RecordHandler
	switch ev.Type {
	case Insert:
		handler = sub.onInsert
	case Update:
		handler = sub.onUpdate
	case Delete:
		handler = sub.onDelete
	}
	if handler != nil {
		handler(ev.Record)
	}
}

func (m *Manager) scheduleReconnect(sub *subscription) {
	m.mu.Lock()
	if m.subs[sub.id] != sub || m.ctx.Err() != nil {
		m.mu.Unlock()
		return
	}

	// One outstanding timer per channel, always.
	if sub.reconnect != nil {
		sub.reconnect.Stop()
		sub.reconnect = nil
	}

	sub.attempts++
	if sub.attempts > m.maxAttempts {
		sub.abandoned = true
		m.mu.Unlock()

		logger.Log.Error("Abandoning realtime channel after repeated failures",
			zap.String("channel", sub.id),
			zap.String("table", sub.table),
			zap.Int("attempts", sub.attempts-1),
		)
		m.broadcast()
		return
	}

	attempt := sub.attempts
	delay := m.policy.Delay(attempt - 1)
	sub.reconnect = time.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.subs[sub.id] != sub || m.ctx.Err() != nil {
			m.mu.Unlock()
			return
		}
		sub.state = StateConnecting
		m.mu.Unlock()

		m.broadcast()
		m.connect(sub)
	})
	m.mu.Unlock()

	logger.Log.Info("Scheduled realtime reconnect",
		zap.String("channel", sub.id),
		zap.Duration("delay", delay),
		zap.Int("attempt", attempt),
	)
}

func (m *Manager) snapshotLocked() map[string]ChannelStatus {
	snapshot := make(map[string]ChannelStatus, len(m.subs))
	for id, sub := range m.subs {
		snapshot[id] = ChannelStatus{State: sub.state, Abandoned: sub.abandoned}
	}
	return snapshot
}

func (m *Manager) broadcast() {
	m.mu.Lock()
	snapshot := m.snapshotLocked()
	subs := make([]chan map[string]ChannelStatus, len(m.statusSubs))
	copy(subs, m.statusSubs)
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snapshot:
		default:
			// Observers that fall behind can always call Snapshot.
		}
	}
}
