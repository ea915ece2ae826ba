package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offline-sync-service/internal/config"
)

type fakeChannel struct {
	events chan ChangeEvent
	status chan SubscribeStatus
	once   sync.Once
	closed chan struct{}
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		events: make(chan ChangeEvent, 8),
		status: make(chan SubscribeStatus, 4),
		closed: make(chan struct{}),
	}
}

func (c *fakeChannel) Events() <-chan ChangeEvent     { return c.events }
func (c *fakeChannel) Status() <-chan SubscribeStatus { return c.status }

func (c *fakeChannel) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type fakeTransport struct {
	mu     sync.Mutex
	err    error
	openCh chan *fakeChannel
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{openCh: make(chan *fakeChannel, 16)}
}

func (t *fakeTransport) setErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

func (t *fakeTransport) OpenChannel(_ context.Context, _, _ string) (Channel, error) {
	t.mu.Lock()
	err := t.err
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ch := newFakeChannel()
	t.openCh <- ch
	return ch, nil
}

func waitForChannel(t *testing.T, tr *fakeTransport) *fakeChannel {
	t.Helper()
	select {
	case ch := <-tr.openCh:
		return ch
	case <-time.After(2 * time.Second):
		t.Fatal("transport never opened a channel")
		return nil
	}
}

func testRealtimeConfig() config.RealtimeConfig {
	return config.RealtimeConfig{
		ReconnectBaseDelay:   "1ms",
		ReconnectMaxDelay:    "5ms",
		ReconnectMultiplier:  1.5,
		ReconnectMaxAttempts: 2,
		SubscribeTimeout:     "1s",
	}
}

func newTestManager(t *testing.T) (*Manager, *fakeTransport) {
	t.Helper()

	tr := newFakeTransport()
	m := NewManager(tr, testRealtimeConfig())
	t.Cleanup(m.Close)
	return m, tr
}

func TestSubscribeConnectsAndDispatches(t *testing.T) {
	m, tr := newTestManager(t)

	var inserts atomic.Int64
	m.Subscribe("tasks", "tasks", "", func(record map[string]interface{}) {
		if record["id"] == "t1" {
			inserts.Add(1)
		}
	}, nil, nil)

	assert.Equal(t, StateConnecting, m.Snapshot()["tasks"].State)

	ch := waitForChannel(t, tr)
	ch.status <- StatusSubscribed

	require.Eventually(t, func() bool {
		return m.Snapshot()["tasks"].State == StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	ch.events <- ChangeEvent{Type: Insert, Record: map[string]interface{}{"id": "t1"}}

	require.Eventually(t, func() bool {
		return inserts.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestReconnectAfterChannelError(t *testing.T) {
	m, tr := newTestManager(t)

	m.Subscribe("tasks", "tasks", "", nil, nil, nil)

	first := waitForChannel(t, tr)
	first.status <- StatusSubscribed

	require.Eventually(t, func() bool {
		return m.Snapshot()["tasks"].State == StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	first.status <- StatusChannelError

	// The stored configuration recreates the channel automatically.
	second := waitForChannel(t, tr)
	second.status <- StatusSubscribed

	require.Eventually(t, func() bool {
		status := m.Snapshot()["tasks"]
		return status.State == StateConnected && !status.Abandoned
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, first.isClosed())
}

func TestReconnectWhenEventsCloseBeforeTerminalStatus(t *testing.T) {
	m, tr := newTestManager(t)

	m.Subscribe("tasks", "tasks", "", nil, nil, nil)
	first := waitForChannel(t, tr)
	first.status <- StatusSubscribed

	require.Eventually(t, func() bool {
		return m.Snapshot()["tasks"].State == StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	// A dying connection leaves the terminal status buffered and closes
	// both channels. The manager must still see the terminal status.
	first.status <- StatusChannelError
	close(first.status)
	close(first.events)

	second := waitForChannel(t, tr)
	second.status <- StatusSubscribed

	require.Eventually(t, func() bool {
		return m.Snapshot()["tasks"].State == StateConnected
	}, 2*time.Second, 5*time.Millisecond)
}

func TestReconnectWhenStatusClosesWithoutTerminal(t *testing.T) {
	m, tr := newTestManager(t)

	m.Subscribe("tasks", "tasks", "", nil, nil, nil)
	first := waitForChannel(t, tr)
	first.status <- StatusSubscribed

	require.Eventually(t, func() bool {
		return m.Snapshot()["tasks"].State == StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	// No terminal value at all: a bare closure counts as a channel error.
	close(first.events)
	close(first.status)

	second := waitForChannel(t, tr)
	second.status <- StatusSubscribed

	require.Eventually(t, func() bool {
		return m.Snapshot()["tasks"].State == StateConnected
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAbandonAfterMaxAttempts(t *testing.T) {
	m, tr := newTestManager(t)
	tr.setErr(errors.New("dial failed"))

	m.Subscribe("tasks", "tasks", "", nil, nil, nil)

	require.Eventually(t, func() bool {
		status := m.Snapshot()["tasks"]
		return status.State == StateError && status.Abandoned
	}, 2*time.Second, 5*time.Millisecond)
}

func TestResubscribeResetsAbandonedChannel(t *testing.T) {
	m, tr := newTestManager(t)
	tr.setErr(errors.New("dial failed"))

	m.Subscribe("tasks", "tasks", "", nil, nil, nil)
	require.Eventually(t, func() bool {
		return m.Snapshot()["tasks"].Abandoned
	}, 2*time.Second, 5*time.Millisecond)

	// A fresh Subscribe supersedes the dead channel and its bookkeeping.
	tr.setErr(nil)
	m.Subscribe("tasks", "tasks", "", nil, nil, nil)

	ch := waitForChannel(t, tr)
	ch.status <- StatusSubscribed

	require.Eventually(t, func() bool {
		status := m.Snapshot()["tasks"]
		return status.State == StateConnected && !status.Abandoned
	}, 2*time.Second, 5*time.Millisecond)
}

func TestUnsubscribeRemovesChannel(t *testing.T) {
	m, tr := newTestManager(t)

	m.Subscribe("tasks", "tasks", "", nil, nil, nil)
	ch := waitForChannel(t, tr)
	ch.status <- StatusSubscribed

	m.Unsubscribe("tasks")

	assert.Empty(t, m.Snapshot())
	assert.True(t, ch.isClosed())

	// Unsubscribing an unknown id is a no-op.
	m.Unsubscribe("no-such-channel")
}

func TestReconnectAllRecreatesEveryChannel(t *testing.T) {
	m, tr := newTestManager(t)

	m.Subscribe("tasks", "tasks", "", nil, nil, nil)
	m.Subscribe("expenses", "expenses", "", nil, nil, nil)

	first := waitForChannel(t, tr)
	second := waitForChannel(t, tr)
	first.status <- StatusSubscribed
	second.status <- StatusSubscribed

	require.Eventually(t, func() bool {
		snap := m.Snapshot()
		return snap["tasks"].State == StateConnected && snap["expenses"].State == StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	m.ReconnectAll()

	third := waitForChannel(t, tr)
	fourth := waitForChannel(t, tr)
	third.status <- StatusSubscribed
	fourth.status <- StatusSubscribed

	require.Eventually(t, func() bool {
		snap := m.Snapshot()
		return snap["tasks"].State == StateConnected && snap["expenses"].State == StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, first.isClosed())
	assert.True(t, second.isClosed())
}

func TestStatusUpdatesBroadcast(t *testing.T) {
	m, tr := newTestManager(t)

	updates := m.StatusUpdates()

	m.Subscribe("tasks", "tasks", "", nil, nil, nil)
	ch := waitForChannel(t, tr)
	ch.status <- StatusSubscribed

	require.Eventually(t, func() bool {
		for {
			select {
			case snap := <-updates:
				if snap["tasks"].State == StateConnected {
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 5*time.Millisecond)
}
