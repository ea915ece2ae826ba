// Package connectivity observes network reachability and broadcasts
// online/offline transitions to the sync engine.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"offline-sync-service/internal/config"
	"offline-sync-service/internal/logger"
)

// Monitor probes a remote endpoint on an interval and reports transitions.
// SetOnline allows the platform layer (or a test) to force the state, e.g.
// when the OS signals airplane mode before any probe would notice.
type Monitor struct {
	probeURL string
	interval time.Duration
	client   *http.Client

	mu     sync.Mutex
	online bool
	subs   []chan bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMonitor(cfg config.ConnectivityConfig) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		probeURL: cfg.ProbeURL,
		interval: cfg.GetProbeInterval(),
		client:   &http.Client{Timeout: 5 * time.Second},
		online:   true,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins periodic probing. A monitor without a probe URL is driven
// entirely by SetOnline.
func (m *Monitor) Start() {
	if m.probeURL == "" || m.interval <= 0 {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.SetOnline(m.probe())
		for {
			select {
			case <-ticker.C:
				m.SetOnline(m.probe())
			case <-m.ctx.Done():
				return
			}
		}
	}()
}

func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *Monitor) probe() bool {
	req, err := http.NewRequestWithContext(m.ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records the current status and broadcasts it if it changed.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]chan bool, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	logger.Log.Info("Connectivity changed", zap.Bool("online", online))

	for _, ch := range subs {
		select {
		case ch <- online:
		default:
			// Slow subscriber; it will read the current state on its next query.
		}
	}
}

// Subscribe returns a channel receiving online/offline transitions.
func (m *Monitor) Subscribe() <-chan bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan bool, 4)
	m.subs = append(m.subs, ch)
	return ch
}
