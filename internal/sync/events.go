package sync

import (
	"sync"
)

// Hub broadcasts orchestrator status and tagged events to observers. A new
// status subscriber immediately receives the last published value, so a UI
// attaching late still renders the current state; event subscribers only see
// events published after they attach.
type Hub struct {
	mu         sync.Mutex
	lastStatus Status
	statusSubs []chan Status
	eventSubs  []chan Event
}

func NewHub() *Hub {
	return &Hub{lastStatus: StatusIdle}
}

func (h *Hub) PublishStatus(status Status) {
	h.mu.Lock()
	h.lastStatus = status
	subs := make([]chan Status, len(h.statusSubs))
	copy(subs, h.statusSubs)
	h.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- status:
		default:
		}
	}
}

func (h *Hub) PublishEvent(event Event) {
	h.mu.Lock()
	subs := make([]chan Event, len(h.eventSubs))
	copy(subs, h.eventSubs)
	h.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// StatusStream returns a channel that replays the last status, then receives
// every transition.
func (h *Hub) StatusStream() <-chan Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Status, 8)
	ch <- h.lastStatus
	h.statusSubs = append(h.statusSubs, ch)
	return ch
}

// Events returns a channel receiving tagged events. Slow readers drop events
// rather than block the engine.
func (h *Hub) Events() <-chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, 16)
	h.eventSubs = append(h.eventSubs, ch)
	return ch
}

func (h *Hub) LastStatus() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastStatus
}
