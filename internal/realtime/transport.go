// Package realtime receives per-table change notifications from the push
// transport and keeps the per-channel subscriptions alive across failures.
package realtime

import (
	"context"
)

type EventType string

const (
	Insert EventType = "insert"
	Update EventType = "update"
	Delete EventType = "delete"
)

// ChangeEvent is one pushed row change.
type ChangeEvent struct {
	Type   EventType
	Record map[string]interface{}
}

// SubscribeStatus is the transport's asynchronous acknowledgment of a channel.
type SubscribeStatus int

const (
	StatusSubscribed SubscribeStatus = iota
	StatusTimedOut
	StatusChannelError
	StatusClosed
)

func (s SubscribeStatus) String() string {
	switch s {
	case StatusSubscribed:
		return "subscribed"
	case StatusTimedOut:
		return "timed_out"
	case StatusChannelError:
		return "channel_error"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Channel is one open per-table subscription. Events and Status are closed
// when the channel dies; Close is idempotent.
type Channel interface {
	Events() <-chan ChangeEvent
	Status() <-chan SubscribeStatus
	Close() error
}

type Transport interface {
	OpenChannel(ctx context.Context, table, filter string) (Channel, error)
}
