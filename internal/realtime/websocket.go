package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"offline-sync-service/internal/config"
	"offline-sync-service/internal/logger"
)

// WebsocketTransport opens one socket per channel. The server speaks JSON
// frames: {"type":"subscribed"} acknowledges the channel, then
// {"type":"insert|update|delete","record":{...}} for each change.
type WebsocketTransport struct {
	url              string
	token            string
	subscribeTimeout time.Duration
	dialer           *websocket.Dialer
}

func NewWebsocketTransport(cfg config.RealtimeConfig) *WebsocketTransport {
	return &WebsocketTransport{
		url:              cfg.URL,
		token:            cfg.AuthToken,
		subscribeTimeout: cfg.GetSubscribeTimeout(),
		dialer:           websocket.DefaultDialer,
	}
}

type subscribeFrame struct {
	Action string `json:"action"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

type serverFrame struct {
	Type   string                 `json:"type"`
	Record map[string]interface{} `json:"record,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

func (t *WebsocketTransport) OpenChannel(ctx context.Context, table, filter string) (Channel, error) {
	u, err := url.Parse(t.url)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime url: %w", err)
	}
	q := u.Query()
	q.Set("table", table)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if t.token != "" {
		header.Set("Authorization", "Bearer "+t.token)
	}

	conn, _, err := t.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial realtime transport: %w", err)
	}

	if err := conn.WriteJSON(subscribeFrame{Action: "subscribe", Table: table, Filter: filter}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send subscribe frame: %w", err)
	}

	ch := &wsChannel{
		conn:   conn,
		events: make(chan ChangeEvent, 64),
		status: make(chan SubscribeStatus, 4),
		done:   make(chan struct{}),
	}
	go ch.readLoop(t.subscribeTimeout)

	return ch, nil
}

type wsChannel struct {
	conn      *websocket.Conn
	events    chan ChangeEvent
	status    chan SubscribeStatus
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsChannel) Events() <-chan ChangeEvent {
	return c.events
}

func (c *wsChannel) Status() <-chan SubscribeStatus {
	return c.status
}

func (c *wsChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *wsChannel) readLoop(subscribeTimeout time.Duration) {
	defer close(c.events)
	defer close(c.status)

	acked := false
	if subscribeTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(subscribeTimeout))
	}

	for {
		var frame serverFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			c.status <- c.terminalStatus(acked, err)
			c.Close()
			return
		}

		switch frame.Type {
		case "subscribed":
			acked = true
			_ = c.conn.SetReadDeadline(time.Time{})
			c.status <- StatusSubscribed
		case "error":
			logger.Log.Warn("Realtime channel error frame", zap.String("error", frame.Error))
			c.status <- StatusChannelError
			c.Close()
			return
		case string(Insert), string(Update), string(Delete):
			// The consumer may be gone; never block past Close.
			select {
			case c.events <- ChangeEvent{Type: EventType(frame.Type), Record: frame.Record}:
			case <-c.done:
				return
			}
		default:
			// Unknown frame types are skipped so protocol additions do not
			// kill existing channels.
		}
	}
}

func (c *wsChannel) terminalStatus(acked bool, err error) SubscribeStatus {
	if !acked {
		if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
			return StatusTimedOut
		}
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return StatusClosed
	}
	return StatusChannelError
}
