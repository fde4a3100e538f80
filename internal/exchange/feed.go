// feed.go implements the WebSocket event feed from the broker gateway.
//
// The feed auto-reconnects with exponential backoff (1s → 30s max) and
// re-authenticates on reconnection. A read deadline ensures silent server
// failures are detected within ~2 missed pings.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradecore/internal/events"
)

const (
	pingInterval     = 50 * time.Second // how often we send PING to keep alive
	readTimeout      = 90 * time.Second // ~2 missed pings triggers reconnect
	maxReconnectWait = 30 * time.Second // cap on exponential backoff
	writeTimeout     = 10 * time.Second // deadline for outgoing messages
)

// Feed manages the gateway event WebSocket: connection lifecycle, message
// decoding, and automatic reconnection. Every decoded event is handed to
// the sink in arrival order.
type Feed struct {
	url    string
	auth   *Auth
	sink   func(events.Event)
	logger *slog.Logger

	connMu sync.Mutex // protects conn reads/writes
	conn   *websocket.Conn
}

// NewFeed creates an event feed delivering into sink.
func NewFeed(wsURL string, auth *Auth, sink func(events.Event), logger *slog.Logger) *Feed {
	return &Feed{
		url:    wsURL,
		auth:   auth,
		sink:   sink,
		logger: logger.With("component", "event_feed"),
	}
}

// Run connects and maintains the WebSocket connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("event feed disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		// Exponential backoff: 1s, 2s, 4s, 8s, ..., 30s max
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.authenticate(); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	f.logger.Info("event feed connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	// Read loop with deadline so we reconnect if the server goes silent.
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		ev, err := decodeEvent(msg)
		if err != nil {
			f.logger.Error("cannot decode event", "error", err)
			continue
		}
		f.sink(ev)
	}
}

// authenticate sends the signed subscription message that opens the
// account's event stream.
func (f *Feed) authenticate() error {
	headers, err := f.auth.Headers("GET", "/events", "")
	if err != nil {
		return err
	}
	msg := map[string]any{
		"operation": "subscribe",
		"channel":   "execution",
		"auth":      headers,
	}
	return f.writeJSON(msg)
}

func (f *Feed) writeJSON(v any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("write: not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return f.conn.WriteMessage(websocket.TextMessage, data)
}

func (f *Feed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.connMu.Lock()
			if f.conn != nil {
				f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := f.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					f.logger.Warn("ping failed", "error", err)
				}
			}
			f.connMu.Unlock()
		}
	}
}
