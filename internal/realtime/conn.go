package realtime

import (
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinywideclouds/go-intercom-relay/pkg/relay"
)

const writeWait = 5 * time.Second

// wsTransport wraps a websocket connection with a write lock. The gorilla
// package allows at most one concurrent writer, and a device transport is
// written to by both its paired user's relay loop and the heartbeat ticker.
type wsTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

// WriteFrame forwards one message verbatim, preserving its type.
func (t *wsTransport) WriteFrame(messageType int, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(messageType, data)
}

// CloseWithReason delivers the application-level close code and short text
// to the peer, then tears the connection down. Safe to call more than once;
// later calls fail on the closed connection and are ignored by callers.
func (t *wsTransport) CloseWithReason(reason relay.CloseReason) error {
	message := websocket.FormatCloseMessage(reason.Code, reason.Text)
	_ = t.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait))
	return t.conn.Close()
}

func (t *wsTransport) ping() error {
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// startHeartbeat arms liveness detection on the transport: the read deadline
// is pushed out on every pong, and a background ticker pings at interval.
// Without this a stalled TCP connection could hold a device online (and a
// session busy) indefinitely. The returned stop function must be called when
// the read loop exits.
func (t *wsTransport) startHeartbeat(interval, timeout time.Duration) (stop func()) {
	_ = t.conn.SetReadDeadline(time.Now().Add(timeout))
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(timeout))
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := t.ping(); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// isTimeout reports whether a read-loop error is the heartbeat deadline
// expiring rather than an ordinary close.
func isTimeout(err error) bool {
	netErr, ok := err.(net.Error)
	return ok && netErr.Timeout()
}
