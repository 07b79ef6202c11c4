package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/voicebridge/internal/convai"
)

// Conn is the subset of *websocket.Conn a leg needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	Close() error
}

const (
	legClient   = "client"
	legProvider = "provider"

	// Close frame reasons are limited to 123 bytes.
	maxCloseReason = 123
	controlTimeout = time.Second
)

// leg is one websocket connection owned by a Session. Writes are
// serialized; closing is idempotent.
type leg struct {
	name         string
	conn         Conn
	writeTimeout time.Duration

	connected atomic.Bool
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newLeg(name string, conn Conn, writeTimeout time.Duration) *leg {
	l := &leg{name: name, conn: conn, writeTimeout: writeTimeout}
	l.connected.Store(true)
	return l
}

func (l *leg) isConnected() bool {
	return l != nil && l.connected.Load()
}

// send writes one text frame. It fails once the leg is disconnected.
func (l *leg) send(data []byte) error {
	if !l.isConnected() {
		return ErrLegClosed
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if !l.connected.Load() {
		return ErrLegClosed
	}
	if l.writeTimeout > 0 {
		l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout))
	}
	if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		l.connected.Store(false)
		return err
	}
	return nil
}

// fail notifies the peer with an error event, then closes with code 1000.
func (l *leg) fail(reason string) {
	if l == nil {
		return
	}
	if l.isConnected() {
		if err := l.send(convai.ErrorEvent(reason, "connection_closed").Bytes()); err != nil {
			l.connected.Store(false)
		}
	}
	l.close(websocket.CloseNormalClosure, reason)
}

// close sends a close frame when the leg is still live and releases the
// socket. Only the first call has any effect.
func (l *leg) close(code int, reason string) {
	if l == nil {
		return
	}
	l.closeOnce.Do(func() {
		live := l.connected.Swap(false)
		if live {
			if len(reason) > maxCloseReason {
				reason = reason[:maxCloseReason]
			}
			l.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, reason),
				time.Now().Add(controlTimeout))
		}
		l.conn.Close()
	})
}
