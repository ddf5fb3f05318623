package transport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kapu/arena-relay/internal/obslog"
	"github.com/kapu/arena-relay/internal/protocol"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const writeTimeout = 5 * time.Second

// Conn wraps one websocket session. Outbound frames go through a buffered
// queue drained by a dedicated writer goroutine, so Send never blocks the
// caller; a client that cannot keep up is closed rather than awaited.
type Conn struct {
	id string
	ws *websocket.Conn

	out chan protocol.Envelope

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(ws *websocket.Conn, queueSize int) *Conn {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Conn{
		id:     uuid.NewString(),
		ws:     ws,
		out:    make(chan protocol.Envelope, queueSize),
		closed: make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Send(env protocol.Envelope) {
	select {
	case <-c.closed:
		return
	default:
	}
	select {
	case c.out <- env:
	default:
		obslog.L().Warn("conn_send_overflow", zap.String("conn", c.id), zap.String("event", env.Event))
		c.close(websocket.StatusPolicyViolation, "send queue overflow")
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.closed:
			return
		case env := <-c.out:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := wsjson.Write(ctx, c.ws, env)
			cancel()
			if err != nil {
				c.close(websocket.StatusGoingAway, "write failure")
				return
			}
		}
	}
}

func (c *Conn) pingLoop(interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	consecutiveFailures := 0
	for {
		select {
		case <-c.closed:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			err := c.ws.Ping(ctx)
			cancel()
			if err != nil {
				consecutiveFailures++
				if consecutiveFailures >= 2 {
					c.close(websocket.StatusGoingAway, "ping failure")
					return
				}
				continue
			}
			consecutiveFailures = 0
		}
	}
}

func (c *Conn) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close(code, reason)
	})
}
