package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"deal-chat/domain/event"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	maxInboundBytes = 16 * 1024
)

var errConnClosed = errors.New("connection closed")

// Conn wraps a websocket and coordinates outbound writes through a
// bounded queue. A peer that stops draining overflows its own queue and
// is disconnected; it never backpressures the room. While suspended
// (backfill in flight) live events are parked and flushed afterwards,
// so a joining client never observes a live message before its backfill.
type Conn struct {
	ID  string
	log *slog.Logger

	ws    *websocket.Conn
	send  chan []byte
	close chan struct{}
	once  sync.Once

	mu        sync.Mutex
	suspended bool
	pending   [][]byte
}

func NewConn(ws *websocket.Conn, log *slog.Logger, bufferSize int) *Conn {
	return &Conn{
		ID:    uuid.NewString(),
		log:   log,
		ws:    ws,
		send:  make(chan []byte, bufferSize),
		close: make(chan struct{}),
	}
}

// Start launches the write loop. It must be called exactly once.
func (c *Conn) Start() {
	go c.writeLoop()
}

// Consume implements contract.EventSink for room fan-out.
func (c *Conn) Consume(_ context.Context, e event.DomainEvent) error {
	payload, err := envelopeFor(e)
	if err != nil {
		return err
	}
	return c.deliver(payload)
}

// deliver parks the payload while suspended, otherwise enqueues it.
func (c *Conn) deliver(payload []byte) error {
	c.mu.Lock()
	if c.suspended {
		c.pending = append(c.pending, payload)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.Enqueue(payload)
}

// Enqueue queues a payload for delivery, bypassing suspension; join
// responses and backfill use it directly. If the buffer is full the
// connection is closed to keep backpressure bounded; the owner must
// rely on backfill on reconnect.
func (c *Conn) Enqueue(payload []byte) error {
	select {
	case <-c.close:
		return errConnClosed
	case c.send <- payload:
		return nil
	default:
		c.log.Warn("Send buffer overflow, disconnecting", "connection_id", c.ID)
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return errConnClosed
	}
}

// Suspend parks live fan-out until Resume.
func (c *Conn) Suspend() {
	c.mu.Lock()
	c.suspended = true
	c.mu.Unlock()
}

// Resume flushes parked events in arrival order and restores live
// delivery. The flush happens under the mutex so a concurrent live
// event cannot slip in ahead of older parked ones; Enqueue never
// blocks, so holding the lock here is safe.
func (c *Conn) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, payload := range c.pending {
		if err := c.Enqueue(payload); err != nil {
			break
		}
	}
	c.pending = nil
	c.suspended = false
}

// Close terminates the connection and stops the write loop.
func (c *Conn) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.close)
		deadline := time.Now().Add(writeWait)
		_ = c.ws.SetWriteDeadline(deadline)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.close:
			return
		case payload := <-c.send:
			if err := c.writeMessage(payload); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.writePing(); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *Conn) writeMessage(payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *Conn) writePing() error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}
