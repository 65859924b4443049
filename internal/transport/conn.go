// Package transport adapts a websocket connection to the duplex channel the
// session driver consumes: bounded-timeout receives of binary audio and
// serialized JSON sends, with closure surfaced as a distinguished condition
// rather than a generic error.
package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed reports that the peer connection is gone. It is a terminal,
// expected condition, not a failure.
var ErrClosed = errors.New("transport: connection closed")

// ErrTimeout reports that no message arrived within the receive wait.
var ErrTimeout = errors.New("transport: receive timeout")

const inboundQueueSize = 256

// Conn owns one websocket connection for one session. A background read
// pump forwards binary frames to Receive; all writes go through Send under
// a single mutex so the driver's interrupt notices and the playback task's
// chunks never interleave.
type Conn struct {
	ws      *websocket.Conn
	inbound chan []byte
	closed  chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewConn wraps an upgraded websocket connection and starts its read pump.
func NewConn(ws *websocket.Conn) *Conn {
	c := &Conn{
		ws:      ws,
		inbound: make(chan []byte, inboundQueueSize),
		closed:  make(chan struct{}),
	}
	go c.readPump()
	return c
}

func (c *Conn) readPump() {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.markClosed()
			return
		}
		if msgType != websocket.BinaryMessage {
			// Text frames carry nothing the turn engine consumes.
			continue
		}
		select {
		case c.inbound <- data:
		case <-c.closed:
			return
		}
	}
}

// Receive waits up to timeout for the next inbound binary message. It
// returns ErrTimeout when the wait elapses and ErrClosed once the
// connection is gone and the queue has drained.
func (c *Conn) Receive(timeout time.Duration) ([]byte, error) {
	// Drain queued messages even after closure so no audio is lost.
	select {
	case data := <-c.inbound:
		return data, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		return nil, ErrClosed
	case <-timer.C:
		return nil, ErrTimeout
	}
}

// Send writes one JSON message. Write failures mark the connection closed
// and map to ErrClosed.
func (c *Conn) Send(v any) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.ws.WriteJSON(v); err != nil {
		c.markClosed()
		return ErrClosed
	}
	return nil
}

// Close tears the connection down. Idempotent.
func (c *Conn) Close() error {
	c.markClosed()
	return c.ws.Close()
}

func (c *Conn) markClosed() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// Done is closed once the connection is known to be gone.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}
