package gateway

import (
	"sync"

	"nhooyr.io/websocket"

	"mediaqueue/internal/events"
)

// conn is one client with its outbound queue. out is never closed; done
// signals the writer to close the socket.
type conn struct {
	ws     *websocket.Conn
	id     string
	remote string
	out    chan events.Event
	done   chan struct{}

	once   sync.Once
	mu     sync.Mutex
	code   websocket.StatusCode
	reason string
}

func newConn(ws *websocket.Conn, id, remote string, buffer int) *conn {
	return &conn{
		ws:     ws,
		id:     id,
		remote: remote,
		out:    make(chan events.Event, buffer),
		done:   make(chan struct{}),
	}
}

// enqueue never blocks. A full queue drops the connection and reports false.
func (c *conn) enqueue(evt events.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- evt:
		return true
	default:
		c.drop(websocket.StatusPolicyViolation, "slow consumer")
		return false
	}
}

func (c *conn) drop(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		c.mu.Lock()
		c.code, c.reason = code, reason
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *conn) closeStatus() (websocket.StatusCode, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code, c.reason
}
