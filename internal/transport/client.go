package transport

import (
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"
)

// Client wraps a single WebSocket connection. It runs two goroutines (readPump and writePump) and exposes a bounded
// send buffer with a drop-and-disconnect backpressure policy on a full buffer, plus done-channel shutdown signalling.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	log  zerolog.Logger

	maxMessageSize int64
	writeTimeout   time.Duration

	done      chan struct{}
	closeOnce sync.Once

	mu      sync.RWMutex
	agentID string

	eventCount  int
	windowStart time.Time
}

// sendBufferSize is the number of outbound frames a client may have queued before the connection is considered
// backed up and closed.
const sendBufferSize = 256

func newClient(conn *websocket.Conn, maxMessageSize int64, writeTimeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		done:           make(chan struct{}),
		maxMessageSize: maxMessageSize,
		writeTimeout:   writeTimeout,
		log:            logger,
	}
}

// NewTestClient builds a Client with no backing WebSocket connection: its send buffer and done channel work
// normally, but Close (and therefore a real network close) is unsupported. It exists so other packages' tests can
// exercise handler code that requires a *Client without running a real connection through Server.Upgrade.
func NewTestClient(logger zerolog.Logger) *Client {
	return &Client{
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
		log:  logger,
	}
}

// SendChannelForTesting exposes the outbound send buffer a test-constructed Client queues frames onto, since Send
// has no other externally observable effect without a real WebSocket connection to write to.
func (c *Client) SendChannelForTesting() <-chan []byte { return c.send }

// AgentID returns the agent_id bound to this connection, set by SetAgentID once register_agent succeeds.
func (c *Client) AgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.agentID
}

// SetAgentID records the agent_id this connection has been bound to.
func (c *Client) SetAgentID(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentID = agentID
}

// Send enqueues data for delivery to the connection's writer goroutine. It implements registry.ConnHandle. If the
// client is already shutting down the payload is silently dropped; if the buffer is full, the connection is closed to
// prevent one slow reader from stalling the whole router.
func (c *Client) Send(data []byte) error {
	select {
	case <-c.done:
		return nil
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return nil
	default:
		c.log.Warn().Str("agent_id", c.AgentID()).Msg("Send buffer full, closing connection")
		c.closeSend()
		_ = c.conn.Close()
		return ErrRateLimited
	}
}

// Close implements registry.ConnHandle.
func (c *Client) Close() error {
	c.closeSend()
	return c.conn.Close()
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.done) })
}

// closeWithCode sends a WebSocket close frame with the given code and reason, then closes the underlying connection.
func (c *Client) closeWithCode(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
	c.closeSend()
	_ = c.conn.Close()
}

// writePump writes messages from the send channel to the WebSocket connection until done is closed, draining any
// remaining buffered messages first so a closing connection still delivers what it already queued.
func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		case <-c.done:
			for {
				select {
				case msg := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
					if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// rateLimited reports whether the client has exceeded the given message rate limit within the given window. Only
// called from readPump, so no additional locking is required.
func (c *Client) rateLimited(limit int, window time.Duration) bool {
	now := time.Now()
	if now.Sub(c.windowStart) > window {
		c.eventCount = 0
		c.windowStart = now
	}
	c.eventCount++
	return c.eventCount > limit
}
