// Package transport accepts WebSocket connections and turns them into a stream of decoded protocol.Frame values
// delivered to a Handler, splitting the fiber Upgrade route from the per-connection read/write pump pair.
package transport

import (
	"encoding/json"
	"time"

	"github.com/fasthttp/websocket"
	fiberws "github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/agenthub/hub/internal/protocol"
)

// Handler receives transport-level lifecycle and frame events. The dispatcher/router layer implements it; tests can
// supply a fake.
type Handler interface {
	// OnConnect is called once per connection, before its writer goroutine starts and before any frame is read.
	OnConnect(c *Client)
	// OnFrame is called for every successfully decoded frame, on the connection's own reader goroutine — the handler
	// must not block it for long, since a slow handler call delays that connection's own read deadline refresh.
	OnFrame(c *Client, frame protocol.Frame)
	// OnDisconnect is called once after the connection's reader loop exits for any reason.
	OnDisconnect(c *Client)
}

// Options configures limits enforced uniformly on every connection.
type Options struct {
	MaxMessageSizeBytes int64
	WriteTimeout        time.Duration
	ReadTimeout         time.Duration // derived from agent_timeout + ping_timeout, refreshed on every frame
	RateLimitCount      int
	RateLimitWindow     time.Duration
}

// Server upgrades HTTP connections to WebSocket and runs the per-connection read/write pumps.
type Server struct {
	opts    Options
	handler Handler
	log     zerolog.Logger
}

// New creates a transport server. handler is invoked for every connection lifecycle event and frame.
func New(opts Options, handler Handler, logger zerolog.Logger) *Server {
	return &Server{
		opts:    opts,
		handler: handler,
		log:     logger.With().Str("component", "transport").Logger(),
	}
}

// Upgrade is a fiber handler for the WebSocket upgrade endpoint. Register it on the connection route, e.g.
// app.Get("/connect", srv.Upgrade).
func (s *Server) Upgrade(c fiber.Ctx) error {
	if !fiberws.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return fiberws.New(func(conn *fiberws.Conn) {
		s.serve(conn.Conn)
	})(c)
}

// serve runs a single connection's full lifecycle: construct the Client, notify the handler, start the writer, run
// the reader loop inline, then notify the handler of disconnection. It returns once the connection is fully torn
// down.
func (s *Server) serve(conn *websocket.Conn) {
	client := newClient(conn, s.opts.MaxMessageSizeBytes, s.opts.WriteTimeout, s.log)

	s.handler.OnConnect(client)
	go client.writePump()

	s.readPump(client)

	client.closeSend()
	s.handler.OnDisconnect(client)
}

// readPump reads frames from the WebSocket connection until it errors or closes, decoding and dispatching each to
// the handler. It owns closing the connection on exit.
func (s *Server) readPump(c *Client) {
	defer func() { _ = c.conn.Close() }()

	c.conn.SetReadLimit(s.opts.MaxMessageSizeBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Str("agent_id", c.AgentID()).Msg("WebSocket read error")
			}
			return
		}

		if c.rateLimited(s.opts.RateLimitCount, s.opts.RateLimitWindow) {
			c.closeWithCode(CloseRateLimited, "rate limit exceeded")
			return
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))

		frame, err := protocol.Decode(message)
		if err != nil {
			s.respondBadRequest(c, message)
			continue
		}

		s.handler.OnFrame(c, frame)
	}
}

// respondBadRequest answers a malformed frame in place: protocol errors are reported in a system_response and never
// close the connection.
func (s *Server) respondBadRequest(c *Client, raw []byte) {
	var probe struct {
		Command string `json:"command"`
	}
	_ = json.Unmarshal(raw, &probe)

	resp := protocol.NewErrorResponse(probe.Command, "bad_request")
	data, err := resp.Encode()
	if err != nil {
		return
	}
	_ = c.Send(data)
}
