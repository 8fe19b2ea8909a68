package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/acadex/acadex-client/pkg/errors"
	"github.com/acadex/acadex-client/pkg/logger"
	"github.com/acadex/acadex-client/pkg/metrics"
)

const (
	wsWriteTimeout       = 10 * time.Second
	wsReconnectBaseDelay = 500 * time.Millisecond
	wsReconnectAttempts  = 10
	eventBuffer          = 32
)

// WebsocketTransport is the preferred upgradeable transport. Its Conns own
// their reconnect policy: capped exponential backoff with a bounded attempt
// budget, surfaced to the consumer as synthetic reconnect events.
type WebsocketTransport struct {
	handshakeTimeout  time.Duration
	reconnectMaxDelay time.Duration
}

// NewWebsocketTransport creates the websocket transport
func NewWebsocketTransport(handshakeTimeout, reconnectMaxDelay time.Duration) *WebsocketTransport {
	return &WebsocketTransport{
		handshakeTimeout:  handshakeTimeout,
		reconnectMaxDelay: reconnectMaxDelay,
	}
}

func (t *WebsocketTransport) Name() string { return transportWebsocket }

// Dial opens the websocket connection. The bearer token travels as a
// handshake-time query credential, not a header, matching the relay contract.
func (t *WebsocketTransport) Dial(ctx context.Context, baseURL, token string) (Conn, error) {
	wsURL, err := websocketURL(baseURL, token)
	if err != nil {
		return nil, err
	}

	dialer := &websocket.Dialer{HandshakeTimeout: t.handshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close() //nolint:errcheck
	}
	if err != nil {
		metrics.RecordChannelConnect(transportWebsocket, "failure")
		return nil, fmt.Errorf("websocket handshake failed: %w", err)
	}
	metrics.RecordChannelConnect(transportWebsocket, "success")

	c := &wsConn{
		transport: t,
		baseURL:   baseURL,
		token:     token,
		ws:        ws,
		events:    make(chan Event, eventBuffer),
		done:      make(chan struct{}),
	}
	go c.run(ws)
	return c, nil
}

func websocketURL(baseURL, token string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid channel base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported channel scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime/ws"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type wsConn struct {
	transport *WebsocketTransport
	baseURL   string
	token     string

	mu sync.Mutex
	ws *websocket.Conn

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) Events() <-chan Event { return c.events }

func (c *wsConn) Emit(event string, payload interface{}) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return errors.ErrTransportClosed
	}

	env, err := encodeEnvelope(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return errors.ErrTransportClosed
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout)) //nolint:errcheck
	if err := c.ws.WriteJSON(env); err != nil {
		return fmt.Errorf("websocket emit failed: %w", err)
	}
	metrics.ChannelEventsEmitted.WithLabelValues(event).Inc()
	return nil
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.ws != nil {
			_ = c.ws.Close() //nolint:errcheck
		}
		c.mu.Unlock()
	})
	return nil
}

// run owns the connection lifecycle: read until failure, then reconnect with
// backoff until success, exhaustion, or explicit Close. The events channel is
// closed exactly once, when the connection is permanently finished.
func (c *wsConn) run(ws *websocket.Conn) {
	defer close(c.events)

	for {
		c.deliver(Event{Type: EventConnect})
		c.readLoop(ws)
		if c.isClosed() {
			return
		}

		c.deliver(Event{Type: EventDisconnect})
		ws = c.reconnect()
		if ws == nil {
			return
		}
	}
}

func (c *wsConn) readLoop(ws *websocket.Conn) {
	for {
		var env Envelope
		if err := ws.ReadJSON(&env); err != nil {
			if !c.isClosed() {
				logger.LogChannelEvent("read_error", transportWebsocket, zap.Error(err))
			}
			c.mu.Lock()
			c.ws = nil
			c.mu.Unlock()
			return
		}

		ev, err := DecodeEvent(env)
		if err != nil {
			logger.Warn("Dropping malformed channel event", zap.String("event", env.Event), zap.Error(err))
			continue
		}
		if ev.Type == EventUnknown {
			logger.Debug("Ignoring unknown channel event", zap.String("event", env.Event))
			continue
		}
		c.deliver(ev)
	}
}

func (c *wsConn) reconnect() *websocket.Conn {
	delay := wsReconnectBaseDelay

	for attempt := 1; attempt <= wsReconnectAttempts; attempt++ {
		select {
		case <-c.done:
			return nil
		case <-time.After(delay):
		}

		c.deliver(Event{Type: EventReconnectAttempt, Attempt: attempt})

		wsURL, err := websocketURL(c.baseURL, c.token)
		if err != nil {
			c.deliver(Event{Type: EventReconnectError, Message: err.Error()})
			return nil
		}

		dialer := &websocket.Dialer{HandshakeTimeout: c.transport.handshakeTimeout}
		ctx, cancel := context.WithTimeout(context.Background(), c.transport.handshakeTimeout)
		ws, resp, err := dialer.DialContext(ctx, wsURL, nil)
		cancel()
		if resp != nil && resp.Body != nil {
			resp.Body.Close() //nolint:errcheck
		}
		if err != nil {
			c.deliver(Event{Type: EventReconnectError, Message: err.Error()})
			delay *= 2
			if delay > c.transport.reconnectMaxDelay {
				delay = c.transport.reconnectMaxDelay
			}
			continue
		}

		c.mu.Lock()
		c.ws = ws
		c.mu.Unlock()
		c.deliver(Event{Type: EventReconnect, Attempt: attempt})
		return ws
	}

	c.deliver(Event{Type: EventReconnectFailed, Message: "reconnect attempts exhausted"})
	return nil
}

func (c *wsConn) deliver(ev Event) {
	metrics.ChannelEventsReceived.WithLabelValues(ev.Type.String()).Inc()
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *wsConn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func encodeEnvelope(event string, payload interface{}) (Envelope, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return env, fmt.Errorf("failed to encode %s payload: %w", event, err)
		}
		env.Data = data
	}
	return env, nil
}
