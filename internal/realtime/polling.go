package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/acadex/acadex-client/pkg/errors"
	"github.com/acadex/acadex-client/pkg/httpclient"
	"github.com/acadex/acadex-client/pkg/logger"
	"github.com/acadex/acadex-client/pkg/metrics"
)

const (
	pollRetryDelay  = time.Second
	pollMaxFailures = 30
)

// PollingTransport is the conservative fallback: plain HTTP long-polling,
// no protocol upgrade, fixed short handshake timeout. Used when the
// capability probe fails or the relay does not speak websocket.
type PollingTransport struct {
	handshakeTimeout time.Duration
	pollWait         time.Duration
	client           httpclient.Client
}

// NewPollingTransport creates the long-polling transport
func NewPollingTransport(handshakeTimeout, pollWait time.Duration) *PollingTransport {
	return &PollingTransport{
		handshakeTimeout: handshakeTimeout,
		pollWait:         pollWait,
		// poll requests hold for pollWait server-side; pad the client timeout
		client: httpclient.NewClientWithTimeout(pollWait + 10*time.Second),
	}
}

func (t *PollingTransport) Name() string { return transportPolling }

type pollHandshake struct {
	SessionID string `json:"session_id"`
}

// Dial performs the polling handshake, establishing a relay-side event queue
func (t *PollingTransport) Dial(ctx context.Context, baseURL, token string) (Conn, error) {
	handshakeCtx, cancel := context.WithTimeout(ctx, t.handshakeTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/realtime/poll?token=%s", baseURL, url.QueryEscape(token))
	req, err := http.NewRequestWithContext(handshakeCtx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build polling handshake: %w", err)
	}

	resp, err := httpclient.NewClientWithTimeout(t.handshakeTimeout).Do(req)
	if err != nil {
		metrics.RecordChannelConnect(transportPolling, "failure")
		return nil, fmt.Errorf("polling handshake failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		metrics.RecordChannelConnect(transportPolling, "failure")
		return nil, fmt.Errorf("polling handshake returned status %d", resp.StatusCode)
	}

	var hs pollHandshake
	if err := json.NewDecoder(resp.Body).Decode(&hs); err != nil || hs.SessionID == "" {
		metrics.RecordChannelConnect(transportPolling, "failure")
		return nil, fmt.Errorf("malformed polling handshake response")
	}
	metrics.RecordChannelConnect(transportPolling, "success")

	c := &pollConn{
		transport: t,
		baseURL:   baseURL,
		sessionID: hs.SessionID,
		events:    make(chan Event, eventBuffer),
		done:      make(chan struct{}),
	}
	go c.run()
	return c, nil
}

type pollConn struct {
	transport *PollingTransport
	baseURL   string
	sessionID string

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

func (c *pollConn) Events() <-chan Event { return c.events }

func (c *pollConn) Emit(event string, payload interface{}) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errors.ErrTransportClosed
	}

	env, err := encodeEnvelope(event, payload)
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode %s envelope: %w", event, err)
	}

	endpoint := fmt.Sprintf("%s/realtime/poll/%s/emit", c.baseURL, c.sessionID)
	resp, err := c.transport.client.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("polling emit failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("polling emit returned status %d", resp.StatusCode)
	}
	metrics.ChannelEventsEmitted.WithLabelValues(event).Inc()
	return nil
}

func (c *pollConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

// run repeatedly long-polls the relay for queued events. Transient failures
// surface as a single disconnect until the queue answers again; persistent
// failure gives up after a bounded budget.
func (c *pollConn) run() {
	defer close(c.events)

	c.deliver(Event{Type: EventConnect})

	endpoint := fmt.Sprintf("%s/realtime/poll/%s/events?wait=%d",
		c.baseURL, c.sessionID, int(c.transport.pollWait.Seconds()))

	failures := 0
	for {
		select {
		case <-c.done:
			return
		default:
		}

		envelopes, err := c.fetch(endpoint)
		if err != nil {
			if c.isClosed() {
				return
			}
			failures++
			if failures == 1 {
				logger.LogChannelEvent("poll_error", transportPolling, zap.Error(err))
				c.deliver(Event{Type: EventDisconnect})
			}
			if failures >= pollMaxFailures {
				c.deliver(Event{Type: EventReconnectFailed, Message: "polling failure budget exhausted"})
				return
			}
			c.deliver(Event{Type: EventReconnectAttempt, Attempt: failures})
			select {
			case <-c.done:
				return
			case <-time.After(pollRetryDelay):
			}
			continue
		}

		if failures > 0 {
			c.deliver(Event{Type: EventReconnect, Attempt: failures})
			c.deliver(Event{Type: EventConnect})
			failures = 0
		}

		for _, env := range envelopes {
			ev, err := DecodeEvent(env)
			if err != nil {
				logger.Warn("Dropping malformed channel event", zap.String("event", env.Event), zap.Error(err))
				continue
			}
			if ev.Type == EventUnknown {
				continue
			}
			c.deliver(ev)
		}
	}
}

func (c *pollConn) fetch(endpoint string) ([]Envelope, error) {
	resp, err := c.transport.client.Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("poll request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll returned status %d", resp.StatusCode)
	}

	var envelopes []Envelope
	if err := json.NewDecoder(resp.Body).Decode(&envelopes); err != nil {
		return nil, fmt.Errorf("malformed poll response: %w", err)
	}
	return envelopes, nil
}

func (c *pollConn) deliver(ev Event) {
	metrics.ChannelEventsReceived.WithLabelValues(ev.Type.String()).Inc()
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *pollConn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
