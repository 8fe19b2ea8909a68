package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/acadex/acadex-client/config"
	"github.com/acadex/acadex-client/pkg/httpclient"
	"github.com/acadex/acadex-client/pkg/logger"
	"go.uber.org/zap"
)

// Conn is one live channel connection. Events() delivers inbound events in
// transport order until Close; the channel is closed when the connection is
// permanently done (explicit Close or reconnect exhaustion).
type Conn interface {
	Events() <-chan Event
	Emit(event string, payload interface{}) error
	Close() error
}

// Transport dials channel connections. Reconnect policy is owned by the
// transport, not its callers: a Conn keeps itself alive (emitting synthetic
// reconnect events) until it gives up or is closed.
type Transport interface {
	Name() string
	Dial(ctx context.Context, baseURL, token string) (Conn, error)
}

// Capabilities is the relay's answer to the capability probe
type Capabilities struct {
	Transports          []string `json:"transports"`
	PingIntervalSeconds int      `json:"ping_interval_seconds"`
}

// Supports reports whether the relay advertises the named transport
func (c Capabilities) Supports(name string) bool {
	for _, t := range c.Transports {
		if t == name {
			return true
		}
	}
	return false
}

// ProbeCapabilities asks the relay which transports it speaks.
// baseURL is the REST base with the API path suffix stripped.
func ProbeCapabilities(ctx context.Context, client httpclient.Client, baseURL string) (Capabilities, error) {
	var caps Capabilities

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/realtime/info", nil)
	if err != nil {
		return caps, fmt.Errorf("failed to build probe request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return caps, fmt.Errorf("capability probe failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return caps, fmt.Errorf("capability probe returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&caps); err != nil {
		return caps, fmt.Errorf("malformed capability response: %w", err)
	}
	return caps, nil
}

// Negotiate picks the best transport for the environment. A failed probe is
// not fatal: real-time degrades to the conservative polling transport (no
// upgrade attempts, short fixed handshake timeout) instead of disabling.
func Negotiate(ctx context.Context, cfg config.RealtimeConfig, baseURL string) Transport {
	probeCtx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
	defer cancel()

	client := httpclient.NewClientWithTimeout(cfg.ProbeTimeout)
	caps, err := ProbeCapabilities(probeCtx, client, baseURL)
	if err != nil {
		logger.Warn("Transport negotiation degraded to polling", zap.Error(err))
		return NewPollingTransport(cfg.ProbeTimeout, cfg.PollWait)
	}

	if caps.Supports(transportWebsocket) {
		return NewWebsocketTransport(cfg.HandshakeTimeout, cfg.ReconnectMaxDelay)
	}

	logger.Info("Relay does not advertise websocket, using polling",
		zap.Strings("transports", caps.Transports))
	return NewPollingTransport(cfg.HandshakeTimeout, cfg.PollWait)
}

const (
	transportWebsocket = "websocket"
	transportPolling   = "polling"
)
