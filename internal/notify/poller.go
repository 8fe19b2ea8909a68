// Package notify keeps the unread-notification and pending-recommendation
// badge counters fresh for the roles allowed to see them. It is an
// independent polling loop, deliberately not part of the realtime channel.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/acadex/acadex-client/internal/models"
	"github.com/acadex/acadex-client/internal/session"
	"github.com/acadex/acadex-client/pkg/logger"
	"github.com/acadex/acadex-client/pkg/metrics"
)

const fetchTimeout = 10 * time.Second

// Fetcher supplies fresh counter values; satisfied by the api client
type Fetcher interface {
	NotificationCounts(ctx context.Context) (*models.NotificationCounts, error)
}

// Poller refreshes the counters on session activation and on a fixed
// interval until the session ends or changes identity.
type Poller struct {
	fetcher  Fetcher
	sessions *session.Store
	interval time.Duration
	clock    Clock

	mu      sync.Mutex
	counts  models.NotificationCounts
	cancel  context.CancelFunc
	unwatch func()
}

// Option customizes the poller
type Option func(*Poller)

// WithClock replaces the ticker source (tests)
func WithClock(c Clock) Option {
	return func(p *Poller) {
		p.clock = c
	}
}

// New creates the poller
func New(fetcher Fetcher, sessions *session.Store, interval time.Duration, opts ...Option) *Poller {
	p := &Poller{
		fetcher:  fetcher,
		sessions: sessions,
		interval: interval,
		clock:    realClock{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start wires the poller to session changes and begins polling if an
// authorized session is already active.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.unwatch != nil {
		p.mu.Unlock()
		return
	}
	p.unwatch = p.sessions.Watch(p.onSessionChange)
	p.mu.Unlock()

	if current := p.sessions.Current(); current != nil {
		p.onSessionChange(nil, current)
	}
}

// Stop halts polling and stops observing the session
func (p *Poller) Stop() {
	p.mu.Lock()
	unwatch := p.unwatch
	p.unwatch = nil
	p.mu.Unlock()
	if unwatch != nil {
		unwatch()
	}
	p.stopLoop()
}

// Counts returns the last successfully fetched counter values.
// Stale-but-present beats erroring the UI: failed refreshes keep these.
func (p *Poller) Counts() models.NotificationCounts {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts
}

// onSessionChange restarts the loop for the new identity. The previous
// interval timer is always cancelled first so polling loops never leak
// across user switches.
func (p *Poller) onSessionChange(old, current *models.Principal) {
	p.stopLoop()

	if current == nil || current.IsGuest() || !current.Role.PollsNotifications() {
		return
	}

	p.mu.Lock()
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.mu.Unlock()

	logger.Info("Notification polling started",
		zap.String("user_id", current.ID),
		zap.String("role", string(current.Role)))

	go p.loop(ctx)
}

func (p *Poller) stopLoop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.counts = models.NotificationCounts{}
}

func (p *Poller) loop(ctx context.Context) {
	// immediate fetch on activation, then on the interval
	p.fetch(ctx)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			p.fetch(ctx)
		}
	}
}

// fetch refreshes the counters; failures are swallowed and the previous
// values retained.
func (p *Poller) fetch(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	counts, err := p.fetcher.NotificationCounts(fetchCtx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("Notification counter fetch failed", zap.Error(err))
		}
		metrics.CounterPolls.WithLabelValues("error").Inc()
		return
	}

	p.mu.Lock()
	p.counts = *counts
	p.mu.Unlock()
	metrics.CounterPolls.WithLabelValues("success").Inc()
}
