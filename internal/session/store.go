// Package session is the single source of truth for "who is logged in".
// It rehydrates from durable storage at construction time and is mutated
// only by explicit Login/Logout calls (or the global 401 sweep and a
// server-pushed forced logout, both of which route through Logout).
package session

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/acadex/acadex-client/internal/models"
	"github.com/acadex/acadex-client/internal/storage"
	"github.com/acadex/acadex-client/pkg/errors"
	"github.com/acadex/acadex-client/pkg/jwt"
	"github.com/acadex/acadex-client/pkg/logger"
)

// WatchFunc observes identity changes. old and current may each be nil
// (login from unauthenticated, logout, or a direct user switch).
type WatchFunc func(old, current *models.Principal)

// Store holds the authenticated principal and bearer token
type Store struct {
	storage *storage.Store

	mu        sync.RWMutex
	principal *models.Principal
	token     string
	loading   bool

	watcherMu sync.Mutex
	watchers  map[int]WatchFunc
	nextWatch int
}

// New creates the store and synchronously rehydrates any persisted session
// before returning, so consumers never observe an "undetermined" state.
// Malformed or expired persisted state fails closed: both storage keys are
// cleared and the store starts unauthenticated.
func New(st *storage.Store) *Store {
	s := &Store{
		storage:  st,
		loading:  true,
		watchers: make(map[int]WatchFunc),
	}
	s.rehydrate()
	s.mu.Lock()
	s.loading = false
	s.mu.Unlock()
	return s
}

func (s *Store) rehydrate() {
	principal, token, err := s.storage.Session()
	if err != nil {
		if !errors.Is(err, errors.ErrNoSession) {
			// Fail closed: a principal record we cannot parse is treated
			// as unauthenticated and the stale keys are discarded.
			logger.Warn("Discarding unusable persisted session", zap.Error(err))
			s.storage.Clear()
		}
		return
	}

	if !principal.Role.Valid() {
		logger.Warn("Discarding persisted session with unknown role", zap.String("role", string(principal.Role)))
		s.storage.Clear()
		return
	}

	if jwt.IsExpired(token, time.Now()) {
		logger.LogError(errors.ErrSessionExpired, "Discarding expired persisted session",
			zap.String("user_id", principal.ID))
		s.storage.Clear()
		return
	}

	s.mu.Lock()
	s.principal = principal
	s.token = token
	s.mu.Unlock()

	logger.Info("Session rehydrated",
		zap.String("user_id", principal.ID),
		zap.String("role", string(principal.Role)))
}

// Login persists the principal and token and notifies watchers.
// Token authenticity is not checked client-side; trust is delegated to the
// server, which will answer 401 if the token is bogus.
func (s *Store) Login(principal *models.Principal, token string) error {
	if principal == nil || principal.ID == "" {
		return errors.InvalidInputError("principal", "id is required")
	}
	if token == "" {
		return errors.InvalidInputError("token", "must not be empty")
	}

	if err := s.storage.SetSession(principal, token); err != nil {
		return err
	}

	s.mu.Lock()
	old := s.principal
	s.principal = principal
	s.token = token
	s.mu.Unlock()

	logger.Info("Session established",
		zap.String("user_id", principal.ID),
		zap.String("role", string(principal.Role)))

	s.notify(old, principal)
	return nil
}

// Logout clears in-memory state and both durable storage keys.
// It performs no navigation; observers react to the unauthenticated state.
func (s *Store) Logout() {
	s.mu.Lock()
	old := s.principal
	s.principal = nil
	s.token = ""
	s.mu.Unlock()

	s.storage.Clear()

	if old != nil {
		logger.Info("Session destroyed", zap.String("user_id", old.ID))
	}
	s.notify(old, nil)
}

// Current returns the authenticated principal, or nil
func (s *Store) Current() *models.Principal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.principal
}

// Token returns the bearer token, or empty when unauthenticated
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Authenticated reports whether a principal and token are both present
func (s *Store) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.principal != nil && s.token != ""
}

// IsGuest reports whether the current session is absent or a guest session
func (s *Store) IsGuest() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.principal.IsGuest()
}

// Loading reports whether rehydration is still in progress
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Watch registers fn to be called on every identity change and returns an
// unsubscribe function. Callbacks run synchronously on the mutating
// goroutine, in registration order.
func (s *Store) Watch(fn WatchFunc) func() {
	s.watcherMu.Lock()
	id := s.nextWatch
	s.nextWatch++
	s.watchers[id] = fn
	s.watcherMu.Unlock()

	return func() {
		s.watcherMu.Lock()
		delete(s.watchers, id)
		s.watcherMu.Unlock()
	}
}

func (s *Store) notify(old, current *models.Principal) {
	s.watcherMu.Lock()
	ids := make([]int, 0, len(s.watchers))
	for id := range s.watchers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]WatchFunc, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.watchers[id])
	}
	s.watcherMu.Unlock()

	for _, fn := range fns {
		fn(old, current)
	}
}
