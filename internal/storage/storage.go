// Package storage is the durable local key/value store backing the session.
// It holds exactly two entries, the principal record and the bearer token,
// and always mutates them together so the client can never observe a
// half-authenticated state across restarts.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/acadex/acadex-client/internal/models"
	"github.com/acadex/acadex-client/pkg/errors"
	"github.com/acadex/acadex-client/pkg/logger"
)

const (
	principalKey = "auth.principal"
	tokenKey     = "auth.token"
)

// Store persists the session pair. Entries never expire on their own; the
// session lifecycle (logout, 401 sweep, forced logout) is the only eviction.
// When path is empty the store is memory-only, which tests rely on.
type Store struct {
	cache *gocache.Cache
	path  string
	mu    sync.Mutex
}

// New opens the store, loading any previously persisted state from path.
// A missing or corrupt persistence file loads as empty rather than failing.
func New(path string) *Store {
	cache := gocache.New(gocache.NoExpiration, 0)

	if path != "" {
		if err := cache.LoadFile(path); err != nil {
			if !os.IsNotExist(err) {
				logger.Warn("Discarding unreadable session file", zap.String("path", path), zap.Error(err))
			}
			cache = gocache.New(gocache.NoExpiration, 0)
		}
	}

	return &Store{cache: cache, path: path}
}

// SetSession stores the principal and token as a unit
func (s *Store) SetSession(principal *models.Principal, token string) error {
	if principal == nil || token == "" {
		return errors.InvalidInputError("session", "principal and token are both required")
	}

	data, err := json.Marshal(principal)
	if err != nil {
		return fmt.Errorf("failed to encode principal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Set(principalKey, string(data), gocache.NoExpiration)
	s.cache.Set(tokenKey, token, gocache.NoExpiration)
	return s.persist()
}

// Session returns the stored principal and token, or ErrNoSession when either
// half is absent. A present-but-malformed principal record is surfaced as an
// error so the caller can fail closed.
func (s *Store) Session() (*models.Principal, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rawPrincipal, okP := s.cache.Get(principalKey)
	rawToken, okT := s.cache.Get(tokenKey)
	if !okP || !okT {
		return nil, "", errors.ErrNoSession
	}

	encoded, ok := rawPrincipal.(string)
	if !ok {
		return nil, "", errors.InternalError("unexpected principal storage type")
	}
	token, ok := rawToken.(string)
	if !ok || token == "" {
		return nil, "", errors.InternalError("unexpected token storage type")
	}

	var principal models.Principal
	if err := json.Unmarshal([]byte(encoded), &principal); err != nil {
		return nil, "", fmt.Errorf("malformed stored principal: %w", err)
	}

	return &principal, token, nil
}

// Clear removes both session keys and the persisted copy
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Delete(principalKey)
	s.cache.Delete(tokenKey)
	if err := s.persist(); err != nil {
		logger.Warn("Failed to persist session clear", zap.Error(err))
	}
}

// HasSession reports whether both session keys are present
func (s *Store) HasSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, okP := s.cache.Get(principalKey)
	_, okT := s.cache.Get(tokenKey)
	return okP && okT
}

// persist writes the store to disk; callers hold s.mu
func (s *Store) persist() error {
	if s.path == "" {
		return nil
	}
	if err := s.cache.SaveFile(s.path); err != nil {
		return fmt.Errorf("failed to persist session store: %w", err)
	}
	return nil
}
