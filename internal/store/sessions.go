package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/rs/zerolog"

	"github.com/JustinTDCT/ListVault/internal/log"
)

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SessionState is the browser storage snapshot for one egress identity:
// cookies plus a local-storage dump, opaque to everything but the driver.
type SessionState struct {
	Cookies      json.RawMessage `json:"cookies,omitempty"`
	LocalStorage json.RawMessage `json:"local_storage,omitempty"`
}

// SessionStore persists browser session state between scrape attempts, one
// JSON blob per egress identity under SESSION_DIR, with an in-memory
// read-through cache. Sessions have no TTL; they are refreshed on every
// successful navigation.
type SessionStore struct {
	dir    string
	mu     sync.Mutex
	cache  map[string]*SessionState
	logger zerolog.Logger
}

func NewSessionStore(dir string) (*SessionStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &SessionStore{
		dir:    dir,
		cache:  make(map[string]*SessionState),
		logger: log.WithComponent("sessions"),
	}, nil
}

// Load returns the saved state for identity, or nil when none exists.
func (s *SessionStore) Load(identity string) *SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.cache[identity]; ok {
		return st
	}

	data, err := os.ReadFile(s.path(identity))
	if err != nil {
		return nil
	}
	var st SessionState
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.Warn().Err(err).Str("identity", identity).Msg("corrupt session blob, ignoring")
		return nil
	}
	s.cache[identity] = &st
	return &st
}

// Save overwrites the state for identity. Failures are logged and swallowed:
// a lost session only costs the next scrape a cold start.
func (s *SessionStore) Save(identity string, state *SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache[identity] = state
	data, err := json.Marshal(state)
	if err != nil {
		s.logger.Warn().Err(err).Str("identity", identity).Msg("session encode failed")
		return
	}
	if err := os.WriteFile(s.path(identity), data, 0o600); err != nil {
		s.logger.Warn().Err(err).Str("identity", identity).Msg("session write failed")
	}
}

// Clear removes the state for identity.
func (s *SessionStore) Clear(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cache, identity)
	if err := os.Remove(s.path(identity)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn().Err(err).Str("identity", identity).Msg("session remove failed")
	}
}

func (s *SessionStore) path(identity string) string {
	safe := unsafeKeyChars.ReplaceAllString(identity, "_")
	if safe == "" {
		safe = "default"
	}
	return filepath.Join(s.dir, safe+".json")
}
