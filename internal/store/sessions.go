package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// SessionStore owns per-platform session artifacts. Mutations flush the
// whole document to disk immediately.
type SessionStore struct {
	mu       sync.RWMutex
	path     string
	logger   *slog.Logger
	sessions map[string]*PlatformSession
}

// NewSessionStore opens (or creates) the session document at path.
func NewSessionStore(path string, logger *slog.Logger) (*SessionStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &SessionStore{
		path:     path,
		logger:   logger.With(slog.String("component", "store.sessions")),
		sessions: make(map[string]*PlatformSession),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Save stores the session for its platform, replacing any previous one.
func (s *SessionStore) Save(session *PlatformSession) error {
	if session == nil || session.PlatformName == "" {
		return fmt.Errorf("session must carry a platform name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.PlatformName] = session
	if err := s.flushLocked(); err != nil {
		return err
	}

	s.logger.Info("session_saved",
		slog.String("platform", session.PlatformName),
		slog.Time("expires_at", session.ExpiresAt),
		slog.Int("cookies", len(session.Cookies)))
	return nil
}

// Load returns the usable session for a platform, or nil if none exists,
// it has been invalidated, or it has expired.
func (s *SessionStore) Load(platform string, now time.Time) *PlatformSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[platform]
	if !ok || !session.Usable(now) {
		return nil
	}
	return session
}

// Invalidate marks a platform's session unusable and persists the flag.
// Saying so twice is harmless.
func (s *SessionStore) Invalidate(platform string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[platform]
	if !ok {
		return nil
	}
	session.IsValid = false
	if err := s.flushLocked(); err != nil {
		return err
	}

	s.logger.Info("session_invalidated", slog.String("platform", platform))
	return nil
}

// Flush persists the current document; used by the shutdown hook.
func (s *SessionStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *SessionStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read session store: %w", err)
	}

	if err := json.Unmarshal(data, &s.sessions); err != nil {
		return fmt.Errorf("failed to parse session store: %w", err)
	}
	s.logger.Info("sessions_loaded", slog.Int("platforms", len(s.sessions)))
	return nil
}

func (s *SessionStore) flushLocked() error {
	data, err := json.MarshalIndent(s.sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session store: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session store: %w", err)
	}
	return nil
}
