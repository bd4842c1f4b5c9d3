// Package token holds the bearer credential for the feed API and
// notifies the rest of the client when it changes.
package token

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"feedsync/internal/events"
)

// Claims is the subset of the JWT payload the client cares about. The
// server signs tokens with the subject set to the account email; the
// client never verifies the signature, it only reads the payload.
type Claims struct {
	Email     string
	ExpiresAt time.Time
}

// Store holds the current bearer token. When a file path is configured
// the token survives restarts, the way a browser keeps it in
// localStorage; an empty path keeps it in memory only.
type Store struct {
	bus    *events.Bus
	logger *slog.Logger
	path   string

	mu  sync.RWMutex
	tok string
}

// NewStore creates a store and loads any previously saved token.
func NewStore(path string, bus *events.Bus, logger *slog.Logger) *Store {
	s := &Store{path: path, bus: bus, logger: logger}
	if path == "" {
		return s
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("Failed to read token file", "path", path, "error", err)
		}
		return s
	}
	s.tok = strings.TrimSpace(string(data))
	if s.tok != "" {
		logger.Debug("Token loaded", "path", path)
	}
	return s
}

// Get returns the current bearer token, if any.
func (s *Store) Get() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tok, s.tok != ""
}

// Set stores a new token and announces the credential change.
func (s *Store) Set(tok string) error {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return fmt.Errorf("empty token")
	}

	s.mu.Lock()
	s.tok = tok
	s.mu.Unlock()

	if s.path != "" {
		if err := os.WriteFile(s.path, []byte(tok+"\n"), 0o600); err != nil {
			return fmt.Errorf("write token file: %w", err)
		}
	}

	s.logger.Info("Credential stored")
	s.bus.Publish(events.Event{Kind: events.CredentialChanged})
	return nil
}

// Clear forgets the token and announces the credential change. Clearing
// an already-empty store is a no-op.
func (s *Store) Clear() error {
	s.mu.Lock()
	had := s.tok != ""
	s.tok = ""
	s.mu.Unlock()

	if !had {
		return nil
	}

	if s.path != "" {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove token file: %w", err)
		}
	}

	s.logger.Info("Credential cleared")
	s.bus.Publish(events.Event{Kind: events.CredentialChanged})
	return nil
}

// Claims decodes the JWT payload of the current token without verifying
// the signature; verification is the server's job. A token that does not
// decode still counts as a credential, but its claims are empty.
func (s *Store) Claims() Claims {
	raw, ok := s.Get()
	if !ok {
		return Claims{}
	}

	var mc jwt.MapClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &mc); err != nil {
		s.logger.Debug("Token payload did not decode", "error", err)
		return Claims{}
	}

	var c Claims
	if sub, err := mc.GetSubject(); err == nil {
		c.Email = sub
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c
}

// Expired reports whether the current token carries an expiry in the
// past. Tokens without a readable expiry are assumed live.
func (s *Store) Expired() bool {
	c := s.Claims()
	return !c.ExpiresAt.IsZero() && time.Now().After(c.ExpiresAt)
}
