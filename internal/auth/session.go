package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoToken is returned when no bearer token has been configured.
	ErrNoToken = errors.New("no API token configured: run `recorder auth set-token` or set RECORDER_API_TOKEN")
	// ErrSessionExpired is returned when the configured token is past its exp claim.
	ErrSessionExpired = errors.New("API token has expired")
)

// Session is the authenticated user context injected into API clients.
type Session struct {
	Token     string    `toml:"token"`
	User      string    `toml:"user,omitempty"`
	ExpiresAt time.Time `toml:"expires_at,omitempty"`

	now func() time.Time
}

// NewSession builds a session from a raw bearer token. The exp and sub
// claims are read without verification because the client never holds
// the signing key.
func NewSession(token string, user string) *Session {
	s := &Session{Token: strings.TrimSpace(token), User: user}
	s.inspect()
	return s
}

func (s *Session) inspect() {
	if s.Token == "" {
		return
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.Token, &claims); err != nil {
		return
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	if s.User == "" {
		s.User = claims.Subject
	}
}

// BearerToken returns the token to send, failing fast on expiry.
func (s *Session) BearerToken() (string, error) {
	if s == nil || s.Token == "" {
		return "", ErrNoToken
	}
	if !s.ExpiresAt.IsZero() && !s.clock().Before(s.ExpiresAt) {
		return "", fmt.Errorf("%w at %s", ErrSessionExpired, s.ExpiresAt.Format(time.RFC3339))
	}
	return s.Token, nil
}

func (s *Session) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// DefaultCredentialsPath is where `auth set-token` stores credentials.
func DefaultCredentialsPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "recorder", "credentials.toml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "recorder", "credentials.toml")
	}
	return "credentials.toml"
}

// Load reads a credentials file. A missing file yields an empty session.
func Load(path string) (*Session, error) {
	var s Session
	if _, err := toml.DecodeFile(path, &s); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Session{}, nil
		}
		return nil, fmt.Errorf("reading credentials %q: %w", path, err)
	}
	s.Token = strings.TrimSpace(s.Token)
	s.inspect()
	return &s, nil
}

// Save writes the session to path with owner-only permissions.
func Save(path string, s *Session) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating credentials dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening credentials %q: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(s); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}
	return nil
}
