package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kode4food/wireflow/internal/config"
	"github.com/kode4food/wireflow/pkg/api"
)

type (
	// Service issues and validates bearer tokens for the admin API
	Service struct {
		auth     Authenticator
		fallback *api.User
		sessions map[string]*Session
		now      func() time.Time
		ttl      time.Duration
		mu       sync.Mutex
	}

	// Session is an issued access token
	Session struct {
		Expires  time.Time
		Token    string
		Username string
	}

	// Option customizes a Service
	Option func(*Service)
)

const bearerPrefix = "Bearer "

// WithClock replaces the time source used for token expiry
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a token service for the admin auth settings
func NewService(cfg *config.AdminAuth, opts ...Option) (*Service, error) {
	a, err := NewAuthenticator(cfg)
	if err != nil {
		return nil, err
	}
	s := &Service{
		auth:     a,
		sessions: map[string]*Session{},
		now:      time.Now,
		ttl:      cfg.SessionTTL(),
	}
	if cfg.Default != nil {
		s.fallback = &api.User{Permissions: cfg.Default.Permissions}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Enabled reports whether callers must authenticate
func (s *Service) Enabled() bool {
	return s.auth != nil
}

// TTL returns the lifetime of issued tokens
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Login checks credentials and issues a new session token
func (s *Service) Login(
	ctx context.Context, username, password string,
) (*Session, *api.User, error) {
	if !s.Enabled() {
		return nil, nil, fmt.Errorf("%w: admin auth is not enabled",
			ErrUnauthorized)
	}
	u, err := s.auth.Authenticate(ctx, username, password)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if u == nil {
		return nil, nil, ErrBadCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	sess := &Session{
		Token:    uuid.NewString(),
		Username: u.Username,
		Expires:  s.now().Add(s.ttl),
	}
	s.sessions[sess.Token] = sess
	return sess, u, nil
}

// Revoke discards a token. Unknown tokens are ignored
func (s *Service) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}

// Resolve maps an Authorization header value to a user. An empty header
// resolves to the default user when one is configured
func (s *Service) Resolve(ctx context.Context, header string) (
	*api.User, error,
) {
	if !s.Enabled() {
		return api.Anonymous, nil
	}
	if header == "" {
		if s.fallback != nil {
			return s.fallback, nil
		}
		return nil, fmt.Errorf("%w: missing credentials", ErrUnauthorized)
	}
	token, ok := TokenOf(header)
	if !ok {
		return nil, fmt.Errorf("%w: expected bearer token", ErrUnauthorized)
	}

	sess, ok := s.session(token)
	if !ok {
		return nil, ErrInvalidToken
	}
	u, err := s.auth.Validate(ctx, sess.Username)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if u == nil || !u.CanRead() {
		s.Revoke(token)
		return nil, ErrInvalidToken
	}
	return u, nil
}

// Authorize checks that the user holds the permission a route requires
func Authorize(u *api.User, write bool) error {
	switch {
	case u == nil:
		return ErrUnauthorized
	case write && !u.CanWrite():
		return fmt.Errorf("%w: %s requires write permission",
			ErrForbidden, displayName(u))
	case !u.CanRead():
		return fmt.Errorf("%w: %s requires read permission",
			ErrForbidden, displayName(u))
	default:
		return nil
	}
}

// TokenOf extracts the bearer token from an Authorization header
func TokenOf(header string) (string, bool) {
	return strings.CutPrefix(header, bearerPrefix)
}

func (s *Service) session(token string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return nil, false
	}
	if !s.now().Before(sess.Expires) {
		delete(s.sessions, token)
		return nil, false
	}
	return sess, true
}

func (s *Service) prune() {
	now := s.now()
	for token, sess := range s.sessions {
		if !now.Before(sess.Expires) {
			delete(s.sessions, token)
		}
	}
}

func displayName(u *api.User) string {
	if u.Username == "" {
		return "anonymous"
	}
	return u.Username
}
