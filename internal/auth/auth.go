// Package auth resolves admin API callers to users. Two credential
// sources are supported: a static user list with bcrypt password hashes
// and host-supplied callbacks
package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/kode4food/wireflow/internal/config"
	"github.com/kode4food/wireflow/pkg/api"
)

type (
	// Authenticator is a source of admin users
	Authenticator interface {
		// Authenticate checks a username and password. It returns nil when
		// the credentials are rejected
		Authenticate(ctx context.Context, username, password string) (
			*api.User, error,
		)

		// Validate resolves a username to its current user record, or nil
		// when the user no longer exists
		Validate(ctx context.Context, username string) (*api.User, error)
	}

	// ListAuth authenticates against a static list of users
	ListAuth struct {
		users map[string]config.AdminUser
	}

	// CallbackAuth delegates to host-supplied functions
	CallbackAuth struct {
		user         config.UserFunc
		authenticate config.AuthenticateFunc
	}
)

const bcryptCost = 10

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidToken = fmt.Errorf("%w: invalid or expired token",
		ErrUnauthorized)
	ErrBadCredentials = fmt.Errorf("%w: invalid username or password",
		ErrUnauthorized)
	ErrNoAuthenticate = errors.New(
		"callback auth requires an authenticate function",
	)
	ErrNoUserLookup = errors.New(
		"callback auth requires a user function or a user list",
	)
)

// compared when a username is unknown so that response timing does not
// reveal which usernames exist
var decoyHash, _ = bcrypt.GenerateFromPassword([]byte("decoy"), bcryptCost)

var (
	_ Authenticator = (*ListAuth)(nil)
	_ Authenticator = (*CallbackAuth)(nil)
)

// NewAuthenticator builds the Authenticator described by the settings, or
// nil when admin auth is not configured
func NewAuthenticator(cfg *config.AdminAuth) (Authenticator, error) {
	switch {
	case !cfg.Enabled():
		return nil, nil
	case cfg.UserFunc != nil || cfg.AuthenticateFunc != nil:
		if cfg.AuthenticateFunc == nil {
			return nil, ErrNoAuthenticate
		}
		user := cfg.UserFunc
		if user == nil && len(cfg.Users) != 0 {
			user = NewListAuth(cfg.Users).Validate
		}
		if user == nil {
			return nil, ErrNoUserLookup
		}
		return NewCallbackAuth(user, cfg.AuthenticateFunc), nil
	default:
		return NewListAuth(cfg.Users), nil
	}
}

// NewListAuth creates a ListAuth over users whose Password fields hold
// bcrypt hashes
func NewListAuth(users []config.AdminUser) *ListAuth {
	res := &ListAuth{users: make(map[string]config.AdminUser, len(users))}
	for _, u := range users {
		res.users[u.Username] = u
	}
	return res
}

func (l *ListAuth) Authenticate(
	_ context.Context, username, password string,
) (*api.User, error) {
	u, ok := l.users[username]
	hash := decoyHash
	if ok {
		hash = []byte(u.Password)
	}
	err := bcrypt.CompareHashAndPassword(hash, []byte(password))
	if !ok || err != nil {
		return nil, nil
	}
	return toUser(u), nil
}

func (l *ListAuth) Validate(
	_ context.Context, username string,
) (*api.User, error) {
	u, ok := l.users[username]
	if !ok {
		return nil, nil
	}
	return toUser(u), nil
}

// NewCallbackAuth creates a CallbackAuth
func NewCallbackAuth(
	user config.UserFunc, authenticate config.AuthenticateFunc,
) *CallbackAuth {
	return &CallbackAuth{user: user, authenticate: authenticate}
}

func (c *CallbackAuth) Authenticate(
	ctx context.Context, username, password string,
) (*api.User, error) {
	u, err := c.authenticate(ctx, username, password)
	if err != nil || u == nil {
		return nil, err
	}
	if !u.Permissions.IsValid() {
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidPermission,
			u.Permissions)
	}
	return u, nil
}

func (c *CallbackAuth) Validate(
	ctx context.Context, username string,
) (*api.User, error) {
	return c.user(ctx, username)
}

// HashPassword produces a bcrypt hash suitable for a user list entry
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func toUser(u config.AdminUser) *api.User {
	return &api.User{Username: u.Username, Permissions: u.Permissions}
}
