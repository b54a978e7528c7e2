package config

import (
	"context"
	"fmt"
	"time"

	"github.com/kode4food/wireflow/pkg/api"
)

type (
	// AdminAuth configures authentication of the admin API. Either a static
	// Users list or a UserFunc may be supplied, not both. An empty AdminAuth
	// leaves the admin API open
	AdminAuth struct {
		Type              string             `yaml:"type"`
		Users             []AdminUser        `yaml:"users"`
		Default           *DefaultPermission `yaml:"default"`
		SessionExpiryTime int                `yaml:"sessionExpiryTime"`

		// UserFunc looks up a user by name for token validation
		UserFunc UserFunc `yaml:"-"`

		// AuthenticateFunc checks credentials. When nil, list users are
		// checked against their password hashes
		AuthenticateFunc AuthenticateFunc `yaml:"-"`
	}

	// AdminUser is a static user record. Password holds a bcrypt hash
	AdminUser struct {
		Username    string         `yaml:"username"`
		Password    string         `yaml:"password"`
		Permissions api.Permission `yaml:"permissions"`
	}

	// DefaultPermission grants a permission to unauthenticated callers
	DefaultPermission struct {
		Permissions api.Permission `yaml:"permissions"`
	}

	// UserFunc resolves a username to a user, or nil when unknown
	UserFunc func(ctx context.Context, username string) (*api.User, error)

	// AuthenticateFunc checks a username and password, returning nil when
	// the credentials are rejected
	AuthenticateFunc func(
		ctx context.Context, username, password string,
	) (*api.User, error)
)

const AuthTypeCredentials = "credentials"

// Enabled reports whether the admin API requires authentication
func (a *AdminAuth) Enabled() bool {
	return a.Type != "" || len(a.Users) != 0 || a.UserFunc != nil ||
		a.AuthenticateFunc != nil
}

// SessionTTL returns how long issued tokens remain valid
func (a *AdminAuth) SessionTTL() time.Duration {
	if a.SessionExpiryTime <= 0 {
		return DefaultSessionExpiry
	}
	return time.Duration(a.SessionExpiryTime) * time.Second
}

// Validate checks the auth type, user records, and default permission
func (a *AdminAuth) Validate() error {
	if !a.Enabled() {
		return nil
	}
	if a.Type != "" && a.Type != AuthTypeCredentials {
		return fmt.Errorf("%w: %q", ErrInvalidAdminAuthType, a.Type)
	}
	if len(a.Users) != 0 && a.UserFunc != nil {
		return ErrConflictingAuthConfig
	}
	if a.SessionExpiryTime < 0 {
		return fmt.Errorf("%w: %d",
			ErrInvalidSessionExpiry, a.SessionExpiryTime)
	}
	seen := map[string]bool{}
	for i, u := range a.Users {
		if u.Username == "" || u.Password == "" {
			return fmt.Errorf("%w: entry %d needs username and password",
				ErrInvalidAdminUser, i)
		}
		if seen[u.Username] {
			return fmt.Errorf("%w: duplicate username %q",
				ErrInvalidAdminUser, u.Username)
		}
		seen[u.Username] = true
		if !u.Permissions.IsValid() {
			return fmt.Errorf("%w: %q for user %q",
				ErrInvalidPermission, u.Permissions, u.Username)
		}
	}
	if a.Default != nil && !a.Default.Permissions.IsValid() {
		return fmt.Errorf("%w: default %q",
			ErrInvalidPermission, a.Default.Permissions)
	}
	return nil
}
