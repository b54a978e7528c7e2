package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/wireflow/internal/auth"
	"github.com/kode4food/wireflow/internal/config"
	"github.com/kode4food/wireflow/pkg/api"
)

func listConfig(t *testing.T) *config.AdminAuth {
	t.Helper()
	hash, err := auth.HashPassword("secret")
	require.NoError(t, err)
	return &config.AdminAuth{
		Type: config.AuthTypeCredentials,
		Users: []config.AdminUser{
			{Username: "admin", Password: hash,
				Permissions: api.PermissionAll},
			{Username: "viewer", Password: hash,
				Permissions: api.PermissionRead},
		},
	}
}

func TestListAuth(t *testing.T) {
	a := auth.NewListAuth(listConfig(t).Users)
	ctx := context.Background()

	u, err := a.Authenticate(ctx, "admin", "secret")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "admin", u.Username)
	assert.True(t, u.CanWrite())

	u, err = a.Authenticate(ctx, "admin", "wrong")
	assert.NoError(t, err)
	assert.Nil(t, u)

	u, err = a.Authenticate(ctx, "nobody", "secret")
	assert.NoError(t, err)
	assert.Nil(t, u)

	u, err = a.Validate(ctx, "viewer")
	require.NoError(t, err)
	assert.Equal(t, api.PermissionRead, u.Permissions)

	u, err = a.Validate(ctx, "nobody")
	assert.NoError(t, err)
	assert.Nil(t, u)
}

func TestCallbackAuth(t *testing.T) {
	cfg := &config.AdminAuth{
		UserFunc: func(
			_ context.Context, username string,
		) (*api.User, error) {
			return &api.User{
				Username: username, Permissions: api.PermissionRead,
			}, nil
		},
		AuthenticateFunc: func(
			_ context.Context, username, password string,
		) (*api.User, error) {
			if password != "pw" {
				return nil, nil
			}
			return &api.User{
				Username: username, Permissions: api.PermissionRead,
			}, nil
		},
	}
	a, err := auth.NewAuthenticator(cfg)
	require.NoError(t, err)

	u, err := a.Authenticate(context.Background(), "carol", "pw")
	require.NoError(t, err)
	assert.Equal(t, "carol", u.Username)

	u, err = a.Validate(context.Background(), "carol")
	require.NoError(t, err)
	assert.Equal(t, "carol", u.Username)
}

func TestCallbackAuthBadPermission(t *testing.T) {
	a := auth.NewCallbackAuth(nil, func(
		context.Context, string, string,
	) (*api.User, error) {
		return &api.User{Username: "x", Permissions: "root"}, nil
	})
	_, err := a.Authenticate(context.Background(), "x", "y")
	assert.ErrorIs(t, err, config.ErrInvalidPermission)
}

func TestNewAuthenticator(t *testing.T) {
	a, err := auth.NewAuthenticator(&config.AdminAuth{})
	assert.NoError(t, err)
	assert.Nil(t, a)

	_, err = auth.NewAuthenticator(&config.AdminAuth{
		UserFunc: func(context.Context, string) (*api.User, error) {
			return nil, nil
		},
	})
	assert.ErrorIs(t, err, auth.ErrNoAuthenticate)

	_, err = auth.NewAuthenticator(&config.AdminAuth{
		AuthenticateFunc: func(
			context.Context, string, string,
		) (*api.User, error) {
			return nil, nil
		},
	})
	assert.ErrorIs(t, err, auth.ErrNoUserLookup)
}

func TestServiceOpen(t *testing.T) {
	s, err := auth.NewService(&config.AdminAuth{})
	require.NoError(t, err)
	assert.False(t, s.Enabled())

	u, err := s.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Same(t, api.Anonymous, u)

	_, _, err = s.Login(context.Background(), "a", "b")
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestServiceLoginResolve(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := listConfig(t)
	cfg.SessionExpiryTime = 60
	s, err := auth.NewService(cfg, auth.WithClock(func() time.Time {
		return now
	}))
	require.NoError(t, err)
	assert.Equal(t, time.Minute, s.TTL())
	ctx := context.Background()

	_, _, err = s.Login(ctx, "admin", "nope")
	assert.ErrorIs(t, err, auth.ErrBadCredentials)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	sess, u, err := s.Login(ctx, "viewer", "secret")
	require.NoError(t, err)
	assert.Equal(t, "viewer", u.Username)
	assert.NotEmpty(t, sess.Token)
	assert.Equal(t, now.Add(time.Minute), sess.Expires)

	u, err = s.Resolve(ctx, "Bearer "+sess.Token)
	require.NoError(t, err)
	assert.Equal(t, "viewer", u.Username)

	_, err = s.Resolve(ctx, "")
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	_, err = s.Resolve(ctx, "Basic abc")
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	_, err = s.Resolve(ctx, "Bearer unknown")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	now = now.Add(2 * time.Minute)
	_, err = s.Resolve(ctx, "Bearer "+sess.Token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestServiceRevoke(t *testing.T) {
	s, err := auth.NewService(listConfig(t))
	require.NoError(t, err)
	ctx := context.Background()

	sess, _, err := s.Login(ctx, "admin", "secret")
	require.NoError(t, err)
	s.Revoke(sess.Token)

	_, err = s.Resolve(ctx, "Bearer "+sess.Token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestServiceDefaultPermission(t *testing.T) {
	cfg := listConfig(t)
	cfg.Default = &config.DefaultPermission{
		Permissions: api.PermissionRead,
	}
	s, err := auth.NewService(cfg)
	require.NoError(t, err)

	u, err := s.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, u.CanRead())
	assert.False(t, u.CanWrite())
}

func TestServiceValidateFailure(t *testing.T) {
	broken := errors.New("directory offline")
	cfg := &config.AdminAuth{
		UserFunc: func(context.Context, string) (*api.User, error) {
			return nil, broken
		},
		AuthenticateFunc: func(
			_ context.Context, username, _ string,
		) (*api.User, error) {
			return &api.User{
				Username: username, Permissions: api.PermissionAll,
			}, nil
		},
	}
	s, err := auth.NewService(cfg)
	require.NoError(t, err)

	sess, _, err := s.Login(context.Background(), "dave", "pw")
	require.NoError(t, err)
	_, err = s.Resolve(context.Background(), "Bearer "+sess.Token)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
	assert.ErrorIs(t, err, broken)
}

func TestAuthorize(t *testing.T) {
	reader := &api.User{Username: "r", Permissions: api.PermissionRead}
	writer := &api.User{Username: "w", Permissions: api.PermissionAll}

	assert.NoError(t, auth.Authorize(reader, false))
	assert.ErrorIs(t, auth.Authorize(reader, true), auth.ErrForbidden)
	assert.NoError(t, auth.Authorize(writer, true))
	assert.ErrorIs(t, auth.Authorize(nil, false), auth.ErrUnauthorized)
	assert.ErrorIs(t,
		auth.Authorize(&api.User{Permissions: "x"}, false),
		auth.ErrForbidden,
	)
}
