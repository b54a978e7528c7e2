package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/wireflow/internal/auth"
	"github.com/kode4food/wireflow/internal/config"
	"github.com/kode4food/wireflow/internal/engine"
	"github.com/kode4food/wireflow/pkg/api"
	"github.com/kode4food/wireflow/pkg/log"
)

const tokenType = "Bearer"

var ErrTooManyRequests = errors.New("too many token requests")

func (s *Server) handleLogin(c *gin.Context) {
	if !s.deps.Auth.Enabled() {
		c.JSON(http.StatusOK, api.LoginResponse{})
		return
	}
	c.JSON(http.StatusOK, api.LoginResponse{
		Type: config.AuthTypeCredentials,
		Prompts: []api.LoginPrompt{
			{ID: "username", Type: "text", Label: "Username"},
			{ID: "password", Type: "password", Label: "Password"},
		},
	})
}

func (s *Server) handleToken(c *gin.Context) {
	if !s.limiter.Allow() {
		s.writeError(c, ErrTooManyRequests)
		return
	}

	var req api.TokenRequest
	if err := c.ShouldBind(&req); err != nil {
		s.writeError(c, errBadRequest(err))
		return
	}

	ctx := c.Request.Context()
	sess, u, err := s.deps.Auth.Login(ctx, req.Username, req.Password)
	if err != nil {
		s.deps.Log.Audit("Login failed",
			log.User(req.Username),
			log.Error(err))
		s.writeError(c, err)
		return
	}
	s.deps.Log.Audit("Login succeeded", log.User(u.Username))
	c.JSON(http.StatusOK, api.TokenResponse{
		AccessToken: sess.Token,
		TokenType:   tokenType,
		ExpiresIn:   api.TokenTTLSeconds(s.deps.Auth.TTL()),
	})
}

func (s *Server) handleRevoke(c *gin.Context) {
	if token, ok := auth.TokenOf(c.GetHeader("Authorization")); ok {
		s.deps.Auth.Revoke(token)
		s.deps.Log.Audit("Token revoked", log.User(currentUser(c).Username))
	}
	c.Status(http.StatusNoContent)
}

// authenticate resolves the caller and records them as the actor of the
// request for audit logging
func (s *Server) authenticate(c *gin.Context) {
	ctx := c.Request.Context()
	u, err := s.deps.Auth.Resolve(ctx, c.GetHeader("Authorization"))
	if err != nil {
		s.abort(c, err)
		return
	}
	c.Set(userKey, u)
	c.Request = c.Request.WithContext(engine.WithActor(ctx, u.Username))
	c.Next()
}

func (s *Server) require(write bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := auth.Authorize(currentUser(c), write); err != nil {
			s.deps.Log.Audit("Permission denied",
				log.User(currentUser(c).Username),
				"method", c.Request.Method,
				"path", c.FullPath())
			s.abort(c, err)
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) *api.User {
	if v, ok := c.Get(userKey); ok {
		if u, ok := v.(*api.User); ok {
			return u
		}
	}
	return &api.User{}
}
