package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/wireflow/internal/ctxstore"
	"github.com/kode4food/wireflow/pkg/api"
)

const editorPage = `<!DOCTYPE html>
<html>
<head><title>wireflow</title></head>
<body>
<h1>wireflow</h1>
<p>The flow editor is not bundled with this runtime. Use the admin API
to manage flows.</p>
</body>
</html>
`

func (s *Server) handleEditor(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(editorPage))
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, api.HealthResponse{
		Service: ServiceName,
		Version: s.deps.Version,
		State:   s.deps.Engine.RuntimeState(),
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleSettings(c *gin.Context) {
	st := s.deps.Settings
	res := api.SettingsResponse{
		EditorTheme:       st.EditorTheme,
		Version:           s.deps.Version,
		HTTPNodeRoot:      st.HTTPNodeRoot.String(),
		PaletteCategories: st.PaletteCategories,
	}
	if s.deps.Auth.Enabled() {
		res.User = currentUser(c)
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Engine.State())
}

func (s *Server) handleNodes(c *gin.Context) {
	types := s.deps.Engine.Registry().Types(s.deps.Settings.PaletteCategories)
	c.JSON(http.StatusOK, api.NodeTypesResponse{
		Types: types,
		Count: len(types),
	})
}

// handleInject triggers an input node. An empty body injects the message
// the node is configured to send
func (s *Server) handleInject(c *gin.Context) {
	id := api.NodeID(c.Param("id"))
	var req api.InjectRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(c, errBadRequest(err))
		return
	}
	if err := s.deps.Engine.Inject(c.Request.Context(), id, req.Msg); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.MessageResponse{
		Message: fmt.Sprintf("injected %s", id),
	})
}

func (s *Server) globalContext(c *gin.Context) {
	s.writeContext(c, ctxstore.GlobalScope)
}

func (s *Server) flowContext(c *gin.Context) {
	s.writeContext(c, ctxstore.FlowScope(c.Param("id")))
}

func (s *Server) nodeContext(c *gin.Context) {
	s.writeContext(c, ctxstore.NodeScope(c.Param("id")))
}

func (s *Server) writeContext(c *gin.Context, scope string) {
	vals, err := s.deps.Engine.Contexts().Values(c.Request.Context(), scope)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.ContextResponse{
		Values: vals,
		Scope:  scope,
	})
}
