package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/wireflow/pkg/api"
)

// getLibraryFlow lists a folder when the path is empty or ends in a slash,
// and otherwise returns the saved flow at that path
func (s *Server) getLibraryFlow(c *gin.Context) {
	name := c.Param("path")
	ctx := c.Request.Context()
	if name == "" || strings.HasSuffix(name, "/") {
		res, err := s.deps.Library.List(ctx, name)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
		return
	}

	data, err := s.deps.Library.Load(ctx, name)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

func (s *Server) saveLibraryFlow(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.writeError(c, errBadRequest(err))
		return
	}
	if _, err := api.ParseDefinition(body); err != nil {
		s.writeError(c, err)
		return
	}
	err = s.deps.Library.Save(c.Request.Context(), c.Param("path"), body)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
