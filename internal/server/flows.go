package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kode4food/wireflow/internal/engine"
	"github.com/kode4food/wireflow/pkg/api"
)

func (s *Server) getFlows(c *gin.Context) {
	def := s.deps.Engine.Definition()
	c.JSON(http.StatusOK, api.FlowsResponse{
		Flows: def,
		Rev:   def.Rev(),
	})
}

// deployFlows accepts either a bare array of node objects or a
// DeployRequest carrying the array and the expected revision
func (s *Server) deployFlows(c *gin.Context) {
	mode, err := api.ParseDeployMode(c.GetHeader(DeploymentTypeHeader))
	if err != nil {
		s.writeError(c, errBadRequest(err))
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.writeError(c, errBadRequest(err))
		return
	}
	def, rev, err := parseDeployBody(body)
	if err != nil {
		s.writeError(c, err)
		return
	}

	s.deploy(c, http.StatusOK, def, mode, engine.ExpectRev(rev))
}

func (s *Server) getRuntimeState(c *gin.Context) {
	c.JSON(http.StatusOK, api.FlowStateResponse{
		State: s.deps.Engine.RuntimeState(),
	})
}

func (s *Server) setRuntimeState(c *gin.Context) {
	var req api.FlowStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, errBadRequest(err))
		return
	}
	err := s.deps.Engine.SetRuntimeState(c.Request.Context(), req.State)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.FlowStateResponse{
		State: s.deps.Engine.RuntimeState(),
	})
}

func (s *Server) getFlow(c *gin.Context) {
	id := api.FlowID(c.Param("id"))
	doc, ok := s.deps.Engine.Definition().Document(id)
	if !ok {
		s.writeError(c, fmt.Errorf("%w: %s", engine.ErrFlowNotFound, id))
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) addFlow(c *gin.Context) {
	var doc api.FlowDocument
	if err := c.ShouldBindJSON(&doc); err != nil {
		s.writeError(c, errBadRequest(err))
		return
	}
	if doc.ID == "" {
		doc.ID = api.FlowID(uuid.NewString())
	}
	def := s.deps.Engine.Definition()
	if _, ok := def.FlowByID(doc.ID); ok {
		s.writeError(c, fmt.Errorf("%w: %s", ErrFlowExists, doc.ID))
		return
	}
	s.deploy(c, http.StatusCreated, def.WithFlow(&doc), api.DeployFlows,
		engine.ExpectRev(def.Rev()),
	)
}

func (s *Server) updateFlow(c *gin.Context) {
	id := api.FlowID(c.Param("id"))
	var doc api.FlowDocument
	if err := c.ShouldBindJSON(&doc); err != nil {
		s.writeError(c, errBadRequest(err))
		return
	}
	if doc.ID != "" && doc.ID != id {
		s.writeError(c, errBadRequest(
			fmt.Errorf("flow id %s does not match %s", doc.ID, id),
		))
		return
	}
	doc.ID = id
	def := s.deps.Engine.Definition()
	if _, ok := def.FlowByID(id); !ok {
		s.writeError(c, fmt.Errorf("%w: %s", engine.ErrFlowNotFound, id))
		return
	}
	s.deploy(c, http.StatusOK, def.WithFlow(&doc), api.DeployFlows,
		engine.ExpectRev(def.Rev()),
	)
}

func (s *Server) deleteFlow(c *gin.Context) {
	id := api.FlowID(c.Param("id"))
	cur := s.deps.Engine.Definition()
	def, ok := cur.WithoutFlow(id)
	if !ok {
		s.writeError(c, fmt.Errorf("%w: %s", engine.ErrFlowNotFound, id))
		return
	}
	s.deploy(c, http.StatusOK, def, api.DeployFlows,
		engine.ExpectRev(cur.Rev()),
	)
}

func (s *Server) startFlow(c *gin.Context) {
	s.toggleFlow(c, s.deps.Engine.StartFlow)
}

func (s *Server) stopFlow(c *gin.Context) {
	s.toggleFlow(c, s.deps.Engine.StopFlow)
}

func (s *Server) toggleFlow(
	c *gin.Context,
	toggle func(context.Context, api.FlowID) error,
) {
	id := api.FlowID(c.Param("id"))
	if err := toggle(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	st, ok := s.deps.Engine.FlowState(id)
	if !ok {
		s.writeError(c, fmt.Errorf("%w: %s", engine.ErrFlowNotFound, id))
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) deploy(
	c *gin.Context, status int, def *api.Definition, mode api.DeployMode,
	opts ...engine.DeployOption,
) {
	res, err := s.deps.Engine.Deploy(c.Request.Context(), def, mode, opts...)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(status, res)
}

func parseDeployBody(body []byte) (*api.Definition, string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, "", errBadRequest(errors.New("empty request body"))
	}
	if trimmed[0] == '[' {
		def, err := api.ParseDefinition(trimmed)
		return def, "", err
	}

	var req api.DeployRequest
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return nil, "", errBadRequest(err)
	}
	if len(req.Flows) == 0 {
		return nil, "", errBadRequest(errors.New("flows are required"))
	}
	def, err := api.ParseDefinition(req.Flows)
	return def, req.Rev, err
}
