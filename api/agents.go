package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vinayprograms/callkit/errors"
	"github.com/vinayprograms/callkit/memory"
	"github.com/vinayprograms/callkit/registry"
)

func (s *Server) createAgent(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		s.writeError(c, invalidBody(err))
		return
	}
	req, err := registry.ParseCreate(raw)
	if err != nil {
		s.writeError(c, err)
		return
	}
	agent, err := s.deps.Agents.Create(req.ID, req.Patch)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, agent)
}

func (s *Server) listAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": s.deps.Agents.List()})
}

func (s *Server) getAgent(c *gin.Context) {
	agent, err := s.deps.Agents.Get(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (s *Server) updateAgent(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		s.writeError(c, invalidBody(err))
		return
	}
	patch, err := registry.ParsePatch(raw)
	if err != nil {
		s.writeError(c, err)
		return
	}
	agent, err := s.deps.Agents.Update(c.Param("id"), *patch)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (s *Server) deleteAgent(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.DeleteTimeout)
	defer cancel()

	if err := s.deps.Agents.Delete(ctx, c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type thinkRequest struct {
	Input string `json:"input"`
}

func (s *Server) thinkAgent(c *gin.Context) {
	var req thinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, invalidBody(err))
		return
	}
	res, err := s.deps.Thinker.Think(c.Request.Context(), c.Param("id"), req.Input)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) agentMemory(c *gin.Context) {
	view, err := s.deps.Agents.Memory(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) searchMemory(c *gin.Context) {
	id := c.Param("id")
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		s.writeError(c, errors.InvalidInput("query parameter q is required"))
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(c, errors.InvalidInput("limit must be a positive integer"))
			return
		}
		limit = n
	}
	if !s.deps.Agents.Exists(id) {
		s.writeError(c, errors.NotFound("agent "+id+" not found", errors.WithEntityID(id)))
		return
	}

	hits := []memory.Hit{}
	if s.deps.Transcript != nil {
		found, err := s.deps.Transcript.Search(c.Request.Context(), id, q, limit)
		if err != nil {
			s.writeError(c, errors.Wrap(err, "transcript search"))
			return
		}
		hits = found
	}
	c.JSON(http.StatusOK, gin.H{"agentId": id, "query": q, "hits": hits})
}
