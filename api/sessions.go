package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vinayprograms/callkit/errors"
	"github.com/vinayprograms/callkit/session"
)

func (s *Server) createAccount(c *gin.Context) {
	var spec session.AccountSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		s.writeError(c, invalidBody(err))
		return
	}
	acct, err := s.deps.Sessions.CreateAccount(spec)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, acct)
}

func (s *Server) listAccounts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"accounts": s.deps.Sessions.ListAccounts()})
}

func (s *Server) getAccount(c *gin.Context) {
	acct, err := s.deps.Sessions.GetAccount(c.Param("accountId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

func (s *Server) updateAccount(c *gin.Context) {
	var spec session.AccountSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		s.writeError(c, invalidBody(err))
		return
	}
	acct, err := s.deps.Sessions.UpdateAccount(c.Param("accountId"), spec)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

func (s *Server) deleteAccount(c *gin.Context) {
	if err := s.deps.Sessions.DeleteAccount(c.Param("accountId")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type makeCallRequest struct {
	AccountID string `json:"accountId"`
	DestURI   string `json:"destUri"`
}

func (s *Server) makeCall(c *gin.Context) {
	var req makeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, invalidBody(err))
		return
	}
	if req.AccountID == "" {
		s.writeError(c, errors.InvalidInput("accountId is required"))
		return
	}
	call, err := s.deps.Sessions.MakeCall(req.AccountID, req.DestURI)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "Call initiated", "callId": call.ID})
}

type hangupRequest struct {
	CallID *int64 `json:"callId"`
}

func (s *Server) hangupCall(c *gin.Context) {
	var req hangupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, invalidBody(err))
		return
	}
	if req.CallID == nil {
		s.writeError(c, errors.InvalidInput("callId is required"))
		return
	}
	call, err := s.deps.Sessions.Hangup(*req.CallID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Call terminated", "callId": call.ID})
}

func (s *Server) listCalls(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"calls": s.deps.Sessions.ListCalls()})
}

func parseCallID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("callId"), 10, 64)
	if err != nil || id < 1 {
		return 0, errors.InvalidInput("callId must be a positive integer")
	}
	return id, nil
}

func (s *Server) getCall(c *gin.Context) {
	id, err := parseCallID(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	call, err := s.deps.Sessions.GetCall(id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

// connectCall stands in for the signaling layer reporting an answered call.
func (s *Server) connectCall(c *gin.Context) {
	id, err := parseCallID(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	call, err := s.deps.Sessions.Connect(id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Call connected", "callId": call.ID})
}
