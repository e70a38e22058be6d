package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/memvault/memvault/internal/policy"
	"github.com/memvault/memvault/internal/tool"
)

func (s *Server) manifest(c *gin.Context) {
	c.JSON(http.StatusOK, tool.Manifest())
}

// invokeTool runs one tool call. This is the agent trust boundary:
// every failure, malformed body included, reads as the same denial.
func (s *Server) invokeTool(c *gin.Context) {
	name := c.Param("name")

	var payload map[string]interface{}
	if err := c.ShouldBindJSON(&payload); err != nil && !errors.Is(err, io.EOF) {
		s.log.WithError(err).WithField("tool", name).Info("tool payload rejected")
		detail(c, http.StatusForbidden, detailDenied)
		return
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}

	result, err := s.tools.Execute(c.Request.Context(), name, c.GetHeader("Authorization"), payload)
	if errors.Is(err, policy.ErrDenied) {
		s.log.WithError(err).WithField("tool", name).Info("tool denied")
		detail(c, http.StatusForbidden, detailDenied)
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
