// Package api serves the collaborator-facing HTTP surface: entry CRUD
// with optimistic concurrency, hybrid query, consents, graph scoring,
// webhook subscriptions, and the agent tool endpoints. Everything under
// /api sits behind the API-key gateway.
package api

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/memvault/memvault/internal/auth"
	"github.com/memvault/memvault/internal/model"
	"github.com/memvault/memvault/internal/policy"
	"github.com/memvault/memvault/internal/query"
	"github.com/memvault/memvault/internal/ratelimit"
	"github.com/memvault/memvault/internal/security"
	"github.com/memvault/memvault/internal/store"
	"github.com/memvault/memvault/internal/tool"
)

const (
	detailDenied   = "Permission denied."
	detailNotFound = "Not found."
	detailInternal = "Internal error."
	detailBadJSON  = "Invalid JSON payload."
)

// Params wires the server's collaborators. Sanitizer and Log may be nil.
type Params struct {
	Store     *store.Store
	Engine    *policy.Engine
	Auth      *auth.Authenticator
	Query     *query.Service
	Tools     *tool.Dispatcher
	Sanitizer *security.Sanitizer
	Log       *logrus.Logger
}

// Server handles the HTTP API.
type Server struct {
	store    *store.Store
	engine   *policy.Engine
	auth     *auth.Authenticator
	query    *query.Service
	tools    *tool.Dispatcher
	limiter  *ratelimit.Limiter
	sanitize *security.Sanitizer
	log      *logrus.Logger
}

// New creates a server over the given collaborators.
func New(p Params) *Server {
	if p.Sanitizer == nil {
		p.Sanitizer = security.New()
	}
	if p.Log == nil {
		p.Log = logrus.StandardLogger()
	}
	return &Server{
		store:    p.Store,
		engine:   p.Engine,
		auth:     p.Auth,
		query:    p.Query,
		tools:    p.Tools,
		limiter:  ratelimit.New(),
		sanitize: p.Sanitizer,
		log:      p.Log,
	}
}

// Router builds the route table. /healthz bypasses the gateway; every
// /api route requires a valid API key and is audited.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.health)

	api := r.Group("/api")
	api.Use(s.requireAPIKey(), s.auditRequests())

	memory := api.Group("/memory")
	{
		memory.GET("", s.listEntries)
		memory.POST("", s.createEntry)
		memory.GET("/:id", s.getEntry)
		memory.PUT("/:id", s.updateEntry)
		memory.PATCH("/:id", s.patchEntry)
		memory.DELETE("/:id", s.deleteEntry)
		memory.GET("/:id/chunks", s.listChunks)
		memory.POST("/:id/query", s.queryMemory)
	}

	consents := api.Group("/consents")
	{
		consents.GET("", s.listConsents)
		consents.POST("", s.createConsent)
		consents.POST("/:id/revoke", s.revokeConsent)
	}

	api.GET("/graph/related", s.relatedNodes)

	webhooks := api.Group("/webhooks")
	{
		webhooks.GET("", s.listWebhooks)
		webhooks.POST("", s.createWebhook)
	}

	mcp := api.Group("/mcp")
	{
		mcp.GET("/manifest", s.manifest)
		mcp.POST("/tools/:name", s.invokeTool)
	}

	return r
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func detail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"detail": msg})
}

func abortDetail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": msg})
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.log.WithError(err).WithField("path", c.Request.URL.Path).Error("request failed")
	detail(c, http.StatusInternalServerError, detailInternal)
}

func (s *Server) denied(c *gin.Context, err error) {
	s.log.WithError(err).WithField("path", c.Request.URL.Path).Info("request denied")
	detail(c, http.StatusForbidden, detailDenied)
}

// subject resolves the X-Subject-ID header to a user. A missing header
// denies; an unknown subject is a 404, as for any other resource.
func (s *Server) subject(c *gin.Context) (*model.User, bool) {
	id := c.GetHeader("X-Subject-ID")
	if id == "" {
		detail(c, http.StatusForbidden, "Missing X-Subject-ID header.")
		return nil, false
	}
	user, err := s.store.UserByID(c.Request.Context(), id)
	if err != nil {
		detail(c, http.StatusNotFound, detailNotFound)
		return nil, false
	}
	return user, true
}

func agentID(c *gin.Context) (string, bool) {
	agent := c.GetHeader("X-Agent-ID")
	if agent == "" {
		detail(c, http.StatusForbidden, "Missing X-Agent-ID header.")
		return "", false
	}
	return agent, true
}

func (s *Server) enforce(c *gin.Context, subject, agent, action string, sensitivity model.Sensitivity) (policy.Decision, bool) {
	dec, err := s.engine.Enforce(c.Request.Context(), subject, agent, action, sensitivity)
	if err != nil {
		s.denied(c, err)
		return policy.Decision{}, false
	}
	return dec, true
}

// entryParam parses the :id path segment. Non-numeric ids cannot name
// an entry, so they read as absent.
func entryParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		detail(c, http.StatusNotFound, detailNotFound)
		return 0, false
	}
	return id, true
}

// parseIfMatch extracts the expected version from If-Match. The value
// is the entry version as a quoted integer.
func parseIfMatch(c *gin.Context) (int64, bool) {
	header := strings.TrimSpace(c.GetHeader("If-Match"))
	if header == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(strings.Trim(header, `"`), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// intValue accepts a JSON number only when it is integral.
func intValue(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}

// validationDetail strips the sentinel prefix from a validation error,
// leaving the field-level message for the response body.
func validationDetail(err error) string {
	return strings.TrimPrefix(err.Error(), model.ErrValidation.Error()+": ")
}
