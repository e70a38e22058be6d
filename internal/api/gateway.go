package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/memvault/memvault/internal/model"
)

const ctxAPIKeyName = "api_key_name"

// requireAPIKey gates /api on the X-API-Key header. Each key carries
// its own fixed-window rate limit; a rejected request learns when the
// window resets through Retry-After.
func (s *Server) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		value := c.GetHeader("X-API-Key")
		if value == "" {
			abortDetail(c, http.StatusUnauthorized, "API key required.")
			return
		}
		key, err := s.store.APIKeyByKey(c.Request.Context(), value)
		if err != nil || !key.Active {
			abortDetail(c, http.StatusUnauthorized, "Invalid API key.")
			return
		}

		window := time.Duration(key.RateLimitWindow) * time.Second
		allowed, retry := s.limiter.Allow(key.Key, key.RateLimit, window)
		if !allowed {
			seconds := int(retry.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			abortDetail(c, http.StatusTooManyRequests, "Rate limit exceeded.")
			return
		}

		// Best effort; a failed stamp must not fail the request.
		if err := s.store.TouchAPIKey(c.Request.Context(), key.ID); err != nil {
			s.log.WithError(err).Warn("api key stamp failed")
		}
		c.Set(ctxAPIKeyName, key.Name)
		c.Next()
	}
}

var mutatingMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// auditRequests records every mutating /api request after it completes.
// The actor is the subject header when present, else the API key name;
// never ambient state.
func (s *Server) auditRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if !mutatingMethods[c.Request.Method] {
			return
		}
		actor := c.GetHeader("X-Subject-ID")
		if actor == "" {
			actor = c.GetString(ctxAPIKeyName)
		}
		rec := model.AuditRecord{
			Actor:      actor,
			Action:     "http." + strings.ToLower(c.Request.Method),
			ObjectType: "api_request",
			ObjectID:   c.Request.URL.Path,
			Metadata:   map[string]string{"status": strconv.Itoa(c.Writer.Status())},
		}
		if _, err := s.store.RecordAudit(c.Request.Context(), rec); err != nil {
			s.log.WithError(err).Warn("audit record failed")
		}
	}
}
