package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/memvault/memvault/internal/auth"
	"github.com/memvault/memvault/internal/model"
	"github.com/memvault/memvault/internal/store"
)

// manager authenticates the consent endpoints: a bearer token with the
// consent.manage scope, acting for its own subject only.
func (s *Server) manager(c *gin.Context) (*auth.Identity, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		detail(c, http.StatusUnauthorized, "Authentication required.")
		return nil, false
	}
	ident, err := s.auth.Parse(c.Request.Context(), header, []model.Scope{model.ScopeConsentManage}, false)
	if err != nil {
		s.log.WithError(err).Info("consent auth failed")
		detail(c, http.StatusUnauthorized, "Invalid token.")
		return nil, false
	}
	return ident, true
}

func (s *Server) listConsents(c *gin.Context) {
	ident, ok := s.manager(c)
	if !ok {
		return
	}
	consents, err := s.store.ListConsents(c.Request.Context(), ident.User.ID)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if consents == nil {
		consents = []model.Consent{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(consents), "results": consents})
}

type createConsentRequest struct {
	AgentIdentifier   string   `json:"agent_identifier"`
	Scopes            []string `json:"scopes"`
	SensitivityLevels []string `json:"sensitivity_levels"`
}

// createConsent grants and immediately activates the next consent
// version for (subject, agent).
func (s *Server) createConsent(c *gin.Context) {
	ident, ok := s.manager(c)
	if !ok {
		return
	}
	var req createConsentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, detailBadJSON)
		return
	}

	scopes := make([]model.Scope, len(req.Scopes))
	for i, v := range req.Scopes {
		scopes[i] = model.Scope(v)
	}
	levels := make([]model.Sensitivity, len(req.SensitivityLevels))
	for i, v := range req.SensitivityLevels {
		levels[i] = model.Sensitivity(v)
	}

	consent, err := s.store.CreateConsent(c.Request.Context(), store.CreateConsentParams{
		UserID:            ident.User.ID,
		AgentIdentifier:   req.AgentIdentifier,
		Scopes:            scopes,
		SensitivityLevels: levels,
	})
	if errors.Is(err, model.ErrValidation) {
		detail(c, http.StatusBadRequest, validationDetail(err))
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	active, err := s.store.ActivateConsent(c.Request.Context(), consent.ID)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusCreated, active)
}

// revokeConsent is idempotent. Consents of other users read as absent.
func (s *Server) revokeConsent(c *gin.Context) {
	ident, ok := s.manager(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		detail(c, http.StatusNotFound, detailNotFound)
		return
	}
	consent, err := s.store.ConsentByID(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && consent.UserID != ident.User.ID) {
		detail(c, http.StatusNotFound, detailNotFound)
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}

	revoked, err := s.store.RevokeConsent(c.Request.Context(), id)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, revoked)
}
