package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/memvault/memvault/internal/model"
	"github.com/memvault/memvault/internal/store"
)

type createWebhookRequest struct {
	Name      string   `json:"name"`
	TargetURL string   `json:"target_url"`
	Events    []string `json:"events"`
	Secret    string   `json:"secret"`
}

// createWebhook registers a delivery target. An omitted secret is
// generated; secrets never appear in responses.
func (s *Server) createWebhook(c *gin.Context) {
	var req createWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, detailBadJSON)
		return
	}
	sub, err := s.store.CreateSubscription(c.Request.Context(), store.CreateSubscriptionParams{
		Name:      req.Name,
		TargetURL: req.TargetURL,
		Events:    req.Events,
		Secret:    req.Secret,
	})
	if errors.Is(err, model.ErrValidation) {
		detail(c, http.StatusBadRequest, validationDetail(err))
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (s *Server) listWebhooks(c *gin.Context) {
	subs, err := s.store.ListSubscriptions(c.Request.Context())
	if err != nil {
		s.internalError(c, err)
		return
	}
	if subs == nil {
		subs = []model.WebhookSubscription{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(subs), "results": subs})
}
