package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/memvault/memvault/internal/model"
	"github.com/memvault/memvault/internal/store"
)

func entryListDoc(e model.MemoryEntry) gin.H {
	return gin.H{
		"id":          e.ID,
		"title":       e.Title,
		"sensitivity": e.Sensitivity,
		"entry_type":  e.EntryType,
		"version":     e.Version,
		"updated_at":  e.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// listEntries returns the collection, optionally filtered by
// sensitivity and entry_type. The policy check runs over the distinct
// sensitivities of the filtered set, so one uncovered level denies the
// whole listing.
func (s *Server) listEntries(c *gin.Context) {
	user, ok := s.subject(c)
	if !ok {
		return
	}
	agent, ok := agentID(c)
	if !ok {
		return
	}

	entries, err := s.store.ListEntries(c.Request.Context(), store.ListEntriesParams{
		Sensitivity: model.Sensitivity(c.Query("sensitivity")),
		EntryType:   model.EntryType(c.Query("entry_type")),
	})
	if err != nil {
		s.internalError(c, err)
		return
	}

	seen := map[model.Sensitivity]bool{}
	var sensitivities []model.Sensitivity
	for _, e := range entries {
		if !seen[e.Sensitivity] {
			seen[e.Sensitivity] = true
			sensitivities = append(sensitivities, e.Sensitivity)
		}
	}
	if _, err := s.engine.EnforceMultiple(c.Request.Context(), user.ID, agent, "memory:list", sensitivities); err != nil {
		s.denied(c, err)
		return
	}

	results := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		results = append(results, entryListDoc(e))
	}
	c.JSON(http.StatusOK, gin.H{"count": len(results), "results": results})
}

type createEntryRequest struct {
	Title       *string `json:"title"`
	Content     *string `json:"content"`
	Sensitivity string  `json:"sensitivity"`
	EntryType   string  `json:"entry_type"`
}

func (s *Server) createEntry(c *gin.Context) {
	var req createEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, detailBadJSON)
		return
	}
	if req.Title == nil || req.Content == nil {
		detail(c, http.StatusBadRequest, "Missing required fields: title, content.")
		return
	}

	sensitivity := model.SensitivityPublic
	if req.Sensitivity != "" {
		parsed, err := model.ParseSensitivity(req.Sensitivity)
		if err != nil {
			detail(c, http.StatusBadRequest, "Invalid sensitivity value.")
			return
		}
		sensitivity = parsed
	}
	entryType := model.TypeNote
	if req.EntryType != "" {
		parsed, err := model.ParseEntryType(req.EntryType)
		if err != nil {
			detail(c, http.StatusBadRequest, "Invalid entry_type value.")
			return
		}
		entryType = parsed
	}

	user, ok := s.subject(c)
	if !ok {
		return
	}
	agent, ok := agentID(c)
	if !ok {
		return
	}
	if _, ok := s.enforce(c, user.ID, agent, "memory:create", sensitivity); !ok {
		return
	}

	entry, err := s.store.CreateEntry(c.Request.Context(), store.CreateEntryParams{
		Title:       *req.Title,
		Content:     *req.Content,
		Sensitivity: sensitivity,
		EntryType:   entryType,
	})
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.Header("ETag", entry.ETag())
	c.JSON(http.StatusCreated, gin.H{"id": entry.ID, "version": entry.Version})
}

func (s *Server) getEntry(c *gin.Context) {
	id, ok := entryParam(c)
	if !ok {
		return
	}
	entry, err := s.store.EntryByID(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		detail(c, http.StatusNotFound, detailNotFound)
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}

	user, ok := s.subject(c)
	if !ok {
		return
	}
	agent, ok := agentID(c)
	if !ok {
		return
	}
	if _, ok := s.enforce(c, user.ID, agent, "memory:retrieve", entry.Sensitivity); !ok {
		return
	}

	c.Header("ETag", entry.ETag())
	c.JSON(http.StatusOK, gin.H{
		"id":          entry.ID,
		"title":       entry.Title,
		"content":     entry.Content,
		"sensitivity": entry.Sensitivity,
		"entry_type":  entry.EntryType,
		"version":     entry.Version,
		"updated_at":  entry.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
}

type updateEntryRequest struct {
	Title       *string `json:"title"`
	Content     *string `json:"content"`
	Sensitivity *string `json:"sensitivity"`
	EntryType   *string `json:"entry_type"`
}

func (s *Server) updateEntry(c *gin.Context) { s.applyUpdate(c, true) }

func (s *Server) patchEntry(c *gin.Context) { s.applyUpdate(c, false) }

// applyUpdate implements PUT (full) and PATCH (partial) under the
// If-Match version precondition.
func (s *Server) applyUpdate(c *gin.Context, full bool) {
	id, ok := entryParam(c)
	if !ok {
		return
	}
	matchVersion, ok := parseIfMatch(c)
	if !ok {
		detail(c, http.StatusPreconditionRequired, "Missing or invalid If-Match header.")
		return
	}

	var req updateEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, detailBadJSON)
		return
	}
	if full && (req.Title == nil || req.Content == nil || req.Sensitivity == nil || req.EntryType == nil) {
		detail(c, http.StatusBadRequest, "Full update requires title, content, sensitivity and entry_type fields.")
		return
	}

	var sensitivity *model.Sensitivity
	if req.Sensitivity != nil {
		parsed, err := model.ParseSensitivity(*req.Sensitivity)
		if err != nil {
			detail(c, http.StatusBadRequest, "Invalid sensitivity value.")
			return
		}
		sensitivity = &parsed
	}
	var entryType *model.EntryType
	if req.EntryType != nil {
		parsed, err := model.ParseEntryType(*req.EntryType)
		if err != nil {
			detail(c, http.StatusBadRequest, "Invalid entry_type value.")
			return
		}
		entryType = &parsed
	}

	entry, err := s.store.EntryByID(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		detail(c, http.StatusNotFound, detailNotFound)
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}

	user, ok := s.subject(c)
	if !ok {
		return
	}
	agent, ok := agentID(c)
	if !ok {
		return
	}
	// The check runs against the sensitivity the entry will have.
	effective := entry.Sensitivity
	if sensitivity != nil {
		effective = *sensitivity
	}
	if _, ok := s.enforce(c, user.ID, agent, "memory:update", effective); !ok {
		return
	}

	updated, err := s.store.UpdateEntry(c.Request.Context(), store.UpdateEntryParams{
		ID:              id,
		ExpectedVersion: matchVersion,
		Title:           req.Title,
		Content:         req.Content,
		Sensitivity:     sensitivity,
		EntryType:       entryType,
	})
	switch {
	case errors.Is(err, store.ErrVersionConflict):
		detail(c, http.StatusPreconditionFailed, "Version conflict.")
		return
	case errors.Is(err, store.ErrNotFound):
		detail(c, http.StatusNotFound, detailNotFound)
		return
	case err != nil:
		s.internalError(c, err)
		return
	}

	c.Header("ETag", updated.ETag())
	c.JSON(http.StatusOK, gin.H{"id": updated.ID, "version": updated.Version})
}

func (s *Server) deleteEntry(c *gin.Context) {
	id, ok := entryParam(c)
	if !ok {
		return
	}
	matchVersion, ok := parseIfMatch(c)
	if !ok {
		detail(c, http.StatusPreconditionRequired, "Missing or invalid If-Match header.")
		return
	}

	entry, err := s.store.EntryByID(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		detail(c, http.StatusNotFound, detailNotFound)
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}

	user, ok := s.subject(c)
	if !ok {
		return
	}
	agent, ok := agentID(c)
	if !ok {
		return
	}
	if _, ok := s.enforce(c, user.ID, agent, "memory:delete", entry.Sensitivity); !ok {
		return
	}

	err = s.store.DeleteEntry(c.Request.Context(), store.DeleteEntryParams{
		ID:              id,
		ExpectedVersion: &matchVersion,
	})
	switch {
	case errors.Is(err, store.ErrVersionConflict):
		detail(c, http.StatusPreconditionFailed, "Version conflict.")
		return
	case errors.Is(err, store.ErrNotFound):
		detail(c, http.StatusNotFound, detailNotFound)
		return
	case err != nil:
		s.internalError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listChunks(c *gin.Context) {
	id, ok := entryParam(c)
	if !ok {
		return
	}
	entry, err := s.store.EntryByID(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		detail(c, http.StatusNotFound, detailNotFound)
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}

	user, ok := s.subject(c)
	if !ok {
		return
	}
	agent, ok := agentID(c)
	if !ok {
		return
	}
	if _, ok := s.enforce(c, user.ID, agent, "memory:retrieve", entry.Sensitivity); !ok {
		return
	}

	chunks, err := s.store.ChunksForEntry(c.Request.Context(), id)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if chunks == nil {
		chunks = []model.EntryChunk{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(chunks), "results": chunks})
}

// queryMemory runs a hybrid search for the user named in the path. The
// policy check is scope-only; rows outside the resolved consent's
// sensitivity levels are dropped before the response is sanitized.
func (s *Server) queryMemory(c *gin.Context) {
	user, err := s.store.UserByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		detail(c, http.StatusNotFound, detailNotFound)
		return
	}

	var raw map[string]interface{}
	if err := c.ShouldBindJSON(&raw); err != nil {
		detail(c, http.StatusBadRequest, detailBadJSON)
		return
	}
	text, _ := raw["query"].(string)
	if strings.TrimSpace(text) == "" {
		detail(c, http.StatusBadRequest, "Query text is required.")
		return
	}
	limit := 10
	if v, ok := raw["limit"]; ok {
		n, ok := intValue(v)
		if !ok || n <= 0 {
			detail(c, http.StatusBadRequest, "Limit must be a positive integer.")
			return
		}
		limit = n
	}

	agent, ok := agentID(c)
	if !ok {
		return
	}
	dec, ok := s.enforce(c, user.ID, agent, "memory:query", "")
	if !ok {
		return
	}

	ranked, err := s.query.Search(c.Request.Context(), user.ID, text, limit)
	if err != nil {
		s.internalError(c, err)
		return
	}
	rows := make([]map[string]interface{}, 0, len(ranked))
	for _, r := range ranked {
		if dec.Consent.AllowsSensitivity(r.Sensitivity) {
			rows = append(rows, r.Doc())
		}
	}

	payload := map[string]interface{}{
		"user_id": user.ID,
		"count":   len(rows),
		"results": rows,
	}
	c.JSON(http.StatusOK, s.sanitize.Sanitize(payload))
}
