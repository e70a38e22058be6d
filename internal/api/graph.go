package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/memvault/memvault/internal/graph"
	"github.com/memvault/memvault/internal/model"
)

// relatedNodes scores candidate nodes by graph closeness to an anchor.
// Candidates arrive as repeated `candidate` params or a comma-separated
// `candidates` param.
func (s *Server) relatedNodes(c *gin.Context) {
	nodeType := strings.TrimSpace(c.Query("node_type"))
	referenceID := strings.TrimSpace(c.Query("reference_id"))
	if nodeType == "" || referenceID == "" {
		detail(c, http.StatusBadRequest, "node_type and reference_id are required.")
		return
	}

	limit := graph.DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			detail(c, http.StatusBadRequest, "limit must be a positive integer.")
			return
		}
		limit = n
	}

	candidates := append([]string(nil), c.QueryArray("candidate")...)
	for _, chunk := range strings.Split(c.Query("candidates"), ",") {
		if v := strings.TrimSpace(chunk); v != "" {
			candidates = append(candidates, v)
		}
	}
	if len(candidates) == 0 {
		detail(c, http.StatusBadRequest, "At least one candidate reference must be provided.")
		return
	}

	result, err := graph.Related(c.Request.Context(), s.store, graph.RelatedParams{
		NodeType:      nodeType,
		ReferenceID:   referenceID,
		CandidateType: c.DefaultQuery("candidate_type", model.NodeMemoryEntry),
		Candidates:    candidates,
		Limit:         limit,
	})
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
