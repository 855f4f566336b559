package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallorbit/nebula/internal/authorization"
	"github.com/smallorbit/nebula/internal/fault"
	historydomain "github.com/smallorbit/nebula/internal/history/domain"
)

// ListHistory serves the audit trail to operators.
func (s *Server) ListHistory(c *gin.Context) {
	actor := actorFrom(c)
	if err := s.authzSvc.Authorize(c.Request.Context(), actor, authorization.ObjectHistory, authorization.ActionHistoryView); err != nil {
		AbortWithError(c, fault.Wrap(fault.Forbidden, "audit trail requires an operator role", err))
		return
	}

	req := historydomain.ListRequest{
		Action: c.Query("action"),
		Limit:  int32(queryInt(c, "limit", 0)),
		Cursor: c.Query("cursor"),
	}
	if raw := c.Query("actor_id"); raw != "" {
		id, err := parseID(raw)
		if err != nil {
			abortValidation(c, "invalid actor id")
			return
		}
		req.ActorID = &id
	}

	resp, err := s.historySvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"records":     resp.Records,
		"next_cursor": resp.NextCursor,
	})
}
