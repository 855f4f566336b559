package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallorbit/nebula/internal/billing/domain"
)

// ListBilling returns the caller's own ledger slice, newest first.
func (s *Server) ListBilling(c *gin.Context) {
	actor := actorFrom(c)

	entries, next, err := s.billingSvc.ListForUser(c.Request.Context(), billingdomain.ListFilter{
		UserID: actor.ID,
		Limit:  int32(queryInt(c, "limit", 0)),
		Cursor: c.Query("cursor"),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries":     entries,
		"next_cursor": next,
	})
}
