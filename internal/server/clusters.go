package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallorbit/nebula/internal/authorization"
	clusterdomain "github.com/smallorbit/nebula/internal/cluster/domain"
	"github.com/smallorbit/nebula/internal/fault"
	"github.com/smallorbit/nebula/internal/history"
	"github.com/smallorbit/nebula/internal/opctx"
)

func (s *Server) ListClusters(c *gin.Context) {
	actor := actorFrom(c)
	if err := s.authzSvc.Authorize(c.Request.Context(), actor, authorization.ObjectCluster, authorization.ActionClusterView); err != nil {
		AbortWithError(c, fault.Wrap(fault.Forbidden, "cluster registry requires an operator role", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"clusters": s.clusters.Snapshot().Clusters()})
}

// ReplaceClusters swaps the whole registry in one call. The file-backed
// registry stays authoritative across restarts; this endpoint serves live
// drains and emergency exclusions.
func (s *Server) ReplaceClusters(c *gin.Context) {
	actor := actorFrom(c)
	if err := s.authzSvc.Authorize(c.Request.Context(), actor, authorization.ObjectCluster, authorization.ActionClusterManage); err != nil {
		AbortWithError(c, fault.Wrap(fault.Forbidden, "cluster management requires an operator role", err))
		return
	}

	var req struct {
		Clusters []clusterdomain.Descriptor `json:"clusters"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortValidation(c, "invalid request body")
		return
	}

	op := opctx.New("cluster.replace", map[string]any{
		"clusters": len(req.Clusters),
	}, actor, true)

	run := history.Logged(s.historySvc, s.log, "cluster", func(ctx context.Context, op *opctx.Context) error {
		if err := s.clusters.Replace(req.Clusters); err != nil {
			ferr := fault.Wrap(fault.ValidationError, "cluster set rejected", err)
			op.Fail(ferr)
			return ferr
		}
		names := make([]string, 0, len(req.Clusters))
		for _, d := range req.Clusters {
			names = append(names, d.Name)
		}
		op.LogArg("names", names)
		return nil
	})
	if err := run(c.Request.Context(), op); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"clusters": s.clusters.Snapshot().Clusters()})
}
