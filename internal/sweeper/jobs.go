package sweeper

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallorbit/nebula/internal/fault"
	obsmetrics "github.com/smallorbit/nebula/internal/observability/metrics"
	orderdomain "github.com/smallorbit/nebula/internal/order/domain"
	providerdomain "github.com/smallorbit/nebula/internal/provider/domain"
	"go.uber.org/zap"
)

// SyncResourceStateJob refreshes the cached backend status of provisioned
// lines. The backend answer always wins; a vanished resource is recorded as
// deleted, never resurrected locally.
func (s *Sweeper) SyncResourceStateJob(ctx context.Context) error {
	lines, err := s.repo.ListProvisionedLines(ctx, s.db, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	synced := 0
	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			return err
		}
		if line.ResourceID == "" || !gettable(line.ResourceKind) {
			continue
		}
		prov, err := s.provisionerFor(line.ClusterName)
		if err != nil {
			s.log.Warn("skip state sync", zap.String("line_id", line.ID.String()), zap.Error(err))
			continue
		}
		ref, err := providerdomain.Get(ctx, prov, line.ResourceKind, line.ResourceID)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			s.log.Warn("state sync read failed",
				zap.String("line_id", line.ID.String()),
				zap.String("resource_id", line.ResourceID),
				zap.Error(err),
			)
			continue
		}

		status := providerdomain.StatusDeleted
		if ref != nil {
			status = ref.Status
		}
		updates := map[string]any{"updated_at": s.clock.Now()}
		if status != line.LastStatus {
			updates["last_status"] = status
		}
		if err := s.repo.UpdateLine(ctx, s.db, line.ID, updates); err != nil {
			return err
		}
		synced++
	}
	obsmetrics.Sweeper().AddItemsProcessed("sync_resource_state", "line", synced)
	return nil
}

// ReconcileUnresolvedJob resolves lines stuck in_flight or unknown after a
// crash or timed-out backend call. The deterministic resource name lets the
// sweep prove whether the create landed; only a proven absence reverts a
// line to pending for retry.
func (s *Sweeper) ReconcileUnresolvedJob(ctx context.Context) error {
	now := s.clock.Now()
	cutoff := now.Add(-s.cfg.UnresolvedThreshold)
	lines, err := s.repo.ListUnresolvedLines(ctx, s.db, cutoff, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	resolved := 0
	touched := map[snowflake.ID]bool{}
	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			return err
		}
		outcome, err := s.resolveLine(ctx, line, now)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			s.log.Warn("reconcile line failed",
				zap.String("line_id", line.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if outcome == lineUnchanged {
			continue
		}
		resolved++
		if outcome == lineFailed {
			// The order cannot make progress anymore.
			if err := s.repo.Transition(ctx, s.db, line.OrderID, orderdomain.StatusProcessing, orderdomain.StatusFailed,
				map[string]any{"updated_at": now}); err != nil && !errors.Is(err, orderdomain.ErrStaleStatus) {
				return err
			}
			continue
		}
		touched[line.OrderID] = true
	}

	// Resume orchestration for orders that regained a resolvable shape.
	for orderID := range touched {
		if _, err := s.orders.RunProvisioning(ctx, orderID); err != nil {
			if fault.Is(err, fault.InvalidStateTransition) {
				continue
			}
			s.log.Warn("resume provisioning",
				zap.String("order_id", orderID.String()),
				zap.Error(err),
			)
		}
	}
	obsmetrics.Sweeper().AddItemsProcessed("reconcile_unresolved", "line", resolved)
	return nil
}

type lineOutcome int

const (
	lineUnchanged lineOutcome = iota
	lineProvisioned
	lineReverted
	lineFailed
)

func (s *Sweeper) resolveLine(ctx context.Context, line *orderdomain.OrderProduct, now time.Time) (lineOutcome, error) {
	prov, err := s.provisionerFor(line.ClusterName)
	if err != nil {
		return lineUnchanged, err
	}

	if line.ResourceID != "" && gettable(line.ResourceKind) {
		ref, err := providerdomain.Get(ctx, prov, line.ResourceKind, line.ResourceID)
		if err != nil {
			return lineUnchanged, err
		}
		if ref != nil {
			return lineProvisioned, s.markProvisioned(ctx, line, ref, now)
		}
		return lineReverted, s.revertPending(ctx, line, now)
	}

	if line.ResourceKind == providerdomain.KindCompute {
		ref, err := s.findServerByName(ctx, prov, line)
		if err != nil {
			return lineUnchanged, err
		}
		if ref != nil {
			return lineProvisioned, s.markProvisioned(ctx, line, ref, now)
		}
		return lineReverted, s.revertPending(ctx, line, now)
	}

	// No way to verify this kind by name. Give the backend time, then give
	// up for good.
	if now.Sub(line.UpdatedAt) < s.cfg.FailAfter {
		return lineUnchanged, nil
	}
	updates := map[string]any{
		"state":          orderdomain.LineFailed,
		"failure_reason": "unresolved past recovery window",
		"updated_at":     now,
	}
	if err := s.repo.UpdateLine(ctx, s.db, line.ID, updates); err != nil {
		return lineUnchanged, err
	}
	return lineFailed, nil
}

func (s *Sweeper) findServerByName(ctx context.Context, prov providerdomain.Provisioner, line *orderdomain.OrderProduct) (*providerdomain.Ref, error) {
	want := orderdomain.ResourceName(line)
	filter := providerdomain.ListFilter{Kind: providerdomain.KindCompute, Limit: 100}
	for {
		page, err := prov.ListServers(ctx, filter)
		if err != nil {
			return nil, err
		}
		for i := range page.Items {
			if strings.EqualFold(page.Items[i].Name, want) {
				return &page.Items[i], nil
			}
		}
		if page.NextMarker == "" {
			return nil, nil
		}
		filter.Marker = page.NextMarker
	}
}

func (s *Sweeper) markProvisioned(ctx context.Context, line *orderdomain.OrderProduct, ref *providerdomain.Ref, now time.Time) error {
	return s.repo.UpdateLine(ctx, s.db, line.ID, map[string]any{
		"state":          orderdomain.LineProvisioned,
		"resource_id":    ref.ID,
		"last_status":    ref.Status,
		"provisioned_at": now,
		"updated_at":     now,
	})
}

func (s *Sweeper) revertPending(ctx context.Context, line *orderdomain.OrderProduct, now time.Time) error {
	return s.repo.UpdateLine(ctx, s.db, line.ID, map[string]any{
		"state":       orderdomain.LinePending,
		"resource_id": "",
		"last_status": "",
		"updated_at":  now,
	})
}

// ReleaseExpiredJob tears down the backend resources of orders whose paid
// period ended. Lines are released in reverse creation order so dependent
// resources go before the network they attach to. An order is marked
// cleaned only after every release succeeded; partial failures retry on the
// next sweep, deletes being idempotent.
func (s *Sweeper) ReleaseExpiredJob(ctx context.Context) error {
	now := s.clock.Now()
	orders, err := s.repo.ListExpiredOrders(ctx, s.db, now, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	released := 0
	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ok := s.releaseOrder(ctx, order, now); !ok {
			continue
		}
		if err := s.repo.MarkCleaned(ctx, s.db, order.ID, s.clock.Now()); err != nil {
			return err
		}
		released++
	}
	obsmetrics.Sweeper().AddItemsProcessed("release_expired", "order", released)
	return nil
}

func (s *Sweeper) releaseOrder(ctx context.Context, order *orderdomain.Order, now time.Time) bool {
	log := s.log.With(zap.String("order_id", order.ID.String()))
	clean := true
	for i := len(order.Lines) - 1; i >= 0; i-- {
		line := &order.Lines[i]
		if line.State != orderdomain.LineProvisioned || line.ResourceID == "" {
			continue
		}
		if line.LastStatus == providerdomain.StatusDeleted {
			continue
		}
		prov, err := s.provisionerFor(line.ClusterName)
		if err != nil {
			log.Warn("skip release", zap.String("line_id", line.ID.String()), zap.Error(err))
			clean = false
			continue
		}
		if err := providerdomain.Delete(ctx, prov, line.ResourceKind, line.ResourceID); err != nil {
			if errors.Is(err, providerdomain.ErrBackendUnavailable) {
				// Kind has no delete call; nothing to release.
				continue
			}
			log.Warn("release resource",
				zap.String("line_id", line.ID.String()),
				zap.String("resource_id", line.ResourceID),
				zap.Error(err),
			)
			clean = false
			continue
		}
		if err := s.repo.UpdateLine(ctx, s.db, line.ID, map[string]any{
			"last_status": providerdomain.StatusDeleted,
			"updated_at":  now,
		}); err != nil {
			log.Warn("record released line", zap.String("line_id", line.ID.String()), zap.Error(err))
			clean = false
		}
	}
	return clean
}

// gettable reports whether the backend exposes a point read for the kind.
func gettable(kind providerdomain.ResourceKind) bool {
	switch kind {
	case providerdomain.KindCompute,
		providerdomain.KindNetwork,
		providerdomain.KindLoadBalancer,
		providerdomain.KindDatabase,
		providerdomain.KindKubernetes:
		return true
	default:
		return false
	}
}
