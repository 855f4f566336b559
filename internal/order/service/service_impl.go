package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	catalogdomain "github.com/smallorbit/nebula/internal/catalog/domain"
	"github.com/smallorbit/nebula/internal/clock"
	"github.com/smallorbit/nebula/internal/cluster"
	"github.com/smallorbit/nebula/internal/config"
	"github.com/smallorbit/nebula/internal/fault"
	"github.com/smallorbit/nebula/internal/identity/guard"
	identitydomain "github.com/smallorbit/nebula/internal/identity/domain"
	"github.com/smallorbit/nebula/internal/lock"
	"github.com/smallorbit/nebula/internal/notify"
	"github.com/smallorbit/nebula/internal/observability/metrics"
	"github.com/smallorbit/nebula/internal/opctx"
	"github.com/smallorbit/nebula/internal/order/domain"
	"github.com/smallorbit/nebula/internal/provider/adapters"
	providerdomain "github.com/smallorbit/nebula/internal/provider/domain"
	"github.com/smallorbit/nebula/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	provisionLockTTL = 10 * time.Minute
	defaultDuration  = 1
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Node     *snowflake.Node
	Config   config.Config
	Repo     domain.Repository
	Catalog  catalogdomain.Service
	Selector *cluster.Selector
	Adapters *adapters.Registry
	Locker   *lock.Locker     `optional:"true"`
	Metrics  *metrics.Metrics `optional:"true"`
	Notifier *notify.Notifier `optional:"true"`
}

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	node     *snowflake.Node
	cfg      config.Config
	repo     domain.Repository
	catalog  catalogdomain.Service
	selector *cluster.Selector
	adapters *adapters.Registry
	locker   *lock.Locker
	metrics  *metrics.Metrics
	notifier *notify.Notifier
}

func New(p Params) domain.Service {
	return &service{
		db:       p.DB,
		log:      p.Log.Named("order.service"),
		clock:    p.Clock,
		node:     p.Node,
		cfg:      p.Config,
		repo:     p.Repo,
		catalog:  p.Catalog,
		selector: p.Selector,
		adapters: p.Adapters,
		locker:   p.Locker,
		metrics:  p.Metrics,
		notifier: p.Notifier,
	}
}

func (s *service) Submit(ctx context.Context, op *opctx.Context, req domain.SubmitRequest) (*domain.Order, error) {
	if !guard.CheckRole(op) {
		return nil, op.Err()
	}
	if req.RegionID == "" {
		return s.fail(op, fault.New(fault.ValidationError, "region_id is required"))
	}
	if len(req.Lines) == 0 {
		return s.fail(op, fault.New(fault.ValidationError, "order has no line items"))
	}
	if req.DurationMonths <= 0 {
		req.DurationMonths = defaultDuration
	}
	orderType := req.Type
	if orderType == "" {
		orderType = domain.TypeNormal
	}

	now := s.clock.Now()
	order := &domain.Order{
		ID:             s.node.Generate(),
		UserID:         op.Actor().ID,
		Type:           orderType,
		Status:         domain.StatusNew,
		Currency:       s.cfg.Order.DefaultCurrency,
		RegionID:       req.RegionID,
		DurationMonths: req.DurationMonths,
		Settings:       settingsMap(req),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	for _, line := range req.Lines {
		quote, err := s.catalog.Quote(ctx, line.ProductID, line.Quantity, req.DurationMonths, now)
		if err != nil {
			return s.fail(op, pricingFault(err))
		}
		if quote.Currency != order.Currency {
			return s.fail(op, fault.Newf(fault.ValidationError,
				"product %s is priced in %s, order currency is %s",
				quote.Product.ID, quote.Currency, order.Currency))
		}

		options := datatypes.JSONMap{}
		for k, v := range quote.Product.Options {
			options[k] = v
		}
		for k, v := range line.Options {
			options[k] = v
		}

		order.Price += quote.FinalPrice
		order.Lines = append(order.Lines, domain.OrderProduct{
			ID:            s.node.Generate(),
			OrderID:       order.ID,
			ProductID:     quote.Product.ID,
			ResourceKind:  quote.Product.ResourceKind,
			Name:          quote.Product.Name,
			Quantity:      line.Quantity,
			Options:       options,
			UnitPrice:     quote.Product.UnitPrice,
			LineTotal:     quote.FinalPrice,
			PromotionCode: quote.PromotionCode,
			State:         domain.LinePending,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}

	if err := s.repo.Create(ctx, s.db, order); err != nil {
		return s.fail(op, fault.Wrap(fault.Unknown, "persist order", err))
	}
	s.metrics.RecordOrderSubmitted(ctx, string(order.Type))
	s.log.Info("order submitted",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", order.UserID.String()),
		zap.Int64("price", order.Price),
		zap.Int("lines", len(order.Lines)),
	)

	if order.Price == 0 && s.cfg.Order.AutoCompleteZeroPriceOrders {
		if err := s.repo.Transition(ctx, s.db, order.ID, domain.StatusNew, domain.StatusProcessing, nil); err != nil {
			return s.fail(op, fault.Wrap(fault.Unknown, "advance zero-price order", err))
		}
		return s.RunProvisioning(ctx, order.ID)
	}

	if err := s.repo.Transition(ctx, s.db, order.ID, domain.StatusNew, domain.StatusPendingPayment, nil); err != nil {
		return s.fail(op, fault.Wrap(fault.Unknown, "advance order to pending payment", err))
	}
	order.Status = domain.StatusPendingPayment
	return order, nil
}

func (s *service) Get(ctx context.Context, op *opctx.Context, id snowflake.ID) (*domain.Order, error) {
	order, err := s.repo.Find(ctx, s.db, id)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return s.fail(op, fault.Newf(fault.NotFound, "order %s not found", id))
		}
		return s.fail(op, fault.Wrap(fault.Unknown, "load order", err))
	}

	op.SetTarget(&opctx.Actor{ID: order.UserID})
	if !guard.CheckRole(op, identitydomain.AdminRoles...) {
		return nil, op.Err()
	}
	return order, nil
}

func (s *service) List(ctx context.Context, op *opctx.Context, filter domain.ListFilter) (*domain.Page, error) {
	if !guard.CheckRole(op) {
		return nil, op.Err()
	}
	// Non-admin callers only ever see their own orders.
	if !guard.IsAdmin(op.Actor()) {
		actorID := op.Actor().ID
		filter.UserID = &actorID
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
		filter.Limit = limit
	}

	orders, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		ferr := fault.Wrap(fault.Unknown, "list orders", err)
		op.Fail(ferr)
		return nil, ferr
	}

	page := &domain.Page{Orders: orders}
	if len(orders) > int(limit) {
		page.Orders = orders[:limit]
		last := page.Orders[len(page.Orders)-1]
		cursor, err := pagination.EncodeCursor(pagination.Cursor{ID: last.ID.String()})
		if err != nil {
			ferr := fault.Wrap(fault.Unknown, "encode page cursor", err)
			op.Fail(ferr)
			return nil, ferr
		}
		page.NextCursor = cursor
	}
	return page, nil
}

func (s *service) MarkPaid(ctx context.Context, id snowflake.ID, amountPaid int64, reference string) (*domain.Order, error) {
	order, err := s.repo.Find(ctx, s.db, id)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return nil, fault.Newf(fault.NotFound, "order %s not found", id)
		}
		return nil, fault.Wrap(fault.Unknown, "load order", err)
	}

	updates := map[string]any{
		"price_paid": amountPaid,
		"updated_at": s.clock.Now(),
	}
	err = s.repo.Transition(ctx, s.db, id, domain.StatusPendingPayment, domain.StatusProcessing, updates)
	if err != nil {
		if errors.Is(err, domain.ErrStaleStatus) {
			return nil, fault.Newf(fault.InvalidStateTransition,
				"order %s is %s, not PENDING_PAYMENT", id, order.Status)
		}
		return nil, fault.Wrap(fault.Unknown, "mark order paid", err)
	}

	s.log.Info("order paid",
		zap.String("order_id", id.String()),
		zap.Int64("amount", amountPaid),
		zap.String("reference", reference),
	)
	order.Status = domain.StatusProcessing
	order.PricePaid = amountPaid
	return order, nil
}

func (s *service) RunProvisioning(ctx context.Context, id snowflake.ID) (*domain.Order, error) {
	if s.locker != nil {
		key := fmt.Sprintf("order:provision:%s", id)
		token, ok, err := s.locker.TryLock(ctx, key, provisionLockTTL)
		if err != nil {
			s.log.Warn("provision lock unavailable, relying on state check", zap.Error(err))
		} else if !ok {
			return nil, fault.Newf(fault.InvalidStateTransition,
				"order %s already has a provisioning run in flight", id)
		} else {
			defer func() {
				if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
					s.log.Warn("release provision lock", zap.Error(err))
				}
			}()
		}
	}

	order, err := s.repo.Find(ctx, s.db, id)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return nil, fault.Newf(fault.NotFound, "order %s not found", id)
		}
		return nil, fault.Wrap(fault.Unknown, "load order", err)
	}
	if order.Status != domain.StatusProcessing {
		return nil, fault.Newf(fault.InvalidStateTransition,
			"order %s is %s, provisioning requires PROCESSING", id, order.Status)
	}

	runID := ulid.MustNew(ulid.Timestamp(s.clock.Now()), rand.Reader).String()
	log := s.log.With(
		zap.String("order_id", id.String()),
		zap.String("run_id", runID),
	)
	if err := s.db.WithContext(ctx).Model(&domain.Order{}).
		Where("id = ?", id).
		Update("provision_run_id", runID).Error; err != nil {
		return nil, fault.Wrap(fault.Unknown, "record provisioning run", err)
	}

	// Lines provision strictly in declared order: a network line's backend
	// id feeds the compute, lb and db lines that follow it.
	networkID := ""
	for i := range order.Lines {
		line := &order.Lines[i]
		if line.State == domain.LineProvisioned && line.ResourceKind == providerdomain.KindNetwork {
			networkID = line.ResourceID
		}
	}

	var failedLine *domain.OrderProduct
	var failCause error
	blocked := false
	for i := range order.Lines {
		line := &order.Lines[i]
		switch line.State {
		case domain.LineProvisioned:
			continue
		case domain.LineInFlight, domain.LineUnknown:
			// A prior run is unresolved; the reconciliation sweep owns it.
			log.Warn("line awaiting reconciliation, stopping run",
				zap.String("line_id", line.ID.String()))
			blocked = true
		}
		if blocked {
			break
		}

		ref, err := s.provisionLine(ctx, log, order, line, networkID)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				// Outcome unknown, not failed: the backend may have finished
				// the create despite our timeout. The sweep resolves it.
				break
			}
			failedLine = line
			failCause = err
			break
		}
		if line.ResourceKind == providerdomain.KindNetwork {
			networkID = ref.ID
		}
	}

	if failedLine != nil {
		if err := s.repo.Transition(ctx, s.db, id, domain.StatusProcessing, domain.StatusFailed,
			map[string]any{"updated_at": s.clock.Now()}); err != nil && !errors.Is(err, domain.ErrStaleStatus) {
			return nil, fault.Wrap(fault.Unknown, "finalize failed order", err)
		}
		s.metrics.RecordOrderOutcome(ctx, string(domain.StatusFailed))
		log.Warn("order failed",
			zap.String("line_id", failedLine.ID.String()),
			zap.Error(failCause),
		)
		failed, ferr := s.repo.Find(ctx, s.db, id)
		if ferr != nil {
			return nil, fault.Wrap(fault.Unknown, "reload failed order", ferr)
		}
		if s.notifier != nil {
			s.notifier.OrderFailed(ctx, failed)
		}
		return failed, fault.Wrap(fault.ProvisioningFailed,
			fmt.Sprintf("line %s failed, order %s is FAILED", failedLine.ID, id), failCause)
	}

	order, err = s.repo.Find(ctx, s.db, id)
	if err != nil {
		return nil, fault.Wrap(fault.Unknown, "reload order", err)
	}
	if order.AllProvisioned() {
		expires := s.clock.Now().AddDate(0, order.DurationMonths, 0)
		err := s.repo.Transition(ctx, s.db, id, domain.StatusProcessing, domain.StatusCompleted, map[string]any{
			"expires_at": expires,
			"updated_at": s.clock.Now(),
		})
		if err != nil && !errors.Is(err, domain.ErrStaleStatus) {
			return nil, fault.Wrap(fault.Unknown, "finalize completed order", err)
		}
		s.metrics.RecordOrderOutcome(ctx, string(domain.StatusCompleted))
		log.Info("order completed")
		order.Status = domain.StatusCompleted
		order.ExpiresAt = &expires
		if s.notifier != nil {
			s.notifier.OrderCompleted(ctx, order)
		}
	}
	return order, nil
}

// provisionLine commits the in-flight intent, calls the backend and commits
// the outcome. A crash between the two commits leaves a recoverable
// in_flight marker for the sweep instead of a lost line.
func (s *service) provisionLine(ctx context.Context, log *zap.Logger, order *domain.Order, line *domain.OrderProduct, networkID string) (providerdomain.Ref, error) {
	desc, err := s.selector.Select(order.RegionID, includeClusters(order), excludeClusters(order))
	if err != nil {
		return providerdomain.Ref{}, err
	}

	now := s.clock.Now()
	if err := s.repo.UpdateLine(ctx, s.db, line.ID, map[string]any{
		"state":        domain.LineInFlight,
		"cluster_name": desc.Name,
		"updated_at":   now,
	}); err != nil {
		return providerdomain.Ref{}, fault.Wrap(fault.Unknown, "record provisioning intent", err)
	}
	line.State = domain.LineInFlight
	line.ClusterName = desc.Name

	prov, err := s.adapters.ForCluster(desc)
	if err != nil {
		s.recordLineFailure(ctx, line, err)
		return providerdomain.Ref{}, err
	}

	spec := providerdomain.Spec{
		Kind:      line.ResourceKind,
		Name:      domain.ResourceName(line),
		Project:   desc.Project,
		Options:   stringOptions(line.Options),
		NetworkID: networkID,
	}

	callCtx := ctx
	if s.cfg.Order.ProvisionTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.Order.ProvisionTimeoutSeconds)*time.Second)
		defer cancel()
	}

	ref, err := providerdomain.Create(callCtx, prov, spec)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.metrics.RecordProviderCall(ctx, string(line.ResourceKind), "timeout")
			if uerr := s.repo.UpdateLine(ctx, s.db, line.ID, map[string]any{
				"state":      domain.LineUnknown,
				"updated_at": s.clock.Now(),
			}); uerr != nil {
				log.Error("record unknown line outcome", zap.Error(uerr))
			}
			line.State = domain.LineUnknown
			log.Warn("backend call timed out, outcome unknown",
				zap.String("line_id", line.ID.String()))
			return providerdomain.Ref{}, err
		}
		s.metrics.RecordProviderCall(ctx, string(line.ResourceKind), "error")
		s.recordLineFailure(ctx, line, err)
		return providerdomain.Ref{}, fault.Wrap(fault.ProvisioningFailed,
			fmt.Sprintf("line %s could not be provisioned", line.ID), err)
	}

	s.metrics.RecordProviderCall(ctx, string(line.ResourceKind), "ok")
	provisionedAt := s.clock.Now()
	if err := s.repo.UpdateLine(ctx, s.db, line.ID, map[string]any{
		"state":          domain.LineProvisioned,
		"resource_id":    ref.ID,
		"last_status":    ref.Status,
		"provisioned_at": provisionedAt,
		"updated_at":     provisionedAt,
	}); err != nil {
		return providerdomain.Ref{}, fault.Wrap(fault.Unknown, "record provisioning outcome", err)
	}
	line.State = domain.LineProvisioned
	line.ResourceID = ref.ID

	log.Info("line provisioned",
		zap.String("line_id", line.ID.String()),
		zap.String("kind", string(line.ResourceKind)),
		zap.String("cluster", desc.Name),
		zap.String("resource_id", ref.ID),
	)
	return ref, nil
}

func (s *service) Renew(ctx context.Context, op *opctx.Context, id snowflake.ID, months int) (*domain.Order, error) {
	if months <= 0 {
		return s.fail(op, fault.New(fault.ValidationError, "renewal months must be positive"))
	}

	order, err := s.repo.Find(ctx, s.db, id)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return s.fail(op, fault.Newf(fault.NotFound, "order %s not found", id))
		}
		return s.fail(op, fault.Wrap(fault.Unknown, "load order", err))
	}

	op.SetTarget(&opctx.Actor{ID: order.UserID})
	if !guard.CheckRole(op, identitydomain.AdminRoles...) {
		return nil, op.Err()
	}
	if order.Status != domain.StatusCompleted {
		return s.fail(op, fault.Newf(fault.InvalidStateTransition,
			"order %s is %s, renewal requires COMPLETED", id, order.Status))
	}

	// Renewal extends the existing lines at their locked unit prices; no
	// provisioning re-runs.
	var renewalPrice int64
	for _, line := range order.Lines {
		renewalPrice += line.UnitPrice * int64(line.Quantity) * int64(months)
	}

	now := s.clock.Now()
	updates := map[string]any{
		"type":            domain.TypeRenewal,
		"duration_months": order.DurationMonths + months,
		"price":           order.Price + renewalPrice,
		"updated_at":      now,
	}
	if order.ExpiresAt != nil {
		updates["expires_at"] = order.ExpiresAt.AddDate(0, months, 0)
	}

	if renewalPrice > 0 {
		if err := s.repo.Transition(ctx, s.db, id, domain.StatusCompleted, domain.StatusPendingPayment, updates); err != nil {
			if errors.Is(err, domain.ErrStaleStatus) {
				return s.fail(op, fault.Newf(fault.InvalidStateTransition, "order %s changed state during renewal", id))
			}
			return s.fail(op, fault.Wrap(fault.Unknown, "renew order", err))
		}
	} else {
		if err := s.db.WithContext(ctx).Model(&domain.Order{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return s.fail(op, fault.Wrap(fault.Unknown, "renew order", err))
		}
	}

	s.log.Info("order renewed",
		zap.String("order_id", id.String()),
		zap.Int("months", months),
		zap.Int64("renewal_price", renewalPrice),
	)
	return s.repo.Find(ctx, s.db, id)
}

func (s *service) Cancel(ctx context.Context, op *opctx.Context, id snowflake.ID) (*domain.Order, error) {
	order, err := s.repo.Find(ctx, s.db, id)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return s.fail(op, fault.Newf(fault.NotFound, "order %s not found", id))
		}
		return s.fail(op, fault.Wrap(fault.Unknown, "load order", err))
	}

	op.SetTarget(&opctx.Actor{ID: order.UserID})
	if !guard.CheckRole(op, identitydomain.AdminRoles...) {
		return nil, op.Err()
	}

	// Nothing was provisioned in NEW or PENDING_PAYMENT, so cancellation
	// has no backend side effects.
	for _, from := range []domain.Status{domain.StatusNew, domain.StatusPendingPayment} {
		err := s.repo.Transition(ctx, s.db, id, from, domain.StatusCanceled,
			map[string]any{"updated_at": s.clock.Now()})
		if err == nil {
			s.metrics.RecordOrderOutcome(ctx, string(domain.StatusCanceled))
			order.Status = domain.StatusCanceled
			return order, nil
		}
		if !errors.Is(err, domain.ErrStaleStatus) {
			return s.fail(op, fault.Wrap(fault.Unknown, "cancel order", err))
		}
	}
	return s.fail(op, fault.Newf(fault.InvalidStateTransition,
		"order %s is %s, cancel requires NEW or PENDING_PAYMENT", id, order.Status))
}

func (s *service) recordLineFailure(ctx context.Context, line *domain.OrderProduct, cause error) {
	if err := s.repo.UpdateLine(ctx, s.db, line.ID, map[string]any{
		"state":          domain.LineFailed,
		"failure_reason": cause.Error(),
		"updated_at":     s.clock.Now(),
	}); err != nil {
		s.log.Error("record line failure", zap.Error(err))
	}
	line.State = domain.LineFailed
	line.FailureReason = cause.Error()
}

func (s *service) fail(op *opctx.Context, ferr *fault.Error) (*domain.Order, error) {
	op.Fail(ferr)
	return nil, ferr
}

func pricingFault(err error) *fault.Error {
	switch {
	case errors.Is(err, catalogdomain.ErrProductNotFound):
		return fault.Wrap(fault.NotFound, "product not found", err)
	case errors.Is(err, catalogdomain.ErrProductInactive),
		errors.Is(err, catalogdomain.ErrInvalidQuantity):
		return fault.Wrap(fault.ValidationError, "line item rejected", err)
	default:
		return fault.Wrap(fault.Unknown, "price order line", err)
	}
}

func settingsMap(req domain.SubmitRequest) datatypes.JSONMap {
	settings := datatypes.JSONMap{}
	for k, v := range req.Settings {
		settings[k] = v
	}
	if len(req.IncludeClusters) > 0 {
		settings["include_clusters"] = toAnySlice(req.IncludeClusters)
	}
	if len(req.ExcludeClusters) > 0 {
		settings["exclude_clusters"] = toAnySlice(req.ExcludeClusters)
	}
	return settings
}

func includeClusters(order *domain.Order) []string {
	return stringSlice(order.Settings["include_clusters"])
}

func excludeClusters(order *domain.Order) []string {
	return stringSlice(order.Settings["exclude_clusters"])
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toAnySlice(items []string) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		out = append(out, item)
	}
	return out
}

func stringOptions(options datatypes.JSONMap) map[string]string {
	out := make(map[string]string, len(options))
	for k, v := range options {
		out[k] = fmt.Sprint(v)
	}
	return out
}
