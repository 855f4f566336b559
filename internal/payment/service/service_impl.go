package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/smallorbit/nebula/internal/billing/domain"
	"github.com/smallorbit/nebula/internal/clock"
	"github.com/smallorbit/nebula/internal/config"
	"github.com/smallorbit/nebula/internal/fault"
	"github.com/smallorbit/nebula/internal/notify"
	"github.com/smallorbit/nebula/internal/observability/metrics"
	orderdomain "github.com/smallorbit/nebula/internal/order/domain"
	"github.com/smallorbit/nebula/internal/payment/domain"
	"github.com/smallorbit/nebula/internal/payment/vnpay"
	pkgdb "github.com/smallorbit/nebula/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Node     *snowflake.Node
	Config   config.Config
	Repo     domain.Repository
	Orders   orderdomain.Service
	Billing  billingdomain.Service
	Metrics  *metrics.Metrics `optional:"true"`
	Notifier *notify.Notifier `optional:"true"`
}

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	node     *snowflake.Node
	cfg      config.Config
	gate     *vnpay.Gate
	repo     domain.Repository
	orders   orderdomain.Service
	billing  billingdomain.Service
	metrics  *metrics.Metrics
	notifier *notify.Notifier
}

func New(p Params) domain.Service {
	return &service{
		db:       p.DB,
		log:      p.Log.Named("payment.service"),
		clock:    p.Clock,
		node:     p.Node,
		cfg:      p.Config,
		gate:     vnpay.New(p.Config.VNPay),
		repo:     p.Repo,
		orders:   p.Orders,
		billing:  p.Billing,
		metrics:  p.Metrics,
		notifier: p.Notifier,
	}
}

func (s *service) Start(ctx context.Context, order *orderdomain.Order, clientIP string) (*domain.StartResult, error) {
	if order.Status != orderdomain.StatusPendingPayment {
		return nil, fault.Newf(fault.InvalidStateTransition,
			"order %s is %s, payment requires PENDING_PAYMENT", order.ID, order.Status)
	}
	if order.Currency != s.cfg.Order.DefaultCurrency {
		return nil, fault.Newf(fault.PaymentCurrencyUnsupported,
			"gateway only supports %s, order is %s", s.cfg.Order.DefaultCurrency, order.Currency)
	}

	return &domain.StartResult{
		Gateway: vnpay.Gateway,
		PayURL:  s.gate.BuildPayURL(order, clientIP, s.clock.Now()),
	}, nil
}

// Finish applies one IPN delivery. The RspCode in the result follows the
// gateway convention: "00" confirms receipt even when the payment itself
// failed; the order only advances on a verified successful payment.
func (s *service) Finish(ctx context.Context, params map[string]string) (*domain.FinishResult, error) {
	if err := s.gate.VerifyIPN(params); err != nil {
		s.metrics.RecordPaymentEvent(ctx, vnpay.Gateway, "rejected")
		// Never reveal why the check failed; forged callbacks learn nothing.
		s.log.Warn("ipn verification failed", zap.String("txn_ref", params["vnp_TxnRef"]))
		if errors.Is(err, domain.ErrUnsupportedCurrency) {
			return &domain.FinishResult{RspCode: vnpay.RspUnknownError, Message: "Unsupported currency"}, nil
		}
		return &domain.FinishResult{RspCode: vnpay.RspInvalidChecksum, Message: "Invalid Checksum"}, nil
	}

	orderID, err := snowflake.ParseString(params["vnp_TxnRef"])
	if err != nil {
		return &domain.FinishResult{RspCode: vnpay.RspOrderNotFound, Message: "Order not found"}, nil
	}

	order, ferr := s.loadOrder(ctx, orderID)
	if ferr != nil {
		if fault.Is(ferr, fault.NotFound) {
			return &domain.FinishResult{RspCode: vnpay.RspOrderNotFound, Message: "Order not found"}, nil
		}
		return nil, ferr
	}

	eventID := vnpay.EventID(params)
	existing, err := s.repo.FindEvent(ctx, s.db, vnpay.Gateway, eventID)
	switch {
	case err == nil && existing.ProcessedAt != nil:
		return s.alreadyProcessed(order), nil
	case err == nil:
		// Recorded but interrupted before the order advanced; a redelivery
		// resumes from the stored row instead of dropping the payment.
		s.log.Info("resuming interrupted payment event",
			zap.String("order_id", orderID.String()),
			zap.String("event_id", eventID),
		)
		return s.applyEvent(ctx, order, existing)
	case !errors.Is(err, domain.ErrEventNotFound):
		return nil, fault.Wrap(fault.Unknown, "look up payment event", err)
	}

	if order.Status == orderdomain.StatusCompleted || order.Status == orderdomain.StatusProcessing {
		return s.alreadyProcessed(order), nil
	}

	amount, err := vnpay.Amount(params)
	if err != nil || amount != order.Price {
		return &domain.FinishResult{RspCode: vnpay.RspInvalidAmount, Message: "Invalid amount", OrderID: orderID}, nil
	}

	responseCode := params["vnp_ResponseCode"]
	payload, _ := json.Marshal(params)
	now := s.clock.Now()
	event := &domain.EventRecord{
		ID:              s.node.Generate(),
		Gateway:         vnpay.Gateway,
		ProviderEventID: eventID,
		OrderID:         orderID,
		ResponseCode:    responseCode,
		Amount:          amount,
		Payload:         payload,
		ReceivedAt:      now,
	}
	if err := s.repo.InsertEvent(ctx, s.db, event); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			// A concurrent redelivery beat us to the row; defer to it unless
			// it stalled before completing.
			stored, lookupErr := s.repo.FindEvent(ctx, s.db, vnpay.Gateway, eventID)
			if lookupErr != nil {
				return nil, fault.Wrap(fault.Unknown, "look up payment event", lookupErr)
			}
			if stored.ProcessedAt != nil {
				return s.alreadyProcessed(order), nil
			}
			return s.applyEvent(ctx, order, stored)
		}
		return nil, fault.Wrap(fault.Unknown, "record payment event", err)
	}

	return s.applyEvent(ctx, order, event)
}

// applyEvent drives one verified, stored gateway event to its conclusion.
// It is safe to call again for the same event after a partial run: MarkPaid
// tolerates an already-advanced order and the billing reference is unique.
func (s *service) applyEvent(ctx context.Context, order *orderdomain.Order, event *domain.EventRecord) (*domain.FinishResult, error) {
	orderID := event.OrderID

	if event.ResponseCode != vnpay.ResponseCodeSuccess {
		// Verified but unsuccessful: confirm receipt, leave the order in
		// PENDING_PAYMENT. This is not an order failure.
		s.metrics.RecordPaymentEvent(ctx, vnpay.Gateway, "payment_failed")
		s.log.Info("payment not completed",
			zap.String("order_id", orderID.String()),
			zap.String("response_code", event.ResponseCode),
		)
		if err := s.repo.MarkProcessed(ctx, s.db, event.ID, s.clock.Now()); err != nil {
			s.log.Warn("mark payment event processed", zap.Error(err))
		}
		return &domain.FinishResult{
			RspCode:     vnpay.RspConfirmSuccess,
			Message:     "Confirm Success",
			OrderID:     orderID,
			OrderStatus: order.Status,
		}, nil
	}

	updated, ferr := s.orders.MarkPaid(ctx, orderID, event.Amount, event.ProviderEventID)
	if ferr != nil {
		if fault.Is(ferr, fault.InvalidStateTransition) {
			// An earlier delivery already advanced the order; settle the
			// event row so redeliveries stop resuming it.
			if err := s.repo.MarkProcessed(ctx, s.db, event.ID, s.clock.Now()); err != nil {
				s.log.Warn("mark payment event processed", zap.Error(err))
			}
			if fresh, lerr := s.loadOrder(ctx, orderID); lerr == nil {
				order = fresh
			}
			return s.alreadyProcessed(order), nil
		}
		return nil, ferr
	}

	if err := s.billing.Append(ctx, &billingdomain.Entry{
		ID:        s.node.Generate(),
		UserID:    updated.UserID,
		OrderID:   &orderID,
		Kind:      billingdomain.KindCharge,
		Amount:    event.Amount,
		Currency:  updated.Currency,
		Reference: vnpay.Gateway + ":" + event.ProviderEventID,
		CreatedAt: s.clock.Now(),
	}); err != nil && !pkgdb.IsDuplicateKeyErr(err) {
		s.log.Error("post billing charge", zap.Error(err))
	}

	if err := s.repo.MarkProcessed(ctx, s.db, event.ID, s.clock.Now()); err != nil {
		s.log.Warn("mark payment event processed", zap.Error(err))
	}
	s.metrics.RecordPaymentEvent(ctx, vnpay.Gateway, "payment_succeeded")
	if s.notifier != nil {
		s.notifier.PaymentReceived(ctx, updated, event.Amount, event.ProviderEventID)
	}

	// Provisioning failures never disturb the gateway acknowledgment; the
	// order carries its own terminal state and the sweeps pick up the rest.
	final, provErr := s.orders.RunProvisioning(ctx, orderID)
	status := orderdomain.StatusProcessing
	if final != nil {
		status = final.Status
	}
	if provErr != nil {
		s.log.Warn("provisioning after payment",
			zap.String("order_id", orderID.String()),
			zap.Error(provErr),
		)
	}

	return &domain.FinishResult{
		RspCode:          vnpay.RspConfirmSuccess,
		Message:          "Confirm Success",
		OrderID:          orderID,
		PaymentSucceeded: true,
		OrderStatus:      status,
	}, nil
}

// alreadyProcessed acknowledges a redelivery. The order's current status
// rides along so callers can still report the real outcome to the buyer.
func (s *service) alreadyProcessed(order *orderdomain.Order) *domain.FinishResult {
	paid := order.Status == orderdomain.StatusProcessing || order.Status == orderdomain.StatusCompleted
	return &domain.FinishResult{
		RspCode:          vnpay.RspAlreadyConfirmed,
		Message:          "Order already confirmed",
		OrderID:          order.ID,
		PaymentSucceeded: paid,
		AlreadyProcessed: true,
		OrderStatus:      order.Status,
	}
}

func (s *service) loadOrder(ctx context.Context, id snowflake.ID) (*orderdomain.Order, error) {
	var order orderdomain.Order
	err := s.db.WithContext(ctx).Preload("Lines").First(&order, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.Newf(fault.NotFound, "order %s not found", id)
		}
		return nil, fault.Wrap(fault.Unknown, "load order", err)
	}
	return &order, nil
}
