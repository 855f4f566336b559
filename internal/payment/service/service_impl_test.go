package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/gosimple/slug"
	billingdomain "github.com/smallorbit/nebula/internal/billing/domain"
	billingrepo "github.com/smallorbit/nebula/internal/billing/repository"
	billingservice "github.com/smallorbit/nebula/internal/billing/service"
	catalogdomain "github.com/smallorbit/nebula/internal/catalog/domain"
	catalogrepo "github.com/smallorbit/nebula/internal/catalog/repository"
	catalogservice "github.com/smallorbit/nebula/internal/catalog/service"
	"github.com/smallorbit/nebula/internal/clock"
	"github.com/smallorbit/nebula/internal/cluster"
	clusterdomain "github.com/smallorbit/nebula/internal/cluster/domain"
	"github.com/smallorbit/nebula/internal/config"
	"github.com/smallorbit/nebula/internal/opctx"
	orderdomain "github.com/smallorbit/nebula/internal/order/domain"
	orderrepo "github.com/smallorbit/nebula/internal/order/repository"
	orderservice "github.com/smallorbit/nebula/internal/order/service"
	"github.com/smallorbit/nebula/internal/payment/domain"
	"github.com/smallorbit/nebula/internal/payment/repository"
	"github.com/smallorbit/nebula/internal/payment/vnpay"
	"github.com/smallorbit/nebula/internal/provider/adapters"
	providerdomain "github.com/smallorbit/nebula/internal/provider/domain"
	"github.com/smallorbit/nebula/internal/provider/fake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const testSecret = "test-hash-secret"

type fixture struct {
	svc    domain.Service
	orders orderdomain.Service
	db     *gorm.DB
	node   *snowflake.Node
	store  *fake.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", slug.Make(t.Name()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&catalogdomain.Product{}, &catalogdomain.Promotion{},
		&orderdomain.Order{}, &orderdomain.OrderProduct{},
		&domain.EventRecord{}, &billingdomain.Entry{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zaptest.NewLogger(t)
	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	registry, err := cluster.NewStaticRegistry([]clusterdomain.Descriptor{
		{Name: "hn-01", RegionID: "hn", Enabled: true, Backend: "fake", Project: "default"},
	}, log)
	require.NoError(t, err)
	factory := fake.NewFactory()

	cfg := config.Config{
		Order: config.OrderConfig{DefaultCurrency: "VND"},
		VNPay: config.VNPayConfig{
			TmnCode:    "NEBULA01",
			HashSecret: testSecret,
			PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
			ReturnURL:  "https://nebula.local/payment/return",
		},
	}

	catalogSvc := catalogservice.New(catalogservice.Params{
		DB: db, Log: log, Repo: catalogrepo.Provide(),
	})
	orders := orderservice.New(orderservice.Params{
		DB:       db,
		Log:      log,
		Clock:    fakeClock,
		Node:     node,
		Config:   cfg,
		Repo:     orderrepo.Provide(),
		Catalog:  catalogSvc,
		Selector: cluster.NewSelector(cluster.SelectorParams{Registry: registry, Log: log}),
		Adapters: adapters.NewRegistry(factory),
	})
	billing := billingservice.New(billingservice.Params{
		DB: db, Log: log, Repo: billingrepo.Provide(),
	})
	svc := New(Params{
		DB:      db,
		Log:     log,
		Clock:   fakeClock,
		Node:    node,
		Config:  cfg,
		Repo:    repository.Provide(),
		Orders:  orders,
		Billing: billing,
	})

	return &fixture{svc: svc, orders: orders, db: db, node: node, store: factory.Store()}
}

func (f *fixture) pendingOrder(t *testing.T, price int64) *orderdomain.Order {
	t.Helper()
	product := catalogdomain.Product{
		ID:           f.node.Generate(),
		Name:         "compute standard",
		ResourceKind: providerdomain.KindCompute,
		Currency:     "VND",
		UnitPrice:    price,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	require.NoError(t, f.db.Create(&product).Error)

	actor := &opctx.Actor{ID: f.node.Generate(), Roles: []string{"USER"}}
	op := opctx.New("order.submit", nil, actor, true)
	order, err := f.orders.Submit(context.Background(), op, orderdomain.SubmitRequest{
		RegionID:       "hn",
		DurationMonths: 1,
		Lines:          []orderdomain.SubmitLine{{ProductID: product.ID, Quantity: 1}},
	})
	require.NoError(t, err)
	require.Equal(t, orderdomain.StatusPendingPayment, order.Status)
	return order
}

func signParams(secret string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "vnp_SecureHash" || k == "vnp_SecureHashType" || params[k] == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

func ipnParams(order *orderdomain.Order, responseCode string) map[string]string {
	params := map[string]string{
		"vnp_TmnCode":       "NEBULA01",
		"vnp_TxnRef":        order.ID.String(),
		"vnp_Amount":        strconv.FormatInt(order.Price*100, 10),
		"vnp_CurrCode":      "VND",
		"vnp_ResponseCode":  responseCode,
		"vnp_TransactionNo": "14568790",
		"vnp_PayDate":       "20260301091500",
		"vnp_BankCode":      "NCB",
	}
	params["vnp_SecureHash"] = signParams(testSecret, params)
	return params
}

func orderStatus(t *testing.T, db *gorm.DB, id snowflake.ID) orderdomain.Status {
	t.Helper()
	var order orderdomain.Order
	require.NoError(t, db.First(&order, "id = ?", id).Error)
	return order.Status
}

func TestFinishRejectsTamperedSignature(t *testing.T) {
	f := newFixture(t)
	order := f.pendingOrder(t, 150_000)

	params := ipnParams(order, "00")
	params["vnp_Amount"] = "1"

	result, err := f.svc.Finish(context.Background(), params)
	require.NoError(t, err)

	assert.Equal(t, vnpay.RspInvalidChecksum, result.RspCode)
	assert.Equal(t, orderdomain.StatusPendingPayment, orderStatus(t, f.db, order.ID))

	var events int64
	require.NoError(t, f.db.Model(&domain.EventRecord{}).Count(&events).Error)
	assert.Zero(t, events)
}

func TestFinishSuccessIsIdempotent(t *testing.T) {
	f := newFixture(t)
	order := f.pendingOrder(t, 150_000)
	params := ipnParams(order, "00")

	result, err := f.svc.Finish(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, vnpay.RspConfirmSuccess, result.RspCode)
	assert.True(t, result.PaymentSucceeded)
	assert.Equal(t, orderdomain.StatusCompleted, result.OrderStatus)
	assert.Len(t, f.store.Resources(), 1)

	// Same verified payload again: neutral reply, no second run or charge.
	// The real outcome still rides along for the buyer-facing return page.
	again, err := f.svc.Finish(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, vnpay.RspAlreadyConfirmed, again.RspCode)
	assert.True(t, again.AlreadyProcessed)
	assert.True(t, again.PaymentSucceeded)
	assert.Equal(t, orderdomain.StatusCompleted, again.OrderStatus)
	assert.Len(t, f.store.Resources(), 1)

	var charges int64
	require.NoError(t, f.db.Model(&billingdomain.Entry{}).Count(&charges).Error)
	assert.Equal(t, int64(1), charges)

	var events int64
	require.NoError(t, f.db.Model(&domain.EventRecord{}).Count(&events).Error)
	assert.Equal(t, int64(1), events)
}

func TestFinishResumesInterruptedEvent(t *testing.T) {
	f := newFixture(t)
	order := f.pendingOrder(t, 150_000)
	params := ipnParams(order, "00")

	// The event row landed but the process died before the order advanced:
	// processed_at stayed NULL and the order is still awaiting payment.
	stored := &domain.EventRecord{
		ID:              f.node.Generate(),
		Gateway:         vnpay.Gateway,
		ProviderEventID: params["vnp_TransactionNo"],
		OrderID:         order.ID,
		ResponseCode:    "00",
		Amount:          order.Price,
		Payload:         datatypes.JSON([]byte(`{}`)),
		ReceivedAt:      time.Now().UTC(),
	}
	require.NoError(t, f.db.Create(stored).Error)

	// The gateway redelivery must resume the stalled event, not drop it.
	result, err := f.svc.Finish(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, vnpay.RspConfirmSuccess, result.RspCode)
	assert.True(t, result.PaymentSucceeded)
	assert.Equal(t, orderdomain.StatusCompleted, orderStatus(t, f.db, order.ID))
	assert.Len(t, f.store.Resources(), 1)

	var event domain.EventRecord
	require.NoError(t, f.db.First(&event, "provider_event_id = ?", stored.ProviderEventID).Error)
	require.NotNil(t, event.ProcessedAt)

	var charges int64
	require.NoError(t, f.db.Model(&billingdomain.Entry{}).Count(&charges).Error)
	assert.Equal(t, int64(1), charges)

	var events int64
	require.NoError(t, f.db.Model(&domain.EventRecord{}).Count(&events).Error)
	assert.Equal(t, int64(1), events)
}

func TestFinishFailedPaymentStillConfirms(t *testing.T) {
	f := newFixture(t)
	order := f.pendingOrder(t, 150_000)

	result, err := f.svc.Finish(context.Background(), ipnParams(order, "24"))
	require.NoError(t, err)

	// The gateway convention: code "00" means "callback received",
	// independent of the payment outcome.
	assert.Equal(t, vnpay.RspConfirmSuccess, result.RspCode)
	assert.Equal(t, "Confirm Success", result.Message)
	assert.False(t, result.PaymentSucceeded)
	assert.Equal(t, orderdomain.StatusPendingPayment, orderStatus(t, f.db, order.ID))
	assert.Empty(t, f.store.Resources())
}

func TestFinishRejectsWrongAmount(t *testing.T) {
	f := newFixture(t)
	order := f.pendingOrder(t, 150_000)

	params := map[string]string{
		"vnp_TmnCode":       "NEBULA01",
		"vnp_TxnRef":        order.ID.String(),
		"vnp_Amount":        "100",
		"vnp_CurrCode":      "VND",
		"vnp_ResponseCode":  "00",
		"vnp_TransactionNo": "14568791",
	}
	params["vnp_SecureHash"] = signParams(testSecret, params)

	result, err := f.svc.Finish(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, vnpay.RspInvalidAmount, result.RspCode)
	assert.Equal(t, orderdomain.StatusPendingPayment, orderStatus(t, f.db, order.ID))
}

func TestFinishUnknownOrder(t *testing.T) {
	f := newFixture(t)

	params := map[string]string{
		"vnp_TxnRef":        f.node.Generate().String(),
		"vnp_Amount":        "100",
		"vnp_CurrCode":      "VND",
		"vnp_ResponseCode":  "00",
		"vnp_TransactionNo": "14568792",
	}
	params["vnp_SecureHash"] = signParams(testSecret, params)

	result, err := f.svc.Finish(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, vnpay.RspOrderNotFound, result.RspCode)
}

func TestStartBuildsSignedPayURL(t *testing.T) {
	f := newFixture(t)
	order := f.pendingOrder(t, 150_000)

	result, err := f.svc.Start(context.Background(), order, "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, vnpay.Gateway, result.Gateway)

	parsed, err := url.Parse(result.PayURL)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, order.ID.String(), q.Get("vnp_TxnRef"))
	assert.Equal(t, strconv.FormatInt(order.Price*100, 10), q.Get("vnp_Amount"))
	assert.NotEmpty(t, q.Get("vnp_SecureHash"))

	// The URL's own parameters verify under the IPN check.
	params := map[string]string{}
	for k := range q {
		params[k] = q.Get(k)
	}
	gate := vnpay.New(config.VNPayConfig{HashSecret: testSecret})
	assert.NoError(t, gate.VerifyIPN(params))
}
