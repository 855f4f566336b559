package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/gosimple/slug"
	catalogdomain "github.com/smallorbit/nebula/internal/catalog/domain"
	catalogrepo "github.com/smallorbit/nebula/internal/catalog/repository"
	catalogservice "github.com/smallorbit/nebula/internal/catalog/service"
	"github.com/smallorbit/nebula/internal/clock"
	"github.com/smallorbit/nebula/internal/cluster"
	clusterdomain "github.com/smallorbit/nebula/internal/cluster/domain"
	"github.com/smallorbit/nebula/internal/config"
	"github.com/smallorbit/nebula/internal/fault"
	"github.com/smallorbit/nebula/internal/opctx"
	"github.com/smallorbit/nebula/internal/order/domain"
	"github.com/smallorbit/nebula/internal/order/repository"
	"github.com/smallorbit/nebula/internal/provider/adapters"
	providerdomain "github.com/smallorbit/nebula/internal/provider/domain"
	"github.com/smallorbit/nebula/internal/provider/fake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fixture struct {
	svc   domain.Service
	db    *gorm.DB
	node  *snowflake.Node
	store *fake.Store
	clock *clock.FakeClock
}

func newFixture(t *testing.T, autoCompleteZeroPrice bool) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", slug.Make(t.Name()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&catalogdomain.Product{}, &catalogdomain.Promotion{},
		&domain.Order{}, &domain.OrderProduct{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zaptest.NewLogger(t)
	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	registry, err := cluster.NewStaticRegistry([]clusterdomain.Descriptor{
		{Name: "hn-01", RegionID: "hn", Enabled: true, Backend: "fake", Project: "default"},
		{Name: "hn-02", RegionID: "hn", Enabled: true, Backend: "fake", Project: "default"},
	}, log)
	require.NoError(t, err)

	factory := fake.NewFactory()
	cfg := config.Config{
		Order: config.OrderConfig{
			AutoCompleteZeroPriceOrders: autoCompleteZeroPrice,
			DefaultCurrency:             "VND",
		},
	}

	catalogSvc := catalogservice.New(catalogservice.Params{
		DB:   db,
		Log:  log,
		Repo: catalogrepo.Provide(),
	})

	svc := New(Params{
		DB:       db,
		Log:      log,
		Clock:    fakeClock,
		Node:     node,
		Config:   cfg,
		Repo:     repository.Provide(),
		Catalog:  catalogSvc,
		Selector: cluster.NewSelector(cluster.SelectorParams{Registry: registry, Log: log}),
		Adapters: adapters.NewRegistry(factory),
	})

	return &fixture{svc: svc, db: db, node: node, store: factory.Store(), clock: fakeClock}
}

func (f *fixture) seedProduct(t *testing.T, kind providerdomain.ResourceKind, price int64) catalogdomain.Product {
	t.Helper()
	product := catalogdomain.Product{
		ID:           f.node.Generate(),
		Name:         string(kind) + " standard",
		ResourceKind: kind,
		Currency:     "VND",
		UnitPrice:    price,
		Active:       true,
		CreatedAt:    f.clock.Now(),
		UpdatedAt:    f.clock.Now(),
	}
	require.NoError(t, f.db.Create(&product).Error)
	return product
}

func (f *fixture) actor(roles ...string) *opctx.Actor {
	return &opctx.Actor{ID: f.node.Generate(), Email: "buyer@example.com", Roles: roles}
}

func submitReq(products []catalogdomain.Product) domain.SubmitRequest {
	req := domain.SubmitRequest{RegionID: "hn", DurationMonths: 1}
	for _, p := range products {
		req.Lines = append(req.Lines, domain.SubmitLine{ProductID: p.ID, Quantity: 1})
	}
	return req
}

func TestSubmitZeroPriceLandsInPendingPayment(t *testing.T) {
	f := newFixture(t, false)
	product := f.seedProduct(t, providerdomain.KindCompute, 0)

	op := opctx.New("order.submit", nil, f.actor("USER"), true)
	order, err := f.svc.Submit(context.Background(), op, submitReq([]catalogdomain.Product{product}))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPendingPayment, order.Status)
	assert.Equal(t, int64(0), order.Price)
}

func TestSubmitZeroPriceAutoCompletes(t *testing.T) {
	f := newFixture(t, true)
	product := f.seedProduct(t, providerdomain.KindCompute, 0)

	op := opctx.New("order.submit", nil, f.actor("USER"), true)
	order, err := f.svc.Submit(context.Background(), op, submitReq([]catalogdomain.Product{product}))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, order.Status)
	require.Len(t, order.Lines, 1)
	assert.Equal(t, domain.LineProvisioned, order.Lines[0].State)
	assert.NotEmpty(t, order.Lines[0].ResourceID)
	assert.Len(t, f.store.Resources(), 1)
}

func TestPartialFailureLeavesProvisionedLines(t *testing.T) {
	f := newFixture(t, false)
	network := f.seedProduct(t, providerdomain.KindNetwork, 50_000)
	database := f.seedProduct(t, providerdomain.KindDatabase, 200_000)
	f.store.FailCreates(providerdomain.KindDatabase)

	op := opctx.New("order.submit", nil, f.actor("USER"), true)
	order, err := f.svc.Submit(context.Background(), op, submitReq([]catalogdomain.Product{network, database}))
	require.NoError(t, err)
	require.Equal(t, domain.StatusPendingPayment, order.Status)

	_, err = f.svc.MarkPaid(context.Background(), order.ID, order.Price, "txn-1")
	require.NoError(t, err)

	result, err := f.svc.RunProvisioning(context.Background(), order.ID)
	require.Error(t, err)
	assert.Equal(t, fault.ProvisioningFailed, fault.KindOf(err))

	require.NotNil(t, result)
	assert.Equal(t, domain.StatusFailed, result.Status)
	require.Len(t, result.Lines, 2)
	assert.Equal(t, domain.LineProvisioned, result.Lines[0].State)
	assert.NotEmpty(t, result.Lines[0].ResourceID)
	assert.Equal(t, domain.LineFailed, result.Lines[1].State)
	assert.NotEmpty(t, result.Lines[1].FailureReason)

	// The network resource stays provisioned; no compensating teardown.
	assert.Len(t, f.store.Resources(), 1)
}

func TestRunProvisioningRequiresProcessing(t *testing.T) {
	f := newFixture(t, false)
	product := f.seedProduct(t, providerdomain.KindCompute, 100_000)

	op := opctx.New("order.submit", nil, f.actor("USER"), true)
	order, err := f.svc.Submit(context.Background(), op, submitReq([]catalogdomain.Product{product}))
	require.NoError(t, err)
	require.Equal(t, domain.StatusPendingPayment, order.Status)

	_, err = f.svc.RunProvisioning(context.Background(), order.ID)
	require.Error(t, err)
	assert.Equal(t, fault.InvalidStateTransition, fault.KindOf(err))

	// The order is untouched and no backend call happened.
	reloaded, err := f.svc.MarkPaid(context.Background(), order.ID, order.Price, "txn-2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, reloaded.Status)
	assert.Empty(t, f.store.Resources())
}

func TestMarkPaidTwiceIsStale(t *testing.T) {
	f := newFixture(t, false)
	product := f.seedProduct(t, providerdomain.KindCompute, 100_000)

	op := opctx.New("order.submit", nil, f.actor("USER"), true)
	order, err := f.svc.Submit(context.Background(), op, submitReq([]catalogdomain.Product{product}))
	require.NoError(t, err)

	_, err = f.svc.MarkPaid(context.Background(), order.ID, order.Price, "txn-1")
	require.NoError(t, err)

	_, err = f.svc.MarkPaid(context.Background(), order.ID, order.Price, "txn-1")
	require.Error(t, err)
	assert.Equal(t, fault.InvalidStateTransition, fault.KindOf(err))
}

func TestGetEnforcesOwnership(t *testing.T) {
	f := newFixture(t, false)
	product := f.seedProduct(t, providerdomain.KindCompute, 100_000)

	owner := f.actor("USER")
	op := opctx.New("order.submit", nil, owner, true)
	order, err := f.svc.Submit(context.Background(), op, submitReq([]catalogdomain.Product{product}))
	require.NoError(t, err)

	// Another non-admin user is rejected.
	stranger := f.actor("USER")
	getOp := opctx.New("order.get", nil, stranger, true)
	_, err = f.svc.Get(context.Background(), getOp, order.ID)
	require.Error(t, err)
	assert.Equal(t, fault.Forbidden, fault.KindOf(err))

	// The owner succeeds regardless of role.
	ownOp := opctx.New("order.get", nil, owner, true)
	got, err := f.svc.Get(context.Background(), ownOp, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	// An admin may read anyone's order.
	adminOp := opctx.New("order.get", nil, f.actor("ADMIN"), true)
	got, err = f.svc.Get(context.Background(), adminOp, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)
}

func TestCancelOnlyBeforeProcessing(t *testing.T) {
	f := newFixture(t, false)
	product := f.seedProduct(t, providerdomain.KindCompute, 100_000)

	owner := f.actor("USER")
	op := opctx.New("order.submit", nil, owner, true)
	order, err := f.svc.Submit(context.Background(), op, submitReq([]catalogdomain.Product{product}))
	require.NoError(t, err)

	cancelOp := opctx.New("order.cancel", nil, owner, true)
	canceled, err := f.svc.Cancel(context.Background(), cancelOp, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, canceled.Status)

	// A canceled order has no further transitions.
	_, err = f.svc.MarkPaid(context.Background(), order.ID, order.Price, "txn")
	require.Error(t, err)
	assert.Equal(t, fault.InvalidStateTransition, fault.KindOf(err))

	lateOp := opctx.New("order.cancel", nil, owner, true)
	_, err = f.svc.Cancel(context.Background(), lateOp, order.ID)
	require.Error(t, err)
	assert.Equal(t, fault.InvalidStateTransition, fault.KindOf(err))
}

func TestRenewExtendsCompletedOrder(t *testing.T) {
	f := newFixture(t, false)
	product := f.seedProduct(t, providerdomain.KindCompute, 100_000)

	owner := f.actor("USER")
	op := opctx.New("order.submit", nil, owner, true)
	order, err := f.svc.Submit(context.Background(), op, submitReq([]catalogdomain.Product{product}))
	require.NoError(t, err)

	_, err = f.svc.MarkPaid(context.Background(), order.ID, order.Price, "txn")
	require.NoError(t, err)
	completed, err := f.svc.RunProvisioning(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, completed.Status)

	renewOp := opctx.New("order.renew", nil, owner, true)
	renewed, err := f.svc.Renew(context.Background(), renewOp, order.ID, 2)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPendingPayment, renewed.Status)
	assert.Equal(t, domain.TypeRenewal, renewed.Type)
	assert.Equal(t, 3, renewed.DurationMonths)
	assert.Equal(t, order.Price+2*100_000, renewed.Price)
	// Lines stay provisioned; renewal never re-runs provisioning.
	require.Len(t, renewed.Lines, 1)
	assert.Equal(t, domain.LineProvisioned, renewed.Lines[0].State)
}

func TestListScopesNonAdminToOwnOrders(t *testing.T) {
	f := newFixture(t, false)
	product := f.seedProduct(t, providerdomain.KindCompute, 100_000)

	alice := f.actor("USER")
	bob := f.actor("USER")
	for _, actor := range []*opctx.Actor{alice, bob} {
		op := opctx.New("order.submit", nil, actor, true)
		_, err := f.svc.Submit(context.Background(), op, submitReq([]catalogdomain.Product{product}))
		require.NoError(t, err)
	}

	listOp := opctx.New("order.list", nil, alice, true)
	page, err := f.svc.List(context.Background(), listOp, domain.ListFilter{})
	require.NoError(t, err)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, alice.ID, page.Orders[0].UserID)

	adminOp := opctx.New("order.list", nil, f.actor("ADMIN"), true)
	page, err = f.svc.List(context.Background(), adminOp, domain.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, page.Orders, 2)
}

func TestListFailureSealsOperation(t *testing.T) {
	f := newFixture(t, false)
	// Sever the storage underneath List so the repository call errors.
	require.NoError(t, f.db.Migrator().DropTable(&domain.Order{}))

	op := opctx.New("order.list", nil, f.actor("USER"), true)
	page, err := f.svc.List(context.Background(), op, domain.ListFilter{})
	require.Error(t, err)
	assert.Nil(t, page)
	assert.True(t, op.Failed())
	assert.True(t, fault.Is(err, fault.Unknown))
}
