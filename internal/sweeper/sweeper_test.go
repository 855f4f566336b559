package sweeper

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
	orderdomain "github.com/smallorbit/nebula/internal/order/domain"
	orderrepo "github.com/smallorbit/nebula/internal/order/repository"
	orderservice "github.com/smallorbit/nebula/internal/order/service"
	"github.com/smallorbit/nebula/internal/provider/adapters"
	providerdomain "github.com/smallorbit/nebula/internal/provider/domain"
	"github.com/smallorbit/nebula/internal/provider/fake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fixture struct {
	sweeper *Sweeper
	db      *gorm.DB
	node    *snowflake.Node
	store   *fake.Store
	factory *fake.Factory
	clock   *clock.FakeClock
	repo    orderdomain.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", slug.Make(t.Name()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&catalogdomain.Product{}, &catalogdomain.Promotion{},
		&orderdomain.Order{}, &orderdomain.OrderProduct{},
	))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	log := zaptest.NewLogger(t)
	fakeClock := clock.NewFakeClock(time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC))

	registry, err := cluster.NewStaticRegistry([]clusterdomain.Descriptor{
		{Name: "hn-01", RegionID: "hn", Enabled: true, Backend: "fake", Project: "default"},
	}, log)
	require.NoError(t, err)

	factory := fake.NewFactory()
	adapterReg := adapters.NewRegistry(factory)
	repo := orderrepo.Provide()

	orders := orderservice.New(orderservice.Params{
		DB:    db,
		Log:   log,
		Clock: fakeClock,
		Node:  node,
		Config: config.Config{
			Order: config.OrderConfig{DefaultCurrency: "VND"},
		},
		Repo:     repo,
		Catalog:  catalogservice.New(catalogservice.Params{DB: db, Log: log, Repo: catalogrepo.Provide()}),
		Selector: cluster.NewSelector(cluster.SelectorParams{Registry: registry, Log: log}),
		Adapters: adapterReg,
	})

	sw, err := New(Params{
		DB:       db,
		Log:      log,
		Clock:    fakeClock,
		Repo:     repo,
		Orders:   orders,
		Registry: registry,
		Adapters: adapterReg,
		Config: Config{
			BatchSize:           10,
			UnresolvedThreshold: 5 * time.Minute,
			FailAfter:           24 * time.Hour,
		},
	})
	require.NoError(t, err)

	return &fixture{
		sweeper: sw,
		db:      db,
		node:    node,
		store:   factory.Store(),
		factory: factory,
		clock:   fakeClock,
		repo:    repo,
	}
}

func (f *fixture) provisioner(t *testing.T) providerdomain.Provisioner {
	t.Helper()
	prov, err := f.factory.NewProvisioner(clusterdomain.Descriptor{Name: "hn-01"})
	require.NoError(t, err)
	return prov
}

func (f *fixture) seedOrder(t *testing.T, status orderdomain.Status, lines ...orderdomain.OrderProduct) *orderdomain.Order {
	t.Helper()
	now := f.clock.Now()
	order := &orderdomain.Order{
		ID:             f.node.Generate(),
		UserID:         f.node.Generate(),
		Type:           orderdomain.TypeNormal,
		Status:         status,
		Currency:       "VND",
		RegionID:       "hn",
		DurationMonths: 1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, f.db.Create(order).Error)
	for i := range lines {
		lines[i].OrderID = order.ID
		if lines[i].ID == 0 {
			lines[i].ID = f.node.Generate()
		}
		if lines[i].CreatedAt.IsZero() {
			lines[i].CreatedAt = now
		}
		if lines[i].UpdatedAt.IsZero() {
			lines[i].UpdatedAt = now
		}
		require.NoError(t, f.db.Create(&lines[i]).Error)
	}
	return order
}

func (f *fixture) reloadLine(t *testing.T, id snowflake.ID) orderdomain.OrderProduct {
	t.Helper()
	var line orderdomain.OrderProduct
	require.NoError(t, f.db.First(&line, "id = ?", id).Error)
	return line
}

func (f *fixture) reloadOrder(t *testing.T, id snowflake.ID) orderdomain.Order {
	t.Helper()
	var order orderdomain.Order
	require.NoError(t, f.db.First(&order, "id = ?", id).Error)
	return order
}

func TestReconcileResolvesUnknownServerByName(t *testing.T) {
	f := newFixture(t)
	stale := f.clock.Now().Add(-10 * time.Minute)

	lineID := f.node.Generate()
	line := orderdomain.OrderProduct{
		ID:           lineID,
		ProductID:    f.node.Generate(),
		ResourceKind: providerdomain.KindCompute,
		Name:         "compute standard",
		Quantity:     1,
		State:        orderdomain.LineUnknown,
		ClusterName:  "hn-01",
		CreatedAt:    stale,
		UpdatedAt:    stale,
	}
	order := f.seedOrder(t, orderdomain.StatusProcessing, line)

	// The create actually landed before the timeout hit.
	ref, err := f.provisioner(t).CreateServer(context.Background(), providerdomain.Spec{
		Name: orderdomain.ResourceName(&line),
	})
	require.NoError(t, err)

	require.NoError(t, f.sweeper.ReconcileUnresolvedJob(context.Background()))

	got := f.reloadLine(t, lineID)
	assert.Equal(t, orderdomain.LineProvisioned, got.State)
	assert.Equal(t, ref.ID, got.ResourceID)
	assert.Equal(t, orderdomain.StatusCompleted, f.reloadOrder(t, order.ID).Status)
}

func TestReconcileRetriesProvablyAbsentLine(t *testing.T) {
	f := newFixture(t)
	stale := f.clock.Now().Add(-10 * time.Minute)

	lineID := f.node.Generate()
	order := f.seedOrder(t, orderdomain.StatusProcessing, orderdomain.OrderProduct{
		ID:           lineID,
		ProductID:    f.node.Generate(),
		ResourceKind: providerdomain.KindCompute,
		Name:         "compute standard",
		Quantity:     1,
		State:        orderdomain.LineInFlight,
		ClusterName:  "hn-01",
		CreatedAt:    stale,
		UpdatedAt:    stale,
	})

	// Nothing on the backend: the interrupted create never happened, so the
	// sweep retries it and the order completes.
	require.NoError(t, f.sweeper.ReconcileUnresolvedJob(context.Background()))

	got := f.reloadLine(t, lineID)
	assert.Equal(t, orderdomain.LineProvisioned, got.State)
	assert.NotEmpty(t, got.ResourceID)
	assert.Equal(t, orderdomain.StatusCompleted, f.reloadOrder(t, order.ID).Status)
	assert.Len(t, f.store.Resources(), 1)
}

func TestReconcileLeavesFreshLinesAlone(t *testing.T) {
	f := newFixture(t)

	lineID := f.node.Generate()
	f.seedOrder(t, orderdomain.StatusProcessing, orderdomain.OrderProduct{
		ID:           lineID,
		ProductID:    f.node.Generate(),
		ResourceKind: providerdomain.KindCompute,
		Name:         "compute standard",
		Quantity:     1,
		State:        orderdomain.LineInFlight,
		ClusterName:  "hn-01",
	})

	// Still inside the threshold; the orchestrator may be mid-call.
	require.NoError(t, f.sweeper.ReconcileUnresolvedJob(context.Background()))

	assert.Equal(t, orderdomain.LineInFlight, f.reloadLine(t, lineID).State)
}

func TestReconcileFailsUnverifiableLineAfterWindow(t *testing.T) {
	f := newFixture(t)
	ancient := f.clock.Now().Add(-48 * time.Hour)

	lineID := f.node.Generate()
	order := f.seedOrder(t, orderdomain.StatusProcessing, orderdomain.OrderProduct{
		ID:           lineID,
		ProductID:    f.node.Generate(),
		ResourceKind: providerdomain.KindDatabase,
		Name:         "db standard",
		Quantity:     1,
		State:        orderdomain.LineUnknown,
		ClusterName:  "hn-01",
		CreatedAt:    ancient,
		UpdatedAt:    ancient,
	})

	require.NoError(t, f.sweeper.ReconcileUnresolvedJob(context.Background()))

	got := f.reloadLine(t, lineID)
	assert.Equal(t, orderdomain.LineFailed, got.State)
	assert.NotEmpty(t, got.FailureReason)
	assert.Equal(t, orderdomain.StatusFailed, f.reloadOrder(t, order.ID).Status)
}

func TestSyncResourceStatePicksUpBackendDrift(t *testing.T) {
	f := newFixture(t)

	ref, err := f.provisioner(t).CreateServer(context.Background(), providerdomain.Spec{Name: "web-1"})
	require.NoError(t, err)

	liveID := f.node.Generate()
	goneID := f.node.Generate()
	f.seedOrder(t, orderdomain.StatusCompleted,
		orderdomain.OrderProduct{
			ID:           liveID,
			ProductID:    f.node.Generate(),
			ResourceKind: providerdomain.KindCompute,
			Name:         "web",
			Quantity:     1,
			State:        orderdomain.LineProvisioned,
			ClusterName:  "hn-01",
			ResourceID:   ref.ID,
			LastStatus:   providerdomain.StatusActive,
		},
		orderdomain.OrderProduct{
			ID:           goneID,
			ProductID:    f.node.Generate(),
			ResourceKind: providerdomain.KindCompute,
			Name:         "batch",
			Quantity:     1,
			State:        orderdomain.LineProvisioned,
			ClusterName:  "hn-01",
			ResourceID:   "hn-01-compute-999",
			LastStatus:   providerdomain.StatusActive,
		},
	)

	f.store.SetStatus(ref.ID, providerdomain.StatusStopped)

	require.NoError(t, f.sweeper.SyncResourceStateJob(context.Background()))

	assert.Equal(t, providerdomain.StatusStopped, f.reloadLine(t, liveID).LastStatus)
	assert.Equal(t, providerdomain.StatusDeleted, f.reloadLine(t, goneID).LastStatus)
}

func TestReleaseExpiredTearsDownAndMarksCleaned(t *testing.T) {
	f := newFixture(t)
	prov := f.provisioner(t)

	network, err := prov.CreateNetwork(context.Background(), providerdomain.Spec{Name: "net-1"})
	require.NoError(t, err)
	server, err := prov.CreateServer(context.Background(), providerdomain.Spec{Name: "web-1"})
	require.NoError(t, err)

	expired := f.clock.Now().Add(-time.Hour)
	order := f.seedOrder(t, orderdomain.StatusCompleted,
		orderdomain.OrderProduct{
			ProductID:    f.node.Generate(),
			ResourceKind: providerdomain.KindNetwork,
			Name:         "net",
			Quantity:     1,
			State:        orderdomain.LineProvisioned,
			ClusterName:  "hn-01",
			ResourceID:   network.ID,
		},
		orderdomain.OrderProduct{
			ProductID:    f.node.Generate(),
			ResourceKind: providerdomain.KindCompute,
			Name:         "web",
			Quantity:     1,
			State:        orderdomain.LineProvisioned,
			ClusterName:  "hn-01",
			ResourceID:   server.ID,
		},
	)
	require.NoError(t, f.db.Model(&orderdomain.Order{}).
		Where("id = ?", order.ID).
		Update("expires_at", expired).Error)

	require.NoError(t, f.sweeper.ReleaseExpiredJob(context.Background()))

	assert.Empty(t, f.store.Resources())
	cleaned := f.reloadOrder(t, order.ID)
	require.NotNil(t, cleaned.CleanedAt)
	assert.Equal(t, orderdomain.StatusCompleted, cleaned.Status)

	// Second sweep finds nothing to do.
	require.NoError(t, f.sweeper.ReleaseExpiredJob(context.Background()))
}

func TestRunOnceHonorsJobAllowlist(t *testing.T) {
	f := newFixture(t)
	f.sweeper.cfg.EnabledJobs = []string{"sync_resource_state"}

	stale := f.clock.Now().Add(-10 * time.Minute)
	lineID := f.node.Generate()
	f.seedOrder(t, orderdomain.StatusProcessing, orderdomain.OrderProduct{
		ID:           lineID,
		ProductID:    f.node.Generate(),
		ResourceKind: providerdomain.KindCompute,
		Name:         "compute standard",
		Quantity:     1,
		State:        orderdomain.LineUnknown,
		ClusterName:  "hn-01",
		CreatedAt:    stale,
		UpdatedAt:    stale,
	})

	require.NoError(t, f.sweeper.RunOnce(context.Background()))

	// The reconcile sweep was disabled, so the line stayed unknown.
	assert.Equal(t, orderdomain.LineUnknown, f.reloadLine(t, lineID).State)
}
