package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/gosimple/slug"
	"github.com/smallorbit/nebula/internal/clock"
	"github.com/smallorbit/nebula/internal/fault"
	"github.com/smallorbit/nebula/internal/history/domain"
	"github.com/smallorbit/nebula/internal/history/masking"
	"github.com/smallorbit/nebula/internal/history/repository"
	"github.com/smallorbit/nebula/internal/history/service"
	"github.com/smallorbit/nebula/internal/opctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func newAuditTestService(t *testing.T) (domain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", slug.Make(t.Name()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Record{}))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	svc := service.New(service.Params{
		DB:    db,
		Log:   zaptest.NewLogger(t),
		Clock: clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		Node:  node,
		Repo:  repository.Provide(),
	})
	return svc, db, node
}

func TestLoggedRedactsSensitiveInput(t *testing.T) {
	svc, db, node := newAuditTestService(t)
	log := zaptest.NewLogger(t)

	actor := &opctx.Actor{ID: node.Generate(), Roles: []string{"USER"}}
	op := opctx.New("user.update", map[string]any{
		"name":     "new name",
		"password": "hunter2",
		"ssh_key":  "ssh-rsa AAAA",
		"_tx":      "bookkeeping",
	}, actor, true)

	wrapped := Logged(svc, log, "user", func(ctx context.Context, op *opctx.Context) error {
		op.Respond("updated", true)
		return nil
	})
	require.NoError(t, wrapped(context.Background(), op))

	var record domain.Record
	require.NoError(t, db.First(&record).Error)

	assert.Equal(t, "user.update", record.Action)
	require.NotNil(t, record.ActorID)
	assert.Equal(t, actor.ID, *record.ActorID)

	assert.Equal(t, masking.MaskToken, record.Content["password"])
	assert.Equal(t, masking.MaskToken, record.Content["ssh_key"])
	assert.Equal(t, "new name", record.Content["name"])
	assert.NotContains(t, record.Content, "_tx")
	assert.Equal(t, true, record.Content["updated"])
}

func TestLoggedSkipsFailedOperations(t *testing.T) {
	svc, db, node := newAuditTestService(t)
	log := zaptest.NewLogger(t)

	actor := &opctx.Actor{ID: node.Generate(), Roles: []string{"USER"}}
	op := opctx.New("order.cancel", map[string]any{"reason": "test"}, actor, true)

	wrapped := Logged(svc, log, "order", func(ctx context.Context, op *opctx.Context) error {
		ferr := fault.New(fault.InvalidStateTransition, "bad state")
		op.Fail(ferr)
		return ferr
	})
	require.Error(t, wrapped(context.Background(), op))

	var count int64
	require.NoError(t, db.Model(&domain.Record{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestLoggedWritesAtMostOnce(t *testing.T) {
	svc, db, node := newAuditTestService(t)
	log := zaptest.NewLogger(t)

	actor := &opctx.Actor{ID: node.Generate(), Roles: []string{"ADMIN"}}
	wrapped := Logged(svc, log, "cluster", func(ctx context.Context, op *opctx.Context) error {
		return nil
	})

	for i := 0; i < 2; i++ {
		op := opctx.New("cluster.update", nil, actor, true)
		require.NoError(t, wrapped(context.Background(), op))
	}

	var count int64
	require.NoError(t, db.Model(&domain.Record{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}
