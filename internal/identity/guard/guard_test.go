package guard

import (
	"sync/atomic"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallorbit/nebula/internal/fault"
	"github.com/smallorbit/nebula/internal/identity/domain"
	"github.com/smallorbit/nebula/internal/opctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testActorNode gives each actor its own snowflake node so two actors
// created in the same millisecond never share an ID.
var testActorNode atomic.Int64

func testActor(t *testing.T, roles ...string) *opctx.Actor {
	t.Helper()
	node, err := snowflake.NewNode(testActorNode.Add(1))
	require.NoError(t, err)
	return &opctx.Actor{ID: node.Generate(), Email: "actor@example.com", Roles: roles}
}

func TestCheckRoleAdminPasses(t *testing.T) {
	actor := testActor(t, domain.RoleAdmin)
	op := opctx.New("order.get", nil, actor, true)

	assert.True(t, CheckRole(op, domain.RoleAdmin, domain.RoleAdminSale))
	assert.False(t, op.Failed())
}

func TestCheckRoleEmptyAllowedAdmitsAuthenticated(t *testing.T) {
	op := opctx.New("order.list", nil, testActor(t, domain.RoleUser), true)
	assert.True(t, CheckRole(op))
}

func TestCheckRoleForbidsOtherUsersResource(t *testing.T) {
	actor := testActor(t, domain.RoleUser)
	other := testActor(t, domain.RoleUser)

	op := opctx.New("order.get", nil, actor, true)
	op.SetTarget(other)

	assert.False(t, CheckRole(op, domain.RoleAdmin))
	require.True(t, op.Failed())
	assert.Equal(t, fault.Forbidden, op.Err().Kind)
}

func TestCheckRoleSelfAccessPasses(t *testing.T) {
	actor := testActor(t, domain.RoleUser)
	op := opctx.New("order.get", nil, actor, true)

	// Target defaults to the actor: self access regardless of allowed roles.
	assert.True(t, CheckRole(op, domain.RoleAdmin))
	assert.False(t, op.Failed())
}

func TestCheckRoleSelfAccessRejectsAdminOnlyFields(t *testing.T) {
	actor := testActor(t, domain.RoleUser)
	op := opctx.New("user.update", map[string]any{"name": "new", "role": "ADMIN"}, actor, true)

	assert.False(t, CheckRole(op, domain.RoleAdmin))
	require.True(t, op.Failed())
	assert.Equal(t, fault.Forbidden, op.Err().Kind)
}

func TestCheckRoleAnonymousFails(t *testing.T) {
	op := opctx.New("order.get", nil, nil, false)
	assert.False(t, CheckRole(op, domain.RoleAdmin))
	require.True(t, op.Failed())
	assert.Equal(t, fault.Unauthenticated, op.Err().Kind)
}
