package authorization

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallorbit/nebula/internal/opctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectOrder    = "order"
	ObjectProduct  = "product"
	ObjectCluster  = "cluster"
	ObjectResource = "resource"
	ObjectHistory  = "history"
	ObjectPayment  = "payment"
	ObjectBilling  = "billing"
	ObjectUser     = "user"
)

const (
	ActionOrderView      = "order.view"
	ActionOrderCreate    = "order.create"
	ActionOrderCancel    = "order.cancel"
	ActionOrderRenew     = "order.renew"
	ActionOrderProvision = "order.provision"

	ActionProductView   = "product.view"
	ActionProductManage = "product.manage"

	ActionClusterView   = "cluster.view"
	ActionClusterManage = "cluster.manage"

	ActionResourceView = "resource.view"
	ActionResourceAct  = "resource.act"

	ActionHistoryView = "history.view"

	ActionPaymentReconcile = "payment.reconcile"

	ActionBillingView = "billing.view"

	ActionUserView   = "user.view"
	ActionUserManage = "user.manage"
)

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)

// Service answers whether an actor role may perform an action on an object
// class. Ownership scoping is the guard's job, not this service's.
type Service interface {
	Authorize(ctx context.Context, actor *opctx.Actor, object string, action string) error
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor *opctx.Actor, object string, action string) error {
	if actor == nil {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	for _, role := range actor.Roles {
		subject := roleSubject(role)
		allowed, err := s.enforcer.Enforce(subject, object, action)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
	}

	s.log.Debug("authorization denied",
		zap.String("actor_id", actor.ID.String()),
		zap.String("object", object),
		zap.String("action", action),
	)
	return ErrForbidden
}

func roleSubject(role string) string {
	return fmt.Sprintf("role:%s", strings.ToLower(strings.TrimSpace(role)))
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Customer permissions; ownership scoping happens in the guard.
		{"role:user", ObjectOrder, ActionOrderView},
		{"role:user", ObjectOrder, ActionOrderCreate},
		{"role:user", ObjectOrder, ActionOrderCancel},
		{"role:user", ObjectOrder, ActionOrderRenew},
		{"role:user", ObjectProduct, ActionProductView},
		{"role:user", ObjectResource, ActionResourceView},
		{"role:user", ObjectResource, ActionResourceAct},
		{"role:user", ObjectBilling, ActionBillingView},

		// Sales staff manage orders and the catalog.
		{"role:admin_sale", ObjectOrder, ActionOrderView},
		{"role:admin_sale", ObjectOrder, ActionOrderCreate},
		{"role:admin_sale", ObjectOrder, ActionOrderCancel},
		{"role:admin_sale", ObjectOrder, ActionOrderRenew},
		{"role:admin_sale", ObjectProduct, ActionProductView},
		{"role:admin_sale", ObjectProduct, ActionProductManage},
		{"role:admin_sale", ObjectBilling, ActionBillingView},
		{"role:admin_sale", ObjectHistory, ActionHistoryView},

		// Infrastructure staff manage clusters and drive provisioning.
		{"role:admin_it", ObjectOrder, ActionOrderView},
		{"role:admin_it", ObjectOrder, ActionOrderProvision},
		{"role:admin_it", ObjectCluster, ActionClusterView},
		{"role:admin_it", ObjectCluster, ActionClusterManage},
		{"role:admin_it", ObjectResource, ActionResourceView},
		{"role:admin_it", ObjectResource, ActionResourceAct},
		{"role:admin_it", ObjectHistory, ActionHistoryView},

		// System role covers background jobs and the payment gateway path.
		{"role:system", ObjectOrder, ActionOrderView},
		{"role:system", ObjectOrder, ActionOrderProvision},
		{"role:system", ObjectPayment, ActionPaymentReconcile},
		{"role:system", ObjectResource, ActionResourceView},
		{"role:system", ObjectResource, ActionResourceAct},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy[0], policy[1], policy[2]); err != nil {
			return err
		}
	}

	// Full admin inherits every staff role.
	for _, g := range [][]string{
		{"role:admin", "role:admin_sale"},
		{"role:admin", "role:admin_it"},
		{"role:admin", "role:system"},
	} {
		if _, err := enforcer.AddGroupingPolicy(g[0], g[1]); err != nil {
			return err
		}
	}
	for _, policy := range [][]string{
		{"role:admin", ObjectUser, ActionUserView},
		{"role:admin", ObjectUser, ActionUserManage},
	} {
		if _, err := enforcer.AddPolicy(policy[0], policy[1], policy[2]); err != nil {
			return err
		}
	}
	return nil
}

var Module = fx.Module("authorization.service",
	fx.Provide(NewEnforcer),
	fx.Provide(NewService),
)
