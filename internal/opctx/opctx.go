package opctx

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallorbit/nebula/internal/fault"
	"gorm.io/gorm"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID    snowflake.ID
	Email string
	Roles []string
}

func (a *Actor) HasRole(role string) bool {
	if a == nil {
		return false
	}
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Context is the per-call envelope threaded through every manager operation.
// It carries the caller, the raw input payload, the accumulated outcome, and
// the transaction handle. An operation has at most one terminal outcome:
// once Fail has been called the context is sealed and every later mutation
// is dropped, so a failed call can never leak a partial response or commit.
type Context struct {
	Task string

	actor  *Actor
	target *Actor

	input    map[string]any
	response map[string]any
	logArgs  map[string]any
	warnings []string

	err    *fault.Error
	sealed bool

	tx *gorm.DB
}

// New builds a Context for one operation. When requireAuth is set and no
// actor was resolved, the context is pre-failed with Unauthenticated before
// any domain code runs.
func New(task string, input map[string]any, actor *Actor, requireAuth bool) *Context {
	c := &Context{
		Task:     task,
		actor:    actor,
		input:    input,
		response: map[string]any{},
		logArgs:  map[string]any{},
	}
	if requireAuth && actor == nil {
		c.Fail(fault.New(fault.Unauthenticated, "caller is not authenticated"))
	}
	return c
}

func (c *Context) Actor() *Actor { return c.actor }

// Target returns the user the operation applies to; for self-service calls
// this is the actor.
func (c *Context) Target() *Actor {
	if c.target != nil {
		return c.target
	}
	return c.actor
}

// SetTarget records a distinct target user, e.g. an admin acting on a
// customer's resources.
func (c *Context) SetTarget(target *Actor) {
	if c.sealed {
		return
	}
	c.target = target
}

func (c *Context) Input() map[string]any { return c.input }

func (c *Context) InputString(key string) string {
	if v, ok := c.input[key].(string); ok {
		return v
	}
	return ""
}

// Fail seals the context with a terminal error. The first failure wins;
// later calls are ignored. Any bound transaction must be rolled back by the
// execution wrapper before the context is discarded.
func (c *Context) Fail(err *fault.Error) {
	if c.sealed || err == nil {
		return
	}
	c.err = err
	c.sealed = true
}

func (c *Context) Failed() bool { return c.err != nil }

func (c *Context) Err() *fault.Error { return c.err }

// Respond records a response field. Dropped once the context is sealed.
func (c *Context) Respond(key string, value any) {
	if c.sealed {
		return
	}
	c.response[key] = value
}

func (c *Context) Response() map[string]any { return c.response }

func (c *Context) AddWarning(msg string) {
	if c.sealed || msg == "" {
		return
	}
	c.warnings = append(c.warnings, msg)
}

func (c *Context) Warnings() []string { return c.warnings }

// LogArg records a value for the audit trail sidecar; it is not part of the
// caller-visible response.
func (c *Context) LogArg(key string, value any) {
	if key == "" {
		return
	}
	c.logArgs[key] = value
}

func (c *Context) LogArgs() map[string]any { return c.logArgs }

// BindTx attaches the open transaction for this call.
func (c *Context) BindTx(tx *gorm.DB) {
	c.tx = tx
}

func (c *Context) Tx() *gorm.DB { return c.tx }
