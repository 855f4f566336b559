// Package history provides the audit trail: immutable, redacted records of
// every mutating manager call.
package history

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallorbit/nebula/internal/history/domain"
	"github.com/smallorbit/nebula/internal/history/repository"
	"github.com/smallorbit/nebula/internal/history/service"
	"github.com/smallorbit/nebula/internal/opctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("history.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)

// Operation is a domain manager call threaded through an operation context.
type Operation func(ctx context.Context, op *opctx.Context) error

// Logged wraps a domain operation with audit capture. The wrapping is
// explicit at the call site: handlers compose Logged(...) around the
// manager call they expose. The record is written only when the operation
// did not fail, at most once per call; audit write failures are logged and
// never alter the operation's outcome.
func Logged(audit domain.Service, log *zap.Logger, targetType string, fn Operation) Operation {
	return func(ctx context.Context, op *opctx.Context) error {
		err := fn(ctx, op)
		if err != nil || op.Failed() {
			return err
		}

		content := map[string]any{}
		for k, v := range op.Input() {
			content[k] = v
		}
		for k, v := range op.Response() {
			content[k] = v
		}
		for k, v := range op.LogArgs() {
			content[k] = v
		}

		entry := domain.Entry{
			Action:     op.Task,
			TargetType: targetType,
			Content:    content,
		}
		if actor := op.Actor(); actor != nil {
			id := actor.ID
			entry.ActorID = &id
		}
		if target := op.Target(); target != nil {
			id := target.ID
			entry.TargetID = &id
		}
		if ref, ok := op.Response()["id"].(snowflake.ID); ok {
			entry.TargetRef = ref.String()
		}

		if aerr := audit.Record(ctx, entry); aerr != nil {
			log.Warn("audit record dropped",
				zap.String("action", op.Task),
				zap.Error(aerr),
			)
		}
		return nil
	}
}
