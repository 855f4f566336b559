// Package notify renders and sends order lifecycle emails. Every entry
// point is best effort: a delivery failure is logged and swallowed so it
// can never disturb provisioning or payment reconciliation.
package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"

	"github.com/bwmarrin/snowflake"
	identitydomain "github.com/smallorbit/nebula/internal/identity/domain"
	orderdomain "github.com/smallorbit/nebula/internal/order/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

type Notifier struct {
	log      *zap.Logger
	provider Provider
	users    identitydomain.Service
	tmpl     *template.Template
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Provider Provider
	Users    identitydomain.Service
}

func New(p Params) (*Notifier, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse notify templates: %w", err)
	}
	return &Notifier{
		log:      p.Log.Named("notify"),
		provider: p.Provider,
		users:    p.Users,
		tmpl:     tmpl,
	}, nil
}

func (n *Notifier) OrderCompleted(ctx context.Context, order *orderdomain.Order) {
	data := map[string]any{"OrderID": order.ID.String()}
	if order.ExpiresAt != nil {
		data["ExpiresAt"] = order.ExpiresAt.Format("2006-01-02")
	}
	n.send(ctx, order.UserID, "Your order is ready", "order_completed.html", data)
}

func (n *Notifier) OrderFailed(ctx context.Context, order *orderdomain.Order) {
	data := map[string]any{"OrderID": order.ID.String()}
	n.send(ctx, order.UserID, "Problem provisioning your order", "order_failed.html", data)
}

func (n *Notifier) PaymentReceived(ctx context.Context, order *orderdomain.Order, amount int64, reference string) {
	data := map[string]any{
		"OrderID":   order.ID.String(),
		"Amount":    amount,
		"Currency":  order.Currency,
		"Reference": reference,
	}
	n.send(ctx, order.UserID, "Payment received", "payment_received.html", data)
}

func (n *Notifier) send(ctx context.Context, userID snowflake.ID, subject, name string, data map[string]any) {
	user, err := n.users.GetUser(ctx, userID)
	if err != nil {
		n.log.Warn("skip notification, user lookup failed",
			zap.String("user_id", userID.String()), zap.Error(err))
		return
	}
	if user.Email == "" {
		return
	}
	if data["Name"] == nil {
		data["Name"] = displayName(user)
	}

	var body bytes.Buffer
	if err := n.tmpl.ExecuteTemplate(&body, name, data); err != nil {
		n.log.Error("render notification", zap.String("template", name), zap.Error(err))
		return
	}
	if err := n.provider.Send(ctx, []string{user.Email}, subject, body.String()); err != nil {
		n.log.Warn("send notification",
			zap.String("template", name),
			zap.String("to", user.Email),
			zap.Error(err))
	}
}

func displayName(u *identitydomain.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}
