package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallorbit/nebula/internal/authorization"
	"github.com/smallorbit/nebula/internal/fault"
	"github.com/smallorbit/nebula/internal/history"
	"github.com/smallorbit/nebula/internal/opctx"
	orderdomain "github.com/smallorbit/nebula/internal/order/domain"
	paymentdomain "github.com/smallorbit/nebula/internal/payment/domain"
)

type SubmitLineRequest struct {
	ProductID string            `json:"product_id"`
	Quantity  int               `json:"quantity"`
	Options   map[string]string `json:"options"`
}

type SubmitOrderRequest struct {
	RegionID        string              `json:"region_id"`
	DurationMonths  int                 `json:"duration_months"`
	Type            string              `json:"type"`
	Lines           []SubmitLineRequest `json:"lines"`
	Settings        map[string]any      `json:"settings"`
	IncludeClusters []string            `json:"include_clusters"`
	ExcludeClusters []string            `json:"exclude_clusters"`
}

type RenewOrderRequest struct {
	Months int `json:"months"`
}

func (s *Server) SubmitOrder(c *gin.Context) {
	var req SubmitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortValidation(c, "invalid request body")
		return
	}

	submit := orderdomain.SubmitRequest{
		RegionID:        req.RegionID,
		DurationMonths:  req.DurationMonths,
		Type:            orderdomain.Type(req.Type),
		Settings:        req.Settings,
		IncludeClusters: req.IncludeClusters,
		ExcludeClusters: req.ExcludeClusters,
	}
	for _, line := range req.Lines {
		productID, err := parseID(line.ProductID)
		if err != nil {
			abortValidation(c, "invalid product id in order line")
			return
		}
		submit.Lines = append(submit.Lines, orderdomain.SubmitLine{
			ProductID: productID,
			Quantity:  line.Quantity,
			Options:   line.Options,
		})
	}

	op := opctx.New("order.submit", map[string]any{
		"region_id":       req.RegionID,
		"duration_months": req.DurationMonths,
		"lines":           len(req.Lines),
	}, actorFrom(c), true)

	var (
		order   *orderdomain.Order
		payment *paymentdomain.StartResult
	)
	run := history.Logged(s.historySvc, s.log, "order", func(ctx context.Context, op *opctx.Context) error {
		created, err := s.orderSvc.Submit(ctx, op, submit)
		if err != nil {
			return err
		}
		order = created
		op.Respond("id", created.ID)
		op.LogArg("status", string(created.Status))
		op.LogArg("price", created.Price)

		if created.Status == orderdomain.StatusPendingPayment {
			start, perr := s.paymentSvc.Start(ctx, created, c.ClientIP())
			if perr != nil {
				// The order is placed; checkout can be retried.
				s.log.Warn("payment start failed after submit")
				op.AddWarning("payment redirect unavailable; retry checkout")
				return nil
			}
			payment = start
		}
		return nil
	})
	if err := run(c.Request.Context(), op); err != nil {
		AbortWithError(c, err)
		return
	}

	resp := gin.H{"order": order}
	if payment != nil {
		resp["payment"] = payment
	}
	if warnings := op.Warnings(); len(warnings) > 0 {
		resp["warnings"] = warnings
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) ListOrders(c *gin.Context) {
	filter := orderdomain.ListFilter{
		Status: orderdomain.Status(c.Query("status")),
		Limit:  int32(queryInt(c, "limit", 0)),
		Cursor: c.Query("cursor"),
	}

	op := opctx.New("order.list", nil, actorFrom(c), true)
	page, err := s.orderSvc.List(c.Request.Context(), op, filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orders":      page.Orders,
		"next_cursor": page.NextCursor,
	})
}

func (s *Server) GetOrder(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		abortValidation(c, "invalid order id")
		return
	}

	op := opctx.New("order.get", nil, actorFrom(c), true)
	order, err := s.orderSvc.Get(c.Request.Context(), op, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) CancelOrder(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		abortValidation(c, "invalid order id")
		return
	}

	op := opctx.New("order.cancel", map[string]any{"order_id": id.String()}, actorFrom(c), true)

	var order *orderdomain.Order
	run := history.Logged(s.historySvc, s.log, "order", func(ctx context.Context, op *opctx.Context) error {
		canceled, err := s.orderSvc.Cancel(ctx, op, id)
		if err != nil {
			return err
		}
		order = canceled
		op.Respond("id", canceled.ID)
		return nil
	})
	if err := run(c.Request.Context(), op); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) RenewOrder(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		abortValidation(c, "invalid order id")
		return
	}

	req := RenewOrderRequest{Months: 1}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abortValidation(c, "invalid request body")
			return
		}
	}

	op := opctx.New("order.renew", map[string]any{
		"order_id": id.String(),
		"months":   req.Months,
	}, actorFrom(c), true)

	var (
		order   *orderdomain.Order
		payment *paymentdomain.StartResult
	)
	run := history.Logged(s.historySvc, s.log, "order", func(ctx context.Context, op *opctx.Context) error {
		renewed, err := s.orderSvc.Renew(ctx, op, id, req.Months)
		if err != nil {
			return err
		}
		order = renewed
		op.Respond("id", renewed.ID)

		if renewed.Status == orderdomain.StatusPendingPayment {
			start, perr := s.paymentSvc.Start(ctx, renewed, c.ClientIP())
			if perr != nil {
				s.log.Warn("payment start failed after renew")
				op.AddWarning("payment redirect unavailable; retry checkout")
				return nil
			}
			payment = start
		}
		return nil
	})
	if err := run(c.Request.Context(), op); err != nil {
		AbortWithError(c, err)
		return
	}

	resp := gin.H{"order": order}
	if payment != nil {
		resp["payment"] = payment
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) OrderBilling(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		abortValidation(c, "invalid order id")
		return
	}

	// Ownership check rides on the order read.
	op := opctx.New("order.get", nil, actorFrom(c), true)
	if _, err := s.orderSvc.Get(c.Request.Context(), op, id); err != nil {
		AbortWithError(c, err)
		return
	}

	entries, err := s.billingSvc.FindByOrder(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// ProvisionOrder re-runs provisioning for a PROCESSING order. Operators use
// it to resume an order whose run was interrupted.
func (s *Server) ProvisionOrder(c *gin.Context) {
	actor := actorFrom(c)
	if err := s.authzSvc.Authorize(c.Request.Context(), actor, authorization.ObjectOrder, authorization.ActionOrderProvision); err != nil {
		AbortWithError(c, fault.Wrap(fault.Forbidden, "provisioning requires an operator role", err))
		return
	}

	id, err := parseID(c.Param("id"))
	if err != nil {
		abortValidation(c, "invalid order id")
		return
	}

	op := opctx.New("order.provision", map[string]any{"order_id": id.String()}, actor, true)

	var order *orderdomain.Order
	run := history.Logged(s.historySvc, s.log, "order", func(ctx context.Context, op *opctx.Context) error {
		result, err := s.orderSvc.RunProvisioning(ctx, id)
		if err != nil {
			return err
		}
		order = result
		op.Respond("id", result.ID)
		op.LogArg("status", string(result.Status))
		return nil
	})
	if err := run(c.Request.Context(), op); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
