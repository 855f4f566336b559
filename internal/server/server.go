// Package server exposes the HTTP API: auth, catalog, orders, the VNPay
// callback endpoints, billing, history and cluster administration.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallorbit/nebula/internal/authorization"
	billingdomain "github.com/smallorbit/nebula/internal/billing/domain"
	catalogdomain "github.com/smallorbit/nebula/internal/catalog/domain"
	"github.com/smallorbit/nebula/internal/cluster"
	"github.com/smallorbit/nebula/internal/config"
	historydomain "github.com/smallorbit/nebula/internal/history/domain"
	identitydomain "github.com/smallorbit/nebula/internal/identity/domain"
	"github.com/smallorbit/nebula/internal/observability"
	obslogger "github.com/smallorbit/nebula/internal/observability/logger"
	obstracing "github.com/smallorbit/nebula/internal/observability/tracing"
	orderdomain "github.com/smallorbit/nebula/internal/order/domain"
	paymentdomain "github.com/smallorbit/nebula/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obsCfg.Debug()))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	identitySvc identitydomain.Service
	catalogSvc  catalogdomain.Service
	orderSvc    orderdomain.Service
	paymentSvc  paymentdomain.Service
	billingSvc  billingdomain.Service
	historySvc  historydomain.Service
	authzSvc    authorization.Service
	clusters    *cluster.Registry
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	IdentitySvc identitydomain.Service
	CatalogSvc  catalogdomain.Service
	OrderSvc    orderdomain.Service
	PaymentSvc  paymentdomain.Service
	BillingSvc  billingdomain.Service
	HistorySvc  historydomain.Service
	AuthzSvc    authorization.Service
	Clusters    *cluster.Registry
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("http"),
		identitySvc: p.IdentitySvc,
		catalogSvc:  p.CatalogSvc,
		orderSvc:    p.OrderSvc,
		paymentSvc:  p.PaymentSvc,
		billingSvc:  p.BillingSvc,
		historySvc:  p.HistorySvc,
		authzSvc:    p.AuthzSvc,
		clusters:    p.Clusters,
	}

	s.registerAuthRoutes()
	s.registerAPIRoutes()
	s.registerPaymentRoutes()
	s.registerAdminRoutes()

	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	auth := s.engine.Group("/v1/auth")

	auth.POST("/login", s.Login)
	auth.POST("/logout", s.AuthRequired(), s.Logout)
	auth.GET("/me", s.AuthRequired(), s.Me)
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	v1.GET("/products", s.ListProducts)
	v1.GET("/products/:id", s.GetProduct)

	authed := v1.Group("")
	authed.Use(s.AuthRequired())

	authed.POST("/orders", s.SubmitOrder)
	authed.GET("/orders", s.ListOrders)
	authed.GET("/orders/:id", s.GetOrder)
	authed.POST("/orders/:id/cancel", s.CancelOrder)
	authed.POST("/orders/:id/renew", s.RenewOrder)
	authed.GET("/orders/:id/billing", s.OrderBilling)

	authed.GET("/billing", s.ListBilling)
}

func (s *Server) registerPaymentRoutes() {
	pay := s.engine.Group("/v1/payment/vnpay")

	// The gateway calls IPN with GET; POST is accepted for manual replay.
	pay.GET("/ipn", s.VNPayIPN)
	pay.POST("/ipn", s.VNPayIPN)
	pay.GET("/return", s.VNPayReturn)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/v1/admin")
	admin.Use(s.AuthRequired())

	admin.GET("/clusters", s.ListClusters)
	admin.PUT("/clusters", s.ReplaceClusters)
	admin.POST("/orders/:id/provision", s.ProvisionOrder)
	admin.GET("/history", s.ListHistory)
}
