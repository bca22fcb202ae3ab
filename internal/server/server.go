package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/givebox/givebox/internal/audit"
	auditdomain "github.com/givebox/givebox/internal/audit/domain"
	"github.com/givebox/givebox/internal/clock"
	"github.com/givebox/givebox/internal/config"
	"github.com/givebox/givebox/internal/donation"
	donationdomain "github.com/givebox/givebox/internal/donation/domain"
	"github.com/givebox/givebox/internal/kiosk"
	"github.com/givebox/givebox/internal/migration"
	"github.com/givebox/givebox/internal/observability"
	obsmiddleware "github.com/givebox/givebox/internal/observability/logger"
	"github.com/givebox/givebox/internal/stripe"
	"github.com/givebox/givebox/internal/terminal"
	terminaldomain "github.com/givebox/givebox/internal/terminal/domain"
	"github.com/givebox/givebox/pkg/db"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

var Module = fx.Options(
	config.Module,
	clock.Module,
	observability.Module,
	db.Module,
	migration.Module,
	stripe.Module,
	audit.Module,
	donation.Module,
	terminal.Module,
	kiosk.Module,
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, registry *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return r
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
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
	donationSvc donationdomain.Service
	terminalSvc terminaldomain.Service
	auditSvc    auditdomain.Service
	flow        *kiosk.Flow
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	DonationSvc donationdomain.Service
	TerminalSvc terminaldomain.Service
	AuditSvc    auditdomain.Service
	Flow        *kiosk.Flow `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		donationSvc: p.DonationSvc,
		terminalSvc: p.TerminalSvc,
		auditSvc:    p.AuditSvc,
		flow:        p.Flow,
	}

	svc.registerDonationRoutes()
	svc.registerTerminalRoutes()
	svc.registerKioskRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerDonationRoutes() {
	s.engine.POST("/donations", s.CreateDonation)
	s.engine.POST("/donations/capture", s.CaptureDonation)
	s.engine.GET("/donations", s.ListDonations)
}

func (s *Server) registerTerminalRoutes() {
	terminal := s.engine.Group("/terminal")

	terminal.POST("/process-payment", s.ProcessPayment)
	terminal.POST("/cancel-action", s.CancelReaderAction)
}

func (s *Server) registerKioskRoutes() {
	if s.flow == nil {
		return
	}

	k := s.engine.Group("/kiosk")

	k.GET("/state", s.KioskState)
	k.POST("/donor", s.KioskSubmitDonor)
	k.POST("/amount", s.KioskSelectAmount)
	k.POST("/confirm", s.KioskConfirm)
	k.POST("/capture", s.KioskCapture)
	k.POST("/cancel", s.KioskCancel)
	k.POST("/try-again", s.KioskTryAgain)
	k.POST("/reset", s.KioskReset)
}
