package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fleet-rollout/orchestrator/internal/api"
	"github.com/fleet-rollout/orchestrator/internal/api/middleware"
	cfgpkg "github.com/fleet-rollout/orchestrator/internal/config"
	"github.com/fleet-rollout/orchestrator/internal/eventbus"
	"github.com/fleet-rollout/orchestrator/internal/firmware"
	"github.com/fleet-rollout/orchestrator/internal/health"
	"github.com/fleet-rollout/orchestrator/internal/httpserver"
	"github.com/fleet-rollout/orchestrator/internal/metrics"
	"github.com/fleet-rollout/orchestrator/internal/rollout"
	"github.com/fleet-rollout/orchestrator/internal/scanengine"
	"github.com/fleet-rollout/orchestrator/internal/sshclient"
	"github.com/fleet-rollout/orchestrator/internal/storage"
	"github.com/fleet-rollout/orchestrator/internal/streamgateway"
)

// Run wires the whole orchestration engine together and blocks until a
// shutdown signal arrives.
func Run(cfg *cfgpkg.Config, log *zap.Logger) error {
	log.Info("starting fleet rollout orchestrator", zap.String("env", cfg.App.Env))

	// ---- persistence -----------------------------------------------------
	db, err := storage.Open(cfg.Database.Path, log)
	if err != nil {
		log.Error("failed to open inventory store", zap.Error(err))
		return err
	}
	repo := storage.NewRepository(db)

	if err := storage.ReconcileAfterRestart(context.Background(), repo, log); err != nil {
		log.Error("startup reconciliation failed", zap.Error(err))
		return err
	}
	if err := storage.SeedFirmwareVersions(context.Background(), repo, "configs/firmware-versions.yaml", log); err != nil {
		log.Warn("firmware version seed import failed", zap.Error(err))
	}

	ready := health.New()
	ready.SetDBReady(true)

	healthAgg := health.NewAggregator(health.NewDatabaseChecker(db))

	// ---- metrics -----------------------------------------------------
	reg := metrics.NewRegistry()
	appMetrics := metrics.NewAppMetrics(reg)
	metricsHandler := metrics.Handler(reg)

	// ---- domain engines -----------------------------------------------------
	bus := eventbus.New(log)

	sshTimeouts := firmware.Timeouts{
		Connect:     cfg.SSH.ConnectTimeout,
		Command:     cfg.SSH.CommandTimeout,
		Ping:        cfg.SSH.PingTimeout,
		Download:    cfg.SSH.DownloadTimeout,
		FlashSubmit: cfg.SSH.FlashSubmitTimeout,
	}
	probe := firmware.New(sshclient.New(), sshTimeouts)

	scanEngine := scanengine.New(repo, probe, bus, log, cfg.Scan.ChunkSize, appMetrics).WithSSHPort(cfg.SSH.Port)
	rolloutEngine := rollout.New(repo, probe, bus, log, appMetrics).
		WithSSHPort(cfg.SSH.Port).
		WithRebootPollInterval(cfg.SSH.RebootPollInterval)

	stream := streamgateway.New(bus)

	// ---- http surface -----------------------------------------------------
	readyFn := func() bool { return ready.Ready() }
	httpSrv := httpserver.New(cfg.HTTP, cfg.Metrics.Path, metricsHandler, readyFn)

	authCfg := middleware.AuthConfig{APIKeys: cfg.Auth.APIKeys, Enabled: cfg.Auth.Enabled}
	httpSrv.Register(func(r *gin.Engine) {
		r.Use(middleware.RequestTracing(), middleware.CORS())
		// /healthz, /readyz, /metrics (registered by httpserver.New) are the
		// plain probes an orchestration platform expects; /health and its
		// /health/ready, /health/live siblings give an operator the same
		// answer broken down per dependency.
		health.RegisterHTTPRoutes(r, healthAgg)
		api.RegisterRoutes(r, repo, scanEngine, rolloutEngine, stream, authCfg, cfg.Rollout.AllowedBatchSizes, log)
	})

	go func() {
		if err := httpSrv.Start(); err != nil {
			log.Error("http server error", zap.Error(err))
		}
	}()
	ready.SetHTTPReady(true)
	log.Info("http server started", zap.String("addr", cfg.HTTP.Addr))

	// ---- shutdown -----------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("received shutdown signal, gracefully shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpSrv.Shutdown(ctx)
	log.Info("http server stopped")

	sqlDB, err := db.DB()
	if err == nil {
		_ = sqlDB.Close()
	}

	log.Info("shutdown complete")
	return nil
}
