package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fleet-rollout/orchestrator/internal/api/middleware"
	"github.com/fleet-rollout/orchestrator/internal/rollout"
	"github.com/fleet-rollout/orchestrator/internal/scanengine"
	"github.com/fleet-rollout/orchestrator/internal/storage"
	"github.com/fleet-rollout/orchestrator/internal/streamgateway"
)

// RegisterRoutes wires the operator control surface onto r. Every handler
// is a thin adapter over C4/C6/C7/C8; this package carries no business
// logic of its own.
func RegisterRoutes(
	r *gin.Engine,
	repo *storage.Repository,
	scanEngine *scanengine.Engine,
	rolloutEngine *rollout.Engine,
	stream *streamgateway.Gateway,
	authCfg middleware.AuthConfig,
	allowedBatchSizes []int,
	logger *zap.Logger,
) {
	routerH := NewRouterHandler(repo)
	scanH := NewScanHandler(scanEngine)
	rolloutH := NewRolloutHandler(rolloutEngine, repo, allowedBatchSizes)
	settingsH := NewSettingsHandler(repo)

	api := r.Group("/api")
	if authCfg.Enabled {
		api.Use(middleware.APIKeyAuth(authCfg, logger))
		logger.Info("api authentication enabled", zap.Int("api_keys_count", len(authCfg.APIKeys)))
	} else {
		logger.Warn("api authentication disabled - only for development!")
	}

	api.GET("/routers", routerH.ListRouters)
	api.GET("/routers/:id", routerH.GetRouter)
	api.POST("/routers", routerH.CreateRouter)
	api.POST("/routers/import", routerH.ImportRouters)

	api.POST("/scan", scanH.StartScan)
	api.GET("/scan", scanH.ScanStatus)

	api.POST("/rollouts", rolloutH.StartRollout)
	api.GET("/rollouts", rolloutH.ListRollouts)
	api.GET("/rollouts/:id", rolloutH.GetRollout)
	api.POST("/rollouts/:id/cancel", rolloutH.CancelRollout)
	api.GET("/rollouts/:id/history", rolloutH.RolloutHistory)

	api.GET("/settings/:key", settingsH.GetSetting)
	api.PUT("/settings/:key", settingsH.PutSetting)
	api.GET("/firmware-versions", settingsH.ListFirmwareVersions)
	api.PUT("/firmware-versions/:prefix", settingsH.PutFirmwareVersion)

	r.GET("/events/stream", stream.Handle)
	r.GET("/events/ping", stream.Ping)

	logger.Info("operator api routes registered", zap.Int("endpoints", 17))
}
