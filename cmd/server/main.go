package main

import (
	"github.com/fleet-rollout/orchestrator/internal/app/bootstrap"
	cfgpkg "github.com/fleet-rollout/orchestrator/internal/config"
	"github.com/fleet-rollout/orchestrator/internal/logging"

	"go.uber.org/zap"
)

func main() {
	cfg, err := cfgpkg.Load("")
	if err != nil {
		panic(err)
	}

	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := bootstrap.Run(cfg, logger); err != nil {
		logger.Fatal("fleet rollout orchestrator exited with error", zap.Error(err))
	}
}
