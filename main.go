package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/HavartiBard/chiffon-sub001/pkg/config"
	"github.com/HavartiBard/chiffon-sub001/pkg/utils"
)

// main starts the dashboard server: load config, wire the orchestrator proxy,
// session store, and realtime layer, then serve until interrupted.
func main() {
	utils.InitLogger()
	logger := utils.GetLogger()

	cfg, cfgPath, err := config.Load()
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Debug("config loaded", "path", cfgPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := NewServer(cfg)
	if err := server.Start(ctx); err != nil {
		logger.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}
