// Command router runs the Smart-Card Access Fabric Router: the
// WebSocket mediator between Controllers and Cardhosts. It wires the
// five core layers plus the ambient logging/metrics/health stack and
// blocks until SIGINT/SIGTERM.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cardbridge/router/internal/config"
	"github.com/cardbridge/router/internal/logger"
	"github.com/cardbridge/router/pkg/router"
)

func main() {
	cfg := config.Load()
	log := logger.NewDefaultLogger()

	r := router.New(cfg, log)
	if err := r.Start(); err != nil {
		log.Fatal("failed to start router", logger.Error(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		log.Error("error during shutdown", logger.Error(err))
		os.Exit(1)
	}
}
