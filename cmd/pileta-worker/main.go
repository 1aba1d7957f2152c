package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/agroyard/piletas/config"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("failed to parse config, %v", err))
	}

	sw, closeFn, err := buildSweeper(cfg, defaultWorkerFactories())
	if err != nil {
		panic(err)
	}
	if closeFn != nil {
		defer closeFn()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Admin plane: stats, manual trigger, docs. The sweeper keeps going if
	// it fails to start.
	if swaggerPath := os.Getenv("swaggerPath"); swaggerPath != "" {
		go func() {
			err := runWorkerHTTPServer(ctx, workerHTTPOpts{
				httpAddr:    cfg.Piletas.WorkerHTTPAddr,
				swaggerPath: swaggerPath,
				sweeper:     sw,
				cfg:         cfg,
			})
			if err != nil && err != context.Canceled {
				slog.Error("worker http server stopped", "error", err)
			}
		}()
	}

	if err := sw.Run(ctx); err != nil && err != context.Canceled {
		panic(err)
	}
}
