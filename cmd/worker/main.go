package main

import (
	"context"
	"flag"
	"log"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/yourorg/procurement-sync/internal/app"
	"github.com/yourorg/procurement-sync/internal/config"
	"github.com/yourorg/procurement-sync/internal/db"
	znmetrics "github.com/yourorg/procurement-sync/internal/metrics"
	"github.com/yourorg/procurement-sync/internal/workflow"
)

func main() {
	cfgPath := flag.String("config", "", "config file (defaults to $PROCSYNC_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal("config:", err)
	}
	zl := app.NewLogger(cfg.LogLevel)
	defer zl.Sync()

	znmetrics.Init()
	go func() {
		if err := znmetrics.Serve(cfg.Metrics.Addr); err != nil {
			zl.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	ctx := context.Background()
	a, err := app.Build(ctx, cfg, db.FromEnv(), zl, app.Options{})
	if err != nil {
		zl.Fatal("wiring failed", zap.Error(err))
	}
	defer a.Close()
	if err := db.Migrate(ctx, a.Pool); err != nil {
		zl.Fatal("migrate failed", zap.Error(err))
	}

	c, err := client.Dial(client.Options{HostPort: cfg.Temporal.HostPort, Namespace: cfg.Temporal.Namespace})
	if err != nil {
		zl.Fatal("temporal client", zap.Error(err))
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})
	workflow.Register(w, a.Activities)

	zl.Info("worker started",
		zap.String("namespace", cfg.Temporal.Namespace),
		zap.String("taskQueue", cfg.Temporal.TaskQueue),
		zap.String("lockBackend", cfg.Lock.Backend),
		zap.String("metrics", cfg.Metrics.Addr))
	if err := w.Run(worker.InterruptCh()); err != nil {
		zl.Fatal("worker failed", zap.Error(err))
	}
}
