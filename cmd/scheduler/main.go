package main

import (
	"context"
	"flag"
	"log"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/yourorg/procurement-sync/internal/app"
	"github.com/yourorg/procurement-sync/internal/config"
	"github.com/yourorg/procurement-sync/internal/schedule"
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

	c, err := client.Dial(client.Options{HostPort: cfg.Temporal.HostPort, Namespace: cfg.Temporal.Namespace})
	if err != nil {
		zl.Fatal("temporal client", zap.Error(err))
	}
	defer c.Close()

	plans := schedule.Plans(cfg.Sync)
	if len(plans) == 0 {
		zl.Warn("no schedules enabled")
		return
	}
	if err := schedule.Apply(context.Background(), c, cfg.Temporal.TaskQueue, plans, zl); err != nil {
		zl.Fatal("scheduling failed", zap.Error(err))
	}
}
