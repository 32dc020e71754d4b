package main

import (
	"flag"
	"log"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/yourorg/procurement-sync/internal/api"
	"github.com/yourorg/procurement-sync/internal/app"
	"github.com/yourorg/procurement-sync/internal/config"
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

	h := api.NewHandler(api.TemporalEngine{Client: c, TaskQueue: cfg.Temporal.TaskQueue}, zl)
	r := api.Router(h, cfg.API.AllowOrigins)

	zl.Info("api listening", zap.String("addr", cfg.API.Addr))
	if err := r.Run(cfg.API.Addr); err != nil {
		zl.Fatal("api failed", zap.Error(err))
	}
}
