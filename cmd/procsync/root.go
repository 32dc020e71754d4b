package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yourorg/procurement-sync/internal/app"
	"github.com/yourorg/procurement-sync/internal/config"
	"github.com/yourorg/procurement-sync/internal/db"
	"github.com/yourorg/procurement-sync/internal/iopkg"
	"github.com/yourorg/procurement-sync/internal/task"
)

// globals are the persistent flags shared by every command.
type globals struct {
	configPath   string
	dryRun       bool
	batchSize    int
	retries      int
	retryBackoff time.Duration
	httpRetries  int
	report       string
	logLevel     string
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "procsync",
		Short: "Sync Brazilian public procurement data into Postgres",
		Long: `procsync runs the ComprasNet, PNCP and INLABS pipelines once, in this
process, with the same locks and run records the Temporal worker uses.`,
		Example: `  # Contracts of two units, with their items and commitments
  $ procsync contracts 153080 160001 --with-children

  # PNCP publications of April, without writing
  $ procsync pncp --from 2024-04-01 --to 2024-04-30 --dry-run

  # Load reference spreadsheets from S3
  $ procsync seed --dir s3://fixtures/seed`,
		SilenceUsage: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "config file (defaults to $PROCSYNC_CONFIG)")
	pf.BoolVar(&g.dryRun, "dry-run", false, "fetch and reconcile without writing")
	pf.IntVar(&g.batchSize, "batch-size", 0, "PNCP page and batch size, rows per insert for seed")
	pf.IntVar(&g.retries, "retries", task.DefaultPolicy.MaxRetries, "whole-run retries after a failure")
	pf.DurationVar(&g.retryBackoff, "retry-backoff", task.DefaultPolicy.Backoff, "pause before a whole-run retry")
	pf.IntVar(&g.httpRetries, "http-retries", 0, "override the per-request retry budget")
	pf.StringVar(&g.report, "report", "", "also write the JSON report to this file:// or s3:// URI")
	pf.StringVar(&g.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newContractsCmd(g),
		newChildrenCmd(g),
		newPNCPCmd(g),
		newInlabsCmd(g),
		newSeedCmd(g),
		newMigrateCmd(g),
	)
	return root
}

func (g *globals) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.LogLevel
	if g.logLevel != "" {
		level = g.logLevel
	}
	return cfg, app.NewLogger(level), nil
}

// withApp wires the pipelines for a local run and closes them afterwards.
func (g *globals) withApp(ctx context.Context, fn func(ctx context.Context, a *app.App, log *zap.Logger) error) error {
	cfg, log, err := g.load()
	if err != nil {
		return err
	}
	defer log.Sync()
	a, err := app.Build(ctx, cfg, db.FromEnv(), log, app.Options{
		Local:      true,
		MaxRetries: g.httpRetries,
		PageSize:   g.batchSize,
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a, log)
}

// retry runs fn under the whole-run retry policy.
func (g *globals) retry(ctx context.Context, log *zap.Logger, fn func(ctx context.Context) error) error {
	return task.Retry(ctx, task.Policy{MaxRetries: g.retries, Backoff: g.retryBackoff}, log, fn)
}

// emit prints v as indented JSON and copies it to --report.
func (g *globals) emit(ctx context.Context, out io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := out.Write(b); err != nil {
		return err
	}
	if g.report == "" {
		return nil
	}
	w, err := iopkg.CreateWriter(ctx, g.report)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		_ = w.Close()
		return fmt.Errorf("report: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}
