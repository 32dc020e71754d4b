package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yourorg/procurement-sync/internal/db"
	"github.com/yourorg/procurement-sync/internal/seed"
)

func newSeedCmd(g *globals) *cobra.Command {
	var (
		dir     string
		files   []string
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "seed [questions|sanctions...]",
		Short: "Load reference spreadsheets into Postgres",
		Long: `Reads CSV, XLSX or XLS fixtures from --dir (a path, file:// or s3:// prefix)
and upserts them. Rows that fail validation are counted, not fatal.`,
		ValidArgs: []string{string(seed.Questions), string(seed.Sanctions)},
		Args:      cobra.OnlyValidArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.dryRun {
				return errors.New("seed does not support --dry-run")
			}
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			overrides, err := parseFiles(files)
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.Seed.Dir
			}
			gdb, err := db.OpenGorm(db.FromEnv(), verbose)
			if err != nil {
				return err
			}
			defer gdb.Close()

			l := &seed.Loader{DB: gdb.DB, Dir: dir, Files: overrides, BatchSize: g.batchSize, Log: log}
			targets := make([]seed.Target, 0, len(args))
			for _, a := range args {
				targets = append(targets, seed.Target(a))
			}
			ctx := cmd.Context()
			res, loadErr := l.Load(ctx, targets...)
			if err := g.emit(ctx, cmd.OutOrStdout(), res); err != nil {
				log.Warn("report failed", zap.Error(err))
			}
			return loadErr
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "fixture directory (default seed.dir)")
	cmd.Flags().StringArrayVar(&files, "file", nil, "target=path-or-uri override, repeatable")
	cmd.Flags().BoolVar(&verbose, "sql", false, "log every SQL statement")
	return cmd
}

// parseFiles reads --file target=uri pairs.
func parseFiles(pairs []string) (map[seed.Target]string, error) {
	out := make(map[seed.Target]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		t := seed.Target(strings.TrimSpace(k))
		if !ok || v == "" {
			return nil, fmt.Errorf("--file %q: want target=uri", p)
		}
		if _, known := seed.DefaultFiles[t]; !known {
			return nil, fmt.Errorf("--file %q: unknown target %q", p, t)
		}
		out[t] = strings.TrimSpace(v)
	}
	return out, nil
}

func newMigrateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, log, err := g.load()
			if err != nil {
				return err
			}
			defer log.Sync()
			ctx := cmd.Context()
			dbCfg := db.FromEnv()

			pool, err := db.Connect(ctx, dbCfg)
			if err != nil {
				return fmt.Errorf("db connect: %w", err)
			}
			defer pool.Close()
			if err := db.Migrate(ctx, pool); err != nil {
				return err
			}

			gdb, err := db.OpenGorm(dbCfg, false)
			if err != nil {
				return err
			}
			defer gdb.Close()
			if err := (&seed.Loader{DB: gdb.DB}).Migrate(ctx); err != nil {
				return fmt.Errorf("seed tables: %w", err)
			}
			log.Info("schema up to date", zap.String("database", dbCfg.DBName))
			return nil
		},
	}
}
