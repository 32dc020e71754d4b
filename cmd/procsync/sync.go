package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yourorg/procurement-sync/internal/app"
	"github.com/yourorg/procurement-sync/internal/records"
	"github.com/yourorg/procurement-sync/internal/types"
)

var brasilia = time.FixedZone("BRT", -3*60*60)

func newContractsCmd(g *globals) *cobra.Command {
	var withChildren bool
	cmd := &cobra.Command{
		Use:   "contracts [UASG...]",
		Short: "Sync ComprasNet contracts of purchasing units",
		Long:  "Without arguments the units in sync.uasgs are used.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd.Context(), func(ctx context.Context, a *app.App, log *zap.Logger) error {
				p := types.ContractsParams{UASGs: args, DryRun: g.dryRun, WithChildren: withChildren}
				if len(p.UASGs) == 0 {
					p.UASGs = a.Cfg.Sync.UASGs
				}
				if len(p.UASGs) == 0 {
					return errors.New("no UASG given and sync.uasgs is empty")
				}
				var st types.RunStats
				err := g.retry(ctx, log, func(ctx context.Context) (err error) {
					st, err = a.Activities.SyncContracts(ctx, p)
					return err
				})
				if err != nil {
					return err
				}
				return g.emit(ctx, cmd.OutOrStdout(), st)
			})
		},
	}
	cmd.Flags().BoolVar(&withChildren, "with-children", false, "also refresh the child datasets of upserted contracts")
	return cmd
}

func newChildrenCmd(g *globals) *cobra.Command {
	var kinds []string
	cmd := &cobra.Command{
		Use:   "children UASG [CONTRACT_ID...]",
		Short: "Sync history, commitments, items and files of contracts",
		Long:  "Without contract ids, the unit's contracts still in their validity window are used.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := types.ChildrenParams{UASG: args[0], DryRun: g.dryRun}
			for _, s := range args[1:] {
				id, err := strconv.ParseInt(s, 10, 64)
				if err != nil {
					return fmt.Errorf("contract id %q: %w", s, err)
				}
				p.ContractIDs = append(p.ContractIDs, id)
			}
			for _, k := range kinds {
				kind, err := records.ParseChildKind(k)
				if err != nil {
					return err
				}
				p.Kinds = append(p.Kinds, string(kind))
			}
			return g.withApp(cmd.Context(), func(ctx context.Context, a *app.App, log *zap.Logger) error {
				var st types.RunStats
				err := g.retry(ctx, log, func(ctx context.Context) (err error) {
					st, err = a.Activities.SyncContractChildren(ctx, p)
					return err
				})
				if err != nil {
					return err
				}
				return g.emit(ctx, cmd.OutOrStdout(), st)
			})
		},
	}
	cmd.Flags().StringSliceVar(&kinds, "kinds", nil, "historico, empenhos, itens, arquivos (default all)")
	return cmd
}

func newPNCPCmd(g *globals) *cobra.Command {
	var p types.PNCPParams
	cmd := &cobra.Command{
		Use:   "pncp",
		Short: "Sync PNCP purchases, then their items and results",
		Long:  "Without --from, yesterday (Brasilia time) is synced.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p.DryRun = g.dryRun
			if p.From == "" {
				p.From = time.Now().In(brasilia).AddDate(0, 0, -1).Format(types.DayLayout)
			}
			if _, _, err := p.Window(); err != nil {
				return err
			}
			return g.withApp(cmd.Context(), func(ctx context.Context, a *app.App, log *zap.Logger) error {
				var res types.PNCPResult
				stages := []func(context.Context, types.PNCPParams) (types.RunStats, error){
					a.Activities.PNCPDiscover,
					a.Activities.PNCPItems,
					a.Activities.PNCPResults,
				}
				for _, stage := range stages {
					var st types.RunStats
					err := g.retry(ctx, log, func(ctx context.Context) (err error) {
						st, err = stage(ctx, p)
						return err
					})
					if err != nil {
						return err
					}
					res.Stages = append(res.Stages, st)
				}
				return g.emit(ctx, cmd.OutOrStdout(), res)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&p.From, "from", "", "first publication day, YYYY-MM-DD")
	f.StringVar(&p.To, "to", "", "last publication day, YYYY-MM-DD (default --from)")
	f.IntSliceVar(&p.Modalidades, "modalidade", nil, "contracting modality codes (default all)")
	f.BoolVar(&p.Force, "force", false, "refetch items and results already synced")
	f.IntVar(&p.Limit, "limit", 0, "stop after this many purchases per stage")
	return cmd
}

func newInlabsCmd(g *globals) *cobra.Command {
	var sections []string
	cmd := &cobra.Command{
		Use:   "inlabs [DATE]",
		Short: "Ingest one Diário Oficial edition from INLABS",
		Long:  "DATE is YYYY-MM-DD and defaults to today (Brasilia time).",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := types.InlabsParams{DryRun: g.dryRun}
			if len(args) == 1 {
				p.Date = args[0]
			} else {
				p.Date = time.Now().In(brasilia).Format(types.DayLayout)
			}
			for _, s := range sections {
				p.Sections = append(p.Sections, strings.ToUpper(strings.TrimSpace(s)))
			}
			return g.withApp(cmd.Context(), func(ctx context.Context, a *app.App, log *zap.Logger) error {
				if len(p.Sections) == 0 {
					p.Sections = a.Cfg.Inlabs.Sections
				}
				var st types.RunStats
				err := g.retry(ctx, log, func(ctx context.Context) (err error) {
					st, err = a.Activities.SyncInlabs(ctx, p)
					return err
				})
				if err != nil {
					return err
				}
				return g.emit(ctx, cmd.OutOrStdout(), st)
			})
		},
	}
	cmd.Flags().StringSliceVar(&sections, "sections", nil, "gazette sections, e.g. DO1,DO3 (default inlabs.sections)")
	return cmd
}
