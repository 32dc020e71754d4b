// Package schedule turns the configured cron expressions into Temporal cron
// workflows. Cron schedules use the worker's UTC clock.
package schedule

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/yourorg/procurement-sync/internal/config"
	"github.com/yourorg/procurement-sync/internal/types"
	"github.com/yourorg/procurement-sync/internal/workflow"
)

// Plan is one cron workflow.
type Plan struct {
	ID       string
	Cron     string
	Workflow any
	Params   any
}

// Plans lists the schedules enabled by cfg. An empty cron disables its
// pipeline; contracts also need at least one UASG. Contract children are
// only synced on demand.
func Plans(cfg config.SyncConfig) []Plan {
	var out []Plan
	if cfg.ContractsCron != "" && len(cfg.UASGs) > 0 {
		out = append(out, Plan{
			ID:       "cron-contracts",
			Cron:     cfg.ContractsCron,
			Workflow: workflow.ContractsSyncWorkflow,
			Params:   types.ContractsParams{UASGs: cfg.UASGs},
		})
	}
	if cfg.PNCPCron != "" {
		// Empty window: each run covers the previous day.
		out = append(out, Plan{ID: "cron-pncp", Cron: cfg.PNCPCron, Workflow: workflow.PNCPSyncWorkflow, Params: types.PNCPParams{}})
	}
	if cfg.InlabsCron != "" {
		out = append(out, Plan{ID: "cron-inlabs", Cron: cfg.InlabsCron, Workflow: workflow.InlabsSyncWorkflow, Params: types.InlabsParams{}})
	}
	return out
}

// Starter is the part of client.Client used here.
type Starter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Apply starts every plan. A plan whose cron workflow is already running
// keeps that run.
func Apply(ctx context.Context, c Starter, taskQueue string, plans []Plan, log *zap.Logger) error {
	for _, p := range plans {
		run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
			ID:           p.ID,
			TaskQueue:    taskQueue,
			CronSchedule: p.Cron,
		}, p.Workflow, p.Params)
		if err != nil {
			return fmt.Errorf("schedule %s: %w", p.ID, err)
		}
		log.Info("schedule registered", zap.String("id", p.ID), zap.String("cron", p.Cron), zap.String("run", run.GetRunID()))
	}
	return nil
}
