package workflow

import (
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/yourorg/procurement-sync/internal/lock"
	"github.com/yourorg/procurement-sync/internal/types"
)

// ActivityPrefix is the registration prefix of the Activities struct.
const ActivityPrefix = "Activities."

const (
	ActSyncContracts        = ActivityPrefix + "SyncContracts"
	ActSyncContractChildren = ActivityPrefix + "SyncContractChildren"
	ActPNCPDiscover         = ActivityPrefix + "PNCPDiscover"
	ActPNCPItems            = ActivityPrefix + "PNCPItems"
	ActPNCPResults          = ActivityPrefix + "PNCPResults"
	ActSyncInlabs           = ActivityPrefix + "SyncInlabs"
)

// TaskRetry retries a failed sync three times, two minutes apart.
var TaskRetry = temporal.RetryPolicy{
	InitialInterval:        120 * time.Second,
	BackoffCoefficient:     1.0,
	MaximumInterval:        120 * time.Second,
	MaximumAttempts:        4,
	NonRetryableErrorTypes: []string{"InvalidParams"},
}

// brasilia is the gazette's publication zone.
var brasilia = time.FixedZone("BRT", -3*60*60)

func syncOptions(ctx workflow.Context) workflow.Context {
	retry := TaskRetry
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		// A run must end before its lock could expire under it.
		StartToCloseTimeout: lock.DefaultTTL - 5*time.Minute,
		HeartbeatTimeout:    2 * time.Minute,
		RetryPolicy:         &retry,
	})
}

func ContractsSyncWorkflow(ctx workflow.Context, p types.ContractsParams) (types.RunStats, error) {
	var st types.RunStats
	err := workflow.ExecuteActivity(syncOptions(ctx), ActSyncContracts, p).Get(ctx, &st)
	return st, err
}

func ContractChildrenWorkflow(ctx workflow.Context, p types.ChildrenParams) (types.RunStats, error) {
	var st types.RunStats
	err := workflow.ExecuteActivity(syncOptions(ctx), ActSyncContractChildren, p).Get(ctx, &st)
	return st, err
}

// PNCPSyncWorkflow runs discovery, items and results in order. Without a
// window it covers the previous day, which is what the daily schedule uses.
func PNCPSyncWorkflow(ctx workflow.Context, p types.PNCPParams) (types.PNCPResult, error) {
	if p.From == "" {
		day := workflow.Now(ctx).In(brasilia).AddDate(0, 0, -1).Format(types.DayLayout)
		p.From, p.To = day, day
	}
	actx := syncOptions(ctx)
	var res types.PNCPResult
	for _, act := range []string{ActPNCPDiscover, ActPNCPItems, ActPNCPResults} {
		var st types.RunStats
		if err := workflow.ExecuteActivity(actx, act, p).Get(ctx, &st); err != nil {
			return res, err
		}
		res.Stages = append(res.Stages, st)
	}
	workflow.GetLogger(ctx).Info("pncp sync finished", "from", p.From, "to", p.To, "stages", len(res.Stages))
	return res, nil
}

// InlabsSyncWorkflow ingests one edition; without a date, today's.
func InlabsSyncWorkflow(ctx workflow.Context, p types.InlabsParams) (types.RunStats, error) {
	if p.Date == "" {
		p.Date = workflow.Now(ctx).In(brasilia).Format(types.DayLayout)
	}
	var st types.RunStats
	err := workflow.ExecuteActivity(syncOptions(ctx), ActSyncInlabs, p).Get(ctx, &st)
	return st, err
}

// Registry is satisfied by a Temporal worker and by the test environment.
type Registry interface {
	RegisterWorkflow(w interface{})
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

// Register adds every sync workflow and the activities struct, whose
// methods are named ActivityPrefix+method.
func Register(r Registry, acts any) {
	r.RegisterWorkflow(ContractsSyncWorkflow)
	r.RegisterWorkflow(ContractChildrenWorkflow)
	r.RegisterWorkflow(PNCPSyncWorkflow)
	r.RegisterWorkflow(InlabsSyncWorkflow)
	r.RegisterActivityWithOptions(acts, activity.RegisterOptions{Name: ActivityPrefix})
}
