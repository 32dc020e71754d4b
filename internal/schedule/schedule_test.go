package schedule

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
	"go.uber.org/zap/zaptest"

	"github.com/yourorg/procurement-sync/internal/config"
	"github.com/yourorg/procurement-sync/internal/types"
)

type fakeStarter struct {
	opts []client.StartWorkflowOptions
	args []any
	err  error
}

func (f *fakeStarter) ExecuteWorkflow(_ context.Context, o client.StartWorkflowOptions, _ interface{}, args ...interface{}) (client.WorkflowRun, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.opts = append(f.opts, o)
	f.args = append(f.args, args...)
	run := &mocks.WorkflowRun{}
	run.On("GetRunID").Return("run-" + o.ID)
	return run, nil
}

func TestPlans(t *testing.T) {
	plans := Plans(config.SyncConfig{
		UASGs:         []string{"153080"},
		ContractsCron: "0 3 * * *",
		PNCPCron:      "0 5 * * *",
	})
	require.Len(t, plans, 2)
	assert.Equal(t, "cron-contracts", plans[0].ID)
	assert.Equal(t, types.ContractsParams{UASGs: []string{"153080"}}, plans[0].Params)
	assert.Equal(t, "cron-pncp", plans[1].ID)
	assert.Equal(t, types.PNCPParams{}, plans[1].Params)

	assert.Empty(t, Plans(config.SyncConfig{ContractsCron: "0 3 * * *"}), "contracts need units")
}

func TestApply(t *testing.T) {
	f := &fakeStarter{}
	plans := Plans(config.SyncConfig{InlabsCron: "0 9 * * 1-5", PNCPCron: "0 5 * * *"})
	require.NoError(t, Apply(context.Background(), f, "procurement-sync", plans, zaptest.NewLogger(t)))
	require.Len(t, f.opts, 2)
	assert.Equal(t, "procurement-sync", f.opts[1].TaskQueue)
	assert.Equal(t, "0 9 * * 1-5", f.opts[1].CronSchedule)
	assert.Equal(t, "cron-inlabs", f.opts[1].ID)
	assert.Equal(t, types.InlabsParams{}, f.args[1])
}

func TestApplyStopsOnError(t *testing.T) {
	f := &fakeStarter{err: errors.New("namespace not found")}
	err := Apply(context.Background(), f, "q", Plans(config.SyncConfig{PNCPCron: "@daily"}), zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "cron-pncp")
}
