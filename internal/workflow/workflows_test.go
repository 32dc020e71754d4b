package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/yourorg/procurement-sync/internal/activities"
	"github.com/yourorg/procurement-sync/internal/types"
)

func newEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	Register(env, activities.New(activities.Config{}, activities.Deps{}))
	return env
}

func TestContractsSyncWorkflow(t *testing.T) {
	env := newEnv(t)
	want := types.RunStats{Pipeline: "comprasnet", Scope: "153080", Created: 2}
	env.OnActivity(ActSyncContracts, mock.Anything, types.ContractsParams{UASGs: []string{"153080"}}).Return(want, nil).Once()

	env.ExecuteWorkflow(ContractsSyncWorkflow, types.ContractsParams{UASGs: []string{"153080"}})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var got types.RunStats
	require.NoError(t, env.GetWorkflowResult(&got))
	require.Equal(t, want, got)
	env.AssertExpectations(t)
}

func TestSyncRetriedThreeTimesThenFails(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(ActSyncInlabs, mock.Anything, mock.Anything).Return(types.RunStats{}, errors.New("upstream 503")).Times(4)

	env.ExecuteWorkflow(InlabsSyncWorkflow, types.InlabsParams{Date: "2024-05-02"})
	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
	env.AssertExpectations(t)
}

func TestInvalidParamsAreNotRetried(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(ActSyncContractChildren, mock.Anything, mock.Anything).
		Return(types.RunStats{}, temporal.NewNonRetryableApplicationError("bad kind", "InvalidParams", nil)).Once()

	env.ExecuteWorkflow(ContractChildrenWorkflow, types.ChildrenParams{ContractIDs: []int64{1}, Kinds: []string{"x"}})
	require.Error(t, env.GetWorkflowError())
	env.AssertExpectations(t)
}

func TestPNCPSyncWorkflowDefaultsToYesterday(t *testing.T) {
	env := newEnv(t)
	env.SetStartTime(time.Date(2024, 5, 3, 12, 0, 0, 0, time.UTC))
	yesterday := mock.MatchedBy(func(p types.PNCPParams) bool { return p.From == "2024-05-02" && p.To == "2024-05-02" })
	var order []string
	for _, act := range []string{ActPNCPDiscover, ActPNCPItems, ActPNCPResults} {
		act := act
		env.OnActivity(act, mock.Anything, yesterday).Return(func(_ context.Context, _ types.PNCPParams) (types.RunStats, error) {
			order = append(order, act)
			return types.RunStats{Stage: act, Created: 1}, nil
		}).Once()
	}

	env.ExecuteWorkflow(PNCPSyncWorkflow, types.PNCPParams{})
	require.NoError(t, env.GetWorkflowError())
	var res types.PNCPResult
	require.NoError(t, env.GetWorkflowResult(&res))
	require.Len(t, res.Stages, 3)
	require.Equal(t, []string{ActPNCPDiscover, ActPNCPItems, ActPNCPResults}, order)
	env.AssertExpectations(t)
}

func TestPNCPSyncWorkflowStopsAtFailedStage(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(ActPNCPDiscover, mock.Anything, mock.Anything).Return(types.RunStats{Stage: "discover"}, nil).Once()
	env.OnActivity(ActPNCPItems, mock.Anything, mock.Anything).
		Return(types.RunStats{}, temporal.NewNonRetryableApplicationError("db down", "Fatal", nil)).Once()

	env.ExecuteWorkflow(PNCPSyncWorkflow, types.PNCPParams{From: "2024-05-01", To: "2024-05-02"})
	require.Error(t, env.GetWorkflowError())
	env.AssertExpectations(t)
}
