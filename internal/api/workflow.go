package api

import (
	"context"
	"strings"
	"time"

	"go.temporal.io/sdk/client"
)

// Engine starts workflows and reports on them.
type Engine interface {
	Start(ctx context.Context, id string, workflow any, params any) (Started, error)
	Status(ctx context.Context, id string) (WorkflowStatus, error)
}

type Started struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
}

type WorkflowStatus struct {
	WorkflowID string     `json:"workflow_id"`
	RunID      string     `json:"run_id"`
	Status     string     `json:"status"`
	StartedAt  *time.Time `json:"start_time,omitempty"`
	ClosedAt   *time.Time `json:"close_time,omitempty"`
	Result     any        `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// TemporalEngine runs workflows on a Temporal task queue.
type TemporalEngine struct {
	Client    client.Client
	TaskQueue string
}

// Start executes workflow under id. While a run with that id is open the
// SDK hands back the open run instead of starting another one.
func (e TemporalEngine) Start(ctx context.Context, id string, workflow any, params any) (Started, error) {
	run, err := e.Client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: e.TaskQueue,
	}, workflow, params)
	if err != nil {
		return Started{}, err
	}
	return Started{WorkflowID: run.GetID(), RunID: run.GetRunID()}, nil
}

func (e TemporalEngine) Status(ctx context.Context, id string) (WorkflowStatus, error) {
	describe, err := e.Client.DescribeWorkflowExecution(ctx, id, "")
	if err != nil {
		return WorkflowStatus{}, err
	}
	info := describe.GetWorkflowExecutionInfo()
	st := WorkflowStatus{
		WorkflowID: id,
		RunID:      info.GetExecution().GetRunId(),
		Status:     statusName(info.GetStatus().String()),
	}
	if ts := info.GetStartTime(); ts != nil {
		t := ts.AsTime()
		st.StartedAt = &t
	}
	if ts := info.GetCloseTime(); ts != nil {
		t := ts.AsTime()
		st.ClosedAt = &t
	}
	switch st.Status {
	case "COMPLETED", "FAILED", "TIMED_OUT", "TERMINATED", "CANCELED":
		var result any
		if err := e.Client.GetWorkflow(ctx, id, st.RunID).Get(ctx, &result); err != nil {
			st.Error = err.Error()
		} else {
			st.Result = result
		}
	}
	return st, nil
}

// statusName turns the enum name ("Running", or the older
// "WORKFLOW_EXECUTION_STATUS_RUNNING") into "RUNNING".
func statusName(s string) string {
	s = strings.TrimPrefix(s, "WORKFLOW_EXECUTION_STATUS_")
	switch s {
	case "TimedOut":
		return "TIMED_OUT"
	case "ContinuedAsNew":
		return "CONTINUED_AS_NEW"
	}
	return strings.ToUpper(s)
}
