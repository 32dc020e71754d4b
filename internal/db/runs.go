package db

import (
	"context"
	"encoding/json"
	"time"
)

// Run is one execution of a pipeline over a scope (a UASG, a date window,
// an edition).
type Run struct {
	ID         int64
	Pipeline   string
	Scope      string
	Status     string
	Error      *string
	StatsJSON  []byte
	StartedAt  time.Time
	FinishedAt *time.Time
}

const (
	RunRunning = "running"
	RunDone    = "done"
	RunFailed  = "failed"
	RunSkipped = "skipped"
)

// RunRepository records pipeline executions for operators.
type RunRepository interface {
	Start(ctx context.Context, pipeline, scope string) (Run, error)
	Finish(ctx context.Context, id int64, status string, errMsg *string, stats any) error
	// Latest returns the most recent run of pipeline over scope; ErrNotFound if none.
	Latest(ctx context.Context, pipeline, scope string) (Run, error)
}

func NewRunRepo(p *Pool) RunRepository { return &runRepo{p: p} }

type runRepo struct{ p *Pool }

func (r *runRepo) Start(ctx context.Context, pipeline, scope string) (Run, error) {
	const q = `insert into sync_run (pipeline, scope, status) values ($1, $2, 'running')
               returning id, pipeline, scope, status, error, coalesce(stats,'{}'::jsonb), started_at, finished_at`
	var run Run
	err := r.p.q(ctx).QueryRow(ctx, q, pipeline, scope).Scan(&run.ID, &run.Pipeline, &run.Scope, &run.Status,
		&run.Error, &run.StatsJSON, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		return Run{}, mapPgErr(err)
	}
	return run, nil
}

func (r *runRepo) Finish(ctx context.Context, id int64, status string, errMsg *string, stats any) error {
	var statsJSON *string
	if stats != nil {
		b, err := json.Marshal(stats)
		if err != nil {
			return err
		}
		s := string(b)
		statsJSON = &s
	}
	const q = `update sync_run set status=$1, error=$2, stats=coalesce($3::jsonb, stats), finished_at=now() where id=$4`
	ct, err := r.p.q(ctx).Exec(ctx, q, status, errMsg, statsJSON, id)
	if err != nil {
		return mapPgErr(err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *runRepo) Latest(ctx context.Context, pipeline, scope string) (Run, error) {
	const q = `select id, pipeline, scope, status, error, coalesce(stats,'{}'::jsonb), started_at, finished_at
               from sync_run where pipeline=$1 and scope=$2 order by started_at desc, id desc limit 1`
	var run Run
	err := r.p.q(ctx).QueryRow(ctx, q, pipeline, scope).Scan(&run.ID, &run.Pipeline, &run.Scope, &run.Status,
		&run.Error, &run.StatsJSON, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		return Run{}, mapRowErr(err)
	}
	return run, nil
}
