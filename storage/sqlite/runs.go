package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/interactive-solutions/go-notify"
)

const runColumns = `id,job_name,status,started_at,finished_at,processed_count,success_count,failure_count,error_message`

func (s *Store) Start(ctx context.Context, run *notify.JobRun) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO job_runs (`+runColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		run.ID.String(), run.JobName, string(run.Status), nanos(run.StartedAt), nullNanos(run.FinishedAt),
		run.ProcessedCount, run.SuccessCount, run.FailureCount, run.ErrorMessage,
	)

	return notify.WrapStoreErr("start job run", err)
}

func (s *Store) Finish(ctx context.Context, run *notify.JobRun) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE job_runs
SET status = ?, finished_at = ?, processed_count = ?, success_count = ?, failure_count = ?, error_message = ?
WHERE id = ? AND status = 'running'`,
		string(run.Status), nullNanos(run.FinishedAt), run.ProcessedCount, run.SuccessCount, run.FailureCount,
		run.ErrorMessage, run.ID.String(),
	)
	if err != nil {
		return notify.WrapStoreErr("finish job run", err)
	}

	if n, err := res.RowsAffected(); err != nil {
		return notify.WrapStoreErr("finish job run", err)
	} else if n == 0 {
		return errors.Wrapf(notify.InvalidTransitionErr, "job run %s is not running", run.ID)
	}

	return nil
}

func (s *Store) FailOrphaned(ctx context.Context, startedBefore, now time.Time, reason string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE job_runs SET status = 'failed', finished_at = ?, error_message = ?
WHERE status = 'running' AND started_at < ?`, nanos(now), reason, nanos(startedBefore))
	if err != nil {
		return 0, notify.WrapStoreErr("fail orphaned job runs", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, notify.WrapStoreErr("fail orphaned job runs", err)
	}

	return int(n), nil
}

func (s *Store) Recent(ctx context.Context, jobName string, limit int) ([]notify.JobRun, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT `+runColumns+` FROM job_runs
WHERE (? = '' OR job_name = ?)
ORDER BY started_at DESC
LIMIT ?`, jobName, jobName, limit)
	if err != nil {
		return nil, notify.WrapStoreErr("list job runs", err)
	}
	defer rows.Close()

	var runs []notify.JobRun
	for rows.Next() {
		var (
			run        notify.JobRun
			id, status string
			startedAt  int64
			finishedAt sql.NullInt64
		)

		if err := rows.Scan(&id, &run.JobName, &status, &startedAt, &finishedAt,
			&run.ProcessedCount, &run.SuccessCount, &run.FailureCount, &run.ErrorMessage); err != nil {
			return nil, notify.WrapStoreErr("list job runs", err)
		}

		if run.ID, err = uuid.Parse(id); err != nil {
			return nil, notify.WrapStoreErr("list job runs", err)
		}

		run.Status = notify.RunStatus(status)
		run.StartedAt = fromNanos(startedAt)
		run.FinishedAt = timePtr(finishedAt)

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, notify.WrapStoreErr("list job runs", err)
	}

	return runs, nil
}
