package gopg

import (
	"context"
	"time"

	"github.com/go-pg/pg"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/interactive-solutions/go-notify"
)

type jobRunWrapper struct {
	TableName struct{} `sql:"job_runs,alias:jr" json:"-"`

	ID             string
	JobName        string
	Status         string
	StartedAt      time.Time
	FinishedAt     *time.Time
	ProcessedCount int
	SuccessCount   int
	FailureCount   int
	ErrorMessage   string
}

func (s *Store) Start(ctx context.Context, run *notify.JobRun) error {
	_, err := s.db.WithContext(ctx).Exec(`
		INSERT INTO job_runs
			(id, job_name, status, started_at, finished_at, processed_count, success_count, failure_count, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(), run.JobName, string(run.Status), run.StartedAt, run.FinishedAt,
		run.ProcessedCount, run.SuccessCount, run.FailureCount, run.ErrorMessage,
	)

	return notify.WrapStoreErr("start job run", err)
}

func (s *Store) Finish(ctx context.Context, run *notify.JobRun) error {
	res, err := s.db.WithContext(ctx).Exec(`
		UPDATE job_runs
		SET status = ?, finished_at = ?, processed_count = ?, success_count = ?, failure_count = ?, error_message = ?
		WHERE id = ? AND status = 'running'`,
		string(run.Status), run.FinishedAt, run.ProcessedCount, run.SuccessCount, run.FailureCount,
		run.ErrorMessage, run.ID.String(),
	)
	if err != nil {
		return notify.WrapStoreErr("finish job run", err)
	}

	if res.RowsAffected() == 0 {
		return errors.Wrapf(notify.InvalidTransitionErr, "job run %s is not running", run.ID)
	}

	return nil
}

func (s *Store) FailOrphaned(ctx context.Context, startedBefore, now time.Time, reason string) (int, error) {
	res, err := s.db.WithContext(ctx).Exec(`
		UPDATE job_runs SET status = 'failed', finished_at = ?0, error_message = ?1
		WHERE status = 'running' AND started_at < ?2`, now, reason, startedBefore)
	if err != nil {
		return 0, notify.WrapStoreErr("fail orphaned job runs", err)
	}

	return res.RowsAffected(), nil
}

func (s *Store) Recent(ctx context.Context, jobName string, limit int) ([]notify.JobRun, error) {
	var wrapped []jobRunWrapper

	builder := s.db.WithContext(ctx).Model(&wrapped).Order("started_at DESC")

	if jobName != "" {
		builder.Where("job_name = ?", jobName)
	}

	if limit > 0 {
		builder.Limit(limit)
	}

	if err := builder.Select(); err != nil && err != pg.ErrNoRows {
		return nil, notify.WrapStoreErr("list job runs", err)
	}

	runs := make([]notify.JobRun, 0, len(wrapped))
	for _, w := range wrapped {
		id, err := uuid.Parse(w.ID)
		if err != nil {
			return nil, notify.WrapStoreErr("list job runs", err)
		}

		runs = append(runs, notify.JobRun{
			ID:             id,
			JobName:        w.JobName,
			Status:         notify.RunStatus(w.Status),
			StartedAt:      w.StartedAt.UTC(),
			FinishedAt:     utcPtr(w.FinishedAt),
			ProcessedCount: w.ProcessedCount,
			SuccessCount:   w.SuccessCount,
			FailureCount:   w.FailureCount,
			ErrorMessage:   w.ErrorMessage,
		})
	}

	return runs, nil
}
