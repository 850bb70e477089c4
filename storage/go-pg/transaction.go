package gopg

import (
	"context"
	"sort"
	"time"

	"github.com/go-pg/pg"

	"github.com/interactive-solutions/go-notify"
)

// ReclaimStale runs both lease updates in one transaction so a job is either
// requeued or failed, never both.
func (s *Store) ReclaimStale(ctx context.Context, cutoff, now time.Time) (int, error) {
	reclaimed := 0

	err := s.db.WithContext(ctx).RunInTransaction(func(tx *pg.Tx) error {
		failed, err := tx.Exec(`
			UPDATE notification_jobs SET status = 'failed', last_error = 'lease expired', updated_at = ?0
			WHERE status = 'processing' AND last_attempt_at < ?1 AND attempts >= max_attempts`, now, cutoff)
		if err != nil {
			return err
		}

		requeued, err := tx.Exec(`
			UPDATE notification_jobs SET status = 'queued', scheduled_at = ?0, last_error = 'lease expired', updated_at = ?0
			WHERE status = 'processing' AND last_attempt_at < ?1`, now, cutoff)
		if err != nil {
			return err
		}

		reclaimed = failed.RowsAffected() + requeued.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, notify.WrapStoreErr("reclaim stale jobs", err)
	}

	return reclaimed, nil
}

func sortByScheduledAt(jobs []notify.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].ScheduledAt.Equal(jobs[j].ScheduledAt) {
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
		return jobs[i].ScheduledAt.Before(jobs[j].ScheduledAt)
	})
}
