package sqlite

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/interactive-solutions/go-notify"
)

const jobColumns = `id,channel,recipient,template_name,subject,payload,status,scheduled_at,attempts,max_attempts,last_error,last_attempt_at,sent_at,created_at,updated_at`

func (s *Store) Enqueue(ctx context.Context, job *notify.Job) error {
	recipient, err := notify.MarshalRecipient(job.Recipient)
	if err != nil {
		return err
	}

	payload, err := encodeMap(job.Payload)
	if err != nil {
		return errors.Wrap(notify.ValidationErr, "payload is not serializable")
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO notification_jobs (`+jobColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		job.ID.String(), string(job.Channel), string(recipient), job.TemplateName, job.Subject, payload.String,
		string(job.Status), nanos(job.ScheduledAt), job.Attempts, job.MaxAttempts, job.LastError,
		nullNanos(job.LastAttemptAt), nullNanos(job.SentAt), nanos(job.CreatedAt), nanos(job.UpdatedAt),
	)

	return notify.WrapStoreErr("enqueue", err)
}

// ClaimDue claims with a single UPDATE ... RETURNING statement, which SQLite
// executes atomically, so concurrent callers never share a job.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]notify.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
UPDATE notification_jobs
SET status = 'processing',
    attempts = attempts + 1,
    last_attempt_at = ?,
    updated_at = ?
WHERE status = 'queued' AND id IN (
  SELECT id FROM notification_jobs
  WHERE status = 'queued' AND scheduled_at <= ?
  ORDER BY scheduled_at ASC, created_at ASC
  LIMIT ?
)
RETURNING `+jobColumns,
		nanos(now), nanos(now), nanos(now), limit,
	)
	if err != nil {
		return nil, notify.WrapStoreErr("claim due jobs", err)
	}
	defer rows.Close()

	var (
		jobs      []notify.Job
		malformed []*decodeError
	)

	for rows.Next() {
		job, err := scanJob(rows)
		if derr, ok := err.(*decodeError); ok {
			malformed = append(malformed, derr)
			continue
		}
		if err != nil {
			return nil, notify.WrapStoreErr("claim due jobs", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, notify.WrapStoreErr("claim due jobs", err)
	}

	// the single connection is held until rows is closed
	rows.Close()

	for _, derr := range malformed {
		// a row that cannot be failed here stays processing until the lease sweep
		s.db.ExecContext(ctx, `
UPDATE notification_jobs SET status = 'failed', last_error = ?, updated_at = ?
WHERE id = ? AND status = 'processing'`, derr.Error(), nanos(now), derr.id)
	}

	// RETURNING order is unspecified
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].ScheduledAt.Before(jobs[j].ScheduledAt)
	})

	return jobs, nil
}

func (s *Store) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.transition(ctx, "mark sent", id, `
UPDATE notification_jobs SET status = 'sent', sent_at = ?, last_error = '', updated_at = ?
WHERE id = ? AND status = 'processing'`, nanos(at), nanos(at), id.String())
}

func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	return s.transition(ctx, "mark failed", id, `
UPDATE notification_jobs SET status = 'failed', last_error = ?, updated_at = ?
WHERE id = ? AND status = 'processing'`, reason, nanos(at), id.String())
}

func (s *Store) Requeue(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time, reason string, at time.Time) error {
	return s.transition(ctx, "requeue", id, `
UPDATE notification_jobs SET status = 'queued', scheduled_at = ?, last_error = ?, updated_at = ?
WHERE id = ? AND status = 'processing'`, nanos(nextAttemptAt), reason, nanos(at), id.String())
}

func (s *Store) transition(ctx context.Context, op string, id uuid.UUID, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return notify.WrapStoreErr(op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return notify.WrapStoreErr(op, err)
	}

	if n == 1 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM notification_jobs WHERE id = ?`, id.String()).Scan(&status)
	switch {
	case err == sql.ErrNoRows:
		return notify.JobNotFoundErr
	case err != nil:
		return notify.WrapStoreErr(op, err)
	default:
		return errors.Wrapf(notify.InvalidTransitionErr, "job %s is %s", id, status)
	}
}

func (s *Store) ReclaimStale(ctx context.Context, cutoff, now time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, notify.WrapStoreErr("reclaim stale jobs", err)
	}
	defer tx.Rollback()

	failed, err := tx.ExecContext(ctx, `
UPDATE notification_jobs SET status = 'failed', last_error = 'lease expired', updated_at = ?
WHERE status = 'processing' AND last_attempt_at < ? AND attempts >= max_attempts`, nanos(now), nanos(cutoff))
	if err != nil {
		return 0, notify.WrapStoreErr("reclaim stale jobs", err)
	}

	requeued, err := tx.ExecContext(ctx, `
UPDATE notification_jobs SET status = 'queued', scheduled_at = ?, last_error = 'lease expired', updated_at = ?
WHERE status = 'processing' AND last_attempt_at < ?`, nanos(now), nanos(now), nanos(cutoff))
	if err != nil {
		return 0, notify.WrapStoreErr("reclaim stale jobs", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, notify.WrapStoreErr("reclaim stale jobs", err)
	}

	nFailed, _ := failed.RowsAffected()
	nRequeued, _ := requeued.RowsAffected()

	return int(nFailed + nRequeued), nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (notify.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM notification_jobs WHERE id = ?`, id.String())

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return notify.Job{}, notify.JobNotFoundErr
	}
	if err != nil {
		return notify.Job{}, notify.WrapStoreErr("get job", err)
	}

	return job, nil
}

func (s *Store) Matching(ctx context.Context, criteria notify.JobCriteria) ([]notify.Job, int, error) {
	var where []string
	var args []interface{}

	if criteria.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(criteria.Status))
	}

	if criteria.Channel != "" {
		where = append(where, "channel = ?")
		args = append(args, string(criteria.Channel))
	}

	if !criteria.ScheduledAfter.IsZero() {
		where = append(where, "scheduled_at >= ?")
		args = append(args, nanos(criteria.ScheduledAfter))
	}

	if !criteria.ScheduledBefore.IsZero() {
		where = append(where, "scheduled_at <= ?")
		args = append(args, nanos(criteria.ScheduledBefore))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM notification_jobs`+clause, args...).Scan(&total); err != nil {
		return nil, 0, notify.WrapStoreErr("match jobs", err)
	}

	limit := criteria.Limit
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM notification_jobs`+clause+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		append(args, limit, criteria.Offset)...,
	)
	if err != nil {
		return nil, 0, notify.WrapStoreErr("match jobs", err)
	}
	defer rows.Close()

	var jobs []notify.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, notify.WrapStoreErr("match jobs", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, notify.WrapStoreErr("match jobs", err)
	}

	return jobs, total, nil
}

func scanJob(row scanner) (notify.Job, error) {
	var (
		job                  notify.Job
		id, channel, status  string
		recipient            string
		payload              sql.NullString
		scheduledAt          int64
		createdAt, updatedAt int64
		lastAttemptAt        sql.NullInt64
		sentAt               sql.NullInt64
	)

	err := row.Scan(
		&id, &channel, &recipient, &job.TemplateName, &job.Subject, &payload, &status,
		&scheduledAt, &job.Attempts, &job.MaxAttempts, &job.LastError, &lastAttemptAt, &sentAt,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return notify.Job{}, err
	}

	if job.ID, err = uuid.Parse(id); err != nil {
		return notify.Job{}, &decodeError{id: id, err: errors.Wrap(err, "malformed job id")}
	}

	if job.Recipient, err = notify.UnmarshalRecipient([]byte(recipient)); err != nil {
		return notify.Job{}, &decodeError{id: id, err: err}
	}

	if job.Payload, err = decodeMap(payload); err != nil {
		return notify.Job{}, &decodeError{id: id, err: errors.Wrap(err, "malformed payload")}
	}

	job.Channel = notify.Channel(channel)
	job.Status = notify.Status(status)
	job.ScheduledAt = fromNanos(scheduledAt)
	job.LastAttemptAt = timePtr(lastAttemptAt)
	job.SentAt = timePtr(sentAt)
	job.CreatedAt = fromNanos(createdAt)
	job.UpdatedAt = fromNanos(updatedAt)

	return job, nil
}

// decodeError is a row that was read but does not decode into a job.
type decodeError struct {
	id  string
	err error
}

func (e *decodeError) Error() string {
	return "undecodable job: " + e.err.Error()
}

func (e *decodeError) Unwrap() error { return e.err }
