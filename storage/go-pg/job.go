package gopg

import (
	"context"
	"time"

	"github.com/go-pg/pg"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/interactive-solutions/go-notify"
)

type jobWrapper struct {
	TableName struct{} `sql:"notification_jobs,alias:nj" json:"-"`

	ID            string
	Channel       string
	Recipient     string
	TemplateName  string
	Subject       string
	Payload       map[string]interface{}
	Status        string
	ScheduledAt   time.Time
	Attempts      int
	MaxAttempts   int
	LastError     string
	LastAttemptAt *time.Time
	SentAt        *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (w *jobWrapper) job() (notify.Job, error) {
	id, err := uuid.Parse(w.ID)
	if err != nil {
		return notify.Job{}, errors.Wrapf(err, "malformed job id %q", w.ID)
	}

	recipient, err := notify.UnmarshalRecipient([]byte(w.Recipient))
	if err != nil {
		return notify.Job{}, errors.Wrapf(err, "job %s", w.ID)
	}

	return notify.Job{
		ID:            id,
		Channel:       notify.Channel(w.Channel),
		Recipient:     recipient,
		TemplateName:  w.TemplateName,
		Subject:       w.Subject,
		Payload:       w.Payload,
		Status:        notify.Status(w.Status),
		ScheduledAt:   w.ScheduledAt.UTC(),
		Attempts:      w.Attempts,
		MaxAttempts:   w.MaxAttempts,
		LastError:     w.LastError,
		LastAttemptAt: utcPtr(w.LastAttemptAt),
		SentAt:        utcPtr(w.SentAt),
		CreatedAt:     w.CreatedAt.UTC(),
		UpdatedAt:     w.UpdatedAt.UTC(),
	}, nil
}

func unwrapJobs(wrapped []jobWrapper) ([]notify.Job, error) {
	jobs := make([]notify.Job, 0, len(wrapped))
	for i := range wrapped {
		job, err := wrapped[i].job()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	u := t.UTC()
	return &u
}

func (s *Store) Enqueue(ctx context.Context, job *notify.Job) error {
	recipient, err := notify.MarshalRecipient(job.Recipient)
	if err != nil {
		return err
	}

	payload := job.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}

	_, err = s.db.WithContext(ctx).Exec(`
		INSERT INTO notification_jobs
			(id, channel, recipient, template_name, subject, payload, status, scheduled_at,
			 attempts, max_attempts, last_error, last_attempt_at, sent_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID.String(), string(job.Channel), string(recipient), job.TemplateName, job.Subject, payload,
		string(job.Status), job.ScheduledAt, job.Attempts, job.MaxAttempts, job.LastError,
		job.LastAttemptAt, job.SentAt, job.CreatedAt, job.UpdatedAt,
	)

	return notify.WrapStoreErr("enqueue", err)
}

// ClaimDue locks due rows with SKIP LOCKED so concurrent dispatchers pick
// disjoint batches, and flips them to processing in the same statement.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]notify.Job, error) {
	var wrapped []jobWrapper

	_, err := s.db.WithContext(ctx).Query(&wrapped, `
		UPDATE notification_jobs
		SET status = 'processing', attempts = attempts + 1, last_attempt_at = ?0, updated_at = ?0
		WHERE id IN (
			SELECT id FROM notification_jobs
			WHERE status = 'queued' AND scheduled_at <= ?0
			ORDER BY scheduled_at ASC, created_at ASC
			LIMIT ?1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *`, now, limit)
	if err != nil && err != pg.ErrNoRows {
		return nil, notify.WrapStoreErr("claim due jobs", err)
	}

	jobs := make([]notify.Job, 0, len(wrapped))
	for i := range wrapped {
		job, err := wrapped[i].job()
		if err != nil {
			// a row that cannot be failed here stays processing until the lease sweep
			s.db.WithContext(ctx).Exec(`
				UPDATE notification_jobs SET status = 'failed', last_error = ?0, updated_at = ?1
				WHERE id = ?2 AND status = 'processing'`, "undecodable job: "+err.Error(), now, wrapped[i].ID)
			continue
		}
		jobs = append(jobs, job)
	}

	sortByScheduledAt(jobs)

	return jobs, nil
}

func (s *Store) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.transition(ctx, "mark sent", id, `
		UPDATE notification_jobs SET status = 'sent', sent_at = ?0, last_error = '', updated_at = ?0
		WHERE id = ?1 AND status = 'processing'`, at, id.String())
}

func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	return s.transition(ctx, "mark failed", id, `
		UPDATE notification_jobs SET status = 'failed', last_error = ?0, updated_at = ?1
		WHERE id = ?2 AND status = 'processing'`, reason, at, id.String())
}

func (s *Store) Requeue(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time, reason string, at time.Time) error {
	return s.transition(ctx, "requeue", id, `
		UPDATE notification_jobs SET status = 'queued', scheduled_at = ?0, last_error = ?1, updated_at = ?2
		WHERE id = ?3 AND status = 'processing'`, nextAttemptAt, reason, at, id.String())
}

func (s *Store) transition(ctx context.Context, op string, id uuid.UUID, query string, params ...interface{}) error {
	db := s.db.WithContext(ctx)

	res, err := db.Exec(query, params...)
	if err != nil {
		return notify.WrapStoreErr(op, err)
	}

	if res.RowsAffected() == 1 {
		return nil
	}

	var status string
	if _, err := db.QueryOne(pg.Scan(&status), `SELECT status FROM notification_jobs WHERE id = ?`, id.String()); err != nil {
		if err == pg.ErrNoRows {
			return notify.JobNotFoundErr
		}

		return notify.WrapStoreErr(op, err)
	}

	return errors.Wrapf(notify.InvalidTransitionErr, "job %s is %s", id, status)
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (notify.Job, error) {
	wrapped := &jobWrapper{}

	if err := s.db.WithContext(ctx).Model(wrapped).Where("id = ?", id.String()).Select(); err != nil {
		if err == pg.ErrNoRows {
			return notify.Job{}, notify.JobNotFoundErr
		}

		return notify.Job{}, notify.WrapStoreErr("get job", err)
	}

	job, err := wrapped.job()
	if err != nil {
		return notify.Job{}, notify.WrapStoreErr("get job", err)
	}

	return job, nil
}

func (s *Store) Matching(ctx context.Context, criteria notify.JobCriteria) ([]notify.Job, int, error) {
	var wrapped []jobWrapper

	builder := s.db.WithContext(ctx).Model(&wrapped).
		Offset(criteria.Offset).
		Order("created_at DESC")

	if criteria.Limit > 0 {
		builder.Limit(criteria.Limit)
	}

	if criteria.Status != "" {
		builder.Where("status = ?", string(criteria.Status))
	}

	if criteria.Channel != "" {
		builder.Where("channel = ?", string(criteria.Channel))
	}

	if !criteria.ScheduledAfter.IsZero() {
		builder.Where("scheduled_at >= ?", criteria.ScheduledAfter)
	}

	if !criteria.ScheduledBefore.IsZero() {
		builder.Where("scheduled_at <= ?", criteria.ScheduledBefore)
	}

	count, err := builder.SelectAndCount()
	if err != nil && err != pg.ErrNoRows {
		return nil, 0, notify.WrapStoreErr("match jobs", err)
	}

	jobs, err := unwrapJobs(wrapped)
	if err != nil {
		return nil, 0, notify.WrapStoreErr("match jobs", err)
	}

	return jobs, count, nil
}
