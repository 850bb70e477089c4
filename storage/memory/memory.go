// Package memory keeps the whole queue in process memory. It is meant for tests
// and single process development runs; nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/interactive-solutions/go-notify"
)

type Store struct {
	mu sync.Mutex

	jobs          map[uuid.UUID]notify.Job
	runs          map[uuid.UUID]notify.JobRun
	users         map[uuid.UUID]notify.User
	notifications []notify.InAppNotification
	templates     map[string]notify.Template

	// Err, when set, is returned from every call as a store failure.
	Err error
}

func New() *Store {
	return &Store{
		jobs:      make(map[uuid.UUID]notify.Job),
		runs:      make(map[uuid.UUID]notify.JobRun),
		users:     make(map[uuid.UUID]notify.User),
		templates: make(map[string]notify.Template),
	}
}

func (s *Store) fail(op string) error {
	if s.Err == nil {
		return nil
	}

	return notify.WrapStoreErr(op, s.Err)
}

func (s *Store) Enqueue(ctx context.Context, job *notify.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("enqueue"); err != nil {
		return err
	}

	if _, exists := s.jobs[job.ID]; exists {
		return notify.WrapStoreErr("enqueue", errors.Errorf("duplicate job id %s", job.ID))
	}

	s.jobs[job.ID] = copyJob(*job)
	return nil
}

func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]notify.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("claim due jobs"); err != nil {
		return nil, err
	}

	var due []notify.Job
	for _, job := range s.jobs {
		if job.Status == notify.StatusQueued && !job.ScheduledAt.After(now) {
			due = append(due, job)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].ScheduledAt.Equal(due[j].ScheduledAt) {
			return due[i].CreatedAt.Before(due[j].CreatedAt)
		}
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]notify.Job, 0, len(due))
	for _, job := range due {
		at := now
		job.Status = notify.StatusProcessing
		job.Attempts++
		job.LastAttemptAt = &at
		job.UpdatedAt = now

		s.jobs[job.ID] = job
		claimed = append(claimed, copyJob(job))
	}

	return claimed, nil
}

func (s *Store) transition(op string, id uuid.UUID, apply func(job *notify.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail(op); err != nil {
		return err
	}

	job, ok := s.jobs[id]
	if !ok {
		return notify.JobNotFoundErr
	}

	if job.Status != notify.StatusProcessing {
		return errors.Wrapf(notify.InvalidTransitionErr, "job %s is %s", id, job.Status)
	}

	apply(&job)
	s.jobs[id] = job

	return nil
}

func (s *Store) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.transition("mark sent", id, func(job *notify.Job) {
		job.Status = notify.StatusSent
		job.SentAt = &at
		job.LastError = ""
		job.UpdatedAt = at
	})
}

func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	return s.transition("mark failed", id, func(job *notify.Job) {
		job.Status = notify.StatusFailed
		job.LastError = reason
		job.UpdatedAt = at
	})
}

func (s *Store) Requeue(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time, reason string, at time.Time) error {
	return s.transition("requeue", id, func(job *notify.Job) {
		job.Status = notify.StatusQueued
		job.ScheduledAt = nextAttemptAt
		job.LastError = reason
		job.UpdatedAt = at
	})
}

func (s *Store) ReclaimStale(ctx context.Context, cutoff, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("reclaim stale jobs"); err != nil {
		return 0, err
	}

	n := 0
	for id, job := range s.jobs {
		if job.Status != notify.StatusProcessing || job.LastAttemptAt == nil || !job.LastAttemptAt.Before(cutoff) {
			continue
		}

		job.LastError = "lease expired"
		job.UpdatedAt = now
		if job.Attempts >= job.MaxAttempts {
			job.Status = notify.StatusFailed
		} else {
			job.Status = notify.StatusQueued
			job.ScheduledAt = now
		}

		s.jobs[id] = job
		n++
	}

	return n, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (notify.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("get job"); err != nil {
		return notify.Job{}, err
	}

	job, ok := s.jobs[id]
	if !ok {
		return notify.Job{}, notify.JobNotFoundErr
	}

	return copyJob(job), nil
}

func (s *Store) Matching(ctx context.Context, criteria notify.JobCriteria) ([]notify.Job, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("match jobs"); err != nil {
		return nil, 0, err
	}

	var matched []notify.Job
	for _, job := range s.jobs {
		if criteria.Status != "" && job.Status != criteria.Status {
			continue
		}
		if criteria.Channel != "" && job.Channel != criteria.Channel {
			continue
		}
		if !criteria.ScheduledAfter.IsZero() && job.ScheduledAt.Before(criteria.ScheduledAfter) {
			continue
		}
		if !criteria.ScheduledBefore.IsZero() && job.ScheduledAt.After(criteria.ScheduledBefore) {
			continue
		}

		matched = append(matched, copyJob(job))
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	matched = page(matched, criteria.Offset, criteria.Limit)

	return matched, total, nil
}

func (s *Store) Start(ctx context.Context, run *notify.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("start job run"); err != nil {
		return err
	}

	s.runs[run.ID] = *run
	return nil
}

func (s *Store) Finish(ctx context.Context, run *notify.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("finish job run"); err != nil {
		return err
	}

	stored, ok := s.runs[run.ID]
	if !ok || stored.Status != notify.RunRunning {
		return errors.Wrapf(notify.InvalidTransitionErr, "job run %s is not running", run.ID)
	}

	s.runs[run.ID] = *run
	return nil
}

func (s *Store) FailOrphaned(ctx context.Context, startedBefore, now time.Time, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("fail orphaned job runs"); err != nil {
		return 0, err
	}

	n := 0
	for id, run := range s.runs {
		if run.Status != notify.RunRunning || !run.StartedAt.Before(startedBefore) {
			continue
		}

		finishedAt := now
		run.Status = notify.RunFailed
		run.FinishedAt = &finishedAt
		run.ErrorMessage = reason

		s.runs[id] = run
		n++
	}

	return n, nil
}

func (s *Store) Recent(ctx context.Context, jobName string, limit int) ([]notify.JobRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("list job runs"); err != nil {
		return nil, err
	}

	var runs []notify.JobRun
	for _, run := range s.runs {
		if jobName == "" || run.JobName == jobName {
			runs = append(runs, run)
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}

	return runs, nil
}

// Run returns a stored job run.
func (s *Store) Run(id uuid.UUID) (notify.JobRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	return run, ok
}

func (s *Store) AddUser(user notify.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[user.ID] = user
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (notify.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("get user"); err != nil {
		return notify.User{}, err
	}

	user, ok := s.users[id]
	if !ok {
		return notify.User{}, notify.RecipientNotFoundErr
	}

	return user, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (notify.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("find user"); err != nil {
		return notify.User{}, err
	}

	for _, user := range s.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}

	return notify.User{}, notify.RecipientNotFoundErr
}

func (s *Store) ActiveAdmins(ctx context.Context) ([]notify.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("list admins"); err != nil {
		return nil, err
	}

	var admins []notify.User
	for _, user := range s.users {
		isAdmin := user.Role == notify.RoleAdmin || user.Role == notify.RoleSuperAdmin
		if isAdmin && user.Status == "active" {
			admins = append(admins, user)
		}
	}

	sort.Slice(admins, func(i, j int) bool {
		return admins[i].Email < admins[j].Email
	})

	return admins, nil
}

func (s *Store) CreateNotification(ctx context.Context, n *notify.InAppNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("create notification"); err != nil {
		return err
	}

	if _, ok := s.users[n.UserID]; !ok {
		return errors.Wrapf(notify.RecipientNotFoundErr, "user %s", n.UserID)
	}

	s.notifications = append(s.notifications, *n)
	return nil
}

// Notifications returns the stored in-app notifications of a user.
func (s *Store) Notifications(userID uuid.UUID) []notify.InAppNotification {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []notify.InAppNotification
	for _, n := range s.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}

	return out
}

func (s *Store) GetTemplate(ctx context.Context, name string) (notify.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("get template"); err != nil {
		return notify.Template{}, err
	}

	tpl, ok := s.templates[name]
	if !ok {
		return notify.Template{}, notify.TemplateNotFoundErr
	}

	return tpl, nil
}

func (s *Store) SaveTemplate(ctx context.Context, template *notify.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("save template"); err != nil {
		return err
	}

	s.templates[template.Name] = *template
	return nil
}

func copyJob(job notify.Job) notify.Job {
	if job.Payload != nil {
		payload := make(map[string]interface{}, len(job.Payload))
		for k, v := range job.Payload {
			payload[k] = v
		}
		job.Payload = payload
	}

	return job
}

func page(jobs []notify.Job, offset, limit int) []notify.Job {
	if offset > 0 {
		if offset >= len(jobs) {
			return nil
		}
		jobs = jobs[offset:]
	}

	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}

	return jobs
}
