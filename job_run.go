package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const DefaultJobName = "process_notifications"

type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

type JobRun struct {
	ID      uuid.UUID `json:"id"`
	JobName string    `json:"jobName"`
	Status  RunStatus `json:"status"`

	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	ProcessedCount int    `json:"processedCount"`
	SuccessCount   int    `json:"successCount"`
	FailureCount   int    `json:"failureCount"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
}

// Tracker wraps dispatcher passes in JobRun audit records. A run that cannot be
// persisted is still tracked in memory so the pass itself goes ahead.
type Tracker struct {
	repo    JobRunRepository
	clock   Clock
	logger  logrus.FieldLogger
	jobName string
}

func NewTracker(repo JobRunRepository, clock Clock, logger logrus.FieldLogger, jobName string) *Tracker {
	if jobName == "" {
		jobName = DefaultJobName
	}

	return &Tracker{
		repo:    repo,
		clock:   clock,
		logger:  logger,
		jobName: jobName,
	}
}

type TrackedRun struct {
	tracker   *Tracker
	run       JobRun
	persisted bool
}

func (t *Tracker) Begin(ctx context.Context) *TrackedRun {
	tr := &TrackedRun{
		tracker: t,
		run: JobRun{
			ID:        uuid.New(),
			JobName:   t.jobName,
			Status:    RunRunning,
			StartedAt: t.clock.Now().UTC(),
		},
	}

	if t.repo == nil {
		return tr
	}

	if err := t.repo.Start(ctx, &tr.run); err != nil {
		t.logger.
			WithField("run", tr.run.ID).
			WithError(err).
			Error("failed to create job run record")

		return tr
	}

	tr.persisted = true
	return tr
}

func (r *TrackedRun) ID() uuid.UUID {
	return r.run.ID
}

// Run returns a copy of the current record.
func (r *TrackedRun) Run() JobRun {
	return r.run
}

func (r *TrackedRun) Complete(ctx context.Context, processed, successes, failures int) JobRun {
	r.run.ProcessedCount += processed
	r.run.SuccessCount += successes
	r.run.FailureCount += failures

	if r.run.FailureCount == 0 {
		r.run.Status = RunSuccess
	} else {
		r.run.Status = RunFailed
	}

	return r.finish(ctx)
}

// Abort finalizes the run as failed because of a pass-level error.
func (r *TrackedRun) Abort(ctx context.Context, cause error) JobRun {
	r.run.Status = RunFailed
	if cause != nil {
		r.run.ErrorMessage = cause.Error()
	}

	return r.finish(ctx)
}

func (r *TrackedRun) finish(ctx context.Context) JobRun {
	finishedAt := r.tracker.clock.Now().UTC()
	r.run.FinishedAt = &finishedAt

	if !r.persisted {
		return r.run
	}

	if err := r.tracker.repo.Finish(ctx, &r.run); err != nil {
		r.tracker.logger.
			WithField("run", r.run.ID).
			WithField("status", r.run.Status).
			WithError(err).
			Error("failed to finalize job run record")
	}

	return r.run
}
