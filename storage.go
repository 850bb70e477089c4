package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ValidationErr         = errors.New("invalid notification request")
	StoreUnavailableErr   = errors.New("queue store unavailable")
	JobNotFoundErr        = errors.New("the notification job was not found")
	InvalidTransitionErr  = errors.New("the notification job is not in a state that allows this transition")
	RecipientNotFoundErr  = errors.New("recipient not found")
	NoContactInfoErr      = errors.New("recipient has no contact info for channel")
	NoAdminsConfiguredErr = errors.New("no active admins configured")
	ChannelDispatchErr    = errors.New("channel dispatch failed")
	NotImplementedErr     = errors.New("not implemented")
	TemplateNotFoundErr   = errors.New("the template was not found")
)

// JobRepository is the durable notification queue. Every transition is a single
// atomic update keyed by job id; MarkSent, MarkFailed and Requeue only apply to
// jobs in the processing state and return InvalidTransitionErr otherwise.
type JobRepository interface {
	Enqueue(ctx context.Context, job *Job) error

	// ClaimDue moves up to limit queued jobs with ScheduledAt <= now to processing,
	// oldest ScheduledAt first, incrementing their attempt count. A job is handed
	// to exactly one caller.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error)

	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) error
	Requeue(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time, reason string, at time.Time) error

	// ReclaimStale resolves jobs left in processing since before cutoff: back to
	// queued, or failed when no attempts remain.
	ReclaimStale(ctx context.Context, cutoff, now time.Time) (int, error)

	Get(ctx context.Context, id uuid.UUID) (Job, error)
	Matching(ctx context.Context, criteria JobCriteria) ([]Job, int, error)
}

// JobRunRepository stores the pass audit log. Finish and FailOrphaned only touch
// runs that are still running, finalized runs are never rewritten.
type JobRunRepository interface {
	Start(ctx context.Context, run *JobRun) error
	Finish(ctx context.Context, run *JobRun) error
	FailOrphaned(ctx context.Context, startedBefore, now time.Time, reason string) (int, error)
	Recent(ctx context.Context, jobName string, limit int) ([]JobRun, error)
}

// UserDirectory is the read side of the application's user table.
type UserDirectory interface {
	GetUser(ctx context.Context, id uuid.UUID) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)
	ActiveAdmins(ctx context.Context) ([]User, error)
}

type NotificationWriter interface {
	CreateNotification(ctx context.Context, n *InAppNotification) error
}

type TemplateRepository interface {
	GetTemplate(ctx context.Context, name string) (Template, error)
	SaveTemplate(ctx context.Context, template *Template) error
}
