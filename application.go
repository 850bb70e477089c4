package notify

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	UserAgent = "InteractiveSolutions/GoNotify-1.0"

	DefaultBatchSize    = 100
	DefaultLeaseTimeout = 15 * time.Minute
)

type Application interface {
	HttpHandler() *HttpHandler

	// Enqueue validates and persists a notification job in the queued state.
	Enqueue(ctx context.Context, req EnqueueRequest) (uuid.UUID, error)

	// Dispatch runs one bounded pass over the due jobs. Only pass-level failures,
	// which match StoreUnavailableErr, are returned; per-job failures end up on
	// the jobs and in the counts. Cancelling ctx does not interrupt a pass that has
	// started; each send is bounded by the send timeout instead.
	Dispatch(ctx context.Context) (PassResult, error)

	// Recover resolves work abandoned by a dispatcher that died mid-pass.
	Recover(ctx context.Context) (RecoveryResult, error)
}

type PassResult struct {
	RunID     uuid.UUID `json:"runId"`
	Processed int       `json:"processed"`
	Successes int       `json:"successes"`
	Failures  int       `json:"failures"`
}

type RecoveryResult struct {
	ReclaimedJobs int `json:"reclaimedJobs"`
	OrphanedRuns  int `json:"orphanedRuns"`
}

type AppOption func(a *application)

func SetJobRepo(repo JobRepository) AppOption {
	return func(a *application) {
		a.jobRepo = repo
	}
}

func SetJobRunRepo(repo JobRunRepository) AppOption {
	return func(a *application) {
		a.runRepo = repo
	}
}

func SetUserDirectory(users UserDirectory) AppOption {
	return func(a *application) {
		a.users = users
	}
}

func SetTemplateRepo(repo TemplateRepository) AppOption {
	return func(a *application) {
		a.templateRepo = repo
	}
}

func SetResolver(resolver Resolver) AppOption {
	return func(a *application) {
		a.resolver = resolver
	}
}

// SetSender registers the sender for its channel, replacing any previous one.
func SetSender(sender ChannelSender) AppOption {
	return func(a *application) {
		a.senders[sender.Channel()] = sender
	}
}

func SetRetryPolicy(policy RetryPolicy) AppOption {
	return func(a *application) {
		a.retryPolicy = policy
	}
}

func SetBroadcastMode(mode BroadcastMode) AppOption {
	return func(a *application) {
		a.broadcast = mode
	}
}

func SetBatchSize(size int) AppOption {
	return func(a *application) {
		a.batchSize = size
	}
}

// SetConcurrency bounds how many jobs of a pass are processed at once. Zero runs
// the whole batch in parallel.
func SetConcurrency(n int) AppOption {
	return func(a *application) {
		a.concurrency = n
	}
}

func SetDefaultMaxAttempts(n int) AppOption {
	return func(a *application) {
		a.defaultMaxAttempts = n
	}
}

// SetSendTimeout bounds a single delivery attempt. Zero leaves sends unbounded.
func SetSendTimeout(timeout time.Duration) AppOption {
	return func(a *application) {
		a.sendTimeout = timeout
	}
}

func SetLeaseTimeout(timeout time.Duration) AppOption {
	return func(a *application) {
		a.leaseTimeout = timeout
	}
}

func SetJobName(name string) AppOption {
	return func(a *application) {
		a.jobName = name
	}
}

func SetTriggerSecret(secret string) AppOption {
	return func(a *application) {
		a.triggerSecret = secret
	}
}

func SetClock(clock Clock) AppOption {
	return func(a *application) {
		a.clock = clock
	}
}

func SetLogger(logger logrus.FieldLogger) AppOption {
	return func(a *application) {
		a.logger = logger
	}
}

type application struct {
	logger logrus.FieldLogger
	clock  Clock

	jobRepo      JobRepository
	runRepo      JobRunRepository
	users        UserDirectory
	templateRepo TemplateRepository

	resolver  Resolver
	broadcast BroadcastMode
	senders   map[Channel]ChannelSender
	tracker   *Tracker

	retryPolicy        RetryPolicy
	batchSize          int
	concurrency        int
	defaultMaxAttempts int
	sendTimeout        time.Duration
	leaseTimeout       time.Duration
	jobName            string
	triggerSecret      string
}

func NewApplication(options ...AppOption) (Application, error) {
	app := &application{
		logger: logrus.New(),
		clock:  SystemClock{},

		senders: make(map[Channel]ChannelSender),

		retryPolicy:        DefaultRetryPolicy(),
		batchSize:          DefaultBatchSize,
		defaultMaxAttempts: DefaultMaxAttempts,
		sendTimeout:        DefaultSendTimeout,
		leaseTimeout:       DefaultLeaseTimeout,
		jobName:            DefaultJobName,
	}

	for _, option := range options {
		option(app)
	}

	if err := app.ensureUsableConfiguration(); err != nil {
		return app, err
	}

	if app.resolver == nil {
		app.resolver = NewResolver(app.users, app.broadcast)
	}

	app.tracker = NewTracker(app.runRepo, app.clock, app.logger, app.jobName)

	return app, nil
}

func (a *application) ensureUsableConfiguration() error {
	if a.jobRepo == nil {
		return errors.New("Missing job repository")
	}

	if a.runRepo == nil {
		return errors.New("Missing job run repository")
	}

	if a.batchSize <= 0 {
		return errors.New("Batch size must be positive")
	}

	for channel := range a.senders {
		if !channel.Valid() {
			return errors.Errorf("Sender registered for unknown channel %q", channel)
		}
	}

	return nil
}

func (a *application) HttpHandler() *HttpHandler {
	return &HttpHandler{
		app:    a,
		secret: a.triggerSecret,
	}
}

func (a *application) Enqueue(ctx context.Context, req EnqueueRequest) (uuid.UUID, error) {
	job, err := NewJob(req, a.clock.Now(), a.defaultMaxAttempts)
	if err != nil {
		return uuid.Nil, err
	}

	if err := a.jobRepo.Enqueue(ctx, job); err != nil {
		return uuid.Nil, err
	}

	a.logger.
		WithField("job", job.ID).
		WithField("channel", job.Channel).
		WithField("scheduledAt", job.ScheduledAt).
		Debug("notification queued")

	return job.ID, nil
}

func (a *application) Dispatch(ctx context.Context) (PassResult, error) {
	// claimed jobs must be settled even when the trigger goes away
	ctx = context.WithoutCancel(ctx)

	run := a.tracker.Begin(ctx)
	result := PassResult{RunID: run.ID()}

	logger := a.logger.WithField("run", run.ID())

	jobs, err := a.jobRepo.ClaimDue(ctx, a.clock.Now().UTC(), a.batchSize)
	if err != nil {
		run.Abort(ctx, err)

		logger.WithError(err).Error("failed to claim due notifications")
		return result, errors.Wrap(err, "failed to claim due notifications")
	}

	if len(jobs) == 0 {
		run.Complete(ctx, 0, 0, 0)

		logger.Debug("no notifications due")
		return result, nil
	}

	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].ScheduledAt.Before(jobs[j].ScheduledAt)
	})

	logger.WithField("count", len(jobs)).Info("processing queued notifications")

	outcomes := make([]error, len(jobs))

	var group errgroup.Group
	if a.concurrency > 0 {
		group.SetLimit(a.concurrency)
	}

	for i := range jobs {
		i := i
		group.Go(func() error {
			outcomes[i] = a.processIsolated(ctx, &jobs[i])
			return nil
		})
	}

	_ = group.Wait()

	result.Processed = len(jobs)
	for _, outcome := range outcomes {
		if outcome == nil {
			result.Successes++
		} else {
			result.Failures++
		}
	}

	run.Complete(ctx, result.Processed, result.Successes, result.Failures)

	logger.
		WithField("processed", result.Processed).
		WithField("successes", result.Successes).
		WithField("failures", result.Failures).
		Info("notification processing completed")

	return result, nil
}

// processIsolated keeps a panicking sender from taking the rest of the pass down.
func (a *application) processIsolated(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = a.settleFailure(ctx, job, errors.Wrapf(ChannelDispatchErr, "panic: %v", r))
		}
	}()

	return a.process(ctx, job)
}

func (a *application) process(ctx context.Context, job *Job) error {
	if err := a.deliver(ctx, job); err != nil {
		return a.settleFailure(ctx, job, err)
	}

	if err := a.jobRepo.MarkSent(ctx, job.ID, a.clock.Now().UTC()); err != nil {
		a.logger.
			WithField("job", job.ID).
			WithError(err).
			Error("notification delivered but could not be marked sent")

		return err
	}

	return nil
}

func (a *application) deliver(ctx context.Context, job *Job) error {
	sender, ok := a.senders[job.Channel]
	if !ok {
		if job.Channel.Valid() {
			return errors.Wrapf(NotImplementedErr, "%s notifications", job.Channel)
		}

		return errors.Wrapf(NotImplementedErr, "unknown notification channel %q", job.Channel)
	}

	if a.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.sendTimeout)
		defer cancel()
	}

	return sender.Send(ctx, job, func(ctx context.Context) ([]Target, error) {
		return a.resolver.Resolve(ctx, job.Channel, job.Recipient)
	})
}

// settleFailure records err on the job and either requeues it with backoff or
// fails it for good. The returned error is always non-nil.
func (a *application) settleFailure(ctx context.Context, job *Job, cause error) error {
	now := a.clock.Now().UTC()
	kind := ClassifyFailure(cause)
	action := a.retryPolicy.Next(now, job.Attempts, job.MaxAttempts, kind)

	logger := a.logger.
		WithField("job", job.ID).
		WithField("channel", job.Channel).
		WithField("attempts", job.Attempts).
		WithField("maxAttempts", job.MaxAttempts).
		WithError(cause)

	var err error
	if action.Retry {
		err = a.jobRepo.Requeue(ctx, job.ID, action.At, cause.Error(), now)
		logger.WithField("retryAt", action.At).Warn("notification failed, retry scheduled")
	} else {
		err = a.jobRepo.MarkFailed(ctx, job.ID, cause.Error(), now)
		logger.WithField("kind", kind).Error("notification failed permanently")
	}

	if err != nil {
		logger.WithField("storeError", err.Error()).Error("failed to record notification failure")
		return errors.Wrapf(cause, "recording failure: %v", err)
	}

	return cause
}

func (a *application) Recover(ctx context.Context) (RecoveryResult, error) {
	var result RecoveryResult

	now := a.clock.Now().UTC()
	cutoff := now.Add(-a.leaseTimeout)

	reclaimed, err := a.jobRepo.ReclaimStale(ctx, cutoff, now)
	if err != nil {
		return result, errors.Wrap(err, "failed to reclaim stale notifications")
	}
	result.ReclaimedJobs = reclaimed

	orphaned, err := a.runRepo.FailOrphaned(ctx, cutoff, now, "dispatcher stopped before finishing the pass")
	if err != nil {
		return result, errors.Wrap(err, "failed to close orphaned job runs")
	}
	result.OrphanedRuns = orphaned

	if reclaimed > 0 || orphaned > 0 {
		a.logger.
			WithField("reclaimedJobs", reclaimed).
			WithField("orphanedRuns", orphaned).
			Warn("recovered work abandoned by a previous dispatcher")
	}

	return result, nil
}
