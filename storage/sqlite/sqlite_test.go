package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/interactive-solutions/go-notify"
)

func TestStore(t *testing.T) {
	suite.Run(t, new(storeTestSuite))
}

type storeTestSuite struct {
	suite.Suite

	store *Store
	now   time.Time
}

func (suite *storeTestSuite) SetupTest() {
	db, err := Open(filepath.Join(suite.T().TempDir(), "queue.db"))
	require.NoError(suite.T(), err)
	require.NoError(suite.T(), EnsureSchema(db))

	suite.T().Cleanup(func() { db.Close() })

	suite.store = New(db)
	suite.now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (suite *storeTestSuite) enqueue(scheduledAt time.Time, recipient notify.Recipient) notify.Job {
	job, err := notify.NewJob(notify.EnqueueRequest{
		Channel:     notify.ChannelEmail,
		Recipient:   recipient,
		Payload:     map[string]interface{}{"message": "hello", "count": float64(2)},
		ScheduledAt: scheduledAt,
	}, suite.now, notify.DefaultMaxAttempts)
	require.NoError(suite.T(), err)
	require.NoError(suite.T(), suite.store.Enqueue(context.Background(), job))

	return *job
}

func (suite *storeTestSuite) TestEnqueueAndGetRoundTrip() {
	userID := uuid.New()
	job := suite.enqueue(suite.now, notify.UserID(userID))

	stored, err := suite.store.Get(context.Background(), job.ID)
	if !assert.NoError(suite.T(), err) {
		return
	}

	assert.Equal(suite.T(), notify.StatusQueued, stored.Status)
	assert.Equal(suite.T(), notify.UserID(userID), stored.Recipient)
	assert.Equal(suite.T(), "hello", stored.Payload["message"])
	assert.True(suite.T(), stored.ScheduledAt.Equal(job.ScheduledAt))
	assert.Nil(suite.T(), stored.SentAt)
}

func (suite *storeTestSuite) TestGetUnknownJob() {
	_, err := suite.store.Get(context.Background(), uuid.New())
	assert.Equal(suite.T(), notify.JobNotFoundErr, err)
}

func (suite *storeTestSuite) TestClaimDueOrdersAndSkipsFutureJobs() {
	ctx := context.Background()

	late := suite.enqueue(suite.now.Add(-time.Minute), notify.Address("late@example.com"))
	early := suite.enqueue(suite.now.Add(-time.Hour), notify.Address("early@example.com"))
	future := suite.enqueue(suite.now.Add(time.Hour), notify.Address("future@example.com"))

	claimed, err := suite.store.ClaimDue(ctx, suite.now, 10)
	if !assert.NoError(suite.T(), err) {
		return
	}

	if assert.Len(suite.T(), claimed, 2) {
		assert.Equal(suite.T(), early.ID, claimed[0].ID)
		assert.Equal(suite.T(), late.ID, claimed[1].ID)
		assert.Equal(suite.T(), notify.StatusProcessing, claimed[0].Status)
		assert.Equal(suite.T(), 1, claimed[0].Attempts)
		assert.NotNil(suite.T(), claimed[0].LastAttemptAt)
	}

	stored, err := suite.store.Get(ctx, future.ID)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), notify.StatusQueued, stored.Status)

	again, err := suite.store.ClaimDue(ctx, suite.now, 10)
	assert.NoError(suite.T(), err)
	assert.Empty(suite.T(), again)
}

func (suite *storeTestSuite) TestClaimDueRespectsLimit() {
	for i := 0; i < 5; i++ {
		suite.enqueue(suite.now.Add(-time.Duration(i)*time.Minute), notify.Address("a@example.com"))
	}

	claimed, err := suite.store.ClaimDue(context.Background(), suite.now, 3)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), claimed, 3)
}

func (suite *storeTestSuite) TestConcurrentClaimsNeverShareJobs() {
	for i := 0; i < 40; i++ {
		suite.enqueue(suite.now, notify.Address("a@example.com"))
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		seen = make(map[uuid.UUID]int)
	)

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for {
				claimed, err := suite.store.ClaimDue(context.Background(), suite.now, 3)
				if err != nil || len(claimed) == 0 {
					return
				}

				mu.Lock()
				for _, job := range claimed {
					seen[job.ID]++
				}
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Len(suite.T(), seen, 40)
	for id, n := range seen {
		assert.Equal(suite.T(), 1, n, "job %s claimed more than once", id)
	}
}

func (suite *storeTestSuite) TestTransitionsRequireProcessing() {
	ctx := context.Background()
	job := suite.enqueue(suite.now, notify.Address("a@example.com"))

	err := suite.store.MarkSent(ctx, job.ID, suite.now)
	assert.ErrorIs(suite.T(), err, notify.InvalidTransitionErr)

	_, err = suite.store.ClaimDue(ctx, suite.now, 1)
	require.NoError(suite.T(), err)

	assert.NoError(suite.T(), suite.store.MarkSent(ctx, job.ID, suite.now))

	stored, err := suite.store.Get(ctx, job.ID)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), notify.StatusSent, stored.Status)
	if assert.NotNil(suite.T(), stored.SentAt) {
		assert.True(suite.T(), stored.SentAt.Equal(suite.now))
	}

	err = suite.store.MarkFailed(ctx, job.ID, "too late", suite.now)
	assert.ErrorIs(suite.T(), err, notify.InvalidTransitionErr)

	err = suite.store.Requeue(ctx, uuid.New(), suite.now, "missing", suite.now)
	assert.Equal(suite.T(), notify.JobNotFoundErr, err)
}

func (suite *storeTestSuite) TestClaimFailsUndecodableRowsAndKeepsTheRest() {
	ctx := context.Background()
	valid := suite.enqueue(suite.now, notify.Address("a@example.com"))

	broken := uuid.New().String()
	_, err := suite.store.DB().ExecContext(ctx, `
INSERT INTO notification_jobs (id, channel, recipient, payload, status, scheduled_at, created_at, updated_at)
VALUES (?, 'email', ?, '{}', 'queued', ?, ?, ?)`,
		broken, `{"email":"x@y.z","admin":true}`, nanos(suite.now.Add(-time.Minute)), nanos(suite.now), nanos(suite.now))
	require.NoError(suite.T(), err)

	claimed, err := suite.store.ClaimDue(ctx, suite.now, 10)
	require.NoError(suite.T(), err)
	if assert.Len(suite.T(), claimed, 1) {
		assert.Equal(suite.T(), valid.ID, claimed[0].ID)
		assert.Equal(suite.T(), notify.StatusProcessing, claimed[0].Status)
	}

	var status, lastError string
	err = suite.store.DB().QueryRowContext(ctx,
		`SELECT status, last_error FROM notification_jobs WHERE id = ?`, broken).Scan(&status, &lastError)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "failed", status)
	assert.Contains(suite.T(), lastError, "exactly one of")

	claimed, err = suite.store.ClaimDue(ctx, suite.now, 10)
	assert.NoError(suite.T(), err)
	assert.Empty(suite.T(), claimed)
}

func (suite *storeTestSuite) TestRequeueMovesScheduleForward() {
	ctx := context.Background()
	job := suite.enqueue(suite.now, notify.Address("a@example.com"))

	_, err := suite.store.ClaimDue(ctx, suite.now, 1)
	require.NoError(suite.T(), err)

	next := suite.now.Add(2 * time.Minute)
	failedAt := suite.now.Add(30 * time.Second)
	assert.NoError(suite.T(), suite.store.Requeue(ctx, job.ID, next, "smtp timeout", failedAt))

	stored, err := suite.store.Get(ctx, job.ID)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), notify.StatusQueued, stored.Status)
	assert.Equal(suite.T(), "smtp timeout", stored.LastError)
	assert.True(suite.T(), stored.ScheduledAt.Equal(next))
	assert.Equal(suite.T(), 1, stored.Attempts)
	assert.True(suite.T(), stored.UpdatedAt.Equal(failedAt))

	claimed, err := suite.store.ClaimDue(ctx, suite.now.Add(time.Minute), 1)
	assert.NoError(suite.T(), err)
	assert.Empty(suite.T(), claimed)
}

func (suite *storeTestSuite) TestReclaimStale() {
	ctx := context.Background()

	retryable := suite.enqueue(suite.now, notify.Address("a@example.com"))
	exhausted := suite.enqueue(suite.now, notify.Address("b@example.com"))

	_, err := suite.store.DB().ExecContext(ctx, `UPDATE notification_jobs SET attempts = max_attempts - 1 WHERE id = ?`, exhausted.ID.String())
	require.NoError(suite.T(), err)

	_, err = suite.store.ClaimDue(ctx, suite.now, 10)
	require.NoError(suite.T(), err)

	n, err := suite.store.ReclaimStale(ctx, suite.now.Add(time.Minute), suite.now.Add(time.Hour))
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), 2, n)

	stored, _ := suite.store.Get(ctx, retryable.ID)
	assert.Equal(suite.T(), notify.StatusQueued, stored.Status)
	assert.Equal(suite.T(), "lease expired", stored.LastError)

	stored, _ = suite.store.Get(ctx, exhausted.ID)
	assert.Equal(suite.T(), notify.StatusFailed, stored.Status)
}

func (suite *storeTestSuite) TestMatchingFiltersAndPages() {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		suite.enqueue(suite.now, notify.Address("a@example.com"))
	}

	_, err := suite.store.ClaimDue(ctx, suite.now, 2)
	require.NoError(suite.T(), err)

	jobs, total, err := suite.store.Matching(ctx, notify.JobCriteria{Status: notify.StatusQueued, Limit: 2})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), 3, total)
	assert.Len(suite.T(), jobs, 2)

	jobs, total, err = suite.store.Matching(ctx, notify.JobCriteria{Offset: 4})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), 5, total)
	assert.Len(suite.T(), jobs, 1)
}

func (suite *storeTestSuite) TestJobRunLifecycle() {
	ctx := context.Background()

	run := &notify.JobRun{
		ID:        uuid.New(),
		JobName:   notify.DefaultJobName,
		Status:    notify.RunRunning,
		StartedAt: suite.now,
	}
	require.NoError(suite.T(), suite.store.Start(ctx, run))

	finishedAt := suite.now.Add(time.Second)
	run.Status = notify.RunSuccess
	run.FinishedAt = &finishedAt
	run.ProcessedCount, run.SuccessCount, run.FailureCount = 3, 2, 1
	assert.NoError(suite.T(), suite.store.Finish(ctx, run))

	err := suite.store.Finish(ctx, run)
	assert.ErrorIs(suite.T(), err, notify.InvalidTransitionErr)

	runs, err := suite.store.Recent(ctx, notify.DefaultJobName, 10)
	assert.NoError(suite.T(), err)
	if assert.Len(suite.T(), runs, 1) {
		assert.Equal(suite.T(), notify.RunSuccess, runs[0].Status)
		assert.Equal(suite.T(), 3, runs[0].ProcessedCount)
		assert.Equal(suite.T(), 2, runs[0].SuccessCount)
		assert.Equal(suite.T(), 1, runs[0].FailureCount)
	}
}

func (suite *storeTestSuite) TestFailOrphanedRuns() {
	ctx := context.Background()

	stale := &notify.JobRun{ID: uuid.New(), JobName: notify.DefaultJobName, Status: notify.RunRunning, StartedAt: suite.now.Add(-time.Hour)}
	fresh := &notify.JobRun{ID: uuid.New(), JobName: notify.DefaultJobName, Status: notify.RunRunning, StartedAt: suite.now}
	require.NoError(suite.T(), suite.store.Start(ctx, stale))
	require.NoError(suite.T(), suite.store.Start(ctx, fresh))

	n, err := suite.store.FailOrphaned(ctx, suite.now.Add(-time.Minute), suite.now, "lease expired")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), 1, n)

	runs, err := suite.store.Recent(ctx, "", 0)
	assert.NoError(suite.T(), err)
	if assert.Len(suite.T(), runs, 2) {
		assert.Equal(suite.T(), notify.RunRunning, runs[0].Status)
		assert.Equal(suite.T(), notify.RunFailed, runs[1].Status)
		assert.Equal(suite.T(), "lease expired", runs[1].ErrorMessage)
	}
}

func (suite *storeTestSuite) TestUserDirectory() {
	ctx := context.Background()

	admin := notify.User{ID: uuid.New(), Email: "Admin@Example.com", Role: notify.RoleAdmin, Status: "active"}
	inactive := notify.User{ID: uuid.New(), Email: "old@example.com", Role: notify.RoleSuperAdmin, Status: "disabled"}
	customer := notify.User{ID: uuid.New(), Email: "c@example.com", Role: "customer", Status: "active"}

	for _, u := range []notify.User{admin, inactive, customer} {
		require.NoError(suite.T(), suite.store.SaveUser(ctx, u))
	}

	found, err := suite.store.FindUserByEmail(ctx, "admin@example.com")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), admin.ID, found.ID)

	_, err = suite.store.GetUser(ctx, uuid.New())
	assert.Equal(suite.T(), notify.RecipientNotFoundErr, err)

	admins, err := suite.store.ActiveAdmins(ctx)
	assert.NoError(suite.T(), err)
	if assert.Len(suite.T(), admins, 1) {
		assert.Equal(suite.T(), admin.ID, admins[0].ID)
	}
}

func (suite *storeTestSuite) TestNotificationsAndTemplates() {
	ctx := context.Background()
	userID := uuid.New()

	n := &notify.InAppNotification{
		ID:        uuid.New(),
		UserID:    userID,
		JobID:     uuid.New(),
		Title:     "Order shipped",
		Message:   "Your order is on its way",
		Category:  "system",
		Priority:  "normal",
		Metadata:  map[string]interface{}{"orderId": "42"},
		CreatedAt: suite.now,
	}
	require.NoError(suite.T(), suite.store.CreateNotification(ctx, n))

	stored, err := suite.store.Notifications(ctx, userID)
	assert.NoError(suite.T(), err)
	if assert.Len(suite.T(), stored, 1) {
		assert.Equal(suite.T(), "Order shipped", stored[0].Title)
		assert.Equal(suite.T(), "42", stored[0].Metadata["orderId"])
	}

	_, err = suite.store.GetTemplate(ctx, "welcome")
	assert.Equal(suite.T(), notify.TemplateNotFoundErr, err)

	tpl := &notify.Template{Name: "welcome", Enabled: true, Subject: "Hi {{name}}", CreatedAt: suite.now, UpdatedAt: suite.now}
	require.NoError(suite.T(), suite.store.SaveTemplate(ctx, tpl))

	tpl.Enabled = false
	require.NoError(suite.T(), suite.store.SaveTemplate(ctx, tpl))

	got, err := suite.store.GetTemplate(ctx, "welcome")
	assert.NoError(suite.T(), err)
	assert.False(suite.T(), got.Enabled)
	assert.Equal(suite.T(), "Hi {{name}}", got.Subject)
}
