package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/interactive-solutions/go-notify"
	"github.com/interactive-solutions/go-notify/storage/memory"
)

const testSecret = "s3cret"

func TestHttpHandler(t *testing.T) {
	suite.Run(t, new(httpHandlerTestSuite))
}

type httpHandlerTestSuite struct {
	suite.Suite

	store     *memory.Store
	transport *recordingTransport
	server    *httptest.Server
}

func (suite *httpHandlerTestSuite) SetupTest() {
	logger, _ := test.NewNullLogger()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}

	suite.store = memory.New()
	suite.transport = &recordingTransport{}

	app, err := notify.NewApplication(
		notify.SetLogger(logger),
		notify.SetClock(clock),
		notify.SetJobRepo(suite.store),
		notify.SetJobRunRepo(suite.store),
		notify.SetUserDirectory(suite.store),
		notify.SetTemplateRepo(suite.store),
		notify.SetTriggerSecret(testSecret),
		notify.SetSender(notify.NewEmailSender(suite.transport, notify.SetEmailLogger(logger))),
	)
	require.NoError(suite.T(), err)

	suite.server = httptest.NewServer(app.HttpHandler().Router())
}

func (suite *httpHandlerTestSuite) TearDownTest() {
	suite.server.Close()
}

func (suite *httpHandlerTestSuite) do(method, path, body string, headers map[string]string) (*http.Response, map[string]interface{}) {
	req, err := http.NewRequest(method, suite.server.URL+path, strings.NewReader(body))
	require.NoError(suite.T(), err)

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(suite.T(), err)
	defer resp.Body.Close()

	decoded := map[string]interface{}{}
	json.NewDecoder(resp.Body).Decode(&decoded)

	return resp, decoded
}

func authorized() map[string]string {
	return map[string]string{"Authorization": "Bearer " + testSecret}
}

func (suite *httpHandlerTestSuite) TestHealthNeedsNoSecret() {
	resp, body := suite.do(http.MethodGet, "/health", "", nil)

	assert.Equal(suite.T(), http.StatusOK, resp.StatusCode)
	assert.Equal(suite.T(), "ok", body["status"])
}

func (suite *httpHandlerTestSuite) TestDispatchRejectsMissingOrWrongSecret() {
	resp, body := suite.do(http.MethodGet, "/dispatch", "", nil)
	assert.Equal(suite.T(), http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(suite.T(), "Unauthorized", body["error"])

	resp, _ = suite.do(http.MethodGet, "/dispatch", "", map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(suite.T(), http.StatusUnauthorized, resp.StatusCode)

	resp, _ = suite.do(http.MethodGet, "/dispatch", "", map[string]string{notify.CronSecretHeader: "nope"})
	assert.Equal(suite.T(), http.StatusUnauthorized, resp.StatusCode)
}

func (suite *httpHandlerTestSuite) TestDispatchReportsCounts() {
	resp, body := suite.do(http.MethodPost, "/jobs",
		`{"channel":"email","to":{"email":"a@b.com"},"payload":{"message":"hi"}}`, authorized())
	require.Equal(suite.T(), http.StatusAccepted, resp.StatusCode)
	assert.NotEmpty(suite.T(), body["id"])

	resp, body = suite.do(http.MethodGet, "/dispatch", "", map[string]string{notify.CronSecretHeader: testSecret})
	assert.Equal(suite.T(), http.StatusOK, resp.StatusCode)
	assert.Equal(suite.T(), true, body["success"])
	assert.Equal(suite.T(), 1.0, body["processed"])
	assert.Equal(suite.T(), 1.0, body["successes"])
	assert.Equal(suite.T(), 0.0, body["failures"])

	assert.Len(suite.T(), suite.transport.Messages(), 1)

	id, err := uuid.Parse(body["runId"].(string))
	require.NoError(suite.T(), err)

	run, ok := suite.store.Run(id)
	assert.True(suite.T(), ok)
	assert.Equal(suite.T(), notify.RunSuccess, run.Status)
}

func (suite *httpHandlerTestSuite) TestEnqueueRejectsInvalidRequests() {
	for _, body := range []string{
		`not json`,
		`{"channel":"fax","to":{"email":"a@b.com"},"payload":{}}`,
		`{"channel":"email","to":{"email":"a@b.com","admin":true},"payload":{}}`,
		`{"channel":"email","payload":{}}`,
		`{"channel":"email","to":{"email":"a@b.com"}}`,
	} {
		resp, decoded := suite.do(http.MethodPost, "/jobs", body, authorized())
		assert.Equal(suite.T(), http.StatusBadRequest, resp.StatusCode, body)
		assert.NotEmpty(suite.T(), decoded["error"], body)
	}
}

func (suite *httpHandlerTestSuite) TestGetJob() {
	_, created := suite.do(http.MethodPost, "/jobs",
		`{"channel":"inapp","to":{"admin":true},"payload":{}}`, authorized())

	resp, job := suite.do(http.MethodGet, "/jobs/"+created["id"].(string), "", authorized())
	assert.Equal(suite.T(), http.StatusOK, resp.StatusCode)
	assert.Equal(suite.T(), "queued", job["status"])
	assert.Equal(suite.T(), map[string]interface{}{"admin": true}, job["to"])

	resp, _ = suite.do(http.MethodGet, "/jobs/"+uuid.New().String(), "", authorized())
	assert.Equal(suite.T(), http.StatusNotFound, resp.StatusCode)

	resp, _ = suite.do(http.MethodGet, "/jobs/nope", "", authorized())
	assert.Equal(suite.T(), http.StatusBadRequest, resp.StatusCode)
}

func (suite *httpHandlerTestSuite) TestListJobsAndRuns() {
	for i := 0; i < 3; i++ {
		suite.do(http.MethodPost, "/jobs", `{"channel":"email","to":{"email":"a@b.com"},"payload":{}}`, authorized())
	}

	resp, body := suite.do(http.MethodGet, "/jobs?status=queued&limit=2", "", authorized())
	assert.Equal(suite.T(), http.StatusOK, resp.StatusCode)
	assert.Equal(suite.T(), 3.0, body["total"])
	assert.Len(suite.T(), body["data"], 2)

	resp, _ = suite.do(http.MethodGet, "/jobs?channel=fax", "", authorized())
	assert.Equal(suite.T(), http.StatusBadRequest, resp.StatusCode)

	suite.do(http.MethodPost, "/dispatch", "", authorized())

	resp, body = suite.do(http.MethodGet, "/runs", "", authorized())
	assert.Equal(suite.T(), http.StatusOK, resp.StatusCode)
	assert.Len(suite.T(), body["data"], 1)
}

func (suite *httpHandlerTestSuite) TestTemplates() {
	resp, _ := suite.do(http.MethodGet, "/templates/welcome", "", authorized())
	assert.Equal(suite.T(), http.StatusNotFound, resp.StatusCode)

	resp, body := suite.do(http.MethodPut, "/templates/welcome",
		`{"enabled":true,"subject":"Welcome {{name}}","htmlBody":"<p>hi</p>"}`, authorized())
	assert.Equal(suite.T(), http.StatusOK, resp.StatusCode)
	assert.Equal(suite.T(), "welcome", body["name"])

	resp, body = suite.do(http.MethodGet, "/templates/welcome", "", authorized())
	assert.Equal(suite.T(), http.StatusOK, resp.StatusCode)
	assert.Equal(suite.T(), true, body["enabled"])
	assert.Equal(suite.T(), "Welcome {{name}}", body["subject"])
}

type criteriaRecorder struct {
	*memory.Store

	criteria []notify.JobCriteria
}

func (r *criteriaRecorder) Matching(ctx context.Context, criteria notify.JobCriteria) ([]notify.Job, int, error) {
	r.criteria = append(r.criteria, criteria)
	return r.Store.Matching(ctx, criteria)
}

func TestListJobsClampsPaging(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := memory.New()
	recorder := &criteriaRecorder{Store: store}

	app, err := notify.NewApplication(
		notify.SetLogger(logger),
		notify.SetJobRepo(recorder),
		notify.SetJobRunRepo(store),
		notify.SetTriggerSecret(testSecret),
	)
	require.NoError(t, err)

	for _, query := range []string{"?offset=-5&limit=-1", "?offset=10&limit=100000"} {
		req := httptest.NewRequest(http.MethodGet, "/jobs"+query, nil)
		req.Header.Set(notify.CronSecretHeader, testSecret)

		rec := httptest.NewRecorder()
		app.HttpHandler().Router().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code, query)
	}

	if assert.Len(t, recorder.criteria, 2) {
		assert.Equal(t, 0, recorder.criteria[0].Offset)
		assert.Equal(t, 500, recorder.criteria[0].Limit)
		assert.Equal(t, 10, recorder.criteria[1].Offset)
		assert.Equal(t, 500, recorder.criteria[1].Limit)
	}
}
