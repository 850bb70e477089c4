package notify

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/interactive-solutions/go-notify/internal"
)

const (
	CronSecretHeader = "X-Cron-Secret"

	defaultListLimit = 50
	maxListLimit     = 500
)

type HttpHandler struct {
	app    *application
	secret string
}

// Router exposes the trigger, enqueue and inspection endpoints. Everything except
// /health requires the shared secret.
func (h *HttpHandler) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(h.authenticate)

	api.HandleFunc("/dispatch", h.Dispatch).Methods(http.MethodGet, http.MethodPost)
	api.HandleFunc("/jobs", h.EnqueueJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs", h.ListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", h.GetJob).Methods(http.MethodGet)
	api.HandleFunc("/runs", h.ListRuns).Methods(http.MethodGet)
	api.HandleFunc("/templates/{name}", h.GetTemplate).Methods(http.MethodGet)
	api.HandleFunc("/templates/{name}", h.UpdateTemplate).Methods(http.MethodPut)

	return middleware.RequestID(middleware.Recoverer(r))
}

func (h *HttpHandler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.authorized(r) {
			h.app.logger.
				WithField("path", r.URL.Path).
				WithField("remoteAddr", r.RemoteAddr).
				Warn("unauthorized notification queue access")

			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *HttpHandler) authorized(r *http.Request) bool {
	if h.secret == "" {
		return false
	}

	if bearer := r.Header.Get("Authorization"); strings.HasPrefix(bearer, "Bearer ") {
		if secretEqual(strings.TrimPrefix(bearer, "Bearer "), h.secret) {
			return true
		}
	}

	return secretEqual(r.Header.Get(CronSecretHeader), h.secret)
}

func secretEqual(given, want string) bool {
	return subtle.ConstantTimeCompare([]byte(given), []byte(want)) == 1
}

func (h *HttpHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HttpHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	result, err := h.app.Dispatch(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to process queued notifications")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		PassResult
	}{true, result})
}

type jobResponse struct {
	Job
	To RecipientField `json:"to"`
}

func newJobResponse(job Job) jobResponse {
	return jobResponse{Job: job, To: RecipientField{job.Recipient}}
}

func (h *HttpHandler) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	body := &internal.EnqueueRequest{}
	if err := json.NewDecoder(r.Body).Decode(body); err != nil {
		writeError(w, http.StatusBadRequest, "Failed to parse incoming json")
		return
	}

	req := EnqueueRequest{
		Channel:      Channel(body.Channel),
		TemplateName: body.TemplateName,
		Subject:      body.Subject,
		Payload:      body.Payload,
		MaxAttempts:  body.MaxAttempts,
	}

	if len(body.To) > 0 && string(body.To) != "null" {
		recipient, err := UnmarshalRecipient(body.To)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Recipient = recipient
	}

	if body.ScheduledAt != nil {
		req.ScheduledAt = *body.ScheduledAt
	}

	id, err := h.app.Enqueue(r.Context(), req)
	if err != nil {
		if errors.Is(err, ValidationErr) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		writeError(w, http.StatusInternalServerError, "Failed to enqueue notification")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"id": id.String()})
}

func (h *HttpHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid job id")
		return
	}

	job, err := h.app.jobRepo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, JobNotFoundErr) {
			writeError(w, http.StatusNotFound, "Job not found")
			return
		}

		writeError(w, http.StatusInternalServerError, "Failed to retrieve job")
		return
	}

	writeJSON(w, http.StatusOK, newJobResponse(job))
}

func (h *HttpHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	criteria := JobCriteria{
		Status:  Status(query.Get("status")),
		Channel: Channel(query.Get("channel")),
		Limit:   queryInt(query.Get("limit"), defaultListLimit),
		Offset:  queryInt(query.Get("offset"), 0),
	}

	if criteria.Limit <= 0 || criteria.Limit > maxListLimit {
		criteria.Limit = maxListLimit
	}

	if criteria.Offset < 0 {
		criteria.Offset = 0
	}

	if criteria.Channel != "" && !criteria.Channel.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown channel")
		return
	}

	jobs, total, err := h.app.jobRepo.Matching(r.Context(), criteria)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve jobs")
		return
	}

	data := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		data = append(data, newJobResponse(job))
	}

	writeJSON(w, http.StatusOK, struct {
		Data  []jobResponse `json:"data"`
		Total int           `json:"total"`
	}{data, total})
}

func (h *HttpHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r.URL.Query().Get("limit"), defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	runs, err := h.app.runRepo.Recent(r.Context(), h.app.jobName, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve job runs")
		return
	}

	if runs == nil {
		runs = []JobRun{}
	}

	writeJSON(w, http.StatusOK, struct {
		Data []JobRun `json:"data"`
	}{runs})
}

func (h *HttpHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	if h.app.templateRepo == nil {
		writeError(w, http.StatusNotFound, "Templates are not configured")
		return
	}

	template, err := h.app.templateRepo.GetTemplate(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		if errors.Is(err, TemplateNotFoundErr) {
			writeError(w, http.StatusNotFound, "Template not found")
			return
		}

		writeError(w, http.StatusInternalServerError, "Failed to retrieve template")
		return
	}

	writeJSON(w, http.StatusOK, template)
}

func (h *HttpHandler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	if h.app.templateRepo == nil {
		writeError(w, http.StatusNotFound, "Templates are not configured")
		return
	}

	name := mux.Vars(r)["name"]

	body := &internal.UpdateTemplateRequest{}
	if err := json.NewDecoder(r.Body).Decode(body); err != nil {
		writeError(w, http.StatusBadRequest, "Failed to parse incoming json")
		return
	}

	template, err := h.app.templateRepo.GetTemplate(r.Context(), name)
	switch {
	case err == nil:
	case errors.Is(err, TemplateNotFoundErr):
		template = Template{Name: name, CreatedAt: h.app.clock.Now().UTC()}
	default:
		writeError(w, http.StatusInternalServerError, "Failed to retrieve template")
		return
	}

	template.Enabled = body.Enabled
	template.Description = body.Description
	template.Subject = body.Subject
	template.HtmlBody = body.HtmlBody
	template.TextBody = body.TextBody
	template.UpdatedAt = h.app.clock.Now().UTC()

	if err := h.app.templateRepo.SaveTemplate(r.Context(), &template); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update template")
		return
	}

	writeJSON(w, http.StatusOK, template)
}

func queryInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}

	return n
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Failed to convert to json", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
