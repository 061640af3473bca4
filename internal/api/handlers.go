package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mossline/revport/internal/content"
	"github.com/mossline/revport/internal/notify"
	"github.com/mossline/revport/internal/reminder"
	"github.com/mossline/revport/internal/storage"
	"github.com/mossline/revport/internal/worker"
)

const maxRequestBodySize = 1 << 20 // 1MB

// ReminderRunner executes one reminder pass.
type ReminderRunner interface {
	Run(ctx context.Context) (reminder.Report, error)
}

// Notifier delivers one text message.
type Notifier interface {
	Send(ctx context.Context, to, body string) error
}

type Deps struct {
	Store     *storage.Store
	Reminders ReminderRunner
	Notifier  Notifier // optional; if nil, /sms returns 503
	Token     string
	// CronSecret authenticates /cron/* trigger calls; empty disables them.
	CronSecret string
}

func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	// Cron triggers carry their own shared secret instead of the API token.
	r.Post("/cron/reminders", handleCronReminders(deps))
	r.Get("/cron/reminders", handleCronReminders(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/content", handleListContent(deps))
		r.Post("/content", handleCreateContent(deps))
		r.Get("/content/{id}", handleGetContent(deps))
		r.Post("/content/{id}/review", handleReviewContent(deps))

		r.Get("/clients", handleListClients(deps))
		r.Post("/clients", handleCreateClient(deps))
		r.Get("/clients/{id}", handleGetClient(deps))
		r.Put("/clients/{id}", handleUpdateClient(deps))

		r.Post("/generate", handleGenerate(deps))
		r.Post("/reminders/run", handleRunReminders(deps))
		r.Get("/reminders/events", handleListReminderEvents(deps))
		r.Post("/sms", handleSendSMS(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleListContent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID := r.URL.Query().Get("client_id")
		limit := parseIntParam(r, "limit", 50, 500)

		var status content.Status
		if s := r.URL.Query().Get("status"); s != "" {
			parsed, err := content.ParseStatus(s)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid status: %v", err)
				return
			}
			status = parsed
		}

		var items []content.Item
		var err error
		if clientID != "" {
			items, err = deps.Store.ListContentItemsByClient(clientID, status, limit)
		} else {
			items, err = deps.Store.ListContentItems()
			if err == nil {
				items = filterItems(items, status, limit)
			}
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list content: %v", err)
			return
		}

		if items == nil {
			items = []content.Item{}
		}
		writeJSON(w, items)
	}
}

func filterItems(items []content.Item, status content.Status, limit int) []content.Item {
	out := items[:0]
	for _, it := range items {
		if status != "" && it.Status != status {
			continue
		}
		out = append(out, it)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func handleGetContent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := deps.Store.GetContentItem(chi.URLParam(r, "id"))
		if errors.Is(err, content.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "content item not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get content: %v", err)
			return
		}
		writeJSON(w, item)
	}
}

type createContentRequest struct {
	ClientID    string `json:"client_id"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`
}

func handleCreateContent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req createContentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.ClientID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "client_id is required")
			return
		}
		typ, err := content.ParseType(req.Type)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid type: %v", err)
			return
		}
		if _, err := deps.Store.GetClient(req.ClientID); errors.Is(err, content.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "client not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load client: %v", err)
			return
		}

		item := content.Item{
			ID:          uuid.New().String(),
			ClientID:    req.ClientID,
			Type:        typ,
			Title:       req.Title,
			Description: req.Description,
			Content:     req.Content,
			Status:      content.StatusPending,
			CreatedAt:   time.Now().UTC(),
		}
		if err := deps.Store.UpsertContentItem(item); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save content: %v", err)
			return
		}

		writeJSONStatus(w, http.StatusCreated, item)
	}
}

type reviewRequest struct {
	Action   string `json:"action"`
	Feedback string `json:"feedback"`
}

func handleReviewContent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req reviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		var target content.Status
		switch req.Action {
		case "approve":
			target = content.StatusApproved
		case "reject":
			target = content.StatusRejected
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "action must be approve or reject")
			return
		}

		item, err := deps.Store.ReviewContentItem(chi.URLParam(r, "id"), target, req.Feedback, time.Now().UTC())
		if errors.Is(err, content.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "content item not found")
			return
		}
		if errors.Is(err, content.ErrAlreadyReviewed) {
			httpError(w, http.StatusConflict, "conflict", "content item already reviewed")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to review content: %v", err)
			return
		}
		writeJSON(w, item)
	}
}

type clientRequest struct {
	CompanyName     string `json:"company_name"`
	FirstName       string `json:"first_name"`
	PhoneNumber     string `json:"phone_number"`
	Industry        string `json:"industry"`
	TargetAudience  string `json:"target_audience"`
	Goals           string `json:"goals"`
	BrandVoice      string `json:"brand_voice"`
	Differentiators string `json:"differentiators"`
	PrimaryMarkets  string `json:"primary_markets"`
	AINotes         string `json:"ai_notes"`
}

func (req clientRequest) toClient(id string, createdAt time.Time) content.Client {
	phone := req.PhoneNumber
	if phone != "" {
		phone = notify.NormalizePhone(phone)
	}
	return content.Client{
		ID:              id,
		CompanyName:     req.CompanyName,
		FirstName:       req.FirstName,
		PhoneNumber:     phone,
		Industry:        req.Industry,
		TargetAudience:  req.TargetAudience,
		Goals:           req.Goals,
		BrandVoice:      req.BrandVoice,
		Differentiators: req.Differentiators,
		PrimaryMarkets:  req.PrimaryMarkets,
		AINotes:         req.AINotes,
		CreatedAt:       createdAt,
	}
}

func handleListClients(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clients, err := deps.Store.ListClients()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list clients: %v", err)
			return
		}
		if clients == nil {
			clients = []content.Client{}
		}
		writeJSON(w, clients)
	}
}

func handleCreateClient(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req clientRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.CompanyName == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "company_name is required")
			return
		}

		client := req.toClient(uuid.New().String(), time.Now().UTC())
		if err := deps.Store.SaveClient(client); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save client: %v", err)
			return
		}

		writeJSONStatus(w, http.StatusCreated, client)
	}
}

func handleGetClient(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client, err := deps.Store.GetClient(chi.URLParam(r, "id"))
		if errors.Is(err, content.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "client not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get client: %v", err)
			return
		}
		writeJSON(w, client)
	}
}

func handleUpdateClient(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		existing, err := deps.Store.GetClient(id)
		if errors.Is(err, content.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "client not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get client: %v", err)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req clientRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.CompanyName == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "company_name is required")
			return
		}

		client := req.toClient(id, existing.CreatedAt)
		if err := deps.Store.UpdateClient(client); err != nil {
			if errors.Is(err, content.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "client not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update client: %v", err)
			return
		}
		writeJSON(w, client)
	}
}

type generateRequest struct {
	ClientID   string `json:"client_id"`
	AdminNotes string `json:"admin_notes"`
}

// handleGenerate enqueues one generation job per requested client. With no
// client_id, every client gets a job.
func handleGenerate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		var clientIDs []string
		if req.ClientID != "" {
			if _, err := deps.Store.GetClient(req.ClientID); errors.Is(err, content.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "client not found")
				return
			} else if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to load client: %v", err)
				return
			}
			clientIDs = []string{req.ClientID}
		} else {
			clients, err := deps.Store.ListClients()
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to list clients: %v", err)
				return
			}
			for _, c := range clients {
				clientIDs = append(clientIDs, c.ID)
			}
		}

		jobIDs := make([]string, 0, len(clientIDs))
		for _, clientID := range clientIDs {
			job, err := worker.NewGenerateJob(clientID, req.AdminNotes)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to create job: %v", err)
				return
			}
			if err := deps.Store.EnqueueJob(job); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
				return
			}
			jobIDs = append(jobIDs, job.ID)
		}

		writeJSONStatus(w, http.StatusAccepted, map[string]any{
			"status":  "queued",
			"job_ids": jobIDs,
		})
	}
}

func handleRunReminders(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runReminders(w, r, deps)
	}
}

// handleCronReminders is the external scheduler entry point. It accepts the
// shared secret either as a bearer token or in the X-Cron-Secret header.
func handleCronReminders(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.CronSecret == "" {
			httpError(w, http.StatusServiceUnavailable, "not_configured", "cron trigger is not configured")
			return
		}
		provided := r.Header.Get("X-Cron-Secret")
		if provided == "" {
			const prefix = "Bearer "
			if auth := r.Header.Get("Authorization"); len(auth) > len(prefix) {
				provided = auth[len(prefix):]
			}
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(deps.CronSecret)) != 1 {
			httpError(w, http.StatusUnauthorized, "authentication_error", "invalid cron secret")
			return
		}
		runReminders(w, r, deps)
	}
}

func runReminders(w http.ResponseWriter, r *http.Request, deps Deps) {
	report, err := deps.Reminders.Run(r.Context())
	if errors.Is(err, notify.ErrNotConfigured) {
		httpError(w, http.StatusServiceUnavailable, "not_configured", "SMS delivery is not configured")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "reminder run failed: %v", err)
		return
	}
	writeJSON(w, report)
}

func handleListReminderEvents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 500)
		events, err := deps.Store.ListReminderEvents(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list reminder events: %v", err)
			return
		}
		if events == nil {
			events = []storage.ReminderEvent{}
		}
		writeJSON(w, events)
	}
}

type smsRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

func handleSendSMS(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Notifier == nil {
			httpError(w, http.StatusServiceUnavailable, "not_configured", "SMS delivery is not configured")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req smsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.To == "" || req.Body == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "to and body are required")
			return
		}

		if err := deps.Notifier.Send(r.Context(), req.To, req.Body); err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to send SMS: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "sent"})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
