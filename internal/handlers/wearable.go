package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/akshaypn/healthup/internal/middleware"
	"github.com/akshaypn/healthup/internal/models"
	"github.com/akshaypn/healthup/internal/services"
)

const defaultDaysBack = 7

type accountService interface {
	Connect(ctx context.Context, userID uuid.UUID, email, password string) (*models.Credentials, error)
	Credentials(ctx context.Context, userID uuid.UUID) (*models.Credentials, error)
	Status(ctx context.Context, userID uuid.UUID) (models.ConnectionStatus, error)
	Profile(ctx context.Context, userID uuid.UUID) (json.RawMessage, error)
	Refresh(ctx context.Context, userID uuid.UUID) (*models.Credentials, error)
	Disconnect(ctx context.Context, userID uuid.UUID) error
	Workouts(ctx context.Context, userID uuid.UUID, limit int) ([]models.WorkoutSummary, error)
}

type daySource interface {
	GetDay(ctx context.Context, userID uuid.UUID, dateISO string, opts services.DayOptions) (*models.DaySummaryView, error)
}

type rangeSyncer interface {
	SyncRange(ctx context.Context, userID uuid.UUID, daysBack int) (models.SyncCounts, error)
}

type jobQueue interface {
	Enqueue(ctx context.Context, job *models.SyncJob) error
}

type WearableHandler struct {
	accounts accountService
	days     daySource
	backfill rangeSyncer
	queue    jobQueue
	now      func() time.Time
}

func NewWearableHandler(accounts accountService, days daySource, backfill rangeSyncer, queue jobQueue) *WearableHandler {
	return &WearableHandler{
		accounts: accounts,
		days:     days,
		backfill: backfill,
		queue:    queue,
		now:      time.Now,
	}
}

func (h *WearableHandler) Connect(w http.ResponseWriter, r *http.Request) {
	var req models.ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	creds, err := h.accounts.Connect(r.Context(), middleware.GetUserID(r.Context()), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.StatusOf(creds))
}

func (h *WearableHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.accounts.Status(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *WearableHandler) Profile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.accounts.Profile(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// GetDay serves ?date=YYYY-MM-DD, defaulting to today in UTC. ?refresh=true
// bypasses the cache.
func (h *WearableHandler) GetDay(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = h.now().UTC().Format("2006-01-02")
	}
	opts := services.DayOptions{Refresh: r.URL.Query().Get("refresh") == "true"}

	view, err := h.days.GetDay(r.Context(), middleware.GetUserID(r.Context()), date, opts)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if view.PersistErr != nil {
		w.Header().Set("X-Cache-Write", "failed")
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *WearableHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	creds, err := h.accounts.Refresh(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.StatusOf(creds))
}

// Sync runs a range backfill inline and returns its counts.
func (h *WearableHandler) Sync(w http.ResponseWriter, r *http.Request) {
	daysBack, err := queryInt(r, "days_back", defaultDaysBack)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	counts, err := h.backfill.SyncRange(r.Context(), middleware.GetUserID(r.Context()), daysBack)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// SyncAsync queues the backfill and returns the job id. Progress arrives
// over the websocket.
func (h *WearableHandler) SyncAsync(w http.ResponseWriter, r *http.Request) {
	daysBack, err := queryInt(r, "days_back", defaultDaysBack)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if daysBack < 0 || daysBack > services.MaxDaysBack {
		handleServiceError(w, r, &services.ValidationError{Fields: map[string]string{"days_back": "out of range"}})
		return
	}

	userID := middleware.GetUserID(r.Context())
	if _, err := h.accounts.Credentials(r.Context(), userID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	job := &models.SyncJob{
		ID:       uuid.New(),
		UserID:   userID,
		Type:     models.JobTypeSync,
		DaysBack: daysBack,
	}
	if err := h.queue.Enqueue(r.Context(), job); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to queue sync", r))
		return
	}

	writeJSON(w, http.StatusAccepted, models.JobAccepted{JobID: job.ID})
}

func (h *WearableHandler) Workouts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", services.DefaultWorkoutLimit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	workouts, err := h.accounts.Workouts(r.Context(), middleware.GetUserID(r.Context()), limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if workouts == nil {
		workouts = []models.WorkoutSummary{}
	}
	writeJSON(w, http.StatusOK, workouts)
}

func (h *WearableHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Disconnect(r.Context(), middleware.GetUserID(r.Context())); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
