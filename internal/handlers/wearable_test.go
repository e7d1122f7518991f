package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akshaypn/healthup/internal/decoder"
	"github.com/akshaypn/healthup/internal/middleware"
	"github.com/akshaypn/healthup/internal/models"
	"github.com/akshaypn/healthup/internal/services"
)

type stubAccounts struct {
	creds      *models.Credentials
	err        error
	workouts   []models.WorkoutSummary
	gotEmail   string
	gotLimit   int
	disconnect int
	status     models.ConnectionStatus
	profile    json.RawMessage
}

func (s *stubAccounts) Connect(ctx context.Context, userID uuid.UUID, email, password string) (*models.Credentials, error) {
	s.gotEmail = email
	return s.creds, s.err
}

func (s *stubAccounts) Credentials(ctx context.Context, userID uuid.UUID) (*models.Credentials, error) {
	return s.creds, s.err
}

func (s *stubAccounts) Status(ctx context.Context, userID uuid.UUID) (models.ConnectionStatus, error) {
	return s.status, s.err
}

func (s *stubAccounts) Profile(ctx context.Context, userID uuid.UUID) (json.RawMessage, error) {
	return s.profile, s.err
}

func (s *stubAccounts) Refresh(ctx context.Context, userID uuid.UUID) (*models.Credentials, error) {
	return s.creds, s.err
}

func (s *stubAccounts) Disconnect(ctx context.Context, userID uuid.UUID) error {
	s.disconnect++
	return s.err
}

func (s *stubAccounts) Workouts(ctx context.Context, userID uuid.UUID, limit int) ([]models.WorkoutSummary, error) {
	s.gotLimit = limit
	return s.workouts, s.err
}

type stubDays struct {
	view    *models.DaySummaryView
	err     error
	gotDate string
	gotOpts services.DayOptions
}

func (s *stubDays) GetDay(ctx context.Context, userID uuid.UUID, dateISO string, opts services.DayOptions) (*models.DaySummaryView, error) {
	s.gotDate = dateISO
	s.gotOpts = opts
	return s.view, s.err
}

type stubBackfill struct {
	counts  models.SyncCounts
	err     error
	gotDays int
}

func (s *stubBackfill) SyncRange(ctx context.Context, userID uuid.UUID, daysBack int) (models.SyncCounts, error) {
	s.gotDays = daysBack
	return s.counts, s.err
}

type stubQueue struct {
	jobs []*models.SyncJob
	err  error
}

func (s *stubQueue) Enqueue(ctx context.Context, job *models.SyncJob) error {
	s.jobs = append(s.jobs, job)
	return s.err
}

var testUser = uuid.MustParse("0b9c7a4e-2f0e-4a51-8d2a-7d1b3c5e6f70")

func authed(req *http.Request) *http.Request {
	return req.WithContext(middleware.WithUserID(req.Context(), testUser))
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) models.APIError {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return resp.Error
}

func TestConnect(t *testing.T) {
	accounts := &stubAccounts{creds: &models.Credentials{UserID: testUser, RemoteUserID: "1234", AppToken: "secret"}}
	h := NewWearableHandler(accounts, &stubDays{}, &stubBackfill{}, &stubQueue{})

	body, _ := json.Marshal(models.ConnectRequest{Email: "runner@example.com", Password: "pw"})
	rr := httptest.NewRecorder()
	h.Connect(rr, authed(httptest.NewRequest(http.MethodPost, "/api/v1/wearable/connect", bytes.NewReader(body))))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "runner@example.com", accounts.gotEmail)
	assert.NotContains(t, rr.Body.String(), "secret")

	var status models.ConnectionStatus
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&status))
	assert.True(t, status.Connected)
	assert.Equal(t, "1234", status.RemoteUserID)
}

func TestConnectBadBody(t *testing.T) {
	h := NewWearableHandler(&stubAccounts{}, &stubDays{}, &stubBackfill{}, &stubQueue{})

	rr := httptest.NewRecorder()
	h.Connect(rr, authed(httptest.NewRequest(http.MethodPost, "/api/v1/wearable/connect", bytes.NewBufferString("{"))))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rr).Code)
}

func TestGetDay(t *testing.T) {
	days := &stubDays{view: &models.DaySummaryView{Date: "2024-03-10", Steps: 8342, Cached: true}}
	h := NewWearableHandler(&stubAccounts{}, days, &stubBackfill{}, &stubQueue{})

	rr := httptest.NewRecorder()
	h.GetDay(rr, authed(httptest.NewRequest(http.MethodGet, "/api/v1/wearable/day?date=2024-03-10&refresh=true", nil)))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "2024-03-10", days.gotDate)
	assert.True(t, days.gotOpts.Refresh)

	var view models.DaySummaryView
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&view))
	assert.Equal(t, 8342, view.Steps)
	assert.True(t, view.Cached)
}

func TestGetDayDefaultsToToday(t *testing.T) {
	days := &stubDays{view: &models.DaySummaryView{}}
	h := NewWearableHandler(&stubAccounts{}, days, &stubBackfill{}, &stubQueue{})
	h.now = func() time.Time { return time.Date(2024, 3, 10, 23, 30, 0, 0, time.FixedZone("x", -3*3600)) }

	rr := httptest.NewRecorder()
	h.GetDay(rr, authed(httptest.NewRequest(http.MethodGet, "/api/v1/wearable/day", nil)))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "2024-03-11", days.gotDate)
	assert.False(t, days.gotOpts.Refresh)
}

func TestGetDayFlagsFailedCacheWrite(t *testing.T) {
	days := &stubDays{view: &models.DaySummaryView{Date: "2024-03-10", PersistErr: errors.New("db down")}}
	h := NewWearableHandler(&stubAccounts{}, days, &stubBackfill{}, &stubQueue{})

	rr := httptest.NewRecorder()
	h.GetDay(rr, authed(httptest.NewRequest(http.MethodGet, "/api/v1/wearable/day?date=2024-03-10", nil)))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "failed", rr.Header().Get("X-Cache-Write"))
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &services.ValidationError{Fields: map[string]string{"date": "bad"}}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"not connected", services.ErrNotConnected, http.StatusNotFound, "NOT_CONNECTED"},
		{"auth", &services.AuthError{Message: "wearable token rejected"}, http.StatusUnauthorized, "WEARABLE_AUTH_FAILED"},
		{"remote", &services.RemoteError{Endpoint: "band_data", Status: 500}, http.StatusBadGateway, "UPSTREAM_ERROR"},
		{"rate limited", &services.SyncError{Day: "2024-03-10", Err: &services.RateLimitError{Message: "wearable service rate limit reached"}}, http.StatusTooManyRequests, "RATE_LIMITED"},
		{"decode", &decoder.DecodeError{Field: "summary", Err: errors.New("bad")}, http.StatusUnprocessableEntity, "DECODE_ERROR"},
		{"sync wraps auth", &services.SyncError{Day: "2024-03-10", Err: &services.AuthError{Message: "wearable token rejected"}}, http.StatusUnauthorized, "WEARABLE_AUTH_FAILED"},
		{"sync wraps remote", &services.SyncError{Day: "2024-03-10", Err: &services.RemoteError{Endpoint: "band_data", Status: 503}}, http.StatusBadGateway, "UPSTREAM_ERROR"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewWearableHandler(&stubAccounts{}, &stubDays{err: tc.err}, &stubBackfill{}, &stubQueue{})

			rr := httptest.NewRecorder()
			h.GetDay(rr, authed(httptest.NewRequest(http.MethodGet, "/api/v1/wearable/day?date=2024-03-10", nil)))

			assert.Equal(t, tc.status, rr.Code)
			assert.Equal(t, tc.code, decodeError(t, rr).Code)
		})
	}
}

func TestSync(t *testing.T) {
	backfill := &stubBackfill{counts: models.SyncCounts{ActivitySynced: 6, DaysFailed: 1}}
	h := NewWearableHandler(&stubAccounts{}, &stubDays{}, backfill, &stubQueue{})

	rr := httptest.NewRecorder()
	h.Sync(rr, authed(httptest.NewRequest(http.MethodPost, "/api/v1/wearable/sync", nil)))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, defaultDaysBack, backfill.gotDays)

	var counts models.SyncCounts
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&counts))
	assert.Equal(t, 6, counts.ActivitySynced)
	assert.Equal(t, 1, counts.DaysFailed)
}

func TestSyncRejectsNonNumericDaysBack(t *testing.T) {
	backfill := &stubBackfill{}
	h := NewWearableHandler(&stubAccounts{}, &stubDays{}, backfill, &stubQueue{})

	rr := httptest.NewRecorder()
	h.Sync(rr, authed(httptest.NewRequest(http.MethodPost, "/api/v1/wearable/sync?days_back=week", nil)))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "must be an integer", decodeError(t, rr).Fields["days_back"])
	assert.Zero(t, backfill.gotDays)
}

func TestSyncAsync(t *testing.T) {
	queue := &stubQueue{}
	accounts := &stubAccounts{creds: &models.Credentials{UserID: testUser}}
	h := NewWearableHandler(accounts, &stubDays{}, &stubBackfill{}, queue)

	rr := httptest.NewRecorder()
	h.SyncAsync(rr, authed(httptest.NewRequest(http.MethodPost, "/api/v1/wearable/sync/async?days_back=30", nil)))

	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Len(t, queue.jobs, 1)
	job := queue.jobs[0]
	assert.Equal(t, testUser, job.UserID)
	assert.Equal(t, 30, job.DaysBack)
	assert.Equal(t, models.JobTypeSync, job.Type)

	var accepted models.JobAccepted
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&accepted))
	assert.Equal(t, job.ID, accepted.JobID)
}

func TestSyncAsyncRequiresConnection(t *testing.T) {
	queue := &stubQueue{}
	h := NewWearableHandler(&stubAccounts{err: services.ErrNotConnected}, &stubDays{}, &stubBackfill{}, queue)

	rr := httptest.NewRecorder()
	h.SyncAsync(rr, authed(httptest.NewRequest(http.MethodPost, "/api/v1/wearable/sync/async", nil)))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Empty(t, queue.jobs)
}

func TestSyncAsyncRejectsRange(t *testing.T) {
	queue := &stubQueue{}
	h := NewWearableHandler(&stubAccounts{creds: &models.Credentials{}}, &stubDays{}, &stubBackfill{}, queue)

	rr := httptest.NewRecorder()
	h.SyncAsync(rr, authed(httptest.NewRequest(http.MethodPost, "/api/v1/wearable/sync/async?days_back=400", nil)))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, queue.jobs)
}

func TestWorkoutsReturnsEmptyList(t *testing.T) {
	accounts := &stubAccounts{}
	h := NewWearableHandler(accounts, &stubDays{}, &stubBackfill{}, &stubQueue{})

	rr := httptest.NewRecorder()
	h.Workouts(rr, authed(httptest.NewRequest(http.MethodGet, "/api/v1/wearable/workouts?limit=20", nil)))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 20, accounts.gotLimit)
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestDisconnect(t *testing.T) {
	accounts := &stubAccounts{}
	h := NewWearableHandler(accounts, &stubDays{}, &stubBackfill{}, &stubQueue{})

	rr := httptest.NewRecorder()
	h.Disconnect(rr, authed(httptest.NewRequest(http.MethodDelete, "/api/v1/wearable/connect", nil)))

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, 1, accounts.disconnect)
}

func TestStatus(t *testing.T) {
	accounts := &stubAccounts{status: models.ConnectionStatus{Connected: true, RemoteUserID: "1234", DaysCached: 12}}
	h := NewWearableHandler(accounts, &stubDays{}, &stubBackfill{}, &stubQueue{})

	rr := httptest.NewRecorder()
	h.Status(rr, authed(httptest.NewRequest(http.MethodGet, "/api/v1/wearable", nil)))

	require.Equal(t, http.StatusOK, rr.Code)
	var status models.ConnectionStatus
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&status))
	assert.Equal(t, 12, status.DaysCached)
	assert.Equal(t, "1234", status.RemoteUserID)
}

func TestProfile(t *testing.T) {
	accounts := &stubAccounts{profile: json.RawMessage(`{"nickName":"runner","height":178}`)}
	h := NewWearableHandler(accounts, &stubDays{}, &stubBackfill{}, &stubQueue{})

	rr := httptest.NewRecorder()
	h.Profile(rr, authed(httptest.NewRequest(http.MethodGet, "/api/v1/wearable/profile", nil)))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"nickName":"runner","height":178}`, rr.Body.String())
}

func TestProfileNotConnected(t *testing.T) {
	h := NewWearableHandler(&stubAccounts{err: services.ErrNotConnected}, &stubDays{}, &stubBackfill{}, &stubQueue{})

	rr := httptest.NewRecorder()
	h.Profile(rr, authed(httptest.NewRequest(http.MethodGet, "/api/v1/wearable/profile", nil)))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "NOT_CONNECTED", decodeError(t, rr).Code)
}
