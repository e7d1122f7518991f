package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/akshaypn/healthup/internal/decoder"
	"github.com/akshaypn/healthup/internal/models"
)

type dayKey struct {
	user uuid.UUID
	day  string
}

type storedDay struct {
	activity  models.DailyActivityRecord
	heartRate *models.HeartRateSession
}

// memStore keeps days and credentials in maps, one row per (user, day) like
// the unique constraint in Postgres. UpsertDay replaces the whole day, a nil
// session included, as the Postgres store does.
type memStore struct {
	mu         sync.Mutex
	days       map[dayKey]storedDay
	creds      map[uuid.UUID]models.Credentials
	upserts    int
	touches    int
	getDayErr  error
	upsertErr  error
	failUpsert map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		days:       make(map[dayKey]storedDay),
		creds:      make(map[uuid.UUID]models.Credentials),
		failUpsert: make(map[string]bool),
	}
}

func (m *memStore) GetDay(ctx context.Context, userID uuid.UUID, day time.Time) (*models.DailyActivityRecord, *models.HeartRateSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getDayErr != nil {
		return nil, nil, m.getDayErr
	}
	row, ok := m.days[dayKey{userID, day.Format(dayLayout)}]
	if !ok {
		return nil, nil, nil
	}
	a := row.activity
	return &a, row.heartRate, nil
}

func (m *memStore) UpsertDay(ctx context.Context, userID uuid.UUID, day time.Time, a *models.DailyActivityRecord, hr *models.HeartRateSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	if m.failUpsert[day.Format(dayLayout)] {
		return errors.New("constraint violation")
	}
	m.upserts++
	m.days[dayKey{userID, day.Format(dayLayout)}] = storedDay{activity: *a, heartRate: hr}
	return nil
}

func (m *memStore) CountDays(ctx context.Context, userID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.days {
		if k.user == userID {
			n++
		}
	}
	return n, nil
}

func (m *memStore) GetCredentials(ctx context.Context, userID uuid.UUID) (*models.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[userID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *memStore) UpsertCredentials(ctx context.Context, c *models.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[c.UserID] = *c
	return nil
}

func (m *memStore) SwapToken(ctx context.Context, userID uuid.UUID, staleToken, appToken, remoteUserID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[userID]
	if !ok || c.AppToken != staleToken {
		return false, nil
	}
	c.AppToken = appToken
	c.RemoteUserID = remoteUserID
	m.creds[userID] = c
	return true, nil
}

func (m *memStore) DeleteCredentials(ctx context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, userID)
	return nil
}

func (m *memStore) TouchLastSync(ctx context.Context, userID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touches++
	if c, ok := m.creds[userID]; ok {
		c.LastSyncAt = &at
		m.creds[userID] = c
	}
	return nil
}

func (m *memStore) connect(userID uuid.UUID, token string) {
	m.creds[userID] = models.Credentials{UserID: userID, RemoteUserID: "9000", AppToken: token}
}

// fakeRemote serves canned band entries per day. Calls are counted so tests
// can prove the cache short-circuits.
type fakeRemote struct {
	mu         sync.Mutex
	days       map[string]*BandPayload
	hr         map[string]string
	hrErr      error
	activity   map[string]decoder.Activity
	sleep      map[string]decoder.Sleep
	fitnessErr error
	errs       map[string]error
	authFails  int
	validToken string
	dayCalls   int
	hrCalls    int
	fitCalls   int
	tokens     []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		days:     make(map[string]*BandPayload),
		hr:       make(map[string]string),
		activity: make(map[string]decoder.Activity),
		sleep:    make(map[string]decoder.Sleep),
		errs:     make(map[string]error),
	}
}

func (f *fakeRemote) FetchDay(ctx context.Context, creds *models.Credentials, day string) (*BandPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dayCalls++
	f.tokens = append(f.tokens, creds.AppToken)
	if f.validToken != "" && creds.AppToken != f.validToken {
		return nil, &AuthError{Message: "wearable token rejected"}
	}
	if f.authFails > 0 {
		f.authFails--
		return nil, &AuthError{Message: "wearable token rejected"}
	}
	if err := f.errs[day]; err != nil {
		return nil, err
	}
	p, ok := f.days[day]
	if !ok {
		return nil, ErrNoData
	}
	return p, nil
}

func (f *fakeRemote) FetchHeartRate(ctx context.Context, creds *models.Credentials, day string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hrCalls++
	if f.hrErr != nil {
		return "", f.hrErr
	}
	blob, ok := f.hr[day]
	if !ok {
		return "", ErrNoData
	}
	return blob, nil
}

func (f *fakeRemote) FetchActivity(ctx context.Context, creds *models.Credentials, day string) (decoder.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fitCalls++
	if f.fitnessErr != nil {
		return decoder.Activity{}, f.fitnessErr
	}
	a, ok := f.activity[day]
	if !ok {
		return decoder.Activity{}, ErrNoData
	}
	return a, nil
}

func (f *fakeRemote) FetchSleep(ctx context.Context, creds *models.Credentials, day string) (decoder.Sleep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fitCalls++
	if f.fitnessErr != nil {
		return decoder.Sleep{}, f.fitnessErr
	}
	sl, ok := f.sleep[day]
	if !ok {
		return decoder.Sleep{}, ErrNoData
	}
	return sl, nil
}

func (f *fakeRemote) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dayCalls
}

// stubRefresher hands out a fixed fresh token.
type stubRefresher struct {
	store *memStore
	token string
	err   error
	calls int
}

func (s *stubRefresher) RefreshIfStale(ctx context.Context, userID uuid.UUID, staleToken string) (*models.Credentials, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if _, err := s.store.SwapToken(ctx, userID, staleToken, s.token, "9000"); err != nil {
		return nil, err
	}
	return s.store.GetCredentials(ctx, userID)
}

func b64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func summaryBlob(v any) string {
	raw, _ := json.Marshal(v)
	return b64(raw)
}

func bandPayload(day string, summary any, hr []byte) *BandPayload {
	p := &BandPayload{Date: day, Summary: summaryBlob(summary)}
	if hr != nil {
		p.HeartRate = b64(hr)
	}
	p.Raw, _ = json.Marshal(map[string]string{"date_time": day, "summary": p.Summary, "data_hr": p.HeartRate})
	return p
}

func mustDay(t *testing.T, dateISO string) time.Time {
	t.Helper()
	day, err := ParseDay(dateISO)
	if err != nil {
		t.Fatalf("parse %s: %v", dateISO, err)
	}
	return day
}
