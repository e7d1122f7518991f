package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/akshaypn/healthup/internal/decoder"
	"github.com/akshaypn/healthup/internal/models"
	"github.com/akshaypn/healthup/internal/observability"
)

const dayLayout = "2006-01-02"

// CacheStore is the persistence boundary of the sync engine. Missing rows
// come back as nil with a nil error. UpsertDay replaces both rows of a day; a
// nil session deletes the stored one.
type CacheStore interface {
	GetDay(ctx context.Context, userID uuid.UUID, day time.Time) (*models.DailyActivityRecord, *models.HeartRateSession, error)
	UpsertDay(ctx context.Context, userID uuid.UUID, day time.Time, a *models.DailyActivityRecord, hr *models.HeartRateSession) error
	GetCredentials(ctx context.Context, userID uuid.UUID) (*models.Credentials, error)
	UpsertCredentials(ctx context.Context, c *models.Credentials) error
	DeleteCredentials(ctx context.Context, userID uuid.UUID) error
	TouchLastSync(ctx context.Context, userID uuid.UUID, at time.Time) error
}

type telemetrySource interface {
	FetchDay(ctx context.Context, creds *models.Credentials, day string) (*BandPayload, error)
	FetchHeartRate(ctx context.Context, creds *models.Credentials, day string) (string, error)
	FetchActivity(ctx context.Context, creds *models.Credentials, day string) (decoder.Activity, error)
	FetchSleep(ctx context.Context, creds *models.Credentials, day string) (decoder.Sleep, error)
}

type tokenRefresher interface {
	RefreshIfStale(ctx context.Context, userID uuid.UUID, staleToken string) (*models.Credentials, error)
}

type payloadArchiver interface {
	Archive(ctx context.Context, userID uuid.UUID, day string, raw []byte) error
}

type DayOptions struct {
	// Refresh skips the cache and always fetches.
	Refresh bool
}

// DaySyncService serves one calendar day: from cache when possible,
// otherwise fetched, decoded and written back.
type DaySyncService struct {
	store    CacheStore
	remote   telemetrySource
	tokens   tokenRefresher
	archiver payloadArchiver
	display  *time.Location
	logger   *slog.Logger
}

func NewDaySyncService(store CacheStore, remote telemetrySource, tokens tokenRefresher, display *time.Location, logger *slog.Logger) *DaySyncService {
	if display == nil {
		display = time.UTC
	}
	return &DaySyncService{
		store:   store,
		remote:  remote,
		tokens:  tokens,
		display: display,
		logger:  logger,
	}
}

// WithArchiver copies every fetched payload to a.
func (s *DaySyncService) WithArchiver(a payloadArchiver) *DaySyncService {
	s.archiver = a
	return s
}

// ParseDay validates a YYYY-MM-DD date and returns it as UTC midnight.
func ParseDay(dateISO string) (time.Time, error) {
	day, err := time.Parse(dayLayout, dateISO)
	if err != nil {
		return time.Time{}, &ValidationError{Fields: map[string]string{"date": "must be YYYY-MM-DD"}}
	}
	return day, nil
}

// ParseOffset turns "+05:30", "-08:00" or "Z" into a fixed zone.
func ParseOffset(offset string) (*time.Location, error) {
	if offset == "" || offset == "Z" || offset == "UTC" {
		return time.UTC, nil
	}
	sign := 1
	switch offset[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return nil, fmt.Errorf("offset %q must start with + or -", offset)
	}
	hh, mm, ok := strings.Cut(offset[1:], ":")
	if !ok {
		return nil, fmt.Errorf("offset %q must look like +HH:MM", offset)
	}
	h, ok := twoDigits(hh)
	if !ok || h > 14 {
		return nil, fmt.Errorf("offset %q has bad hours", offset)
	}
	m, ok := twoDigits(mm)
	if !ok || m > 59 {
		return nil, fmt.Errorf("offset %q has bad minutes", offset)
	}
	return time.FixedZone("UTC"+offset, sign*(h*3600+m*60)), nil
}

func twoDigits(s string) (int, bool) {
	if len(s) != 2 || s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return 0, false
	}
	return int(s[0]-'0')*10 + int(s[1]-'0'), true
}

// GetDay returns the unified view for dateISO. A persistence failure after a
// successful fetch is reported on view.PersistErr, never as the error.
func (s *DaySyncService) GetDay(ctx context.Context, userID uuid.UUID, dateISO string, opts DayOptions) (*models.DaySummaryView, error) {
	day, err := ParseDay(dateISO)
	if err != nil {
		return nil, err
	}

	if !opts.Refresh {
		a, hr, err := s.store.GetDay(ctx, userID, day)
		if err != nil {
			s.logger.Warn("cache read failed, fetching", "user_id", userID, "date", dateISO, "error", err)
		} else if a.Cached() {
			observability.RecordDay("cached")
			return s.buildView(dateISO, a, hr, true), nil
		}
	}

	creds, err := s.store.GetCredentials(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if creds == nil {
		return nil, ErrNotConnected
	}

	payload, creds, err := s.fetchDay(ctx, userID, creds, dateISO)
	if errors.Is(err, ErrNoData) {
		observability.RecordDay("empty")
		return emptyView(dateISO), nil
	}
	if err != nil {
		observability.RecordDay("failed")
		return nil, err
	}

	summary, err := decoder.DecodeSummary(payload.Summary)
	if err != nil {
		observability.RecordDay("failed")
		return nil, err
	}
	summary = s.fillGaps(ctx, creds, payload.Date, summary)
	samples, err := s.heartRate(ctx, creds, payload)
	if err != nil {
		observability.RecordDay("failed")
		return nil, err
	}

	a, hr := records(summary, samples, payload)

	view := s.buildView(dateISO, a, hr, false)
	if err := s.store.UpsertDay(ctx, userID, day, a, hr); err != nil {
		s.logger.Error("cache write failed", "user_id", userID, "date", dateISO, "error", err)
		view.PersistErr = &SyncError{Day: dateISO, Err: err}
		observability.RecordDay("persist_failed")
	} else {
		observability.RecordDay("fetched")
	}

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, userID, dateISO, payload.Raw); err != nil {
			s.logger.Warn("payload archive failed", "user_id", userID, "date", dateISO, "error", err)
		}
	}

	return view, nil
}

// fetchDay retries exactly once after a token refresh.
func (s *DaySyncService) fetchDay(ctx context.Context, userID uuid.UUID, creds *models.Credentials, dateISO string) (*BandPayload, *models.Credentials, error) {
	payload, err := s.remote.FetchDay(ctx, creds, dateISO)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		return payload, creds, err
	}

	s.logger.Info("app token rejected, refreshing", "user_id", userID, "date", dateISO)
	refreshed, err := s.tokens.RefreshIfStale(ctx, userID, creds.AppToken)
	if err != nil {
		return nil, creds, &SyncError{Day: dateISO, Err: err}
	}

	payload, err = s.remote.FetchDay(ctx, refreshed, dateISO)
	if err != nil && !errors.Is(err, ErrNoData) {
		return nil, refreshed, &SyncError{Day: dateISO, Err: err}
	}
	return payload, refreshed, err
}

// fillGaps asks the fitness endpoints for activity and sleep when the band
// summary carried neither. Fallback failures leave the group empty.
func (s *DaySyncService) fillGaps(ctx context.Context, creds *models.Credentials, day string, summary decoder.Summary) decoder.Summary {
	if !summary.HasActivity {
		activity, err := s.remote.FetchActivity(ctx, creds, day)
		switch {
		case err == nil:
			summary.Activity, summary.HasActivity = activity, true
		case !errors.Is(err, ErrNoData):
			s.logger.Warn("activity fallback failed", "user_id", creds.UserID, "date", day, "error", err)
		}
	}

	if summary.Sleep.Empty() {
		sleep, err := s.remote.FetchSleep(ctx, creds, day)
		switch {
		case err == nil:
			summary.Sleep = sleep
		case !errors.Is(err, ErrNoData):
			s.logger.Warn("sleep fallback failed", "user_id", creds.UserID, "date", day, "error", err)
		}
	}
	return summary
}

// heartRate decodes the band blob, or falls back to the fitness endpoint when
// the band entry carries none. Fallback failures leave the series empty.
func (s *DaySyncService) heartRate(ctx context.Context, creds *models.Credentials, payload *BandPayload) ([]int, error) {
	if payload.HeartRate != "" {
		return decoder.DecodeHeartRate(payload.HeartRate, decoder.Encoding8)
	}

	blob, err := s.remote.FetchHeartRate(ctx, creds, payload.Date)
	if err != nil {
		if !errors.Is(err, ErrNoData) {
			s.logger.Warn("heart rate fallback failed", "user_id", creds.UserID, "date", payload.Date, "error", err)
		}
		return []int{}, nil
	}
	samples, err := decoder.DecodeHeartRate(blob, decoder.Encoding16)
	if err != nil {
		s.logger.Warn("heart rate fallback undecodable", "user_id", creds.UserID, "date", payload.Date, "error", err)
		return []int{}, nil
	}
	return samples, nil
}

func records(summary decoder.Summary, samples []int, payload *BandPayload) (*models.DailyActivityRecord, *models.HeartRateSession) {
	sl := summary.Sleep
	a := &models.DailyActivityRecord{
		Steps:           summary.Activity.Steps,
		CaloriesBurned:  summary.Activity.Calories,
		DistanceKm:      summary.Activity.DistanceM / 1000,
		ActiveMinutes:   summary.Activity.ActiveMinutes,
		SleepSeconds:    sl.DurationSeconds,
		SleepHours:      sl.Hours(),
		DeepSleepHours:  sl.DeepMinutes / 60,
		LightSleepHours: sl.LightMinutes / 60,
		RemSleepHours:   sl.REMMinutes / 60,
		AwakeHours:      sl.AwakeMinutes / 60,
		HRV:             summary.HRV,
		RawData:         payload.Raw,
	}
	if sl.HasWindow {
		start, end := sl.StartUTC, sl.EndUTC
		a.SleepStartUTC, a.SleepEndUTC = &start, &end
	}

	if len(samples) == 0 {
		return a, nil
	}
	hr := &models.HeartRateSession{
		Samples:       samples,
		TotalReadings: len(samples),
	}
	if st, ok := decoder.HeartRateStats(samples); ok {
		hr.AvgBPM, hr.MinBPM, hr.MaxBPM = &st.Avg, &st.Min, &st.Max
		hr.ValidReadings = st.Valid
	}
	return a, hr
}

// buildView renders stored or freshly decoded rows identically, so a cached
// day reads exactly as it did when fetched.
func (s *DaySyncService) buildView(dateISO string, a *models.DailyActivityRecord, hr *models.HeartRateSession, cached bool) *models.DaySummaryView {
	v := &models.DaySummaryView{
		Date:                 dateISO,
		HeartRate:            []int{},
		Steps:                a.Steps,
		CaloriesBurned:       a.CaloriesBurned,
		SleepDurationSeconds: a.SleepSeconds,
		Activity: models.ActivityGroup{
			Steps:         a.Steps,
			Calories:      a.CaloriesBurned,
			DistanceKm:    a.DistanceKm,
			ActiveMinutes: a.ActiveMinutes,
		},
		Sleep: models.SleepGroup{
			DurationSeconds: a.SleepSeconds,
			Hours:           a.SleepHours,
			DeepHours:       a.DeepSleepHours,
			LightHours:      a.LightSleepHours,
			RemHours:        a.RemSleepHours,
			AwakeHours:      a.AwakeHours,
		},
		HRV:    a.HRV,
		Cached: cached,
	}

	if a.SleepStartUTC != nil && a.SleepEndUTC != nil {
		v.Sleep.StartUTC, v.Sleep.EndUTC = a.SleepStartUTC, a.SleepEndUTC
		v.Sleep.StartLocal = time.Unix(*a.SleepStartUTC, 0).In(s.display).Format(time.RFC3339)
		v.Sleep.EndLocal = time.Unix(*a.SleepEndUTC, 0).In(s.display).Format(time.RFC3339)
	}

	if hr != nil {
		if hr.Samples != nil {
			v.HeartRate = hr.Samples
		}
		if hr.AvgBPM != nil && hr.MinBPM != nil && hr.MaxBPM != nil {
			v.HeartRateStats = &models.HeartRateStats{
				Avg:   *hr.AvgBPM,
				Min:   *hr.MinBPM,
				Max:   *hr.MaxBPM,
				Valid: hr.ValidReadings,
				Total: hr.TotalReadings,
			}
		}
	}
	return v
}

func emptyView(dateISO string) *models.DaySummaryView {
	return &models.DaySummaryView{
		Date:      dateISO,
		HeartRate: []int{},
		NoData:    true,
	}
}
