package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DailyActivityRecord is one cached day. A non-empty RawData marks the day as
// cached.
type DailyActivityRecord struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"user_id"`
	Day             time.Time       `json:"day"`
	Steps           int             `json:"steps"`
	CaloriesBurned  int             `json:"calories_burned"`
	DistanceKm      float64         `json:"distance_km"`
	ActiveMinutes   int             `json:"active_minutes"`
	SleepStartUTC   *int64          `json:"sleep_start_utc"`
	SleepEndUTC     *int64          `json:"sleep_end_utc"`
	SleepSeconds    float64         `json:"sleep_seconds"`
	SleepHours      float64         `json:"sleep_hours"`
	DeepSleepHours  float64         `json:"deep_sleep_hours"`
	LightSleepHours float64         `json:"light_sleep_hours"`
	RemSleepHours   float64         `json:"rem_sleep_hours"`
	AwakeHours      float64         `json:"awake_hours"`
	HRV             float64         `json:"hrv"`
	RawData         json.RawMessage `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (r *DailyActivityRecord) Cached() bool {
	return r != nil && len(r.RawData) > 0 && string(r.RawData) != "null"
}

type HeartRateSession struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	Day           time.Time `json:"day"`
	AvgBPM        *int      `json:"avg_bpm"`
	MinBPM        *int      `json:"min_bpm"`
	MaxBPM        *int      `json:"max_bpm"`
	ValidReadings int       `json:"valid_readings"`
	TotalReadings int       `json:"total_readings"`
	Samples       []int     `json:"samples"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DaySummaryView is what callers of GetDay see, whether served from cache or
// fetched.
type DaySummaryView struct {
	Date                 string          `json:"date"`
	HeartRate            []int           `json:"heart_rate"`
	Steps                int             `json:"steps"`
	CaloriesBurned       int             `json:"calories_burned"`
	SleepDurationSeconds float64         `json:"sleep_duration_seconds"`
	Activity             ActivityGroup   `json:"activity"`
	Sleep                SleepGroup      `json:"sleep"`
	HeartRateStats       *HeartRateStats `json:"heart_rate_stats,omitempty"`
	HRV                  float64         `json:"hrv,omitempty"`
	Cached               bool            `json:"cached"`
	NoData               bool            `json:"no_data,omitempty"`
	// PersistErr is set when the day was fetched but could not be cached.
	PersistErr error `json:"-"`
}

type ActivityGroup struct {
	Steps         int     `json:"steps"`
	Calories      int     `json:"calories"`
	DistanceKm    float64 `json:"distance_km"`
	ActiveMinutes int     `json:"active_minutes"`
}

// SleepGroup carries both the raw UTC window and the same instants shifted to
// the display offset. Empty when the day has no sleep.
type SleepGroup struct {
	StartUTC        *int64  `json:"start_utc,omitempty"`
	EndUTC          *int64  `json:"end_utc,omitempty"`
	StartLocal      string  `json:"start_local,omitempty"`
	EndLocal        string  `json:"end_local,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Hours           float64 `json:"hours,omitempty"`
	DeepHours       float64 `json:"deep_hours,omitempty"`
	LightHours      float64 `json:"light_hours,omitempty"`
	RemHours        float64 `json:"rem_hours,omitempty"`
	AwakeHours      float64 `json:"awake_hours,omitempty"`
}

type HeartRateStats struct {
	Avg   int `json:"avg"`
	Min   int `json:"min"`
	Max   int `json:"max"`
	Valid int `json:"valid_readings"`
	Total int `json:"total_readings"`
}

// SyncCounts is the result of a range sync. Days that failed are absent from
// every count.
type SyncCounts struct {
	ActivitySynced  int `json:"activity_synced"`
	StepsSynced     int `json:"steps_synced"`
	HeartRateSynced int `json:"heart_rate_synced"`
	SleepSynced     int `json:"sleep_synced"`
	DaysFailed      int `json:"days_failed"`
}

type WorkoutSummary struct {
	TrackID      string          `json:"track_id"`
	Type         int             `json:"type"`
	StartTime    string          `json:"start_time"`
	EndTime      string          `json:"end_time"`
	RunTimeSec   int             `json:"run_time_seconds"`
	DistanceM    float64         `json:"distance_m"`
	Calories     float64         `json:"calories"`
	AvgHeartRate float64         `json:"avg_heart_rate"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}
