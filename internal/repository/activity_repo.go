package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/akshaypn/healthup/internal/models"
)

type ActivityRepo struct {
	pool *pgxpool.Pool
}

func NewActivityRepo(pool *pgxpool.Pool) *ActivityRepo {
	return &ActivityRepo{pool: pool}
}

// GetDay returns whatever is stored for (user, day). Either result may be nil.
func (r *ActivityRepo) GetDay(ctx context.Context, userID uuid.UUID, day time.Time) (*models.DailyActivityRecord, *models.HeartRateSession, error) {
	a := &models.DailyActivityRecord{}
	err := r.pool.QueryRow(ctx, `SELECT id, user_id, day, steps, calories_burned, distance_km, active_minutes,
		sleep_start_utc, sleep_end_utc, sleep_seconds, sleep_hours, deep_sleep_hours, light_sleep_hours,
		rem_sleep_hours, awake_hours, hrv, raw_data, created_at, updated_at
		FROM daily_activity WHERE user_id = $1 AND day = $2`, userID, day,
	).Scan(
		&a.ID, &a.UserID, &a.Day, &a.Steps, &a.CaloriesBurned, &a.DistanceKm, &a.ActiveMinutes,
		&a.SleepStartUTC, &a.SleepEndUTC, &a.SleepSeconds, &a.SleepHours, &a.DeepSleepHours, &a.LightSleepHours,
		&a.RemSleepHours, &a.AwakeHours, &a.HRV, &a.RawData, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		a = nil
	} else if err != nil {
		return nil, nil, fmt.Errorf("get daily activity: %w", err)
	}

	hr := &models.HeartRateSession{}
	var samples []int32
	err = r.pool.QueryRow(ctx, `SELECT id, user_id, day, avg_bpm, min_bpm, max_bpm, valid_readings,
		total_readings, samples, created_at, updated_at
		FROM heart_rate_sessions WHERE user_id = $1 AND day = $2`, userID, day,
	).Scan(
		&hr.ID, &hr.UserID, &hr.Day, &hr.AvgBPM, &hr.MinBPM, &hr.MaxBPM, &hr.ValidReadings,
		&hr.TotalReadings, &samples, &hr.CreatedAt, &hr.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get heart rate session: %w", err)
	}
	hr.Samples = fromInt32(samples)
	return a, hr, nil
}

// UpsertDay replaces what is stored for (user, day) in one transaction. A nil
// hr removes any earlier heart-rate session so the cache never mixes rows
// from different fetches.
func (r *ActivityRepo) UpsertDay(ctx context.Context, userID uuid.UUID, day time.Time, a *models.DailyActivityRecord, hr *models.HeartRateSession) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert day: %w", err)
	}
	defer tx.Rollback(ctx)

	if a != nil {
		a.UserID, a.Day = userID, day
		err = tx.QueryRow(ctx, `INSERT INTO daily_activity (id, user_id, day, steps, calories_burned, distance_km,
			active_minutes, sleep_start_utc, sleep_end_utc, sleep_seconds, sleep_hours, deep_sleep_hours,
			light_sleep_hours, rem_sleep_hours, awake_hours, hrv, raw_data)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
			ON CONFLICT (user_id, day) DO UPDATE SET
				steps = EXCLUDED.steps,
				calories_burned = EXCLUDED.calories_burned,
				distance_km = EXCLUDED.distance_km,
				active_minutes = EXCLUDED.active_minutes,
				sleep_start_utc = EXCLUDED.sleep_start_utc,
				sleep_end_utc = EXCLUDED.sleep_end_utc,
				sleep_seconds = EXCLUDED.sleep_seconds,
				sleep_hours = EXCLUDED.sleep_hours,
				deep_sleep_hours = EXCLUDED.deep_sleep_hours,
				light_sleep_hours = EXCLUDED.light_sleep_hours,
				rem_sleep_hours = EXCLUDED.rem_sleep_hours,
				awake_hours = EXCLUDED.awake_hours,
				hrv = EXCLUDED.hrv,
				raw_data = EXCLUDED.raw_data,
				updated_at = NOW()
			RETURNING id, created_at, updated_at`,
			uuid.New(), userID, day, a.Steps, a.CaloriesBurned, a.DistanceKm,
			a.ActiveMinutes, a.SleepStartUTC, a.SleepEndUTC, a.SleepSeconds, a.SleepHours, a.DeepSleepHours,
			a.LightSleepHours, a.RemSleepHours, a.AwakeHours, a.HRV, rawOrNil(a.RawData),
		).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upsert daily activity: %w", err)
		}
	}

	if hr == nil {
		if _, err := tx.Exec(ctx, "DELETE FROM heart_rate_sessions WHERE user_id = $1 AND day = $2", userID, day); err != nil {
			return fmt.Errorf("clear heart rate session: %w", err)
		}
	} else {
		hr.UserID, hr.Day = userID, day
		err = tx.QueryRow(ctx, `INSERT INTO heart_rate_sessions (id, user_id, day, avg_bpm, min_bpm, max_bpm,
			valid_readings, total_readings, samples)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (user_id, day) DO UPDATE SET
				avg_bpm = EXCLUDED.avg_bpm,
				min_bpm = EXCLUDED.min_bpm,
				max_bpm = EXCLUDED.max_bpm,
				valid_readings = EXCLUDED.valid_readings,
				total_readings = EXCLUDED.total_readings,
				samples = EXCLUDED.samples,
				updated_at = NOW()
			RETURNING id, created_at, updated_at`,
			uuid.New(), userID, day, hr.AvgBPM, hr.MinBPM, hr.MaxBPM,
			hr.ValidReadings, hr.TotalReadings, toInt32(hr.Samples),
		).Scan(&hr.ID, &hr.CreatedAt, &hr.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upsert heart rate session: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *ActivityRepo) CountDays(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM daily_activity WHERE user_id = $1", userID).Scan(&n)
	return n, err
}

func rawOrNil(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func toInt32(in []int) []int32 {
	out := make([]int32, len(in))
	for i, v := range in {
		out[i] = int32(v)
	}
	return out
}

func fromInt32(in []int32) []int {
	out := make([]int, len(in))
	for i, v := range in {
		out[i] = int(v)
	}
	return out
}
