package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/akshaypn/healthup/internal/decoder"
	"github.com/akshaypn/healthup/internal/models"
	"github.com/akshaypn/healthup/internal/observability"
)

const (
	huamiPlatform         = "web"
	huamiUserAgent        = "ZeppPython/1.7"
	workoutSource         = "run.mifit.huami.com"
	DefaultWorkoutLimit   = 200
	maxWorkoutPages       = 50
	maxResponseBodyLength = 16 << 20
)

// BandPayload is one day of band_data as served. Summary and HeartRate are
// still base64; HeartRate uses decoder.Encoding8.
type BandPayload struct {
	Date      string
	Summary   string
	HeartRate string
	Raw       json.RawMessage
}

type TelemetryConfig struct {
	UserAPI    string
	MifitAPI   string
	Timeout    time.Duration
	RatePerSec float64
}

// TelemetryClient issues token-authenticated reads against the Huami cloud.
// One client is shared by every user; the token travels with each call.
type TelemetryClient struct {
	http     *http.Client
	userAPI  string
	mifitAPI string
	limiter  *rate.Limiter
	logger   *slog.Logger
}

func NewTelemetryClient(cfg TelemetryConfig, logger *slog.Logger) *TelemetryClient {
	limit := rate.Inf
	burst := 1
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
		burst = max(1, int(cfg.RatePerSec))
	}
	return &TelemetryClient{
		http:     &http.Client{Timeout: cfg.Timeout},
		userAPI:  strings.TrimRight(cfg.UserAPI, "/"),
		mifitAPI: strings.TrimRight(cfg.MifitAPI, "/"),
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger,
	}
}

// FetchDay returns ErrNoData when the day has no band entry.
func (c *TelemetryClient) FetchDay(ctx context.Context, creds *models.Credentials, day string) (*BandPayload, error) {
	params := url.Values{
		"query_type":  {"detail"},
		"userid":      {creds.RemoteUserID},
		"device_type": {"android_phone"},
		"from_date":   {day},
		"to_date":     {day},
	}

	var resp struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := c.get(ctx, creds, "band_data", c.mifitAPI+"/v1/data/band_data.json", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, ErrNoData
	}

	entry := resp.Data[0]
	for _, candidate := range resp.Data {
		if bandEntryDate(candidate) == day {
			entry = candidate
			break
		}
	}

	var fields struct {
		Summary string `json:"summary"`
		DataHR  string `json:"data_hr"`
	}
	if err := json.Unmarshal(entry, &fields); err != nil {
		return nil, &decoder.DecodeError{Field: "band_data", Err: err}
	}

	return &BandPayload{
		Date:      day,
		Summary:   fields.Summary,
		HeartRate: fields.DataHR,
		Raw:       entry,
	}, nil
}

func bandEntryDate(entry json.RawMessage) string {
	var head struct {
		DateTime string `json:"date_time"`
	}
	if json.Unmarshal(entry, &head) != nil {
		return ""
	}
	return head.DateTime
}

// FetchHeartRate reads the per-minute series from the fitness endpoint. The
// blob uses decoder.Encoding16.
func (c *TelemetryClient) FetchHeartRate(ctx context.Context, creds *models.Credentials, day string) (string, error) {
	params := url.Values{
		"userid": {creds.RemoteUserID},
		"date":   {day},
	}

	var resp struct {
		HeartRate string `json:"heartRate"`
	}
	if err := c.get(ctx, creds, "heart_rate", c.userAPI+"/v1/user/fitness/heart_rate", params, &resp); err != nil {
		return "", err
	}
	if resp.HeartRate == "" {
		return "", ErrNoData
	}
	return resp.HeartRate, nil
}

// FetchActivity reads the day's step totals from the fitness endpoint. It is
// only consulted when the band summary has no step group.
func (c *TelemetryClient) FetchActivity(ctx context.Context, creds *models.Credentials, day string) (decoder.Activity, error) {
	params := url.Values{
		"userid": {creds.RemoteUserID},
		"date":   {day},
	}

	var resp struct {
		Steps    *float64 `json:"steps"`
		Calories float64  `json:"calories"`
		Summary  *struct {
			Steps         float64 `json:"steps"`
			Calories      float64 `json:"calories"`
			Distance      float64 `json:"distance"`
			ActiveMinutes float64 `json:"activeMinutes"`
		} `json:"summary"`
	}
	if err := c.get(ctx, creds, "activity", c.userAPI+"/v1/user/fitness/activity", params, &resp); err != nil {
		return decoder.Activity{}, err
	}

	switch {
	case resp.Steps != nil:
		return decoder.Activity{Steps: int(*resp.Steps), Calories: int(resp.Calories)}, nil
	case resp.Summary != nil:
		return decoder.Activity{
			Steps:         int(resp.Summary.Steps),
			Calories:      int(resp.Summary.Calories),
			DistanceM:     resp.Summary.Distance,
			ActiveMinutes: int(resp.Summary.ActiveMinutes),
		}, nil
	}
	return decoder.Activity{}, ErrNoData
}

// FetchSleep reads the day's sleep totals from the fitness endpoint. The
// endpoint reports seconds; stages are converted to minutes to match the band
// summary. There is no start/end window on this path.
func (c *TelemetryClient) FetchSleep(ctx context.Context, creds *models.Credentials, day string) (decoder.Sleep, error) {
	params := url.Values{
		"userid": {creds.RemoteUserID},
		"date":   {day},
	}

	var resp struct {
		Summary *struct {
			SleepTime      float64 `json:"sleepTime"`
			DeepSleepTime  float64 `json:"deepSleepTime"`
			LightSleepTime float64 `json:"lightSleepTime"`
			RemSleepTime   float64 `json:"remSleepTime"`
			AwakeTime      float64 `json:"awakeTime"`
		} `json:"summary"`
	}
	if err := c.get(ctx, creds, "sleep", c.userAPI+"/v1/user/fitness/sleep", params, &resp); err != nil {
		return decoder.Sleep{}, err
	}
	if resp.Summary == nil {
		return decoder.Sleep{}, ErrNoData
	}

	sum := resp.Summary
	return decoder.Sleep{
		DurationSeconds: max(sum.SleepTime, 0),
		DeepMinutes:     max(sum.DeepSleepTime, 0) / 60,
		LightMinutes:    max(sum.LightSleepTime, 0) / 60,
		REMMinutes:      max(sum.RemSleepTime, 0) / 60,
		AwakeMinutes:    max(sum.AwakeTime, 0) / 60,
	}, nil
}

// FetchProfile returns the account profile document as served.
func (c *TelemetryClient) FetchProfile(ctx context.Context, creds *models.Credentials) (json.RawMessage, error) {
	var resp json.RawMessage
	if err := c.get(ctx, creds, "profile", c.userAPI+"/v1/user/profile", url.Values{}, &resp); err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(resp)) == 0 || string(bytes.TrimSpace(resp)) == "null" {
		return nil, ErrNoData
	}
	return resp, nil
}

// FetchWorkoutHistory pages through run history until the cursor runs out or
// limit workouts are collected.
func (c *TelemetryClient) FetchWorkoutHistory(ctx context.Context, creds *models.Credentials, limit int) ([]models.WorkoutSummary, error) {
	if limit <= 0 {
		limit = DefaultWorkoutLimit
	}

	var out []models.WorkoutSummary
	cursor := ""
	seen := map[string]bool{}

	for page := 0; page < maxWorkoutPages; page++ {
		params := url.Values{"source": {workoutSource}}
		if cursor != "" {
			params.Set("stopTrackId", cursor)
		}

		var resp workoutPage
		if err := c.get(ctx, creds, "workout_history", c.mifitAPI+"/v1/sport/run/history.json", params, &resp); err != nil {
			if errors.Is(err, ErrNoData) && page > 0 {
				break
			}
			return nil, err
		}

		for _, raw := range resp.tracks() {
			out = append(out, parseWorkout(raw))
		}

		cursor = resp.cursor()
		if endOfHistory(cursor) || len(out) >= limit || seen[cursor] {
			break
		}
		seen[cursor] = true
	}

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// workoutPage accepts both history shapes seen in the wild: a top-level
// trackInfo list, or data.summary.
type workoutPage struct {
	TrackInfo []json.RawMessage `json:"trackInfo"`
	Next      flexString        `json:"next"`
	Data      struct {
		Summary []json.RawMessage `json:"summary"`
		Next    flexString        `json:"next"`
	} `json:"data"`
}

func (p workoutPage) tracks() []json.RawMessage {
	if len(p.TrackInfo) > 0 {
		return p.TrackInfo
	}
	return p.Data.Summary
}

func (p workoutPage) cursor() string {
	if p.Next != "" {
		return string(p.Next)
	}
	return string(p.Data.Next)
}

func endOfHistory(cursor string) bool {
	return cursor == "" || cursor == "-1" || cursor == "0"
}

func parseWorkout(raw json.RawMessage) models.WorkoutSummary {
	var f map[string]flexString
	_ = json.Unmarshal(raw, &f)

	pick := func(keys ...string) string {
		for _, k := range keys {
			if v := f[k]; v != "" {
				return string(v)
			}
		}
		return ""
	}
	num := func(keys ...string) float64 {
		v, _ := strconv.ParseFloat(pick(keys...), 64)
		return v
	}

	w := models.WorkoutSummary{
		TrackID:      pick("trackid", "trackId"),
		Type:         int(num("type")),
		StartTime:    pick("start_time", "startTime"),
		EndTime:      pick("end_time", "endTime"),
		RunTimeSec:   int(num("run_time", "runTime")),
		DistanceM:    num("dis", "distance"),
		Calories:     num("calorie", "calories"),
		AvgHeartRate: num("avg_heart_rate", "avgHeartRate"),
		Raw:          raw,
	}
	// The track id is the start epoch when no explicit start is given.
	if w.StartTime == "" {
		w.StartTime = w.TrackID
	}
	return w
}

// get applies the shared headers, the rate limit and the status mapping, then
// decodes the JSON body into out.
func (c *TelemetryClient) get(ctx context.Context, creds *models.Credentials, endpoint, rawURL string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &RemoteError{Endpoint: endpoint, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("apptoken", creds.AppToken)
	req.Header.Set("appname", huamiAppName)
	req.Header.Set("appPlatform", huamiPlatform)
	req.Header.Set("User-Agent", huamiUserAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		observability.RecordRemoteCall(endpoint, "error", time.Since(start))
		return &RemoteError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyLength))
	elapsed := time.Since(start)
	if err != nil {
		observability.RecordRemoteCall(endpoint, "error", elapsed)
		return &RemoteError{Endpoint: endpoint, Status: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		observability.RecordRemoteCall(endpoint, "auth", elapsed)
		return &AuthError{Message: "wearable token rejected", Err: fmt.Errorf("%s status %d", endpoint, resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests:
		observability.RecordRemoteCall(endpoint, "rate_limited", elapsed)
		msg := "wearable service rate limit reached"
		if after := resp.Header.Get("Retry-After"); after != "" {
			msg += ", retry after " + after + "s"
		}
		return &RateLimitError{Message: msg}
	case resp.StatusCode == http.StatusNotFound:
		observability.RecordRemoteCall(endpoint, "no_data", elapsed)
		return ErrNoData
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		observability.RecordRemoteCall(endpoint, "error", elapsed)
		c.logger.Warn("huami request failed", "endpoint", endpoint, "status", resp.StatusCode)
		return &RemoteError{Endpoint: endpoint, Status: resp.StatusCode, Body: truncate(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		observability.RecordRemoteCall(endpoint, "decode", elapsed)
		return &decoder.DecodeError{Field: endpoint, Err: err}
	}
	observability.RecordRemoteCall(endpoint, "ok", elapsed)
	return nil
}

// flexString accepts a JSON string or a bare number. Huami sends ids and
// numeric fields either way depending on the endpoint.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || string(b) == "null":
		*f = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
	case b[0] == '{' || b[0] == '[':
		*f = ""
	default:
		*f = flexString(b)
	}
	return nil
}
