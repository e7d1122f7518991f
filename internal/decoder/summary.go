// Package decoder turns the band service's base64 blobs into typed metrics.
// Everything here is pure: no I/O, no clocks, no logging.
package decoder

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Activity is the projection of the "stp" group.
type Activity struct {
	Steps         int     `json:"steps"`
	Calories      int     `json:"calories"`
	DistanceM     float64 `json:"distance"`
	ActiveMinutes int     `json:"active_minutes"`
}

// Sleep is the projection of the "slp" group. StartUTC and EndUTC are epoch
// seconds as reported by the band; stage fields are minutes.
type Sleep struct {
	StartUTC        int64   `json:"sleep_start_utc,omitempty"`
	EndUTC          int64   `json:"sleep_end_utc,omitempty"`
	HasWindow       bool    `json:"-"`
	DurationSeconds float64 `json:"sleep_time_seconds,omitempty"`
	DeepMinutes     float64 `json:"deep_sleep_minutes,omitempty"`
	LightMinutes    float64 `json:"light_sleep_minutes,omitempty"`
	REMMinutes      float64 `json:"rem_sleep_minutes,omitempty"`
	AwakeMinutes    float64 `json:"awake_minutes,omitempty"`
}

// Hours converts the derived duration to hours.
func (s Sleep) Hours() float64 { return s.DurationSeconds / 3600 }

// Empty reports whether the sleep group carried nothing usable.
func (s Sleep) Empty() bool {
	return !s.HasWindow && s.DurationSeconds == 0 && s.DeepMinutes == 0 &&
		s.LightMinutes == 0 && s.REMMinutes == 0 && s.AwakeMinutes == 0
}

// Summary is the decoded day summary blob.
type Summary struct {
	Activity Activity          `json:"activity"`
	Sleep    Sleep             `json:"sleep"`
	HRV      float64           `json:"hrv"`
	Workouts []json.RawMessage `json:"workouts"`
	Events   []json.RawMessage `json:"events"`
	// HasActivity is set when the blob carried an "stp" group, even an all
	// zero one.
	HasActivity bool `json:"-"`
}

// DecodeSummary decodes a base64-wrapped JSON summary. Every group is
// optional; a missing or malformed group yields its zero value. An empty blob
// decodes to the zero Summary.
func DecodeSummary(blob string) (Summary, error) {
	var out Summary
	if blob == "" {
		return out, nil
	}

	raw, err := decodeBase64(blob)
	if err != nil {
		return out, &DecodeError{Field: "summary", Err: err}
	}

	var groups map[string]json.RawMessage
	if err := json.Unmarshal(raw, &groups); err != nil {
		return out, &DecodeError{Field: "summary", Err: err}
	}
	if groups == nil {
		return out, &DecodeError{Field: "summary", Err: errors.New("summary is not a JSON object")}
	}

	if stp := objectGroup(groups["stp"]); stp != nil {
		out.HasActivity = true
		out.Activity = Activity{
			Steps:         int(number(stp["ttl"])),
			Calories:      int(number(stp["cal"])),
			DistanceM:     number(stp["dis"]),
			ActiveMinutes: int(number(stp["act"])),
		}
	}

	if slp := groups["slp"]; objectGroup(slp) != nil {
		out.Sleep = decodeSleep(slp)
	}

	if hrv := objectGroup(groups["hrv"]); hrv != nil {
		out.HRV = number(hrv["avg"])
	}

	out.Workouts = rawList(groups["wkt"])
	out.Events = rawList(groups["evt"])

	return out, nil
}

func decodeSleep(raw json.RawMessage) Sleep {
	group := objectGroup(raw)
	var s Sleep

	st, hasStart := numberOK(group["st"])
	ed, hasEnd := numberOK(group["ed"])
	if hasStart && hasEnd {
		s.HasWindow = true
		s.StartUTC = int64(st)
		s.EndUTC = int64(ed)
		if d := ed - st; d > 0 {
			s.DurationSeconds = d
		}
	} else {
		s.DurationSeconds = SleepDurationFallback(raw)
	}

	s.DeepMinutes = nonNegative(number(group["dp"]))
	s.LightMinutes = nonNegative(number(group["lt"]))
	s.REMMinutes = nonNegative(number(group["rm"]))
	s.AwakeMinutes = nonNegative(number(group["wk"]))
	return s
}

// SleepDurationFallback is used when the sleep group lacks a start/end pair.
// It returns the first positive numeric field, in document order, whose key
// is neither "st" nor "ed", and 0 when there is none. Older firmware reports
// total sleep this way; the field name differs between versions.
func SleepDurationFallback(group json.RawMessage) float64 {
	dec := json.NewDecoder(bytes.NewReader(group))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return 0
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return 0
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return 0
		}
		key, _ := keyTok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return 0
		}
		if key == "st" || key == "ed" {
			continue
		}
		if v, ok := numberOK(value); ok && v > 0 {
			return v
		}
	}
	return 0
}

func objectGroup(raw json.RawMessage) map[string]json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var group map[string]json.RawMessage
	if err := json.Unmarshal(raw, &group); err != nil {
		return nil
	}
	return group
}

func rawList(raw json.RawMessage) []json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	// Some firmware sends a single object instead of a list.
	if objectGroup(raw) != nil {
		return []json.RawMessage{raw}
	}
	return nil
}

func number(raw json.RawMessage) float64 {
	v, _ := numberOK(raw)
	return v
}

// numberOK only accepts JSON number literals; quoted numbers and booleans are
// not numeric fields.
func numberOK(raw json.RawMessage) (float64, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0, false
	}
	if c := trimmed[0]; c != '-' && (c < '0' || c > '9') {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return 0, false
	}
	v, err := n.Float64()
	if err != nil {
		return 0, false
	}
	return v, true
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
