package decoder

// Stats summarises a day's heart-rate samples. Zeros are gaps, not readings.
type Stats struct {
	Avg   int `json:"avg_bpm"`
	Min   int `json:"min_bpm"`
	Max   int `json:"max_bpm"`
	Valid int `json:"valid_readings"`
	Total int `json:"total_readings"`
}

// HeartRateStats returns ok=false when no sample is non-zero.
func HeartRateStats(samples []int) (Stats, bool) {
	st := Stats{Total: len(samples)}
	sum := 0
	for _, v := range samples {
		if v == 0 {
			continue
		}
		if st.Valid == 0 || v < st.Min {
			st.Min = v
		}
		if v > st.Max {
			st.Max = v
		}
		sum += v
		st.Valid++
	}
	if st.Valid == 0 {
		return st, false
	}
	st.Avg = sum / st.Valid
	return st, true
}
