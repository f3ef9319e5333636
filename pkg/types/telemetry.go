package types

import "time"

// Telemetry is a snapshot of live inverter/battery readings.
type Telemetry struct {
	Timestamp      time.Time `json:"timestamp"`
	BatterySOC     float64   `json:"batterySOC"` // 0-100
	BatteryTempC   float64   `json:"batteryTempC"`
	BatteryVoltage float64   `json:"batteryVoltage"`
	GridVoltage    float64   `json:"gridVoltage"`
	ErrorCodes     []string  `json:"errorCodes,omitempty"`
	// Stale is set by the engine when the snapshot is older than one
	// evaluation interval; stale readings are treated as validation failures.
	Stale bool `json:"stale,omitempty"`
}

// DrawdownDateKey formats a time as a ledger date key.
func DrawdownDateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// DailyDrawdown maps a calendar date key to the cumulative SOC percentage
// already sold that day.
type DailyDrawdown map[string]float64

// UsedOn returns the cumulative drop recorded for the day containing t.
func (d DailyDrawdown) UsedOn(t time.Time) float64 {
	return d[DrawdownDateKey(t)]
}

// Pruned returns a copy without entries older than maxAge relative to now.
// Unparseable keys are dropped.
func (d DailyDrawdown) Pruned(now time.Time, maxAge time.Duration) DailyDrawdown {
	out := make(DailyDrawdown, len(d))
	cutoff := now.Add(-maxAge)
	for key, used := range d {
		day, err := time.ParseInLocation("2006-01-02", key, now.Location())
		if err != nil {
			continue
		}
		// compare against the end of the keyed day so "today" always survives
		if day.Add(24 * time.Hour).Before(cutoff) {
			continue
		}
		out[key] = used
	}
	return out
}
