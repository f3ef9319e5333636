package types

import "time"

// ConsumptionRecord is one hour of measured household consumption. The
// buy-back risk analysis averages these to project the energy deficit the
// house will face before the battery can be recharged cheaply.
type ConsumptionRecord struct {
	TSHourStart time.Time `json:"tsHourStart"`
	HomeKWH     float64   `json:"homeKWH"`
}
