package types

import "time"

// PeakQuality classifies a forecast price peak by its percentile rank
// within the forecast's own distribution.
type PeakQuality int

const (
	PeakQualityExcellent PeakQuality = 1
	PeakQualityGood      PeakQuality = 2
	PeakQualityModerate  PeakQuality = 3
	PeakQualityPoor      PeakQuality = 4
)

func (q PeakQuality) String() string {
	switch q {
	case PeakQualityExcellent:
		return "excellent"
	case PeakQualityGood:
		return "good"
	case PeakQualityModerate:
		return "moderate"
	case PeakQualityPoor:
		return "poor"
	default:
		return "unknown"
	}
}

// Priority returns the scheduling priority for the quality, 1 = highest.
func (q PeakQuality) Priority() int {
	return int(q)
}

// PeakCandidate is a local price maximum retained by the scheduler.
type PeakCandidate struct {
	TS             time.Time   `json:"ts"`
	PricePLNPerKWH float64     `json:"pricePLNPerKWH"`
	Quality        PeakQuality `json:"quality"`
	Priority       int         `json:"priority"`
	PercentileRank float64     `json:"percentileRank"`
}

// SellingSession is one planned grid-export window sized against the battery.
// It is immutable once placed in a DailySellingPlan; status transitions are
// tracked by the surrounding session manager, not here.
type SellingSession struct {
	ID                   string      `json:"id"`
	StartTime            time.Time   `json:"startTime"`
	DurationHours        float64     `json:"durationHours"`
	TargetPricePLNPerKWH float64     `json:"targetPricePLNPerKWH"`
	Quality              PeakQuality `json:"quality"`
	AllocatedEnergyKWH   float64     `json:"allocatedEnergyKWH"`
	TargetEndSOC         float64     `json:"targetEndSOC"`
	ExpectedRevenuePLN   float64     `json:"expectedRevenuePLN"`
	Priority             int         `json:"priority"`
	Confidence           float64     `json:"confidence"`
}

// DailySellingPlan is the scheduler's output for one calendar day.
type DailySellingPlan struct {
	PlanDate                time.Time        `json:"planDate"`
	Sessions                []SellingSession `json:"sessions"` // ordered by StartTime
	TotalPlannedEnergyKWH   float64          `json:"totalPlannedEnergyKWH"`
	TotalExpectedRevenuePLN float64          `json:"totalExpectedRevenuePLN"`
	BatteryStartSOC         float64          `json:"batteryStartSOC"`
	BatteryEndSOC           float64          `json:"batteryEndSOC"`
	Confidence              float64          `json:"confidence"`
	Reasoning               string           `json:"reasoning"`
}

// CompletedSession records the outcome of a finished selling session for
// ledger bookkeeping and downstream revenue analytics.
type CompletedSession struct {
	SessionID         string    `json:"sessionID"`
	StartTime         time.Time `json:"startTime"`
	EndTime           time.Time `json:"endTime"`
	EnergySoldKWH     float64   `json:"energySoldKWH"`
	SOCDropPercent    float64   `json:"socDropPercent"`
	RevenuePLN        float64   `json:"revenuePLN"`
	AvgPricePLNPerKWH float64   `json:"avgPricePLNPerKWH"`
}
