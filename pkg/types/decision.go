package types

import "time"

// TimingDecision is the timing engine's answer for the current moment.
type TimingDecision int

const (
	TimingSellNow TimingDecision = iota
	TimingWaitForPeak
	TimingWaitForHigher
	TimingNoOpportunity
)

func (d TimingDecision) String() string {
	switch d {
	case TimingSellNow:
		return "sellNow"
	case TimingWaitForPeak:
		return "waitForPeak"
	case TimingWaitForHigher:
		return "waitForHigher"
	case TimingNoOpportunity:
		return "noOpportunity"
	default:
		return "unknown"
	}
}

// TimingRecommendation is the full timing engine output.
type TimingRecommendation struct {
	Decision   TimingDecision `json:"decision"`
	WaitHours  float64        `json:"waitHours"`
	Peak       *PeakCandidate `json:"peak,omitempty"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning"`
}

// SellingDecision is the decision engine's verdict.
type SellingDecision int

const (
	SellingDecisionWait SellingDecision = iota
	SellingDecisionStart
)

func (d SellingDecision) String() string {
	switch d {
	case SellingDecisionWait:
		return "wait"
	case SellingDecisionStart:
		return "startSelling"
	default:
		return "unknown"
	}
}

// RiskLevel grades an accepted selling opportunity.
type RiskLevel int

const (
	RiskLevelLow RiskLevel = iota
	RiskLevelMedium
	RiskLevelHigh
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLevelLow:
		return "low"
	case RiskLevelMedium:
		return "medium"
	case RiskLevelHigh:
		return "high"
	default:
		return "unknown"
	}
}

// SellingOpportunity is the decision engine's actionable output: the verdict
// plus sizing for the actuation layer.
type SellingOpportunity struct {
	Decision               SellingDecision `json:"decision"`
	SafetyChecksPassed     bool            `json:"safetyChecksPassed"`
	ExpectedRevenuePLN     float64         `json:"expectedRevenuePLN"`
	SellingPowerW          float64         `json:"sellingPowerW"`
	EstimatedDurationHours float64         `json:"estimatedDurationHours"`
	SOCDropPercent         float64         `json:"socDropPercent"`
	Risk                   RiskLevel       `json:"risk"`
	Confidence             float64         `json:"confidence"`
	Reasoning              string          `json:"reasoning"`
	Timestamp              time.Time       `json:"timestamp"`
}
