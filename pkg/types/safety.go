package types

import "time"

// SafetyStatus represents the severity of a safety check result.
// The ordering is meaningful: a report's overall status is the maximum
// severity across its checks.
type SafetyStatus int

const (
	SafetyStatusSafe    SafetyStatus = 0
	SafetyStatusWarning SafetyStatus = 1
	// SafetyStatusCritical is reserved; current checks only emit
	// Safe/Warning/Emergency.
	SafetyStatusCritical  SafetyStatus = 2
	SafetyStatusEmergency SafetyStatus = 3
)

func (s SafetyStatus) String() string {
	switch s {
	case SafetyStatusSafe:
		return "safe"
	case SafetyStatusWarning:
		return "warning"
	case SafetyStatusCritical:
		return "critical"
	case SafetyStatusEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// SafetyCheck is the result of a single point-in-time check.
type SafetyCheck struct {
	Name          string       `json:"name"`
	Status        SafetyStatus `json:"status"`
	ObservedValue float64      `json:"observedValue"`
	Threshold     float64      `json:"threshold"`
	Message       string       `json:"message"`
	Timestamp     time.Time    `json:"timestamp"`
}

// SafetyReport is the aggregated result of one monitoring cycle.
type SafetyReport struct {
	OverallStatus         SafetyStatus  `json:"overallStatus"`
	Checks                []SafetyCheck `json:"checks"`
	Recommendations       []string      `json:"recommendations"`
	EmergencyStopRequired bool          `json:"emergencyStopRequired"`
	Timestamp             time.Time     `json:"timestamp"`
}

// FailedChecks returns the names of checks at or above the given severity.
func (r SafetyReport) FailedChecks(atLeast SafetyStatus) []string {
	var names []string
	for _, c := range r.Checks {
		if c.Status >= atLeast {
			names = append(names, c.Name)
		}
	}
	return names
}
