package safety

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/log"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/types"
)

const (
	// defaultAlertCooldown suppresses repeated emergency log lines.
	defaultAlertCooldown = 5 * time.Minute
	// maxHistory bounds the rolling report history.
	maxHistory = 288 // one day at 5-minute cycles
)

// remediations maps a failed check name to fixed operator guidance.
var remediations = map[string]string{
	CheckBatteryTemperature: "stop selling and check the cooling system",
	CheckBatterySOC:         "stop selling and charge immediately",
	CheckGridVoltage:        "stop exporting until grid voltage stabilizes",
	CheckNightTime:          "preserve charge overnight, resume selling in the morning",
	CheckDeviceErrors:       "inspect inverter error codes before resuming",
	CheckBatteryHealth:      "inspect battery pack voltage and wiring",
}

// Stats tracks process-lifetime counters.
type Stats struct {
	EmergencyStops int `json:"emergencyStops"`
	Warnings       int `json:"warnings"`
}

// checkFn is one safety check over a telemetry snapshot.
type checkFn func(types.Telemetry, types.Settings, time.Time) types.SafetyCheck

// Monitor runs the fixed set of safety checks every evaluation cycle and
// reduces them to a single report. It owns its own rolling history; callers
// never mutate it directly.
type Monitor struct {
	mu                   sync.Mutex
	history              []types.SafetyReport
	stats                Stats
	lastEmergencyAlertAt time.Time
	alertCooldown        time.Duration
	now                  func() time.Time
	checkFns             []checkFn
}

// NewMonitor creates a Monitor with the default alert cooldown.
func NewMonitor() *Monitor {
	return &Monitor{
		alertCooldown: defaultAlertCooldown,
		now:           time.Now,
		// fixed check order so reports are comparable cycle to cycle
		checkFns: []checkFn{
			checkBatteryTemperature,
			checkBatterySOC,
			checkGridVoltage,
			checkNightTime,
			checkDeviceErrors,
			checkBatteryHealth,
		},
	}
}

// SetAlertCooldown overrides the emergency alert suppression window.
func (m *Monitor) SetAlertCooldown(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alertCooldown = d
}

// SetNowFunc overrides the clock. This is primarily used for testing.
func (m *Monitor) SetNowFunc(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Check runs all safety checks against the telemetry snapshot and returns
// exactly one report. Any internal fault degrades to an Emergency report
// rather than propagating.
func (m *Monitor) Check(ctx context.Context, telemetry types.Telemetry, settings types.Settings) (report types.SafetyReport) {
	m.mu.Lock()
	now := m.now()
	m.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			log.Ctx(ctx).ErrorContext(ctx, "safety check pipeline fault", slog.Any("panic", r))
			report = types.SafetyReport{
				OverallStatus:         types.SafetyStatusEmergency,
				Recommendations:       []string{"safety evaluation failed, investigate immediately"},
				EmergencyStopRequired: true,
				Timestamp:             now,
			}
			m.record(ctx, report)
		}
	}()

	checks := make([]types.SafetyCheck, 0, len(m.checkFns))
	for _, fn := range m.checkFns {
		checks = append(checks, fn(telemetry, settings, now))
	}

	overall := types.SafetyStatusSafe
	var recommendations []string
	for _, c := range checks {
		if c.Status > overall {
			overall = c.Status
		}
		if c.Status >= types.SafetyStatusWarning {
			if fix, ok := remediations[c.Name]; ok {
				recommendations = append(recommendations, fix)
			}
		}
	}

	report = types.SafetyReport{
		OverallStatus:         overall,
		Checks:                checks,
		Recommendations:       recommendations,
		EmergencyStopRequired: overall == types.SafetyStatusEmergency,
		Timestamp:             now,
	}
	m.record(ctx, report)
	return report
}

// record updates history, counters, and logs the report. Emergencies are
// logged at full severity only once per cooldown window; warnings are logged
// every cycle they occur.
func (m *Monitor) record(ctx context.Context, report types.SafetyReport) {
	m.mu.Lock()
	m.history = append(m.history, report)
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}

	var logEmergency bool
	switch report.OverallStatus {
	case types.SafetyStatusEmergency:
		m.stats.EmergencyStops++
		if ShouldAlert(report.Timestamp, m.lastEmergencyAlertAt, m.alertCooldown) {
			m.lastEmergencyAlertAt = report.Timestamp
			logEmergency = true
		}
	case types.SafetyStatusWarning:
		m.stats.Warnings++
	}
	m.mu.Unlock()

	switch report.OverallStatus {
	case types.SafetyStatusEmergency:
		if logEmergency {
			log.Ctx(ctx).ErrorContext(ctx, "safety emergency",
				slog.Any("failedChecks", report.FailedChecks(types.SafetyStatusEmergency)),
				slog.Any("recommendations", report.Recommendations),
			)
		}
	case types.SafetyStatusWarning:
		log.Ctx(ctx).WarnContext(ctx, "safety warning",
			slog.Any("failedChecks", report.FailedChecks(types.SafetyStatusWarning)),
		)
	default:
		log.Ctx(ctx).DebugContext(ctx, "safety checks passed")
	}
}

// History returns up to n most recent reports, newest last.
func (m *Monitor) History(n int) []types.SafetyReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 || n > len(m.history) {
		n = len(m.history)
	}
	out := make([]types.SafetyReport, n)
	copy(out, m.history[len(m.history)-n:])
	return out
}

// Stats returns the lifetime counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// ShouldAlert reports whether an emergency at now should be logged at full
// severity given the last alert and the cooldown window. Suppressed events
// are still recorded in history.
func ShouldAlert(now, lastAlertAt time.Time, cooldown time.Duration) bool {
	if lastAlertAt.IsZero() {
		return true
	}
	return now.Sub(lastAlertAt) >= cooldown
}
