package safety

import (
	"context"
	"testing"
	"time"

	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() types.Settings {
	s, _, err := types.MigrateSettings(types.Settings{}, 0)
	if err != nil {
		panic(err)
	}
	return s
}

// healthyTelemetry is safe against testSettings at noon.
func healthyTelemetry() types.Telemetry {
	return types.Telemetry{
		BatterySOC:     75,
		BatteryTempC:   25,
		BatteryVoltage: 52,
		GridVoltage:    230,
	}
}

func noon() time.Time {
	return time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
}

func TestCheckAllSafe(t *testing.T) {
	m := NewMonitor()
	m.SetNowFunc(noon)

	report := m.Check(context.Background(), healthyTelemetry(), testSettings())
	assert.Equal(t, types.SafetyStatusSafe, report.OverallStatus)
	assert.False(t, report.EmergencyStopRequired)
	assert.Len(t, report.Checks, 6)
	assert.Empty(t, report.Recommendations)
}

func TestCheckSeverityReduction(t *testing.T) {
	settings := testSettings()

	tests := []struct {
		name      string
		telemetry func(types.Telemetry) types.Telemetry
		status    types.SafetyStatus
		stop      bool
	}{
		{
			name: "warning only",
			telemetry: func(tel types.Telemetry) types.Telemetry {
				tel.BatterySOC = 45 // below min selling, above margin
				return tel
			},
			status: types.SafetyStatusWarning,
		},
		{
			name: "soc at margin is emergency",
			telemetry: func(tel types.Telemetry) types.Telemetry {
				tel.BatterySOC = 30
				return tel
			},
			status: types.SafetyStatusEmergency,
			stop:   true,
		},
		{
			name: "invalid soc is emergency",
			telemetry: func(tel types.Telemetry) types.Telemetry {
				tel.BatterySOC = 130
				return tel
			},
			status: types.SafetyStatusEmergency,
			stop:   true,
		},
		{
			name: "temperature near max warns",
			telemetry: func(tel types.Telemetry) types.Telemetry {
				tel.BatteryTempC = 46 // within 5C margin of 50
				return tel
			},
			status: types.SafetyStatusWarning,
		},
		{
			name: "temperature at max is emergency",
			telemetry: func(tel types.Telemetry) types.Telemetry {
				tel.BatteryTempC = 50
				return tel
			},
			status: types.SafetyStatusEmergency,
			stop:   true,
		},
		{
			name: "grid voltage out of band",
			telemetry: func(tel types.Telemetry) types.Telemetry {
				tel.GridVoltage = 260
				return tel
			},
			status: types.SafetyStatusEmergency,
			stop:   true,
		},
		{
			name: "negative grid voltage",
			telemetry: func(tel types.Telemetry) types.Telemetry {
				tel.GridVoltage = -1
				return tel
			},
			status: types.SafetyStatusEmergency,
			stop:   true,
		},
		{
			name: "device error codes",
			telemetry: func(tel types.Telemetry) types.Telemetry {
				tel.ErrorCodes = []string{"E042"}
				return tel
			},
			status: types.SafetyStatusEmergency,
			stop:   true,
		},
		{
			name: "battery voltage out of band warns",
			telemetry: func(tel types.Telemetry) types.Telemetry {
				tel.BatteryVoltage = 60
				return tel
			},
			status: types.SafetyStatusWarning,
		},
		{
			name: "emergency wins over warning",
			telemetry: func(tel types.Telemetry) types.Telemetry {
				tel.BatteryVoltage = 60 // warning
				tel.GridVoltage = 100   // emergency
				return tel
			},
			status: types.SafetyStatusEmergency,
			stop:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor()
			m.SetNowFunc(noon)
			report := m.Check(context.Background(), tt.telemetry(healthyTelemetry()), settings)
			assert.Equal(t, tt.status, report.OverallStatus)
			assert.Equal(t, tt.stop, report.EmergencyStopRequired)
			if tt.status >= types.SafetyStatusWarning {
				assert.NotEmpty(t, report.Recommendations)
			}
		})
	}
}

func TestCheckNightWindow(t *testing.T) {
	m := NewMonitor()
	m.SetNowFunc(func() time.Time {
		return time.Date(2026, 6, 10, 3, 0, 0, 0, time.UTC)
	})

	report := m.Check(context.Background(), healthyTelemetry(), testSettings())
	assert.Equal(t, types.SafetyStatusWarning, report.OverallStatus)
	assert.False(t, report.EmergencyStopRequired)
	assert.Contains(t, report.FailedChecks(types.SafetyStatusWarning), CheckNightTime)
}

func TestHistoryAndStats(t *testing.T) {
	m := NewMonitor()
	m.SetNowFunc(noon)
	settings := testSettings()

	m.Check(context.Background(), healthyTelemetry(), settings)

	bad := healthyTelemetry()
	bad.GridVoltage = -1
	m.Check(context.Background(), bad, settings)
	m.Check(context.Background(), bad, settings)

	history := m.History(2)
	require.Len(t, history, 2)
	assert.Equal(t, types.SafetyStatusEmergency, history[1].OverallStatus)

	stats := m.Stats()
	assert.Equal(t, 2, stats.EmergencyStops)
	assert.Equal(t, 0, stats.Warnings)
}

func TestCheckPipelineFaultDegradesToEmergency(t *testing.T) {
	m := NewMonitor()
	m.SetNowFunc(noon)
	m.checkFns = append(m.checkFns, func(types.Telemetry, types.Settings, time.Time) types.SafetyCheck {
		panic("bad threshold arithmetic")
	})

	report := m.Check(context.Background(), healthyTelemetry(), testSettings())

	assert.Equal(t, types.SafetyStatusEmergency, report.OverallStatus)
	assert.True(t, report.EmergencyStopRequired)
	assert.Empty(t, report.Checks)
	require.Len(t, report.Recommendations, 1)
	assert.Contains(t, report.Recommendations[0], "investigate immediately")
	assert.Equal(t, noon(), report.Timestamp)

	// the degraded report is still recorded like any other
	history := m.History(1)
	require.Len(t, history, 1)
	assert.Equal(t, types.SafetyStatusEmergency, history[0].OverallStatus)
	assert.Equal(t, 1, m.Stats().EmergencyStops)
}

func TestShouldAlert(t *testing.T) {
	now := noon()
	cooldown := 5 * time.Minute

	t.Run("first alert always fires", func(t *testing.T) {
		assert.True(t, ShouldAlert(now, time.Time{}, cooldown))
	})

	t.Run("inside cooldown is suppressed", func(t *testing.T) {
		assert.False(t, ShouldAlert(now, now.Add(-cooldown+time.Second), cooldown))
	})

	t.Run("exactly at cooldown fires", func(t *testing.T) {
		assert.True(t, ShouldAlert(now, now.Add(-cooldown), cooldown))
	})
}
