package safety

import (
	"fmt"
	"time"

	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/types"
)

const (
	CheckBatteryTemperature = "battery_temperature"
	CheckBatterySOC         = "battery_soc"
	CheckGridVoltage        = "grid_voltage"
	CheckNightTime          = "night_time"
	CheckDeviceErrors       = "device_errors"
	CheckBatteryHealth      = "battery_health"
)

// checkBatteryTemperature flags temperatures outside the hardware limits.
// Emergency at or beyond either limit, Warning within the configured margin
// below the maximum.
func checkBatteryTemperature(t types.Telemetry, s types.Settings, now time.Time) types.SafetyCheck {
	check := types.SafetyCheck{
		Name:          CheckBatteryTemperature,
		ObservedValue: t.BatteryTempC,
		Threshold:     s.MaxBatteryTempC,
		Timestamp:     now,
	}
	switch {
	case t.BatteryTempC >= s.MaxBatteryTempC:
		check.Status = types.SafetyStatusEmergency
		check.Message = fmt.Sprintf("battery temperature %.1fC at or above maximum %.1fC", t.BatteryTempC, s.MaxBatteryTempC)
	case t.BatteryTempC <= s.MinBatteryTempC:
		check.Status = types.SafetyStatusEmergency
		check.Threshold = s.MinBatteryTempC
		check.Message = fmt.Sprintf("battery temperature %.1fC at or below minimum %.1fC", t.BatteryTempC, s.MinBatteryTempC)
	case t.BatteryTempC >= s.MaxBatteryTempC-s.TempWarningMargin:
		check.Status = types.SafetyStatusWarning
		check.Message = fmt.Sprintf("battery temperature %.1fC within %.1fC of maximum", t.BatteryTempC, s.TempWarningMargin)
	default:
		check.Status = types.SafetyStatusSafe
		check.Message = fmt.Sprintf("battery temperature %.1fC ok", t.BatteryTempC)
	}
	return check
}

// checkBatterySOC validates the reported SOC and enforces the safety margin.
// An out-of-range reading is a data validation failure and escalates to
// Emergency rather than being defaulted.
func checkBatterySOC(t types.Telemetry, s types.Settings, now time.Time) types.SafetyCheck {
	check := types.SafetyCheck{
		Name:          CheckBatterySOC,
		ObservedValue: t.BatterySOC,
		Threshold:     s.SafetyMarginSOC,
		Timestamp:     now,
	}
	switch {
	case t.BatterySOC < 0 || t.BatterySOC > 100:
		check.Status = types.SafetyStatusEmergency
		check.Message = fmt.Sprintf("battery SOC %.1f%% outside valid range [0,100]", t.BatterySOC)
	case t.BatterySOC <= s.SafetyMarginSOC:
		check.Status = types.SafetyStatusEmergency
		check.Message = fmt.Sprintf("battery SOC %.1f%% at or below safety margin %.1f%%", t.BatterySOC, s.SafetyMarginSOC)
	case t.BatterySOC < s.MinSellingSOC:
		check.Status = types.SafetyStatusWarning
		check.Threshold = s.MinSellingSOC
		check.Message = fmt.Sprintf("battery SOC %.1f%% below minimum selling level %.1f%%", t.BatterySOC, s.MinSellingSOC)
	default:
		check.Status = types.SafetyStatusSafe
		check.Message = fmt.Sprintf("battery SOC %.1f%% ok", t.BatterySOC)
	}
	return check
}

// checkGridVoltage flags voltages outside the configured band. A negative
// reading signals a communication failure and is treated the same.
func checkGridVoltage(t types.Telemetry, s types.Settings, now time.Time) types.SafetyCheck {
	check := types.SafetyCheck{
		Name:          CheckGridVoltage,
		ObservedValue: t.GridVoltage,
		Threshold:     s.GridVoltageMax,
		Timestamp:     now,
	}
	switch {
	case t.GridVoltage < 0:
		check.Status = types.SafetyStatusEmergency
		check.Message = fmt.Sprintf("grid voltage %.1fV negative, reading invalid", t.GridVoltage)
	case t.GridVoltage < s.GridVoltageMin || t.GridVoltage > s.GridVoltageMax:
		check.Status = types.SafetyStatusEmergency
		check.Message = fmt.Sprintf("grid voltage %.1fV outside [%.1f, %.1f]", t.GridVoltage, s.GridVoltageMin, s.GridVoltageMax)
	default:
		check.Status = types.SafetyStatusSafe
		check.Message = fmt.Sprintf("grid voltage %.1fV ok", t.GridVoltage)
	}
	return check
}

// checkNightTime warns during the configured preserve-charge hours.
// This check never escalates to Emergency.
func checkNightTime(t types.Telemetry, s types.Settings, now time.Time) types.SafetyCheck {
	check := types.SafetyCheck{
		Name:          CheckNightTime,
		ObservedValue: float64(now.Hour()),
		Timestamp:     now,
	}
	hour := now.Hour()
	for _, h := range s.PreserveChargeHours {
		if hour == h {
			check.Status = types.SafetyStatusWarning
			check.Message = fmt.Sprintf("hour %d is inside the preserve-charge window", hour)
			return check
		}
	}
	check.Status = types.SafetyStatusSafe
	check.Message = fmt.Sprintf("hour %d outside preserve-charge window", hour)
	return check
}

// checkDeviceErrors escalates any reported inverter error code to Emergency.
func checkDeviceErrors(t types.Telemetry, _ types.Settings, now time.Time) types.SafetyCheck {
	check := types.SafetyCheck{
		Name:          CheckDeviceErrors,
		ObservedValue: float64(len(t.ErrorCodes)),
		Timestamp:     now,
	}
	if len(t.ErrorCodes) > 0 {
		check.Status = types.SafetyStatusEmergency
		check.Message = fmt.Sprintf("device reports error codes: %v", t.ErrorCodes)
		return check
	}
	check.Status = types.SafetyStatusSafe
	check.Message = "no device error codes"
	return check
}

// checkBatteryHealth warns when the pack voltage leaves its expected
// operating band.
func checkBatteryHealth(t types.Telemetry, s types.Settings, now time.Time) types.SafetyCheck {
	check := types.SafetyCheck{
		Name:          CheckBatteryHealth,
		ObservedValue: t.BatteryVoltage,
		Threshold:     s.BatteryVoltageMax,
		Timestamp:     now,
	}
	if t.BatteryVoltage < s.BatteryVoltageMin || t.BatteryVoltage > s.BatteryVoltageMax {
		check.Status = types.SafetyStatusWarning
		check.Message = fmt.Sprintf("battery voltage %.1fV outside expected band [%.1f, %.1f]", t.BatteryVoltage, s.BatteryVoltageMin, s.BatteryVoltageMax)
		return check
	}
	check.Status = types.SafetyStatusSafe
	check.Message = fmt.Sprintf("battery voltage %.1fV ok", t.BatteryVoltage)
	return check
}
