package inverter

import (
	"context"

	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/types"
)

// System defines the interface for interacting with the inverter/battery
// driver. All calls may fail; the engine surfaces failures as
// Emergency-equivalent telemetry rather than swallowing them.
type System interface {
	// ReadTelemetry returns the current battery and grid readings.
	ReadTelemetry(ctx context.Context) (types.Telemetry, error)

	// SetDischargeMode starts discharging to the grid, limited to
	// powerLimitW and never below minSOC.
	SetDischargeMode(ctx context.Context, powerLimitW, minSOC float64) error

	// SetGridExportLimit caps the grid export power.
	SetGridExportLimit(ctx context.Context, watts float64) error

	// Stop ends any active discharge and returns the inverter to
	// self-consumption.
	Stop(ctx context.Context) error
}
