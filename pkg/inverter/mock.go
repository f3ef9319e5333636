package inverter

import (
	"context"
	"sync"
	"time"

	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/types"
)

// Mock is an in-memory System for tests and dry runs. Reads return the
// configured telemetry; control calls are recorded.
type Mock struct {
	mu        sync.Mutex
	telemetry types.Telemetry
	readErr   error
	exportErr error

	Discharging  bool
	PowerLimitW  float64
	MinSOC       float64
	ExportLimitW float64
	ExportCalls  int
	StopCalls    int
}

var _ System = (*Mock)(nil)

// NewMock creates a Mock with sane default telemetry.
func NewMock() *Mock {
	return &Mock{
		telemetry: types.Telemetry{
			Timestamp:      time.Now(),
			BatterySOC:     75,
			BatteryTempC:   25,
			BatteryVoltage: 52,
			GridVoltage:    230,
		},
	}
}

// SetTelemetry replaces the telemetry returned by ReadTelemetry.
func (m *Mock) SetTelemetry(t types.Telemetry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.telemetry = t
}

// SetReadError makes ReadTelemetry fail with err.
func (m *Mock) SetReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

func (m *Mock) ReadTelemetry(ctx context.Context) (types.Telemetry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return types.Telemetry{}, m.readErr
	}
	return m.telemetry, nil
}

func (m *Mock) SetDischargeMode(ctx context.Context, powerLimitW, minSOC float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Discharging = true
	m.PowerLimitW = powerLimitW
	m.MinSOC = minSOC
	return nil
}

// SetExportLimitError makes SetGridExportLimit fail with err.
func (m *Mock) SetExportLimitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exportErr = err
}

func (m *Mock) SetGridExportLimit(ctx context.Context, watts float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExportCalls++
	if m.exportErr != nil {
		return m.exportErr
	}
	m.ExportLimitW = watts
	return nil
}

func (m *Mock) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Discharging = false
	m.StopCalls++
	return nil
}
