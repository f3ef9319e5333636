package inverter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/common"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/log"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// GoodWe implements the System interface against the local REST bridge that
// fronts the inverter's UDP protocol. All control calls are synchronous; the
// bridge acknowledges only after the inverter accepted the command.
type GoodWe struct {
	client  *http.Client
	baseURL string
}

// configuredGoodWe sets up flags for the GoodWe driver and returns the
// instance.
func configuredGoodWe() *GoodWe {
	g := &GoodWe{
		client: common.HTTPClient(15 * time.Second),
	}
	baseURL := lflag.String("goodwe-url", "http://127.0.0.1:8787", "Base URL of the local GoodWe bridge")

	lflag.Do(func() {
		g.baseURL = *baseURL
	})

	return g
}

// Validate ensures the configuration is valid.
func (g *GoodWe) Validate() error {
	if g.baseURL == "" {
		return fmt.Errorf("goodwe-url is required")
	}
	if _, err := url.Parse(g.baseURL); err != nil {
		return fmt.Errorf("failed to parse goodwe url (%s): %w", g.baseURL, err)
	}
	return nil
}

// runtimeResponse is the bridge's runtime data payload.
type runtimeResponse struct {
	BatterySOC         float64  `json:"battery_soc"`
	BatteryTemperature float64  `json:"battery_temperature"`
	BatteryVoltage     float64  `json:"battery_voltage"`
	GridVoltage        float64  `json:"grid_voltage"`
	ErrorCodes         []string `json:"error_codes"`
}

func (g *GoodWe) doRequest(ctx context.Context, method, path string, body, dest interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("goodwe bridge request failed (%s): %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("goodwe bridge returned status %d for %s: %s", resp.StatusCode, path, raw)
	}
	if dest != nil {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return fmt.Errorf("failed to decode goodwe response (%s): %w", path, err)
		}
	}
	return nil
}

// ReadTelemetry returns the current battery and grid readings.
func (g *GoodWe) ReadTelemetry(ctx context.Context) (types.Telemetry, error) {
	var runtime runtimeResponse
	if err := g.doRequest(ctx, http.MethodGet, "/api/v1/runtime", nil, &runtime); err != nil {
		return types.Telemetry{}, err
	}
	return types.Telemetry{
		Timestamp:      time.Now(),
		BatterySOC:     runtime.BatterySOC,
		BatteryTempC:   runtime.BatteryTemperature,
		BatteryVoltage: runtime.BatteryVoltage,
		GridVoltage:    runtime.GridVoltage,
		ErrorCodes:     runtime.ErrorCodes,
	}, nil
}

// SetDischargeMode starts a grid-export discharge bounded by power and SOC.
func (g *GoodWe) SetDischargeMode(ctx context.Context, powerLimitW, minSOC float64) error {
	log.Ctx(ctx).InfoContext(ctx, "setting discharge mode",
		slog.Float64("powerLimitW", powerLimitW),
		slog.Float64("minSOC", minSOC),
	)
	return g.doRequest(ctx, http.MethodPost, "/api/v1/battery/discharge", map[string]float64{
		"power_limit_w": powerLimitW,
		"min_soc":       minSOC,
	}, nil)
}

// SetGridExportLimit caps the grid export power.
func (g *GoodWe) SetGridExportLimit(ctx context.Context, watts float64) error {
	log.Ctx(ctx).InfoContext(ctx, "setting grid export limit", slog.Float64("watts", watts))
	return g.doRequest(ctx, http.MethodPost, "/api/v1/export-limit", map[string]float64{
		"watts": watts,
	}, nil)
}

// Stop ends any active discharge.
func (g *GoodWe) Stop(ctx context.Context) error {
	log.Ctx(ctx).InfoContext(ctx, "stopping discharge")
	return g.doRequest(ctx, http.MethodPost, "/api/v1/battery/stop", nil, nil)
}
