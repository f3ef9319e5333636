// planday is a one-shot CLI that builds the selling plan for a single day
// and prints it as JSON. It is useful for inspecting what the scheduler
// would do without running the control loop.
package main

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/engine"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/forecast"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/inverter"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/log"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/storage"

	"github.com/levenlabs/go-lflag"
)

func main() {
	s := storage.Configured()
	sys := inverter.Configured()
	providers := forecast.Configured()
	e := engine.Configured(s, sys, providers)

	dateFlag := lflag.String("plan-date", "", "Date to plan for as YYYY-MM-DD (default today)")
	socFlag := lflag.String("soc", "", "Battery SOC percent to plan from (default read from the inverter)")

	var date time.Time
	var soc float64
	var socSet bool
	lflag.Do(func() {
		date = time.Now()
		if *dateFlag != "" {
			var err error
			date, err = time.Parse("2006-01-02", *dateFlag)
			if err != nil {
				panic("invalid plan-date, expected YYYY-MM-DD: " + *dateFlag)
			}
		}
		if *socFlag != "" {
			var err error
			soc, err = strconv.ParseFloat(*socFlag, 64)
			if err != nil {
				panic("invalid soc: " + *socFlag)
			}
			socSet = true
		}
	})
	lflag.Configure()

	ctx := context.Background()
	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	if _, err := e.LoadSettings(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load settings", "error", err)
		os.Exit(1)
	}

	if !socSet {
		telemetry, err := sys.ReadTelemetry(ctx)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to read telemetry, pass -soc instead", "error", err)
			os.Exit(1)
		}
		soc = telemetry.BatterySOC
	}

	priceForecast, err := e.FetchForecast(ctx, date)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch forecast", "error", err)
		os.Exit(1)
	}

	plan, ok := e.PlanDay(ctx, priceForecast, soc)
	if !ok {
		log.Ctx(ctx).InfoContext(ctx, "no viable selling plan for date",
			"date", date.Format("2006-01-02"),
			"forecastPoints", len(priceForecast.Points),
		)
		os.Exit(0)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(plan); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to print plan", "error", err)
		os.Exit(1)
	}
}
