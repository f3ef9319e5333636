package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/common"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/log"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/types"
	"github.com/levenlabs/go-lflag"
)

var (
	// PSE publishes in Polish local time
	plLocation = func() *time.Location {
		loc, err := time.LoadLocation("Europe/Warsaw")
		if err != nil {
			panic(fmt.Errorf("failed to load warsaw location: %w", err))
		}
		return loc
	}()
)

// PSE implements the PriceProvider interface for the PSE RCE (rynkowa cena
// energii) day-ahead price API.
type PSE struct {
	apiURL     string
	confidence float64
	client     *http.Client

	mu            sync.Mutex
	lastFetchTime time.Time
	lastFetchDay  string
	cachedPoints  []types.PricePoint
}

// configuredPSE sets up flags for PSE and returns the instance.
func configuredPSE() *PSE {
	p := &PSE{
		client: common.HTTPClient(10 * time.Second),
	}
	apiURL := lflag.String("pse-api-url", "https://api.raporty.pse.pl/api/rce-pln", "URL for the PSE RCE price API")
	confidence := lflag.String("pse-confidence", "0.9", "Confidence assigned to published day-ahead prices (0-1)")

	lflag.Do(func() {
		p.apiURL = *apiURL
		c, err := strconv.ParseFloat(*confidence, 64)
		if err != nil {
			panic(fmt.Sprintf("invalid pse-confidence: %v", err))
		}
		p.confidence = c
	})

	return p
}

// Validate ensures the configuration is valid.
func (p *PSE) Validate() error {
	if p.apiURL == "" {
		return fmt.Errorf("pse-api-url is required")
	}
	if _, err := url.Parse(p.apiURL); err != nil {
		return fmt.Errorf("failed to parse pse url (%s): %w", p.apiURL, err)
	}
	if p.confidence < 0 || p.confidence > 1 {
		return fmt.Errorf("pse-confidence must be in [0,1], got %f", p.confidence)
	}
	return nil
}

// pseEntry represents one row of the PSE RCE response. Sources disagree on
// the price field name, so both are accepted and normalized here.
type pseEntry struct {
	Day             string   `json:"doba"`
	Slot            string   `json:"udtczas"`
	PricePLNPerMWH  *float64 `json:"rce_pln"`
	Price           *float64 `json:"price"`
	ForecastPricePL *float64 `json:"forecasted_price_pln"`
}

// pricePLNPerKWH returns the normalized price, preferring the official RCE
// field. RCE is quoted per MWh.
func (e pseEntry) pricePLNPerKWH() (float64, bool) {
	switch {
	case e.PricePLNPerMWH != nil:
		return *e.PricePLNPerMWH / 1000.0, true
	case e.ForecastPricePL != nil:
		return *e.ForecastPricePL, true
	case e.Price != nil:
		return *e.Price, true
	default:
		return 0, false
	}
}

type pseResponse struct {
	Value []pseEntry `json:"value"`
}

// fetchDay retrieves and normalizes all price slots for one calendar day.
// The result is cached for 5 minutes.
func (p *PSE) fetchDay(ctx context.Context, date time.Time) ([]types.PricePoint, error) {
	day := date.In(plLocation).Format("2006-01-02")
	now := time.Now()

	p.mu.Lock()
	if p.lastFetchDay == day && !p.lastFetchTime.IsZero() && now.Sub(p.lastFetchTime) < 5*time.Minute {
		points := p.cachedPoints
		p.mu.Unlock()
		return points, nil
	}
	p.mu.Unlock()

	u, err := url.Parse(p.apiURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pse url: %w", err)
	}
	q := u.Query()
	q.Set("$filter", fmt.Sprintf("doba eq '%s'", day))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build pse request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pse prices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pse returned unexpected status %d", resp.StatusCode)
	}

	var parsed pseResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode pse response: %w", err)
	}

	points, err := normalizeEntries(ctx, parsed.Value)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cachedPoints = points
	p.lastFetchTime = now
	p.lastFetchDay = day
	p.mu.Unlock()

	return points, nil
}

// normalizeEntries converts raw PSE rows into hourly PricePoints. PSE
// publishes 15-minute slots; they are averaged into hourly buckets.
func normalizeEntries(ctx context.Context, entries []pseEntry) ([]types.PricePoint, error) {
	type bucket struct {
		sum   float64
		count int
	}
	buckets := map[time.Time]*bucket{}

	for _, e := range entries {
		price, ok := e.pricePLNPerKWH()
		if !ok {
			log.Ctx(ctx).DebugContext(ctx, "pse entry missing price field", slog.String("slot", e.Slot))
			continue
		}
		ts, err := time.ParseInLocation("2006-01-02 15:04", e.Slot, plLocation)
		if err != nil {
			// some exports only carry the day
			ts, err = time.ParseInLocation("2006-01-02", e.Day, plLocation)
			if err != nil {
				log.Ctx(ctx).DebugContext(ctx, "pse entry has unparseable timestamp", slog.String("slot", e.Slot))
				continue
			}
		}
		hour := ts.Truncate(time.Hour)
		if b, ok := buckets[hour]; ok {
			b.sum += price
			b.count++
		} else {
			buckets[hour] = &bucket{sum: price, count: 1}
		}
	}

	points := make([]types.PricePoint, 0, len(buckets))
	for hour, b := range buckets {
		points = append(points, types.PricePoint{
			TS:             hour,
			PricePLNPerKWH: b.sum / float64(b.count),
		})
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].TS.Before(points[j].TS)
	})
	return points, nil
}

// GetForecast returns the ordered hourly price series for date.
func (p *PSE) GetForecast(ctx context.Context, date time.Time) (types.PriceForecast, error) {
	points, err := p.fetchDay(ctx, date)
	if err != nil {
		return types.PriceForecast{}, err
	}
	return types.PriceForecast{Points: points, Confidence: p.confidence}, nil
}

// GetCurrentPrice returns the price for the hour containing now.
func (p *PSE) GetCurrentPrice(ctx context.Context) (types.PricePoint, error) {
	now := time.Now().In(plLocation)
	points, err := p.fetchDay(ctx, now)
	if err != nil {
		return types.PricePoint{}, err
	}
	hour := now.Truncate(time.Hour)
	for _, point := range points {
		if point.TS.Equal(hour) {
			return point, nil
		}
	}
	return types.PricePoint{}, fmt.Errorf("no price published for %s", hour.Format(time.RFC3339))
}
