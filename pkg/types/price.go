package types

import (
	"sort"
	"time"
)

// PricePoint represents a single day-ahead market price for an hour-ish slot.
type PricePoint struct {
	TS             time.Time `json:"ts"`
	PricePLNPerKWH float64   `json:"pricePLNPerKWH"`
}

// PriceForecast is an ordered series of price points plus the provider's
// confidence in the series as a whole.
type PriceForecast struct {
	Points     []PricePoint `json:"points"`
	Confidence float64      `json:"confidence"` // 0-1
}

// Sorted returns a copy of the forecast with points ordered by time.
// Duplicate timestamps are kept as-is.
func (f PriceForecast) Sorted() PriceForecast {
	points := make([]PricePoint, len(f.Points))
	copy(points, f.Points)
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].TS.Before(points[j].TS)
	})
	return PriceForecast{Points: points, Confidence: f.Confidence}
}

// PercentileRank returns the percentile of price against the forecast's own
// distribution: (count of points <= price) / len * 100.
// An empty forecast returns 0.
func (f PriceForecast) PercentileRank(price float64) float64 {
	if len(f.Points) == 0 {
		return 0
	}
	var below int
	for _, p := range f.Points {
		if p.PricePLNPerKWH <= price {
			below++
		}
	}
	return float64(below) / float64(len(f.Points)) * 100.0
}

// Window returns the points with start <= TS < end, keeping order.
func (f PriceForecast) Window(start, end time.Time) PriceForecast {
	var points []PricePoint
	for _, p := range f.Points {
		if !p.TS.Before(start) && p.TS.Before(end) {
			points = append(points, p)
		}
	}
	return PriceForecast{Points: points, Confidence: f.Confidence}
}

// Empty returns true if the forecast has no points.
func (f PriceForecast) Empty() bool {
	return len(f.Points) == 0
}
