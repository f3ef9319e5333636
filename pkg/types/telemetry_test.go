package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDailyDrawdownPruned(t *testing.T) {
	now := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	dd := DailyDrawdown{
		"2026-06-10": 15, // today
		"2026-06-04": 10, // 6 days ago, inside retention
		"2026-06-02": 5,  // 8 days ago, outside
		"garbage":    3,
	}

	pruned := dd.Pruned(now, 7*24*time.Hour)
	assert.Equal(t, DailyDrawdown{
		"2026-06-10": 15,
		"2026-06-04": 10,
	}, pruned)
	// original untouched
	assert.Len(t, dd, 4)
}

func TestDailyDrawdownPrunedBoundary(t *testing.T) {
	now := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)
	dd := DailyDrawdown{"2026-06-03": 5}
	// end of 2026-06-03 is exactly the cutoff, so it survives
	pruned := dd.Pruned(now, 7*24*time.Hour)
	assert.Equal(t, 5.0, pruned["2026-06-03"])
}

func TestUsedOn(t *testing.T) {
	dd := DailyDrawdown{"2026-06-10": 12.5}
	assert.Equal(t, 12.5, dd.UsedOn(time.Date(2026, 6, 10, 23, 0, 0, 0, time.UTC)))
	assert.Equal(t, 0.0, dd.UsedOn(time.Date(2026, 6, 11, 1, 0, 0, 0, time.UTC)))
}
