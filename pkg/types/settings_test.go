package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateSettings(t *testing.T) {
	t.Run("from zero", func(t *testing.T) {
		s, changed, err := MigrateSettings(Settings{}, 0)
		require.NoError(t, err)
		assert.True(t, changed)

		assert.Equal(t, 10.0, s.BatteryCapacityKWH)
		assert.Equal(t, 30.0, s.SafetyMarginSOC)
		assert.Equal(t, 50.0, s.MinSellingSOC)
		assert.Equal(t, -10.0, s.MinBatteryTempC)
		assert.True(t, s.ReserveEveningPeak)
		assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, s.PreserveChargeHours)
		assert.Equal(t, 95.0, s.AggressiveSellPercentile)
		assert.Equal(t, 0.30, s.HighWaitRelativeIncrease)
		assert.Equal(t, 1.50, s.EmergencySellPricePLNPerKWH)
		assert.Equal(t, 20.0, s.MaxSOCDropPerSession)
		assert.Equal(t, 40.0, s.MaxSOCDropPerDay)
		assert.Equal(t, 5, s.EvaluationIntervalMinutes)
		assert.Equal(t, 6, s.PlanningHour)
	})

	t.Run("current version untouched", func(t *testing.T) {
		in := Settings{BatteryCapacityKWH: 27.2}
		s, changed, err := MigrateSettings(in, CurrentSettingsVersion)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, in, s)
	})

	t.Run("existing values preserved", func(t *testing.T) {
		in := Settings{
			BatteryCapacityKWH:   27.2,
			MaxSOCDropPerSession: 10,
		}
		s, changed, err := MigrateSettings(in, 0)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, 27.2, s.BatteryCapacityKWH)
		assert.Equal(t, 10.0, s.MaxSOCDropPerSession)
		// untouched fields still get defaults
		assert.Equal(t, 0.92, s.DischargeEfficiency)
	})

	t.Run("partial upgrade", func(t *testing.T) {
		// a v2 store only gets the v3 fields defaulted
		s, changed, err := MigrateSettings(Settings{}, 2)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, 0.0, s.BatteryCapacityKWH)
		assert.Equal(t, 0.0, s.LookaheadHours)
		assert.Equal(t, 0.50, s.MinSellingPricePLNPerKWH)
	})
}
