package types

// CurrentSettingsVersion is the current version of the settings struct.
// Increment this value when adding new fields that require default values.
const CurrentSettingsVersion = 3

// Settings represents the tunable configuration stored in the database.
// These are dynamic settings that can be changed without redeploying.
type Settings struct {
	DryRun bool `json:"dryRun"`
	// Pause decision evaluation entirely
	Pause bool `json:"pause"`

	// Battery
	BatteryCapacityKWH  float64 `json:"batteryCapacityKWH"`
	SafetyMarginSOC     float64 `json:"safetyMarginSOC"` // selling never goes below this
	MinSellingSOC       float64 `json:"minSellingSOC"`   // below this selling is discouraged
	DischargeEfficiency float64 `json:"dischargeEfficiency"`

	// Grid
	MaxExportPowerW float64 `json:"maxExportPowerW"`
	GridVoltageMin  float64 `json:"gridVoltageMin"`
	GridVoltageMax  float64 `json:"gridVoltageMax"`

	// Battery hardware limits
	MaxBatteryTempC   float64 `json:"maxBatteryTempC"`
	MinBatteryTempC   float64 `json:"minBatteryTempC"`
	TempWarningMargin float64 `json:"tempWarningMargin"`
	BatteryVoltageMin float64 `json:"batteryVoltageMin"`
	BatteryVoltageMax float64 `json:"batteryVoltageMax"`

	// Hours (local time) during which charge should be preserved; the
	// night-time safety check warns inside this window.
	PreserveChargeHours []int `json:"preserveChargeHours"`

	// Peak scheduling
	MinPeakPricePLNPerKWH  float64 `json:"minPeakPricePLNPerKWH"`
	MinPeakSeparationHours float64 `json:"minPeakSeparationHours"`
	ExcellentPercentile    float64 `json:"excellentPercentile"`
	GoodPercentile         float64 `json:"goodPercentile"`
	ModeratePercentile     float64 `json:"moderatePercentile"`
	MaxSessionsPerDay      int     `json:"maxSessionsPerDay"`
	ReserveEveningPeak     bool    `json:"reserveEveningPeak"`
	EveningStartHour       int     `json:"eveningStartHour"`
	EveningEndHour         int     `json:"eveningEndHour"`
	MinForecastPoints      int     `json:"minForecastPoints"`

	// Timing
	LookaheadHours             float64 `json:"lookaheadHours"`
	MinForecastConfidence      float64 `json:"minForecastConfidence"`
	AggressiveSellPercentile   float64 `json:"aggressiveSellPercentile"`
	StandardSellPercentile     float64 `json:"standardSellPercentile"`
	ConditionalSellPercentile  float64 `json:"conditionalSellPercentile"`
	NearTermHorizonHours       float64 `json:"nearTermHorizonHours"`
	HighWaitRelativeIncrease   float64 `json:"highWaitRelativeIncrease"`
	MediumWaitRelativeIncrease float64 `json:"mediumWaitRelativeIncrease"`
	MediumWaitHorizonHours     float64 `json:"mediumWaitHorizonHours"`
	LowWaitRelativeIncrease    float64 `json:"lowWaitRelativeIncrease"`
	LowWaitHorizonHours        float64 `json:"lowWaitHorizonHours"`

	// Selling decision
	MinSellingPricePLNPerKWH      float64 `json:"minSellingPricePLNPerKWH"`
	ProfitMarginMultiplier        float64 `json:"profitMarginMultiplier"`
	EmergencySellPricePLNPerKWH   float64 `json:"emergencySellPricePLNPerKWH"`
	MinBuyBackSavingsRatio        float64 `json:"minBuyBackSavingsRatio"`
	BuyBackHorizonHours           float64 `json:"buyBackHorizonHours"`
	BuyBackFuturePriceMarginRatio float64 `json:"buyBackFuturePriceMarginRatio"`

	// Drawdown caps (SOC percent)
	MaxSOCDropPerSession float64 `json:"maxSOCDropPerSession"`
	MaxSOCDropPerDay     float64 `json:"maxSOCDropPerDay"`

	// Loop intervals
	EvaluationIntervalMinutes int `json:"evaluationIntervalMinutes"`
	PlanningHour              int `json:"planningHour"`
}

// MigrateSettings migrates the settings to the current version.
// It returns the migrated settings, a boolean indicating if changes were
// made, and an error if migration failed.
func MigrateSettings(s Settings, currentVersion int) (Settings, bool, error) {
	if currentVersion >= CurrentSettingsVersion {
		return s, false, nil
	}

	migrated := false
	set := func(field *float64, def float64) {
		if *field == 0 {
			*field = def
			migrated = true
		}
	}
	setInt := func(field *int, def int) {
		if *field == 0 {
			*field = def
			migrated = true
		}
	}

	// Loop through versions to apply migrations sequentially
	for version := currentVersion + 1; version <= CurrentSettingsVersion; version++ {
		switch version {
		case 1:
			// version 1: battery, grid and safety baselines
			set(&s.BatteryCapacityKWH, 10.0)
			set(&s.SafetyMarginSOC, 30.0)
			set(&s.MinSellingSOC, 50.0)
			set(&s.DischargeEfficiency, 0.92)
			set(&s.MaxExportPowerW, 5000)
			set(&s.GridVoltageMin, 207)
			set(&s.GridVoltageMax, 253)
			set(&s.MaxBatteryTempC, 50)
			if s.MinBatteryTempC == 0 {
				s.MinBatteryTempC = -10
				migrated = true
			}
			set(&s.TempWarningMargin, 5)
			set(&s.BatteryVoltageMin, 45)
			set(&s.BatteryVoltageMax, 58)
			if len(s.PreserveChargeHours) == 0 {
				s.PreserveChargeHours = []int{0, 1, 2, 3, 4, 5}
				migrated = true
			}
			set(&s.MinPeakPricePLNPerKWH, 0.60)
			set(&s.MinPeakSeparationHours, 2)
			set(&s.ExcellentPercentile, 95)
			set(&s.GoodPercentile, 85)
			set(&s.ModeratePercentile, 75)
			setInt(&s.MaxSessionsPerDay, 3)
			// the field didn't exist before v1 so default it on
			if !s.ReserveEveningPeak {
				s.ReserveEveningPeak = true
				migrated = true
			}
			setInt(&s.EveningStartHour, 17)
			setInt(&s.EveningEndHour, 21)
			setInt(&s.MinForecastPoints, 6)
		case 2:
			// version 2: timing thresholds
			set(&s.LookaheadHours, 12)
			set(&s.MinForecastConfidence, 0.5)
			set(&s.AggressiveSellPercentile, 95)
			set(&s.StandardSellPercentile, 85)
			set(&s.ConditionalSellPercentile, 75)
			set(&s.NearTermHorizonHours, 2)
			set(&s.HighWaitRelativeIncrease, 0.30)
			set(&s.MediumWaitRelativeIncrease, 0.15)
			set(&s.MediumWaitHorizonHours, 3)
			set(&s.LowWaitRelativeIncrease, 0.10)
			set(&s.LowWaitHorizonHours, 1)
		case 3:
			// version 3: decision gates, drawdown caps and loop intervals
			set(&s.MinSellingPricePLNPerKWH, 0.50)
			set(&s.ProfitMarginMultiplier, 1.2)
			set(&s.EmergencySellPricePLNPerKWH, 1.50)
			set(&s.MinBuyBackSavingsRatio, 1.3)
			set(&s.BuyBackHorizonHours, 12)
			set(&s.BuyBackFuturePriceMarginRatio, 1.1)
			set(&s.MaxSOCDropPerSession, 20)
			set(&s.MaxSOCDropPerDay, 40)
			setInt(&s.EvaluationIntervalMinutes, 5)
			setInt(&s.PlanningHour, 6)
		}
	}

	return s, migrated, nil
}
