// Package rules implements the condition evaluator: a pure mapping from a
// farm snapshot plus a forecast window to zero or more risk findings.
//
// Each risk kind is one entry in a declarative rule table. Adding a new kind
// means adding a table entry, not a new code path: the evaluator walks the
// table, collects findings, and orders them for dispatch. Evaluation performs
// no I/O and depends on no clock beyond the window's reference time, so a
// fixed input always yields the same findings.
package rules

import (
	"fmt"
	"sort"
	"time"

	"agroalert/internal/types"
)

// Thresholds holds the tunable agronomic limits the rule table evaluates
// against. Values are domain configuration, not engineering contract; the
// defaults suit temperate field crops.
type Thresholds struct {
	// Wind bands (km/h). Above alert is medium severity, above severe is high.
	WindAlertKph  float64 `envconfig:"RULE_WIND_ALERT_KPH" default:"30"`
	WindSevereKph float64 `envconfig:"RULE_WIND_SEVERE_KPH" default:"40"`

	// Rain bands (mm/day).
	RainHeavyMM  float64 `envconfig:"RULE_RAIN_HEAVY_MM" default:"20"`
	RainSevereMM float64 `envconfig:"RULE_RAIN_SEVERE_MM" default:"40"`

	// Frost bands (degC, daily minimum).
	FrostTempC  float64 `envconfig:"RULE_FROST_TEMP_C" default:"2"`
	FrostHardC  float64 `envconfig:"RULE_FROST_HARD_C" default:"-2"`

	// Foliar disease A: humid, overcast days.
	DiseaseHumidityPct float64 `envconfig:"RULE_DISEASE_HUMIDITY_PCT" default:"85"`
	DiseaseCloudPct    float64 `envconfig:"RULE_DISEASE_CLOUD_PCT" default:"70"`

	// Foliar disease B: wet, windy days (splash dispersal).
	DiseasePrecipMM float64 `envconfig:"RULE_DISEASE_PRECIP_MM" default:"5"`
	DiseaseWindKph  float64 `envconfig:"RULE_DISEASE_WIND_KPH" default:"15"`

	// Shared compound-rule window: current day plus up to this many prior days.
	DiseaseWindowDays int `envconfig:"RULE_DISEASE_WINDOW_DAYS" default:"4"`
	// Qualifying days needed for a compound rule to fire at all.
	DiseaseMinDays int `envconfig:"RULE_DISEASE_MIN_DAYS" default:"2"`
	// Qualifying days at which a compound finding escalates to high.
	DiseaseHighDays int `envconfig:"RULE_DISEASE_HIGH_DAYS" default:"3"`

	// Advisory windows (days).
	FertilizeQuietDays  int `envconfig:"RULE_FERTILIZE_QUIET_DAYS" default:"7"`
	MonitoringIdleDays  int `envconfig:"RULE_MONITORING_IDLE_DAYS" default:"7"`
	IrrigationQuietDays int `envconfig:"RULE_IRRIGATION_QUIET_DAYS" default:"2"`
	// Forecast precipitation below this over the leading days counts as dry.
	IrrigationDryMM float64 `envconfig:"RULE_IRRIGATION_DRY_MM" default:"2"`
}

// DefaultThresholds returns the agronomic defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		WindAlertKph:        30,
		WindSevereKph:       40,
		RainHeavyMM:         20,
		RainSevereMM:        40,
		FrostTempC:          2,
		FrostHardC:          -2,
		DiseaseHumidityPct:  85,
		DiseaseCloudPct:     70,
		DiseasePrecipMM:     5,
		DiseaseWindKph:      15,
		DiseaseWindowDays:   4,
		DiseaseMinDays:      2,
		DiseaseHighDays:     3,
		FertilizeQuietDays:  7,
		MonitoringIdleDays:  7,
		IrrigationQuietDays: 2,
		IrrigationDryMM:     2,
	}
}

// LeadTimes maps each kind to the offset before its trigger at which the
// alert should be delivered. Frost gets the longest lead because protective
// action (covering crops) takes longest to organize. Advisories are not
// event-anchored and go out immediately.
type LeadTimes map[types.RiskKind]time.Duration

// DefaultLeadTimes returns the per-kind delivery lead times.
func DefaultLeadTimes() LeadTimes {
	return LeadTimes{
		types.RiskFrost:           12 * time.Hour,
		types.RiskWind:            3 * time.Hour,
		types.RiskRain:            2 * time.Hour,
		types.RiskFoliarDiseaseA:  6 * time.Hour,
		types.RiskFoliarDiseaseB:  6 * time.Hour,
		types.RiskDiseaseCombined: 6 * time.Hour,
		types.AdvisoryFertilize:   0,
		types.AdvisoryIrrigation:  0,
		types.AdvisoryMonitoring:  0,
	}
}

// Lead returns the lead time for a kind, zero when unconfigured.
func (l LeadTimes) Lead(kind types.RiskKind) time.Duration { return l[kind] }

// Rule is one entry of the declarative rule table: a kind plus a detector
// that scans the window and emits findings for that kind.
type Rule struct {
	Kind   types.RiskKind
	Detect func(farm types.FarmContext, w types.ForecastWindow, t Thresholds) []types.RiskFinding
}

// Evaluator owns the rule table and thresholds. It is safe for concurrent
// use: evaluation reads only its immutable configuration.
type Evaluator struct {
	thresholds Thresholds
	table      []Rule
}

// NewEvaluator builds an evaluator with the standard rule table.
func NewEvaluator(t Thresholds) *Evaluator {
	return &Evaluator{
		thresholds: t,
		table: []Rule{
			{Kind: types.RiskWind, Detect: detectWind},
			{Kind: types.RiskRain, Detect: detectRain},
			{Kind: types.RiskFrost, Detect: detectFrost},
			{Kind: types.RiskFoliarDiseaseA, Detect: detectDiseaseA},
			{Kind: types.RiskFoliarDiseaseB, Detect: detectDiseaseB},
			{Kind: types.AdvisoryFertilize, Detect: detectFertilizeAdvisory},
			{Kind: types.AdvisoryIrrigation, Detect: detectIrrigationAdvisory},
			{Kind: types.AdvisoryMonitoring, Detect: detectMonitoringAdvisory},
		},
	}
}

// Evaluate maps a farm context and forecast window to risk findings.
//
// A missing or unknown crop stage is replaced with a safe default
// (vegetative growth) rather than rejected: one user's malformed context must
// never block the evaluation batch. After the table runs, the combined
// disease finding is derived when both foliar rules fired in the same window.
// Output is ordered by severity descending, then kind ascending for
// stability; no kind takes precedence for emission.
func (e *Evaluator) Evaluate(farm types.FarmContext, w types.ForecastWindow) []types.RiskFinding {
	if !types.ValidCropStage(farm.CropStage) {
		farm.CropStage = types.StageVegetative
	}

	var findings []types.RiskFinding
	for _, rule := range e.table {
		findings = append(findings, rule.Detect(farm, w, e.thresholds)...)
	}

	if combined := deriveCombinedDisease(findings, w); combined != nil {
		findings = append(findings, *combined)
	}

	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Severity.Rank() != findings[j].Severity.Rank() {
			return findings[i].Severity.Rank() > findings[j].Severity.Rank()
		}
		return findings[i].Kind < findings[j].Kind
	})

	return findings
}

// detectWind emits one finding per leading day whose wind speed exceeds the
// alert band. Severity is medium in the alert band, high above the severe band.
func detectWind(_ types.FarmContext, w types.ForecastWindow, t Thresholds) []types.RiskFinding {
	var out []types.RiskFinding
	for _, day := range w.Leading() {
		if day.WindKph <= t.WindAlertKph {
			continue
		}
		sev := types.SeverityMedium
		if day.WindKph > t.WindSevereKph {
			sev = types.SeverityHigh
		}
		out = append(out, types.RiskFinding{
			Kind:        types.RiskWind,
			Severity:    sev,
			TriggerDate: types.DayOf(day.Date),
			Explanation: fmt.Sprintf("wind speeds up to %.0f km/h expected", day.WindKph),
			RecommendedActions: []string{
				"postpone spraying",
				"secure row covers and greenhouse panels",
			},
		})
	}
	return out
}

// detectRain emits one finding per leading day with precipitation above the
// heavy-rain band.
func detectRain(_ types.FarmContext, w types.ForecastWindow, t Thresholds) []types.RiskFinding {
	var out []types.RiskFinding
	for _, day := range w.Leading() {
		if day.PrecipMM <= t.RainHeavyMM {
			continue
		}
		sev := types.SeverityMedium
		if day.PrecipMM > t.RainSevereMM {
			sev = types.SeverityHigh
		}
		out = append(out, types.RiskFinding{
			Kind:        types.RiskRain,
			Severity:    sev,
			TriggerDate: types.DayOf(day.Date),
			Explanation: fmt.Sprintf("up to %.0f mm of rain expected", day.PrecipMM),
			RecommendedActions: []string{
				"check field drainage",
				"postpone irrigation and fertilizer application",
			},
		})
	}
	return out
}

// detectFrost emits one finding per leading day whose minimum temperature
// drops below the frost band.
func detectFrost(_ types.FarmContext, w types.ForecastWindow, t Thresholds) []types.RiskFinding {
	var out []types.RiskFinding
	for _, day := range w.Leading() {
		if day.TempMinC >= t.FrostTempC {
			continue
		}
		sev := types.SeverityMedium
		if day.TempMinC < t.FrostHardC {
			sev = types.SeverityHigh
		}
		out = append(out, types.RiskFinding{
			Kind:        types.RiskFrost,
			Severity:    sev,
			TriggerDate: types.DayOf(day.Date),
			Explanation: fmt.Sprintf("overnight minimum of %.1f degC expected", day.TempMinC),
			RecommendedActions: []string{
				"cover sensitive crops before nightfall",
				"run irrigation at dawn to buffer ground temperature",
			},
		})
	}
	return out
}

// compoundSeverity maps a qualifying-day count to the compound rule severity.
// Returns an empty severity when the count is below the firing minimum.
func compoundSeverity(qualifying int, t Thresholds) types.Severity {
	switch {
	case qualifying >= t.DiseaseHighDays:
		return types.SeverityHigh
	case qualifying >= t.DiseaseMinDays:
		return types.SeverityMedium
	}
	return ""
}

// detectDiseaseA scans the trailing window (current day plus up to
// DiseaseWindowDays prior) for humid, overcast days. Persistence over
// multiple days, not any single day, is what drives foliar infection risk.
func detectDiseaseA(_ types.FarmContext, w types.ForecastWindow, t Thresholds) []types.RiskFinding {
	qualifying := 0
	for _, day := range w.Trailing(t.DiseaseWindowDays) {
		if day.HumidityPct > t.DiseaseHumidityPct && day.CloudPct > t.DiseaseCloudPct {
			qualifying++
		}
	}
	sev := compoundSeverity(qualifying, t)
	if sev == "" {
		return nil
	}
	return []types.RiskFinding{{
		Kind:        types.RiskFoliarDiseaseA,
		Severity:    sev,
		TriggerDate: types.DayOf(w.Reference),
		Explanation: fmt.Sprintf("%d recent days of high humidity under heavy cloud cover favor foliar disease", qualifying),
		RecommendedActions: []string{
			"scout lower leaves for early lesions",
			"apply a preventive fungicide if none applied this week",
		},
	}}
}

// detectDiseaseB scans the same trailing window for wet, windy days
// (splash-dispersal conditions). Independent of disease A.
func detectDiseaseB(_ types.FarmContext, w types.ForecastWindow, t Thresholds) []types.RiskFinding {
	qualifying := 0
	for _, day := range w.Trailing(t.DiseaseWindowDays) {
		if day.PrecipMM > t.DiseasePrecipMM && day.WindKph > t.DiseaseWindKph {
			qualifying++
		}
	}
	sev := compoundSeverity(qualifying, t)
	if sev == "" {
		return nil
	}
	return []types.RiskFinding{{
		Kind:        types.RiskFoliarDiseaseB,
		Severity:    sev,
		TriggerDate: types.DayOf(w.Reference),
		Explanation: fmt.Sprintf("%d recent days of rain with wind favor splash-dispersed disease", qualifying),
		RecommendedActions: []string{
			"inspect plants along field edges for splash lesions",
			"avoid working rows while foliage is wet",
		},
	}}
}

// deriveCombinedDisease emits the supplemental combined finding when both
// foliar rules fired for the window's reference day. It is a derived third
// finding, added alongside the two individual ones, always at high severity.
func deriveCombinedDisease(findings []types.RiskFinding, w types.ForecastWindow) *types.RiskFinding {
	ref := types.DayOf(w.Reference)
	hasA, hasB := false, false
	for _, f := range findings {
		if !f.TriggerDate.Equal(ref) {
			continue
		}
		switch f.Kind {
		case types.RiskFoliarDiseaseA:
			hasA = true
		case types.RiskFoliarDiseaseB:
			hasB = true
		}
	}
	if !hasA || !hasB {
		return nil
	}
	return &types.RiskFinding{
		Kind:        types.RiskDiseaseCombined,
		Severity:    types.SeverityHigh,
		TriggerDate: ref,
		Explanation: "sustained humidity and rain-with-wind conditions are both present; combined disease pressure is severe",
		RecommendedActions: []string{
			"apply a broad-spectrum fungicide within 24 hours",
			"increase scouting to daily until conditions break",
		},
	}
}

// detectFertilizeAdvisory recommends fertilization during nutrient-hungry
// stages unless fertilization was recorded within the quiet window.
func detectFertilizeAdvisory(farm types.FarmContext, w types.ForecastWindow, t Thresholds) []types.RiskFinding {
	if farm.CropStage != types.StageVegetative && farm.CropStage != types.StageFlowering {
		return nil
	}
	cutoff := types.DayOf(w.Reference).AddDate(0, 0, -t.FertilizeQuietDays)
	if farm.HasActivitySince(types.ActivityFertilization, cutoff) {
		return nil
	}
	return []types.RiskFinding{{
		Kind:        types.AdvisoryFertilize,
		Severity:    types.SeverityLow,
		TriggerDate: types.DayOf(w.Reference),
		Explanation: fmt.Sprintf("no fertilization recorded in the last %d days during %s", t.FertilizeQuietDays, farm.CropStage),
		RecommendedActions: []string{
			"apply a stage-appropriate fertilizer dose",
		},
	}}
}

// detectIrrigationAdvisory recommends irrigation for water-sensitive stages
// when the leading days look dry, unless irrigation happened recently or rain
// is imminent.
func detectIrrigationAdvisory(farm types.FarmContext, w types.ForecastWindow, t Thresholds) []types.RiskFinding {
	if farm.CropStage != types.StageFlowering && farm.CropStage != types.StageFruiting {
		return nil
	}
	cutoff := types.DayOf(w.Reference).AddDate(0, 0, -t.IrrigationQuietDays)
	if farm.HasActivitySince(types.ActivityIrrigation, cutoff) {
		return nil
	}
	var leadingRain float64
	for _, day := range w.Leading() {
		leadingRain += day.PrecipMM
	}
	if leadingRain >= t.IrrigationDryMM {
		return nil
	}
	return []types.RiskFinding{{
		Kind:        types.AdvisoryIrrigation,
		Severity:    types.SeverityLow,
		TriggerDate: types.DayOf(w.Reference),
		Explanation: "dry days ahead with no recent irrigation during a water-sensitive stage",
		RecommendedActions: []string{
			"schedule irrigation within the next day",
		},
	}}
}

// detectMonitoringAdvisory nudges a user whose activity log has gone quiet.
func detectMonitoringAdvisory(farm types.FarmContext, w types.ForecastWindow, t Thresholds) []types.RiskFinding {
	cutoff := types.DayOf(w.Reference).AddDate(0, 0, -t.MonitoringIdleDays)
	last, ok := farm.LastActivity()
	if ok && !last.Date.Before(cutoff) {
		return nil
	}
	return []types.RiskFinding{{
		Kind:        types.AdvisoryMonitoring,
		Severity:    types.SeverityLow,
		TriggerDate: types.DayOf(w.Reference),
		Explanation: fmt.Sprintf("no farm activity recorded in the last %d days", t.MonitoringIdleDays),
		RecommendedActions: []string{
			"walk the field and log current crop condition",
		},
	}}
}
