package types

// CropStage represents the growth stage of the crop on a farm.
type CropStage string

const (
	StagePlanting   CropStage = "planting"
	StageVegetative CropStage = "vegetative_growth"
	StageFlowering  CropStage = "flowering"
	StageFruiting   CropStage = "fruiting"
	StageHarvest    CropStage = "harvest"
)

// ValidCropStage reports whether s is one of the known crop stages.
func ValidCropStage(s CropStage) bool {
	switch s {
	case StagePlanting, StageVegetative, StageFlowering, StageFruiting, StageHarvest:
		return true
	}
	return false
}

// ActivityType identifies a recorded farm activity.
type ActivityType string

const (
	ActivityIrrigation    ActivityType = "irrigation"
	ActivityFertilization ActivityType = "fertilization"
	ActivitySpraying      ActivityType = "spraying"
	ActivityPruning       ActivityType = "pruning"
	ActivityHarvesting    ActivityType = "harvesting"
)

// RiskKind identifies the kind of risk or advisory a finding describes.
// Kind names are stable identifiers: they participate in the alert dedup key
// and in dispatch ordering, so they must never be renamed casually.
type RiskKind string

const (
	RiskWind            RiskKind = "high_wind"
	RiskRain            RiskKind = "heavy_rain"
	RiskFrost           RiskKind = "frost"
	RiskFoliarDiseaseA  RiskKind = "foliar_disease_risk_a"
	RiskFoliarDiseaseB  RiskKind = "foliar_disease_risk_b"
	RiskDiseaseCombined RiskKind = "combined_disease_risk"

	AdvisoryFertilize  RiskKind = "advisory_fertilize"
	AdvisoryIrrigation RiskKind = "advisory_irrigation"
	AdvisoryMonitoring RiskKind = "advisory_monitoring"
)

// Severity grades how urgent a finding or alert is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank maps a severity to an integer for comparisons. Higher is more urgent.
// Unknown severities rank below low so a malformed value can never displace
// a stored alert.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// AlertStatus enumerates the delivery lifecycle states of an alert.
//
// Transitions: pending -> dispatching (claim), dispatching -> sent (terminal),
// dispatching -> pending (release after a failed attempt). There is no failed
// terminal state: an undelivered alert stays pending and is retried on every
// dispatch tick until the retention window purges it.
type AlertStatus string

const (
	AlertPending     AlertStatus = "pending"
	AlertDispatching AlertStatus = "dispatching"
	AlertSent        AlertStatus = "sent"
)
