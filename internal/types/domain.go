// Package types defines the shared domain model for the AgroAlert service:
// farm snapshots, forecast windows, risk findings, alerts, and the narrow
// interfaces that cross package boundaries.
package types

import (
	"time"
)

// Location is a geographic position with an optional region label used by the
// synthetic forecast source for season- and region-aware generation.
type Location struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Region    string  `json:"region,omitempty"`
}

// ActivityEvent is one recorded farm activity (e.g. irrigation on a date).
type ActivityEvent struct {
	Type ActivityType `json:"type"`
	Date time.Time    `json:"date"`
}

// FarmContext is the immutable snapshot used for one evaluation pass.
// RecentActivities holds the trailing window of activities (newest last) used
// to suppress redundant recommendations.
type FarmContext struct {
	CropType         string          `json:"crop_type"`
	CropStage        CropStage       `json:"crop_stage"`
	Location         Location        `json:"location"`
	RecentActivities []ActivityEvent `json:"recent_activities,omitempty"`
}

// HasActivitySince reports whether an activity of the given type was recorded
// on or after the cutoff.
func (f FarmContext) HasActivitySince(t ActivityType, cutoff time.Time) bool {
	for _, a := range f.RecentActivities {
		if a.Type == t && !a.Date.Before(cutoff) {
			return true
		}
	}
	return false
}

// LastActivity returns the most recent activity of any type, or a zero event
// and false when no activity is recorded.
func (f FarmContext) LastActivity() (ActivityEvent, bool) {
	var latest ActivityEvent
	found := false
	for _, a := range f.RecentActivities {
		if !found || a.Date.After(latest.Date) {
			latest = a
			found = true
		}
	}
	return latest, found
}

// ForecastDay is one day of weather. Units are fixed across all forecast
// sources: temperatures in degC, wind in km/h, precipitation in mm,
// humidity and cloud cover in percent.
type ForecastDay struct {
	Date        time.Time `json:"date"`
	TempC       float64   `json:"temp_c"`
	TempMinC    float64   `json:"temp_min_c"`
	TempMaxC    float64   `json:"temp_max_c"`
	HumidityPct float64   `json:"humidity_pct"`
	WindKph     float64   `json:"wind_kph"`
	PrecipMM    float64   `json:"precip_mm"`
	CloudPct    float64   `json:"cloud_pct"`
	Condition   string    `json:"condition,omitempty"`
}

// ForecastWindow is an ordered forecast sequence, oldest day first. Reference
// marks "today": days at or before Reference are trailing history (input to
// the multi-day disease rules), days after it are the leading horizon used
// for proactive warnings.
type ForecastWindow struct {
	Days      []ForecastDay
	Reference time.Time
}

// Trailing returns the current day plus up to n prior days, oldest first.
func (w ForecastWindow) Trailing(n int) []ForecastDay {
	ref := DayOf(w.Reference)
	var out []ForecastDay
	for _, d := range w.Days {
		if !DayOf(d.Date).After(ref) {
			out = append(out, d)
		}
	}
	if len(out) > n+1 {
		out = out[len(out)-(n+1):]
	}
	return out
}

// Leading returns the days strictly after the reference day, oldest first.
func (w ForecastWindow) Leading() []ForecastDay {
	ref := DayOf(w.Reference)
	var out []ForecastDay
	for _, d := range w.Days {
		if DayOf(d.Date).After(ref) {
			out = append(out, d)
		}
	}
	return out
}

// DayOf truncates a time to its UTC calendar day. Trigger dates are always
// day-granular: the dedup key compares calendar days, not instants.
func DayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// RiskFinding is the transient output of one evaluation pass. Findings are
// recreated on every tick and never persisted; the materializer turns them
// into alerts.
type RiskFinding struct {
	Kind               RiskKind
	Severity           Severity
	TriggerDate        time.Time
	Explanation        string
	RecommendedActions []string
}

// Alert is the persisted, scheduled, dedup-checked unit of outbound
// communication derived from a finding.
//
// Invariant: at most one alert exists per (UserID, Kind, TriggerDate).
// ScheduledFor is TriggerDate minus the kind's lead time, clamped so it is
// never in the past at materialization time.
type Alert struct {
	ID             string      `json:"id"`
	UserID         string      `json:"user_id"`
	Kind           RiskKind    `json:"kind"`
	Severity       Severity    `json:"severity"`
	TriggerDate    time.Time   `json:"trigger_date"`
	Title          string      `json:"title"`
	Message        string      `json:"message"`
	ChannelMessage string      `json:"channel_message"`
	Recipient      string      `json:"-"`
	ScheduledFor   time.Time   `json:"scheduled_for"`
	Status         AlertStatus `json:"status"`
	SentAt         time.Time   `json:"sent_at,omitzero"`
	AttemptCount   int         `json:"attempt_count"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Sent reports whether the alert reached its terminal state.
func (a *Alert) Sent() bool { return a.Status == AlertSent }

// DedupKey identifies the uniqueness constraint for alerts.
type DedupKey struct {
	UserID      string
	Kind        RiskKind
	TriggerDate time.Time
}

// Key returns the alert's dedup key with the trigger date normalized to its
// calendar day.
func (a *Alert) Key() DedupKey {
	return DedupKey{UserID: a.UserID, Kind: a.Kind, TriggerDate: DayOf(a.TriggerDate)}
}

// Valid reports whether the key is complete. A finding that cannot produce a
// valid key is poison: it is dropped and logged, never materialized.
func (k DedupKey) Valid() bool {
	return k.UserID != "" && k.Kind != "" && !k.TriggerDate.IsZero()
}

// DispatchStats is the observability snapshot exposed by the alert store.
type DispatchStats struct {
	Total   int              `json:"total"`
	Sent    int              `json:"sent"`
	Pending int              `json:"pending"`
	Expired int              `json:"expired"`
	ByKind  map[RiskKind]int `json:"by_kind"`
}

// EligibleUser is one entry from the farm/user directory: a user with an
// active farm and a plan the sibling billing state machine considers eligible.
// Recipient is the channel address (chat ID) alerts are delivered to.
type EligibleUser struct {
	UserID    string      `json:"user_id"`
	Recipient string      `json:"recipient"`
	Farm      FarmContext `json:"farm"`
}

// TrialBillingState mirrors the sibling billing collaborator's state. The
// alerting core reads it (via the directory's eligibility filter) and must
// never mutate it.
type TrialBillingState struct {
	TrialActive      bool      `json:"trial_active"`
	BillingScheduled bool      `json:"billing_scheduled"`
	TrialExpiresAt   time.Time `json:"trial_expires_at"`
	IsDelinquent     bool      `json:"is_delinquent"`
}
