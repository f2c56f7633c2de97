package types

import (
	"context"
	"time"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// ForecastSource retrieves a forecast window for a location: trailing history
// plus leading days, oldest first. Implementations must honor the shared unit
// contract (degC, km/h, mm, %) so the evaluator never needs to know which
// source produced its input.
type ForecastSource interface {
	// Name identifies the source in logs and the health endpoint.
	Name() string
	// GetForecast returns at least `past` trailing days (including today) and
	// `future` leading days for the location.
	GetForecast(ctx context.Context, loc Location, past, future int) ([]ForecastDay, error)
}

// ChannelAdapter is the outbound-messaging boundary. Exactly one Send call
// per alert succeeds over the alert's lifetime; the dispatcher's claim
// discipline, not the adapter, enforces that.
type ChannelAdapter interface {
	// Name identifies the adapter ("telegram", "simulated") in logs and stats.
	Name() string
	// Send delivers one self-contained text message and returns the
	// provider's message ID.
	Send(ctx context.Context, recipient string, message string) (string, error)
}

// UserDirectory lists users eligible for evaluation. Eligibility (active
// farm, paid or trialing plan) is computed by the account/billing
// collaborators; the alerting core treats it as an opaque filter.
type UserDirectory interface {
	ListEligibleUsers(ctx context.Context) ([]EligibleUser, error)
	// GetUser returns a single eligible user, or a not_found AppError.
	GetUser(ctx context.Context, userID string) (*EligibleUser, error)
}

// ActivityLog returns a user's recent farm activities, newest last.
type ActivityLog interface {
	RecentActivities(ctx context.Context, userID string, sinceDays int) ([]ActivityEvent, error)
}

// AlertStore is the single shared mutable resource of the pipeline. All
// mutation goes through this contract; callers never touch alert fields
// directly. Implementations must be safe for concurrent upsert and
// concurrent dispatch reads.
type AlertStore interface {
	// UpsertIfAbsent is the sole creation path. It enforces the dedup key:
	// a second alert for an existing key is discarded unless its severity is
	// strictly higher, in which case it replaces the stored alert's severity
	// and messages (the schedule and identity of the stored alert are kept).
	// Returns the stored alert and whether a new record was created.
	UpsertIfAbsent(ctx context.Context, alert *Alert) (*Alert, bool, error)

	// DueForDispatch returns unsent, unclaimed alerts with
	// scheduledFor <= now, oldest-scheduled first.
	DueForDispatch(ctx context.Context, now time.Time, limit int) ([]*Alert, error)

	// Claim atomically transitions an alert pending -> dispatching. Only the
	// caller that observes claimed=true may send it.
	Claim(ctx context.Context, id string) (bool, error)

	// Release returns a claimed alert to pending after a failed attempt,
	// recording the attempt.
	Release(ctx context.Context, id string) error

	// MarkSent transitions a claimed alert to its terminal sent state.
	MarkSent(ctx context.Context, id string, sentAt time.Time) error

	// ListForUser returns all live alerts for a user, newest first.
	ListForUser(ctx context.Context, userID string) ([]*Alert, error)

	// PurgeExpired removes alerts whose scheduledFor is older than now minus
	// retention and returns the removed records (sent and unsent alike) so
	// the caller can archive them. Unsent purged alerts count as expired in
	// stats and are never retried again.
	PurgeExpired(ctx context.Context, now time.Time, retention time.Duration) ([]*Alert, error)

	// Stats returns the dispatch observability snapshot.
	Stats(ctx context.Context) (DispatchStats, error)
}
