// Package alerts turns transient risk findings into persisted, scheduled
// alerts and provides the deduplicated store they live in.
package alerts

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"agroalert/internal/rules"
	"agroalert/internal/types"
)

// ChannelMessageLimit is the provider-imposed cap on one outbound text
// message. Messages are truncated (with an ellipsis) rather than split.
const ChannelMessageLimit = 480

// Materializer computes the delivery schedule and messages for a finding.
// The clock is injected so tests control "now" for the past-clamp behavior.
type Materializer struct {
	leads rules.LeadTimes
	clock types.Clock
}

// NewMaterializer creates a Materializer with the given lead-time table and
// clock.
func NewMaterializer(leads rules.LeadTimes, clock types.Clock) *Materializer {
	return &Materializer{leads: leads, clock: clock}
}

// Materialize builds the alert for a finding.
//
// ScheduledFor is the trigger date minus the kind's lead time. When that
// instant is already in the past (evaluation ran late, or the trigger day is
// today), it clamps to now so dispatch is not skipped. Returns a poison-
// finding error when the finding cannot produce a valid dedup key; such
// findings are dropped by the caller, never stored.
func (m *Materializer) Materialize(userID, recipient string, f types.RiskFinding) (*types.Alert, error) {
	now := m.clock.Now()

	alert := &types.Alert{
		ID:          "alr_" + uuid.NewString(),
		UserID:      userID,
		Kind:        f.Kind,
		Severity:    f.Severity,
		TriggerDate: types.DayOf(f.TriggerDate),
		Recipient:   recipient,
		Status:      types.AlertPending,
		CreatedAt:   now,
	}

	if !alert.Key().Valid() {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField,
			fmt.Sprintf("finding %q cannot produce a valid dedup key", f.Kind), nil)
	}

	scheduledFor := alert.TriggerDate.Add(-m.leads.Lead(f.Kind))
	if scheduledFor.Before(now) {
		scheduledFor = now
	}
	alert.ScheduledFor = scheduledFor

	alert.Title = title(f)
	alert.Message = shortMessage(f)
	alert.ChannelMessage = channelMessage(f, now)

	return alert, nil
}

// title renders the in-app headline for a finding.
func title(f types.RiskFinding) string {
	name := strings.ReplaceAll(string(f.Kind), "_", " ")
	return fmt.Sprintf("%s: %s", strings.ToUpper(string(f.Severity)), name)
}

// shortMessage renders the in-app body: the explanation plus the first
// recommended action.
func shortMessage(f types.RiskFinding) string {
	msg := f.Explanation
	if len(f.RecommendedActions) > 0 {
		msg += ". Recommended: " + f.RecommendedActions[0] + "."
	}
	return msg
}

// channelMessage renders the outbound text. The recipient has no other
// context, so the message is self-contained: it opens with a severity
// marker, names the trigger day in human-relative form, and closes with a
// single concrete action. Urgent (high severity) messages phrase the action
// as a direct call to action.
func channelMessage(f types.RiskFinding, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "[%s]", strings.ToUpper(string(f.Severity)))
	name := strings.ReplaceAll(string(f.Kind), "_", " ")
	fmt.Fprintf(&b, " %s %s: %s.", name, RelativeDay(f.TriggerDate, now), f.Explanation)

	if len(f.RecommendedActions) > 0 {
		action := f.RecommendedActions[0]
		if f.Severity == types.SeverityHigh {
			fmt.Fprintf(&b, " Act now: %s.", action)
		} else {
			fmt.Fprintf(&b, " Recommended action: %s.", action)
		}
	}

	msg := b.String()
	if len(msg) > ChannelMessageLimit {
		msg = msg[:ChannelMessageLimit-3] + "..."
	}
	return msg
}

// RelativeDay renders a trigger day relative to now: "today", "tomorrow", or
// the calendar date for anything further out (or in the past, which can
// happen for trailing-window disease findings evaluated late in the day).
func RelativeDay(trigger, now time.Time) string {
	t := types.DayOf(trigger)
	n := types.DayOf(now)
	switch days := int(t.Sub(n).Hours() / 24); days {
	case 0:
		return "today"
	case 1:
		return "tomorrow"
	default:
		return "on " + t.Format("Mon, 02 Jan")
	}
}
