package alerts

import (
	"context"
	"sort"
	"sync"
	"time"

	"agroalert/internal/types"
)

// Compile-time assertion that MemoryStore implements types.AlertStore.
var _ types.AlertStore = (*MemoryStore)(nil)

// MemoryStore is the in-memory alert store used in demo mode and tests. It
// honors the same contract as the PostgreSQL store: all mutation goes through
// the interface, the dedup key is enforced on the sole creation path, and
// claims are compare-and-set so overlapping dispatch ticks can never send the
// same alert twice.
//
// Counters survive purges so stats keep reflecting attempted alerts after
// their records are gone.
type MemoryStore struct {
	mu      sync.Mutex
	byID    map[string]*types.Alert
	byKey   map[types.DedupKey]string
	created int
	sent    int
	expired int
	byKind  map[types.RiskKind]int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*types.Alert),
		byKey:  make(map[types.DedupKey]string),
		byKind: make(map[types.RiskKind]int),
	}
}

// UpsertIfAbsent inserts the alert unless one already exists for its dedup
// key. A duplicate with strictly higher severity upgrades the stored alert's
// severity and messages in place; lower or equal severity is discarded. The
// stored alert's identity, schedule, and status are never changed by an
// upgrade, so a claim in flight stays valid.
func (s *MemoryStore) UpsertIfAbsent(_ context.Context, alert *types.Alert) (*types.Alert, bool, error) {
	key := alert.Key()
	if !key.Valid() {
		return nil, false, types.NewAppError(types.ErrCodeValidationMissingField, "alert has no valid dedup key", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.byKey[key]; ok {
		existing := s.byID[existingID]
		if alert.Severity.Rank() > existing.Severity.Rank() && !existing.Sent() {
			existing.Severity = alert.Severity
			existing.Title = alert.Title
			existing.Message = alert.Message
			existing.ChannelMessage = alert.ChannelMessage
		}
		cp := *existing
		return &cp, false, nil
	}

	cp := *alert
	s.byID[cp.ID] = &cp
	s.byKey[key] = cp.ID
	s.created++
	s.byKind[cp.Kind]++

	out := cp
	return &out, true, nil
}

// DueForDispatch returns pending alerts whose scheduledFor has arrived,
// oldest-scheduled first. Claimed (dispatching) and sent alerts are excluded.
func (s *MemoryStore) DueForDispatch(_ context.Context, now time.Time, limit int) ([]*types.Alert, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*types.Alert
	for _, a := range s.byID {
		if a.Status == types.AlertPending && !a.ScheduledFor.After(now) {
			cp := *a
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Claim transitions pending -> dispatching. Exactly one concurrent caller
// observes claimed=true for a given alert.
func (s *MemoryStore) Claim(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return false, types.NewAppError(types.ErrCodeNotFoundAlert, "alert not found", nil)
	}
	if a.Status != types.AlertPending {
		return false, nil
	}
	a.Status = types.AlertDispatching
	return true, nil
}

// Release returns a claimed alert to pending and records the failed attempt.
func (s *MemoryStore) Release(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundAlert, "alert not found", nil)
	}
	if a.Status == types.AlertDispatching {
		a.Status = types.AlertPending
		a.AttemptCount++
	}
	return nil
}

// MarkSent transitions a claimed alert to its terminal state. The transition
// is monotonic: a sent alert never reverts.
func (s *MemoryStore) MarkSent(_ context.Context, id string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundAlert, "alert not found", nil)
	}
	if a.Sent() {
		return nil
	}
	a.Status = types.AlertSent
	a.SentAt = sentAt
	a.AttemptCount++
	s.sent++
	return nil
}

// ListForUser returns the user's live alerts, newest first.
func (s *MemoryStore) ListForUser(_ context.Context, userID string) ([]*types.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.Alert
	for _, a := range s.byID {
		if a.UserID == userID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// PurgeExpired removes alerts whose scheduledFor is older than now minus
// retention and returns them. Unsent purged alerts are counted as expired;
// they will never be retried or escalated.
func (s *MemoryStore) PurgeExpired(_ context.Context, now time.Time, retention time.Duration) ([]*types.Alert, error) {
	cutoff := now.Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	var purged []*types.Alert
	for id, a := range s.byID {
		if a.ScheduledFor.After(cutoff) {
			continue
		}
		if !a.Sent() {
			s.expired++
		}
		cp := *a
		purged = append(purged, &cp)
		delete(s.byID, id)
		delete(s.byKey, a.Key())
	}
	sort.Slice(purged, func(i, j int) bool {
		return purged[i].ScheduledFor.Before(purged[j].ScheduledFor)
	})
	return purged, nil
}

// Stats returns the dispatch snapshot. Total and sent include purged alerts.
func (s *MemoryStore) Stats(_ context.Context) (types.DispatchStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := 0
	for _, a := range s.byID {
		if !a.Sent() {
			pending++
		}
	}

	byKind := make(map[types.RiskKind]int, len(s.byKind))
	for k, v := range s.byKind {
		byKind[k] = v
	}

	return types.DispatchStats{
		Total:   s.created,
		Sent:    s.sent,
		Pending: pending,
		Expired: s.expired,
		ByKind:  byKind,
	}, nil
}
