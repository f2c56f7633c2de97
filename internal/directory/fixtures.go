// Package directory provides the demo implementation of the user directory:
// eligible users and their activity logs loaded from JSON fixture files. It
// backs the simulated operating mode where no Postgres instance is available.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"agroalert/internal/types"
)

// Compile-time assertions that FixtureDirectory implements both directory
// contracts.
var (
	_ types.UserDirectory = (*FixtureDirectory)(nil)
	_ types.ActivityLog   = (*FixtureDirectory)(nil)
)

// fixtureUser is the on-disk shape of one demo user file.
type fixtureUser struct {
	UserID     string                  `json:"user_id" validate:"required"`
	Recipient  string                  `json:"recipient" validate:"required"`
	Eligible   *bool                   `json:"eligible,omitempty"`
	Farm       types.FarmContext       `json:"farm"`
	Activities []types.ActivityEvent   `json:"activities,omitempty"`
	Billing    types.TrialBillingState `json:"billing"`
}

// FixtureDirectory serves eligible users from a directory of *.json files,
// one user per file. Files are loaded once at startup; the demo data set is
// static for the lifetime of the process.
type FixtureDirectory struct {
	mu         sync.RWMutex
	users      map[string]types.EligibleUser
	activities map[string][]types.ActivityEvent
	order      []string
	clock      types.Clock
	logger     *slog.Logger
}

// NewFixtureDirectory loads every *.json file under dir. Malformed or
// incomplete files are skipped with a warning rather than aborting startup;
// a demo data set with one bad file should still serve the rest.
func NewFixtureDirectory(dir string, clock types.Clock, logger *slog.Logger) (*FixtureDirectory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = types.RealClock{}
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("scanning fixture directory: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no user fixtures found in %s", dir)
	}
	sort.Strings(paths)

	validate := validator.New()
	d := &FixtureDirectory{
		users:      make(map[string]types.EligibleUser),
		activities: make(map[string][]types.ActivityEvent),
		clock:      clock,
		logger:     logger,
	}

	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("skipping unreadable user fixture", "file", path, "error", err)
			continue
		}
		var fu fixtureUser
		if err := json.Unmarshal(raw, &fu); err != nil {
			logger.Warn("skipping malformed user fixture", "file", path, "error", err)
			continue
		}
		if err := validate.Struct(fu); err != nil {
			logger.Warn("skipping incomplete user fixture", "file", path, "error", err)
			continue
		}
		if _, dup := d.users[fu.UserID]; dup {
			logger.Warn("skipping duplicate user fixture", "file", path, "user_id", fu.UserID)
			continue
		}
		d.users[fu.UserID] = types.EligibleUser{
			UserID:    fu.UserID,
			Recipient: fu.Recipient,
			Farm:      fu.Farm,
		}
		d.activities[fu.UserID] = fu.Activities
		if d.eligible(fu) {
			d.order = append(d.order, fu.UserID)
		}
	}

	logger.Info("loaded user fixtures",
		"dir", dir,
		"users", len(d.users),
		"eligible", len(d.order),
	)
	return d, nil
}

// eligible applies the same filter the Postgres directory encodes in SQL: an
// explicit eligible flag wins, otherwise the billing state decides.
func (d *FixtureDirectory) eligible(fu fixtureUser) bool {
	if fu.Eligible != nil {
		return *fu.Eligible
	}
	if fu.Billing.IsDelinquent {
		return false
	}
	if fu.Billing.TrialActive {
		return fu.Billing.TrialExpiresAt.IsZero() || fu.Billing.TrialExpiresAt.After(d.clock.Now())
	}
	return fu.Billing.BillingScheduled
}

// ListEligibleUsers returns eligible users in fixture-file order.
func (d *FixtureDirectory) ListEligibleUsers(ctx context.Context) ([]types.EligibleUser, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]types.EligibleUser, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.users[id])
	}
	return out, nil
}

// GetUser returns a single eligible user. Ineligible fixtures are reported as
// not found, matching the Postgres directory.
func (d *FixtureDirectory) GetUser(ctx context.Context, userID string) (*types.EligibleUser, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, id := range d.order {
		if id == userID {
			u := d.users[id]
			return &u, nil
		}
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundUser,
		fmt.Sprintf("user %s not found or not eligible", userID), nil)
}

// RecentActivities returns the user's activities on or after now minus
// sinceDays, newest last.
func (d *FixtureDirectory) RecentActivities(ctx context.Context, userID string, sinceDays int) ([]types.ActivityEvent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	cutoff := d.clock.Now().AddDate(0, 0, -sinceDays)
	var out []types.ActivityEvent
	for _, a := range d.activities[userID] {
		if !a.Date.Before(cutoff) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// UserCount reports loaded fixtures for the health endpoint.
func (d *FixtureDirectory) UserCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}
