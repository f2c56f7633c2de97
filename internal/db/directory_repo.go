package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	"agroalert/internal/types"
)

// Compile-time assertions.
var (
	_ types.UserDirectory = (*DirectoryRepository)(nil)
	_ types.ActivityLog   = (*ActivityRepository)(nil)
)

// DirectoryRepository reads the farm/user directory owned by the account and
// billing collaborators. It filters on their eligibility flag (active farm,
// paid or trialing, not delinquent) but never mutates their tables: the
// trial/billing lifecycle belongs to a sibling job.
type DirectoryRepository struct {
	db DBTX
}

// NewDirectoryRepository creates a DirectoryRepository backed by the given
// connection.
func NewDirectoryRepository(db DBTX) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

const eligibleUsersQuery = `
SELECT u.id, u.chat_id,
       f.crop_type, f.crop_stage, f.latitude, f.longitude, f.region
FROM users u
JOIN farms f ON f.user_id = u.id AND f.active
JOIN billing_state b ON b.user_id = u.id
WHERE (b.plan_paid OR (b.trial_active AND b.trial_expires_at > NOW()))
  AND NOT b.is_delinquent`

// ListEligibleUsers returns every user with an active farm and an eligible
// plan, with the farm snapshot minus activities (the scheduler hydrates
// activities separately so the snapshot window is tick-scoped).
func (r *DirectoryRepository) ListEligibleUsers(ctx context.Context) ([]types.EligibleUser, error) {
	rows, err := r.db.Query(ctx, eligibleUsersQuery)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list eligible users", err)
	}
	defer rows.Close()
	return collectEligibleUsers(rows)
}

// GetUser returns one eligible user or a not_found error. Ineligible users
// are indistinguishable from absent ones by design.
func (r *DirectoryRepository) GetUser(ctx context.Context, userID string) (*types.EligibleUser, error) {
	rows, err := r.db.Query(ctx, eligibleUsersQuery+` AND u.id = $1`, userID)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch user", err)
	}
	defer rows.Close()

	users, err := collectEligibleUsers(rows)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, types.NewAppError(types.ErrCodeNotFoundUser, "no eligible user with that id", nil)
	}
	return &users[0], nil
}

// collectEligibleUsers drains a directory result set.
func collectEligibleUsers(rows pgx.Rows) ([]types.EligibleUser, error) {
	var out []types.EligibleUser
	for rows.Next() {
		var (
			u      types.EligibleUser
			stage  string
			region *string
		)
		if err := rows.Scan(&u.UserID, &u.Recipient,
			&u.Farm.CropType, &stage,
			&u.Farm.Location.Latitude, &u.Farm.Location.Longitude, &region); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan directory row", err)
		}
		u.Farm.CropStage = types.CropStage(stage)
		if region != nil {
			u.Farm.Location.Region = *region
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating directory rows", err)
	}
	return out, nil
}

// ActivityRepository reads the farm activity log used for stage/activity-
// aware advisories.
type ActivityRepository struct {
	db DBTX
}

// NewActivityRepository creates an ActivityRepository backed by the given
// connection.
func NewActivityRepository(db DBTX) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// RecentActivities returns the user's activities from the trailing window,
// oldest first.
func (r *ActivityRepository) RecentActivities(ctx context.Context, userID string, sinceDays int) ([]types.ActivityEvent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT activity_type, occurred_on
		 FROM farm_activities
		 WHERE user_id = $1 AND occurred_on >= NOW() - make_interval(days => $2)
		 ORDER BY occurred_on ASC`,
		userID, sinceDays,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query activities", err)
	}
	defer rows.Close()

	var out []types.ActivityEvent
	for rows.Next() {
		var (
			e types.ActivityEvent
			t string
		)
		if err := rows.Scan(&t, &e.Date); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan activity row", err)
		}
		e.Type = types.ActivityType(t)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating activity rows", err)
	}
	return out, nil
}
