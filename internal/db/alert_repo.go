package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"agroalert/internal/types"
)

// Compile-time assertion that AlertRepository implements types.AlertStore.
var _ types.AlertStore = (*AlertRepository)(nil)

// AlertRepository is the PostgreSQL alert store.
//
// The dedup invariant is enforced by a unique index on
// (user_id, kind, trigger_date); UpsertIfAbsent leans on
// INSERT ... ON CONFLICT so concurrent evaluation ticks cannot create
// duplicates. Claims are conditional UPDATEs guarded by status='pending',
// which gives the compare-and-set semantics that make overlapping dispatch
// ticks safe.
//
// Counters for purged alerts live in the alert_counters singleton row so
// stats keep reflecting attempted alerts after retention removes their rows.
type AlertRepository struct {
	db DBTX
}

// NewAlertRepository creates an AlertRepository backed by the given
// connection (pool or transaction).
func NewAlertRepository(db DBTX) *AlertRepository {
	return &AlertRepository{db: db}
}

// Schema is the DDL for the tables the repository expects. Applied at
// startup for fresh databases; real deployments manage it via migrations.
const Schema = `
CREATE TABLE IF NOT EXISTS alerts (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	kind            TEXT NOT NULL,
	severity        TEXT NOT NULL,
	trigger_date    DATE NOT NULL,
	title           TEXT NOT NULL,
	message         TEXT NOT NULL,
	channel_message TEXT NOT NULL,
	recipient       TEXT NOT NULL,
	scheduled_for   TIMESTAMPTZ NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending'
	                CHECK (status IN ('pending', 'dispatching', 'sent')),
	sent_at         TIMESTAMPTZ,
	attempt_count   INT NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_dedup
	ON alerts (user_id, kind, trigger_date);

CREATE INDEX IF NOT EXISTS idx_alerts_due
	ON alerts (scheduled_for) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS alert_counters (
	id      INT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	created BIGINT NOT NULL DEFAULT 0,
	sent    BIGINT NOT NULL DEFAULT 0,
	expired BIGINT NOT NULL DEFAULT 0
);

INSERT INTO alert_counters (id) VALUES (1) ON CONFLICT DO NOTHING;

CREATE TABLE IF NOT EXISTS alert_kind_counters (
	kind    TEXT PRIMARY KEY,
	created BIGINT NOT NULL DEFAULT 0
);
`

// UpsertIfAbsent inserts the alert unless its dedup key already exists.
// On conflict, a strictly higher severity upgrades the stored severity and
// messages of a not-yet-sent alert; lower or equal severity leaves the row
// untouched. Identity, schedule, and status are never changed by an upgrade.
func (r *AlertRepository) UpsertIfAbsent(ctx context.Context, alert *types.Alert) (*types.Alert, bool, error) {
	if !alert.Key().Valid() {
		return nil, false, types.NewAppError(types.ErrCodeValidationMissingField, "alert has no valid dedup key", nil)
	}

	sevRank := alert.Severity.Rank()
	row := r.db.QueryRow(ctx,
		`INSERT INTO alerts
		 (id, user_id, kind, severity, trigger_date, title, message,
		  channel_message, recipient, scheduled_for, status, attempt_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'pending', 0, $11)
		 ON CONFLICT (user_id, kind, trigger_date) DO UPDATE SET
			severity        = EXCLUDED.severity,
			title           = EXCLUDED.title,
			message         = EXCLUDED.message,
			channel_message = EXCLUDED.channel_message
		 WHERE alerts.status <> 'sent'
		   AND CASE alerts.severity
				WHEN 'high' THEN 3 WHEN 'medium' THEN 2 WHEN 'low' THEN 1 ELSE 0
		       END < $12
		 RETURNING id, user_id, kind, severity, trigger_date, title, message,
		           channel_message, recipient, scheduled_for, status, sent_at,
		           attempt_count, created_at, (xmax = 0) AS inserted`,
		alert.ID, alert.UserID, string(alert.Kind), string(alert.Severity),
		alert.TriggerDate, alert.Title, alert.Message, alert.ChannelMessage,
		alert.Recipient, alert.ScheduledFor, alert.CreatedAt, sevRank,
	)

	stored, inserted, err := scanAlertWithInserted(row)
	if err == pgx.ErrNoRows {
		// Conflict row exists and the WHERE clause rejected the upgrade
		// (equal/lower severity, or already sent). Fetch the stored alert.
		existing, getErr := r.getByKey(ctx, alert.Key())
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to upsert alert", err)
	}

	if inserted {
		if err := r.bumpCreated(ctx, alert.Kind); err != nil {
			return nil, false, err
		}
	}
	return stored, inserted, nil
}

// DueForDispatch returns pending alerts whose scheduledFor has arrived,
// oldest-scheduled first.
func (r *AlertRepository) DueForDispatch(ctx context.Context, now time.Time, limit int) ([]*types.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, kind, severity, trigger_date, title, message,
		        channel_message, recipient, scheduled_for, status, sent_at,
		        attempt_count, created_at
		 FROM alerts
		 WHERE status = 'pending' AND scheduled_for <= $1
		 ORDER BY scheduled_for ASC
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query due alerts", err)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// Claim transitions pending -> dispatching with a conditional UPDATE. The
// row count tells the caller whether it won the claim.
func (r *AlertRepository) Claim(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE alerts SET status = 'dispatching'
		 WHERE id = $1 AND status = 'pending'`,
		id,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim alert", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release returns a claimed alert to pending, recording the failed attempt.
func (r *AlertRepository) Release(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE alerts SET status = 'pending', attempt_count = attempt_count + 1
		 WHERE id = $1 AND status = 'dispatching'`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release alert", err)
	}
	return nil
}

// MarkSent transitions a claimed alert to its terminal state. Monotonic:
// a row already sent is left alone.
func (r *AlertRepository) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE alerts SET
			status = 'sent',
			sent_at = $2,
			attempt_count = attempt_count + 1
		 WHERE id = $1 AND status <> 'sent'`,
		id, sentAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark alert sent", err)
	}
	if tag.RowsAffected() == 1 {
		if _, err := r.db.Exec(ctx,
			`UPDATE alert_counters SET sent = sent + 1 WHERE id = 1`); err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to update sent counter", err)
		}
	}
	return nil
}

// ListForUser returns the user's live alerts, newest first.
func (r *AlertRepository) ListForUser(ctx context.Context, userID string) ([]*types.Alert, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, kind, severity, trigger_date, title, message,
		        channel_message, recipient, scheduled_for, status, sent_at,
		        attempt_count, created_at
		 FROM alerts
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list alerts", err)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// PurgeExpired deletes alerts whose scheduledFor is older than now minus
// retention and returns the removed records, bumping the expired counter for
// every unsent one.
func (r *AlertRepository) PurgeExpired(ctx context.Context, now time.Time, retention time.Duration) ([]*types.Alert, error) {
	cutoff := now.Add(-retention)
	rows, err := r.db.Query(ctx,
		`DELETE FROM alerts
		 WHERE scheduled_for <= $1
		 RETURNING id, user_id, kind, severity, trigger_date, title, message,
		           channel_message, recipient, scheduled_for, status, sent_at,
		           attempt_count, created_at`,
		cutoff,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to purge expired alerts", err)
	}
	defer rows.Close()

	purged, err := collectAlerts(rows)
	if err != nil {
		return nil, err
	}

	expired := 0
	for _, a := range purged {
		if !a.Sent() {
			expired++
		}
	}
	if expired > 0 {
		if _, err := r.db.Exec(ctx,
			`UPDATE alert_counters SET expired = expired + $1 WHERE id = 1`, expired); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to update expired counter", err)
		}
	}
	return purged, nil
}

// Stats returns the dispatch snapshot. Created, sent, and expired come from
// the counters row; pending is counted over live rows.
func (r *AlertRepository) Stats(ctx context.Context) (types.DispatchStats, error) {
	var stats types.DispatchStats
	row := r.db.QueryRow(ctx,
		`SELECT c.created, c.sent, c.expired,
		        (SELECT COUNT(*) FROM alerts WHERE status <> 'sent') AS pending
		 FROM alert_counters c WHERE c.id = 1`,
	)
	if err := row.Scan(&stats.Total, &stats.Sent, &stats.Expired, &stats.Pending); err != nil {
		return types.DispatchStats{}, types.NewAppError(types.ErrCodeInternalDB, "failed to read alert counters", err)
	}

	rows, err := r.db.Query(ctx, `SELECT kind, created FROM alert_kind_counters`)
	if err != nil {
		return types.DispatchStats{}, types.NewAppError(types.ErrCodeInternalDB, "failed to read kind counters", err)
	}
	defer rows.Close()

	stats.ByKind = make(map[types.RiskKind]int)
	for rows.Next() {
		var kind string
		var created int
		if err := rows.Scan(&kind, &created); err != nil {
			return types.DispatchStats{}, types.NewAppError(types.ErrCodeInternalDB, "failed to scan kind counter", err)
		}
		stats.ByKind[types.RiskKind(kind)] = created
	}
	if err := rows.Err(); err != nil {
		return types.DispatchStats{}, types.NewAppError(types.ErrCodeInternalDB, "error iterating kind counters", err)
	}
	return stats, nil
}

// getByKey fetches the stored alert for a dedup key.
func (r *AlertRepository) getByKey(ctx context.Context, key types.DedupKey) (*types.Alert, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, user_id, kind, severity, trigger_date, title, message,
		        channel_message, recipient, scheduled_for, status, sent_at,
		        attempt_count, created_at
		 FROM alerts
		 WHERE user_id = $1 AND kind = $2 AND trigger_date = $3`,
		key.UserID, string(key.Kind), key.TriggerDate,
	)
	a, err := scanAlert(row)
	if err == pgx.ErrNoRows {
		return nil, types.NewAppError(types.ErrCodeNotFoundAlert, "alert not found", err)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch alert", err)
	}
	return a, nil
}

// bumpCreated increments the global and per-kind creation counters.
func (r *AlertRepository) bumpCreated(ctx context.Context, kind types.RiskKind) error {
	if _, err := r.db.Exec(ctx,
		`UPDATE alert_counters SET created = created + 1 WHERE id = 1`); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update created counter", err)
	}
	if _, err := r.db.Exec(ctx,
		`INSERT INTO alert_kind_counters (kind, created) VALUES ($1, 1)
		 ON CONFLICT (kind) DO UPDATE SET created = alert_kind_counters.created + 1`,
		string(kind)); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update kind counter", err)
	}
	return nil
}

// scanTarget is satisfied by both pgx.Row and pgx.Rows.
type scanTarget interface {
	Scan(dest ...any) error
}

// scanAlert scans one alerts row. Handles nullable sent_at.
func scanAlert(row scanTarget) (*types.Alert, error) {
	var (
		a        types.Alert
		kind     string
		severity string
		status   string
		sentAt   *time.Time
	)
	err := row.Scan(
		&a.ID, &a.UserID, &kind, &severity, &a.TriggerDate, &a.Title,
		&a.Message, &a.ChannelMessage, &a.Recipient, &a.ScheduledFor,
		&status, &sentAt, &a.AttemptCount, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Kind = types.RiskKind(kind)
	a.Severity = types.Severity(severity)
	a.Status = types.AlertStatus(status)
	if sentAt != nil {
		a.SentAt = *sentAt
	}
	a.TriggerDate = types.DayOf(a.TriggerDate)
	return &a, nil
}

// scanAlertWithInserted scans an upsert RETURNING row that carries the
// (xmax = 0) inserted flag as its final column.
func scanAlertWithInserted(row scanTarget) (*types.Alert, bool, error) {
	var (
		a        types.Alert
		kind     string
		severity string
		status   string
		sentAt   *time.Time
		inserted bool
	)
	err := row.Scan(
		&a.ID, &a.UserID, &kind, &severity, &a.TriggerDate, &a.Title,
		&a.Message, &a.ChannelMessage, &a.Recipient, &a.ScheduledFor,
		&status, &sentAt, &a.AttemptCount, &a.CreatedAt, &inserted,
	)
	if err != nil {
		return nil, false, err
	}
	a.Kind = types.RiskKind(kind)
	a.Severity = types.Severity(severity)
	a.Status = types.AlertStatus(status)
	if sentAt != nil {
		a.SentAt = *sentAt
	}
	a.TriggerDate = types.DayOf(a.TriggerDate)
	return &a, inserted, nil
}

// collectAlerts drains a result set of alerts rows.
func collectAlerts(rows pgx.Rows) ([]*types.Alert, error) {
	var out []*types.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan alert row", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating alert rows", err)
	}
	return out, nil
}
