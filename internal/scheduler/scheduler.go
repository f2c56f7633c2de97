// Package scheduler drives the alerting pipeline with two independent
// periodic ticks: a coarse evaluation tick (re-run the condition evaluator
// against fresh forecasts for every eligible user) and a fine dispatch tick
// (deliver alerts whose scheduled time has arrived). A third, slower
// maintenance tick purges and archives expired alerts.
//
// The scheduler owns no business rules: evaluation belongs to the rules
// package, scheduling math to the materializer, delivery to the dispatcher.
// Nothing here is triggered by requests; the HTTP surface only exposes the
// manual re-evaluation hook.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"agroalert/internal/alerts"
	"agroalert/internal/dispatch"
	"agroalert/internal/metrics"
	"agroalert/internal/rules"
	"agroalert/internal/types"
)

// Config holds the settings and collaborators for creating a Scheduler.
type Config struct {
	Evaluator    *rules.Evaluator
	Materializer *alerts.Materializer
	Store        types.AlertStore
	Dispatcher   *dispatch.Dispatcher
	Forecast     types.ForecastSource
	Directory    types.UserDirectory
	Activities   types.ActivityLog
	Clock        types.Clock
	Logger       *slog.Logger
	Archiver     *Archiver

	// EvalInterval is the evaluation tick period (coarse, default 30m).
	EvalInterval time.Duration
	// DispatchInterval is the dispatch tick period (fine, default 5m).
	DispatchInterval time.Duration
	// MaintenanceInterval is the purge/archive period (default 1h).
	MaintenanceInterval time.Duration
	// Retention is how long past scheduledFor an alert survives (default 48h).
	Retention time.Duration
	// EvalWorkers bounds concurrent per-user evaluation within a tick.
	EvalWorkers int
	// PastDays/FutureDays shape the forecast window. The trailing side must
	// cover the multi-day disease rules, the leading side the proactive
	// warnings.
	PastDays   int
	FutureDays int
	// ForecastTimeout bounds one forecast retrieval.
	ForecastTimeout time.Duration
	// ActivityDays is the trailing activity window hydrated into FarmContext.
	ActivityDays int
}

// Scheduler runs the periodic ticks. Construct once at startup, Start to
// begin ticking, Stop to stop scheduling new ticks and wait for in-flight
// work to finish.
type Scheduler struct {
	cfg Config

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a Scheduler, applying defaults for unset tuning fields.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	if cfg.EvalInterval <= 0 {
		cfg.EvalInterval = 30 * time.Minute
	}
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = 5 * time.Minute
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 48 * time.Hour
	}
	if cfg.EvalWorkers <= 0 {
		cfg.EvalWorkers = 8
	}
	if cfg.PastDays < 4 {
		cfg.PastDays = 4
	}
	if cfg.FutureDays < 2 {
		cfg.FutureDays = 2
	}
	if cfg.ForecastTimeout <= 0 {
		cfg.ForecastTimeout = 10 * time.Second
	}
	if cfg.ActivityDays <= 0 {
		cfg.ActivityDays = 7
	}
	return &Scheduler{cfg: cfg, stopCh: make(chan struct{})}
}

// Start launches the three tick loops. The ticks run until Stop is called or
// ctx is cancelled; each tick runs to completion even during shutdown (units
// of work are short by design).
func (s *Scheduler) Start(ctx context.Context) {
	s.loop(ctx, "evaluation", s.cfg.EvalInterval, func(ctx context.Context) {
		if _, err := s.RunEvaluationTick(ctx); err != nil {
			s.cfg.Logger.ErrorContext(ctx, "evaluation tick failed", "error", err)
		}
	})
	s.loop(ctx, "dispatch", s.cfg.DispatchInterval, func(ctx context.Context) {
		if _, err := s.RunDispatchTick(ctx); err != nil {
			s.cfg.Logger.ErrorContext(ctx, "dispatch tick failed", "error", err)
		}
	})
	s.loop(ctx, "maintenance", s.cfg.MaintenanceInterval, func(ctx context.Context) {
		if err := s.RunMaintenance(ctx); err != nil {
			s.cfg.Logger.ErrorContext(ctx, "maintenance tick failed", "error", err)
		}
	})

	s.cfg.Logger.Info("scheduler started",
		"eval_interval", s.cfg.EvalInterval.String(),
		"dispatch_interval", s.cfg.DispatchInterval.String(),
		"maintenance_interval", s.cfg.MaintenanceInterval.String(),
	)
}

// Stop stops scheduling new ticks and blocks until in-flight ticks finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.cfg.Logger.Info("scheduler stopped")
}

// loop runs fn on a ticker until shutdown.
func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				fn(ctx)
				metrics.ObserveTick(name, start)
			}
		}
	}()
}

// EvalSummary aggregates one evaluation tick for observability.
type EvalSummary struct {
	Users         int
	Failed        int
	Findings      int
	AlertsCreated int
	Dropped       int
}

// RunEvaluationTick evaluates every eligible user against a fresh forecast.
// Per-user work fans out on a bounded pool; one user's failure is isolated,
// logged, counted in the summary, and never aborts the batch.
func (s *Scheduler) RunEvaluationTick(ctx context.Context) (EvalSummary, error) {
	users, err := s.cfg.Directory.ListEligibleUsers(ctx)
	if err != nil {
		return EvalSummary{}, fmt.Errorf("listing eligible users: %w", err)
	}

	summaries := make([]EvalSummary, len(users))
	failed := make([]bool, len(users))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.EvalWorkers)
	for i, user := range users {
		g.Go(func() error {
			sum, err := s.EvaluateUser(gctx, user)
			if err != nil {
				s.cfg.Logger.ErrorContext(gctx, "user evaluation failed",
					"user_id", user.UserID,
					"error", err,
				)
				metrics.EvaluationUsers.WithLabelValues("failed").Inc()
				failed[i] = true
				return nil
			}
			metrics.EvaluationUsers.WithLabelValues("ok").Inc()
			summaries[i] = sum
			return nil
		})
	}
	_ = g.Wait()

	total := EvalSummary{Users: len(users)}
	for i, sum := range summaries {
		if failed[i] {
			total.Failed++
			continue
		}
		total.Findings += sum.Findings
		total.AlertsCreated += sum.AlertsCreated
		total.Dropped += sum.Dropped
	}

	s.cfg.Logger.InfoContext(ctx, "evaluation tick complete",
		"users", total.Users,
		"failed", total.Failed,
		"findings", total.Findings,
		"alerts_created", total.AlertsCreated,
		"dropped", total.Dropped,
	)
	return total, nil
}

// EvaluateUser runs the full pipeline for one user: fetch forecast, hydrate
// activities, evaluate, materialize, upsert.
func (s *Scheduler) EvaluateUser(ctx context.Context, user types.EligibleUser) (EvalSummary, error) {
	fctx, cancel := context.WithTimeout(ctx, s.cfg.ForecastTimeout)
	days, err := s.cfg.Forecast.GetForecast(fctx, user.Farm.Location, s.cfg.PastDays, s.cfg.FutureDays)
	cancel()
	if err != nil {
		return EvalSummary{}, fmt.Errorf("fetching forecast: %w", err)
	}

	farm := user.Farm
	if s.cfg.Activities != nil {
		activities, err := s.cfg.Activities.RecentActivities(ctx, user.UserID, s.cfg.ActivityDays)
		if err != nil {
			// Advisory rules degrade gracefully without activities; the
			// weather rules are too time-sensitive to skip over this.
			s.cfg.Logger.WarnContext(ctx, "activity log unavailable, evaluating without activities",
				"user_id", user.UserID,
				"error", err,
			)
		} else {
			farm.RecentActivities = activities
		}
	}

	window := types.ForecastWindow{Days: days, Reference: s.cfg.Clock.Now()}
	findings := s.cfg.Evaluator.Evaluate(farm, window)

	sum := EvalSummary{Users: 1, Findings: len(findings)}
	for _, finding := range findings {
		alert, err := s.cfg.Materializer.Materialize(user.UserID, user.Recipient, finding)
		if err != nil {
			// Poison finding: no valid dedup key. Drop and log, never store.
			s.cfg.Logger.WarnContext(ctx, "dropping finding without valid dedup key",
				"user_id", user.UserID,
				"kind", string(finding.Kind),
				"error", err,
			)
			sum.Dropped++
			continue
		}

		_, created, err := s.cfg.Store.UpsertIfAbsent(ctx, alert)
		if err != nil {
			return sum, fmt.Errorf("storing alert %s: %w", alert.Kind, err)
		}
		if created {
			sum.AlertsCreated++
			metrics.AlertsCreated.WithLabelValues(string(alert.Kind)).Inc()
		}
	}
	return sum, nil
}

// RunDispatchTick performs one dispatch pass.
func (s *Scheduler) RunDispatchTick(ctx context.Context) (dispatch.Summary, error) {
	summary, err := s.cfg.Dispatcher.Run(ctx)
	if err != nil {
		return dispatch.Summary{}, err
	}
	if summary.Due > 0 {
		s.cfg.Logger.InfoContext(ctx, "dispatch tick complete",
			"due", summary.Due,
			"sent", summary.Sent,
			"failed", summary.Failed,
			"lost_claim", summary.LostClaim,
		)
	}
	return summary, nil
}

// RunMaintenance purges alerts past the retention window, archives the
// purged records, and counts expired (never-sent) alerts in metrics.
func (s *Scheduler) RunMaintenance(ctx context.Context) error {
	purged, err := s.cfg.Store.PurgeExpired(ctx, s.cfg.Clock.Now(), s.cfg.Retention)
	if err != nil {
		return fmt.Errorf("purging expired alerts: %w", err)
	}
	if len(purged) == 0 {
		return nil
	}

	expired := 0
	for _, a := range purged {
		if !a.Sent() {
			expired++
		}
	}
	if expired > 0 {
		metrics.AlertsExpired.Add(float64(expired))
	}

	if s.cfg.Archiver != nil {
		if err := s.cfg.Archiver.Archive(ctx, purged, s.cfg.Clock.Now()); err != nil {
			// Archival is best-effort; the purge already happened.
			s.cfg.Logger.WarnContext(ctx, "alert archive failed",
				"purged", len(purged),
				"error", err,
			)
		}
	}

	s.cfg.Logger.InfoContext(ctx, "maintenance tick complete",
		"purged", len(purged),
		"expired_unsent", expired,
	)
	return nil
}

// TriggerEvaluationNow is the manual re-evaluation hook used by operator
// tooling and the dashboard's refresh action. With a userID it evaluates
// that user only; otherwise it runs a full evaluation tick. It is safe to
// call while periodic ticks are running: the store's dedup and claim
// discipline make overlap harmless.
func (s *Scheduler) TriggerEvaluationNow(ctx context.Context, userID string) error {
	if userID == "" {
		_, err := s.RunEvaluationTick(ctx)
		return err
	}

	user, err := s.cfg.Directory.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := s.EvaluateUser(ctx, *user); err != nil {
		return fmt.Errorf("evaluating user %s: %w", userID, err)
	}
	return nil
}
