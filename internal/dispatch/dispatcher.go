// Package dispatch delivers due alerts through the channel adapter with
// at-most-once semantics. The claim discipline lives here: an alert is
// compare-and-set claimed before the adapter is called, so two overlapping
// dispatch ticks racing on the same alert produce exactly one send.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"agroalert/internal/metrics"
	"agroalert/internal/types"
)

// Dispatcher drains due alerts from the store and sends them.
type Dispatcher struct {
	store       types.AlertStore
	channel     types.ChannelAdapter
	clock       types.Clock
	logger      *slog.Logger
	workers     int
	sendTimeout time.Duration
	batchLimit  int
}

// Config holds the settings for creating a Dispatcher.
type Config struct {
	Store   types.AlertStore
	Channel types.ChannelAdapter
	Clock   types.Clock
	Logger  *slog.Logger
	// Workers bounds per-tick send concurrency so a large due batch cannot
	// overwhelm the provider's rate limits.
	Workers int
	// SendTimeout bounds one channel delivery.
	SendTimeout time.Duration
	// BatchLimit caps how many due alerts one tick drains.
	BatchLimit int
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	sendTimeout := cfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = 15 * time.Second
	}
	batchLimit := cfg.BatchLimit
	if batchLimit <= 0 {
		batchLimit = 100
	}
	return &Dispatcher{
		store:       cfg.Store,
		channel:     cfg.Channel,
		clock:       clock,
		logger:      logger,
		workers:     workers,
		sendTimeout: sendTimeout,
		batchLimit:  batchLimit,
	}
}

// Summary reports one dispatch pass for tick-level observability.
type Summary struct {
	Due       int
	Sent      int
	Failed    int
	LostClaim int
}

// Run performs one dispatch pass: fetch due alerts, then deliver them on a
// bounded worker pool. A failed delivery releases the alert back to pending
// for the next tick; nothing aborts the batch.
func (d *Dispatcher) Run(ctx context.Context) (Summary, error) {
	now := d.clock.Now()
	due, err := d.store.DueForDispatch(ctx, now, d.batchLimit)
	if err != nil {
		return Summary{}, err
	}
	if len(due) == 0 {
		return Summary{}, nil
	}

	results := make([]dispatchResult, len(due))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i, alert := range due {
		g.Go(func() error {
			results[i] = d.dispatchOne(gctx, alert)
			return nil
		})
	}
	// Workers never return errors; failures are isolated per alert.
	_ = g.Wait()

	summary := Summary{Due: len(due)}
	for _, res := range results {
		switch res {
		case resultSent:
			summary.Sent++
		case resultFailed:
			summary.Failed++
		case resultLostClaim:
			summary.LostClaim++
		}
	}
	return summary, nil
}

type dispatchResult int

const (
	resultLostClaim dispatchResult = iota
	resultSent
	resultFailed
)

// dispatchOne claims and delivers a single alert. Only a caller that wins
// the claim may send; losing the claim means another tick already owns the
// alert and is not an error.
func (d *Dispatcher) dispatchOne(ctx context.Context, alert *types.Alert) dispatchResult {
	claimed, err := d.store.Claim(ctx, alert.ID)
	if err != nil {
		d.logger.ErrorContext(ctx, "alert claim failed",
			"alert_id", alert.ID,
			"error", err,
		)
		metrics.DispatchTotal.WithLabelValues("lost_claim").Inc()
		return resultLostClaim
	}
	if !claimed {
		metrics.DispatchTotal.WithLabelValues("lost_claim").Inc()
		return resultLostClaim
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	msgID, err := d.channel.Send(sendCtx, alert.Recipient, alert.ChannelMessage)
	if err != nil {
		// Transient channel outages must not drop a time-sensitive alert:
		// release back to pending and let the next tick retry until the
		// retention window closes.
		d.logger.WarnContext(ctx, "alert delivery failed, will retry next tick",
			"alert_id", alert.ID,
			"kind", string(alert.Kind),
			"channel", d.channel.Name(),
			"attempt", alert.AttemptCount+1,
			"error", err,
		)
		if relErr := d.store.Release(ctx, alert.ID); relErr != nil {
			d.logger.ErrorContext(ctx, "alert release failed",
				"alert_id", alert.ID,
				"error", relErr,
			)
		}
		metrics.DispatchTotal.WithLabelValues("failed").Inc()
		return resultFailed
	}

	if err := d.store.MarkSent(ctx, alert.ID, d.clock.Now()); err != nil {
		// The message went out but the terminal transition failed. Log loudly:
		// the claim keeps the alert out of the next tick, and the purge will
		// eventually collect it.
		d.logger.ErrorContext(ctx, "alert sent but mark-sent failed",
			"alert_id", alert.ID,
			"provider_message_id", msgID,
			"error", err,
		)
		metrics.DispatchTotal.WithLabelValues("failed").Inc()
		return resultFailed
	}

	d.logger.InfoContext(ctx, "alert dispatched",
		"alert_id", alert.ID,
		"user_id", alert.UserID,
		"kind", string(alert.Kind),
		"severity", string(alert.Severity),
		"channel", d.channel.Name(),
		"provider_message_id", msgID,
	)
	metrics.DispatchTotal.WithLabelValues("sent").Inc()
	return resultSent
}
