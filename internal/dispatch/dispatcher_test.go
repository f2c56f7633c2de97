package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agroalert/internal/alerts"
	"agroalert/internal/types"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

// recordingChannel counts deliveries per recipient and can be switched to
// fail every send.
type recordingChannel struct {
	mu    sync.Mutex
	sends map[string]int
	fail  bool
}

func newRecordingChannel() *recordingChannel {
	return &recordingChannel{sends: make(map[string]int)}
}

func (c *recordingChannel) Name() string { return "recording" }

func (c *recordingChannel) Send(_ context.Context, recipient, _ string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return "", errors.New("provider unavailable")
	}
	c.sends[recipient]++
	return "msg_1", nil
}

func (c *recordingChannel) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.sends {
		n += v
	}
	return n
}

func seedAlert(t *testing.T, store types.AlertStore, id, recipient string, scheduledFor time.Time) {
	t.Helper()
	_, _, err := store.UpsertIfAbsent(context.Background(), &types.Alert{
		ID:             id,
		UserID:         "usr_" + id,
		Kind:           types.RiskWind,
		Severity:       types.SeverityMedium,
		TriggerDate:    types.DayOf(scheduledFor),
		Title:          "t",
		Message:        "m",
		ChannelMessage: "cm",
		Recipient:      recipient,
		ScheduledFor:   scheduledFor,
		Status:         types.AlertPending,
		CreatedAt:      scheduledFor,
	})
	require.NoError(t, err)
}

func TestRun_SendsDueAlerts(t *testing.T) {
	store := alerts.NewMemoryStore()
	ch := newRecordingChannel()
	d := New(Config{Store: store, Channel: ch, Clock: fixedClock{now: testNow}})

	seedAlert(t, store, "alr_1", "100", testNow.Add(-time.Hour))
	seedAlert(t, store, "alr_2", "200", testNow.Add(-time.Minute))
	seedAlert(t, store, "alr_later", "300", testNow.Add(time.Hour))

	sum, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Summary{Due: 2, Sent: 2}, sum)
	assert.Equal(t, 1, ch.sends["100"])
	assert.Equal(t, 1, ch.sends["200"])
	assert.Equal(t, 0, ch.sends["300"])

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Sent)
}

func TestRun_EmptyBatch(t *testing.T) {
	store := alerts.NewMemoryStore()
	d := New(Config{Store: store, Channel: newRecordingChannel(), Clock: fixedClock{now: testNow}})

	sum, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
}

func TestRun_AtMostOnceUnderConcurrentTicks(t *testing.T) {
	store := alerts.NewMemoryStore()
	ch := newRecordingChannel()
	clock := fixedClock{now: testNow}

	const n = 20
	for i := 0; i < n; i++ {
		seedAlert(t, store, fmt.Sprintf("alr_%d", i), fmt.Sprintf("%d", i), testNow.Add(-time.Hour))
	}

	// Two dispatchers sharing the store, as when a slow tick overlaps the
	// next one.
	d1 := New(Config{Store: store, Channel: ch, Clock: clock})
	d2 := New(Config{Store: store, Channel: ch, Clock: clock})

	var wg sync.WaitGroup
	sums := make([]Summary, 2)
	for i, d := range []*Dispatcher{d1, d2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sum, err := d.Run(context.Background())
			assert.NoError(t, err)
			sums[i] = sum
		}()
	}
	wg.Wait()

	assert.Equal(t, n, ch.total(), "every alert delivered exactly once")
	for r, count := range ch.sends {
		assert.Equal(t, 1, count, "recipient %s", r)
	}
	assert.Equal(t, n, sums[0].Sent+sums[1].Sent)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, n, stats.Sent)
	assert.Equal(t, 0, stats.Pending)
}

func TestRun_FailureReleasesForRetry(t *testing.T) {
	store := alerts.NewMemoryStore()
	ch := newRecordingChannel()
	ch.fail = true
	d := New(Config{Store: store, Channel: ch, Clock: fixedClock{now: testNow}})

	seedAlert(t, store, "alr_1", "100", testNow.Add(-time.Hour))

	sum, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Due: 1, Failed: 1}, sum)

	// Still pending for the next tick, with the attempt recorded.
	due, err := store.DueForDispatch(context.Background(), testNow, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, types.AlertPending, due[0].Status)
	assert.Equal(t, 1, due[0].AttemptCount)

	// A later tick after the outage delivers it.
	ch.fail = false
	sum, err = d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Due: 1, Sent: 1}, sum)
}

func TestRun_OutageUntilExpiryNeverSends(t *testing.T) {
	store := alerts.NewMemoryStore()
	ch := newRecordingChannel()
	ch.fail = true
	d := New(Config{Store: store, Channel: ch, Clock: fixedClock{now: testNow}})

	seedAlert(t, store, "alr_1", "100", testNow.Add(-time.Hour))

	// Several ticks during a sustained outage.
	for i := 0; i < 3; i++ {
		_, err := d.Run(context.Background())
		require.NoError(t, err)
	}

	// Retention closes 48h after the scheduled time.
	purged, err := store.PurgeExpired(context.Background(), testNow.Add(49*time.Hour), 48*time.Hour)
	require.NoError(t, err)
	require.Len(t, purged, 1)
	assert.Equal(t, 3, purged[0].AttemptCount)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Sent)
	assert.Equal(t, 1, stats.Expired)
	assert.Equal(t, 0, ch.total())
}

func TestRun_BatchLimit(t *testing.T) {
	store := alerts.NewMemoryStore()
	ch := newRecordingChannel()
	d := New(Config{Store: store, Channel: ch, Clock: fixedClock{now: testNow}, BatchLimit: 2})

	for i := 0; i < 5; i++ {
		seedAlert(t, store, fmt.Sprintf("alr_%d", i), fmt.Sprintf("%d", i), testNow.Add(-time.Hour))
	}

	sum, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Due)
	assert.Equal(t, 2, sum.Sent)
}
