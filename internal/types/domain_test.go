package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var testRef = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func windowDays(from, to int) []ForecastDay {
	var days []ForecastDay
	for offset := from; offset <= to; offset++ {
		days = append(days, ForecastDay{Date: DayOf(testRef).AddDate(0, 0, offset)})
	}
	return days
}

func TestDayOf(t *testing.T) {
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), DayOf(testRef))

	// A non-UTC instant lands on its UTC calendar day.
	est := time.FixedZone("EST", -5*3600)
	late := time.Date(2026, 3, 10, 22, 0, 0, 0, est) // 03:00 UTC on the 11th
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), DayOf(late))
}

func TestForecastWindow_TrailingAndLeading(t *testing.T) {
	w := ForecastWindow{Days: windowDays(-4, 2), Reference: testRef}

	trailing := w.Trailing(4)
	assert.Len(t, trailing, 5, "four prior days plus today")
	assert.Equal(t, DayOf(testRef).AddDate(0, 0, -4), trailing[0].Date)
	assert.Equal(t, DayOf(testRef), trailing[len(trailing)-1].Date)

	// A narrower n keeps the most recent days.
	trailing = w.Trailing(2)
	assert.Len(t, trailing, 3)
	assert.Equal(t, DayOf(testRef).AddDate(0, 0, -2), trailing[0].Date)

	leading := w.Leading()
	assert.Len(t, leading, 2)
	assert.Equal(t, DayOf(testRef).AddDate(0, 0, 1), leading[0].Date)
	assert.Equal(t, DayOf(testRef).AddDate(0, 0, 2), leading[1].Date)
}

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Greater(t, SeverityMedium.Rank(), SeverityLow.Rank())
	assert.Greater(t, SeverityLow.Rank(), Severity("bogus").Rank())
}

func TestDedupKey_Valid(t *testing.T) {
	a := Alert{UserID: "u1", Kind: RiskFrost, TriggerDate: testRef}
	assert.True(t, a.Key().Valid())
	assert.Equal(t, DayOf(testRef), a.Key().TriggerDate, "keys are day-granular")

	for _, incomplete := range []Alert{
		{Kind: RiskFrost, TriggerDate: testRef},
		{UserID: "u1", TriggerDate: testRef},
		{UserID: "u1", Kind: RiskFrost},
	} {
		assert.False(t, incomplete.Key().Valid())
	}
}

func TestFarmContext_Activities(t *testing.T) {
	farm := FarmContext{RecentActivities: []ActivityEvent{
		{Type: ActivityIrrigation, Date: testRef.AddDate(0, 0, -5)},
		{Type: ActivityPruning, Date: testRef.AddDate(0, 0, -1)},
	}}

	assert.True(t, farm.HasActivitySince(ActivityIrrigation, testRef.AddDate(0, 0, -6)))
	assert.False(t, farm.HasActivitySince(ActivityIrrigation, testRef.AddDate(0, 0, -2)))
	assert.False(t, farm.HasActivitySince(ActivityFertilization, testRef.AddDate(0, 0, -30)))

	last, ok := farm.LastActivity()
	assert.True(t, ok)
	assert.Equal(t, ActivityPruning, last.Type)

	_, ok = FarmContext{}.LastActivity()
	assert.False(t, ok)
}
