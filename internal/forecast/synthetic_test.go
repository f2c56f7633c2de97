package forecast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agroalert/internal/types"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

func TestSynthetic_WindowShape(t *testing.T) {
	s := NewSyntheticSource(fixedClock{now: testNow})

	days, err := s.GetForecast(context.Background(), types.Location{Latitude: 41, Longitude: 29}, 4, 2)
	require.NoError(t, err)

	require.Len(t, days, 7, "4 trailing + today + 2 leading")
	assert.Equal(t, types.DayOf(testNow).AddDate(0, 0, -4), days[0].Date)
	assert.Equal(t, types.DayOf(testNow).AddDate(0, 0, 2), days[6].Date)
	for i := 1; i < len(days); i++ {
		assert.True(t, days[i].Date.After(days[i-1].Date), "oldest first")
	}
}

func TestSynthetic_DeterministicPerLocationAndDay(t *testing.T) {
	s := NewSyntheticSource(fixedClock{now: testNow})
	loc := types.Location{Latitude: 41.01, Longitude: 28.97, Region: "marmara"}

	first, err := s.GetForecast(context.Background(), loc, 4, 2)
	require.NoError(t, err)
	second, err := s.GetForecast(context.Background(), loc, 4, 2)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestSynthetic_DifferentLocationsDiffer(t *testing.T) {
	s := NewSyntheticSource(fixedClock{now: testNow})

	a, err := s.GetForecast(context.Background(), types.Location{Latitude: 41, Longitude: 29}, 0, 2)
	require.NoError(t, err)
	b, err := s.GetForecast(context.Background(), types.Location{Latitude: -33.9, Longitude: 151.2}, 0, 2)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestSynthetic_ValuesWithinUnitContract(t *testing.T) {
	s := NewSyntheticSource(fixedClock{now: testNow})

	locs := []types.Location{
		{Latitude: 0, Longitude: 0},
		{Latitude: 60, Longitude: 10},
		{Latitude: -45, Longitude: -70},
	}
	for _, loc := range locs {
		days, err := s.GetForecast(context.Background(), loc, 4, 2)
		require.NoError(t, err)
		for _, d := range days {
			assert.GreaterOrEqual(t, d.HumidityPct, 20.0)
			assert.LessOrEqual(t, d.HumidityPct, 100.0)
			assert.GreaterOrEqual(t, d.CloudPct, 0.0)
			assert.LessOrEqual(t, d.CloudPct, 100.0)
			assert.GreaterOrEqual(t, d.WindKph, 5.0)
			assert.LessOrEqual(t, d.WindKph, 30.0)
			assert.GreaterOrEqual(t, d.PrecipMM, 0.0)
			assert.LessOrEqual(t, d.TempMinC, d.TempC)
			assert.GreaterOrEqual(t, d.TempMaxC, d.TempC)
			assert.NotEmpty(t, d.Condition)
		}
	}
}

func TestSynthetic_Name(t *testing.T) {
	assert.Equal(t, "synthetic", NewSyntheticSource(fixedClock{now: testNow}).Name())
}
