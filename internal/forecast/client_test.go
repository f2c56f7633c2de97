package forecast

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agroalert/internal/types"
)

const providerBody = `{
	"daily": {
		"time": ["2026-03-09", "2026-03-10", "2026-03-11"],
		"temperature_2m_mean": [12.5, 14.0, 13.2],
		"temperature_2m_min": [6.1, 7.0, -1.5],
		"temperature_2m_max": [18.0, 20.5, 19.0],
		"relative_humidity_2m_mean": [70, 88, 60],
		"wind_speed_10m_max": [12.0, 45.5, 20.0],
		"precipitation_sum": [0.0, 8.2, 0.4],
		"cloud_cover_mean": [30, 85, 40],
		"weather_code": [0, 61, 2]
	}
}`

func TestClient_MapsProviderResponse(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/forecast", r.URL.Path)
		gotQuery = map[string]string{
			"latitude":        r.URL.Query().Get("latitude"),
			"past_days":       r.URL.Query().Get("past_days"),
			"forecast_days":   r.URL.Query().Get("forecast_days"),
			"wind_speed_unit": r.URL.Query().Get("wind_speed_unit"),
			"timezone":        r.URL.Query().Get("timezone"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(providerBody))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, Timeout: 2 * time.Second})
	days, err := c.GetForecast(context.Background(), types.Location{Latitude: 41.0082, Longitude: 28.9784}, 1, 2)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"latitude":        "41.0082",
		"past_days":       "1",
		"forecast_days":   "3",
		"wind_speed_unit": "kmh",
		"timezone":        "UTC",
	}, gotQuery)

	require.Len(t, days, 3)
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), days[0].Date)
	assert.Equal(t, 12.5, days[0].TempC)
	assert.Equal(t, "clear", days[0].Condition)

	assert.Equal(t, 45.5, days[1].WindKph)
	assert.Equal(t, 8.2, days[1].PrecipMM)
	assert.Equal(t, 88.0, days[1].HumidityPct)
	assert.Equal(t, "rain", days[1].Condition)

	assert.Equal(t, -1.5, days[2].TempMinC)
	assert.Equal(t, "partly_cloudy", days[2].Condition)
}

func TestClient_UpstreamErrorWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, Timeout: 2 * time.Second})
	_, err := c.GetForecast(context.Background(), types.Location{Latitude: 41, Longitude: 29}, 1, 2)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamWeather, appErr.Code)
}

func TestClient_EmptyDailyBlockRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"daily":{"time":[]}}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, Timeout: 2 * time.Second})
	_, err := c.GetForecast(context.Background(), types.Location{Latitude: 41, Longitude: 29}, 1, 2)
	assert.Error(t, err)
}

func TestClient_BreakerTripsAfterConsecutiveFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, Timeout: 2 * time.Second})
	for i := 0; i < 10; i++ {
		_, err := c.GetForecast(context.Background(), types.Location{Latitude: 41, Longitude: 29}, 1, 2)
		require.Error(t, err)
	}

	assert.Less(t, calls, 10, "open breaker short-circuits requests")
}

func TestConditionLabel(t *testing.T) {
	cases := map[int]string{
		0:  "clear",
		2:  "partly_cloudy",
		45: "fog",
		61: "rain",
		71: "snow",
		80: "showers",
		95: "storm",
	}
	for code, want := range cases {
		assert.Equal(t, want, conditionLabel(code), "code %d", code)
	}
}
