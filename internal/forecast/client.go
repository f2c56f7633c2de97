// Package forecast provides the weather-provider boundary: an HTTP client
// for an Open-Meteo-compatible daily forecast API, a deterministic synthetic
// generator for offline/demo operation, and a fallback source that degrades
// from the former to the latter. All sources honor the same shape and unit
// contract (degC, km/h, mm, %), so the evaluator never knows which one
// produced its input.
package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker/v2"

	"agroalert/internal/types"
)

// Compile-time assertion that Client implements types.ForecastSource.
var _ types.ForecastSource = (*Client)(nil)

// ClientConfig holds the settings for the HTTP forecast client.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client fetches daily forecasts over HTTP. Calls run behind a circuit
// breaker so a struggling provider trips fast instead of stalling every
// evaluation tick; the per-request timeout bounds the worst case.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]types.ForecastDay]
	logger  *slog.Logger
}

// NewClient creates a forecast Client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cb := gobreaker.NewCircuitBreaker[[]types.ForecastDay](gobreaker.Settings{
		Name:        "weather-provider",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: cb,
		logger:  logger,
	}
}

// Name identifies the client in logs and the health endpoint.
func (c *Client) Name() string { return "http" }

// providerResponse mirrors the daily block of an Open-Meteo-compatible
// forecast response.
type providerResponse struct {
	Daily struct {
		Time          []string  `json:"time"`
		TempMean      []float64 `json:"temperature_2m_mean"`
		TempMin       []float64 `json:"temperature_2m_min"`
		TempMax       []float64 `json:"temperature_2m_max"`
		HumidityMean  []float64 `json:"relative_humidity_2m_mean"`
		WindMax       []float64 `json:"wind_speed_10m_max"`
		PrecipSum     []float64 `json:"precipitation_sum"`
		CloudMean     []float64 `json:"cloud_cover_mean"`
		WeatherCode   []int     `json:"weather_code"`
	} `json:"daily"`
}

// GetForecast fetches `past` trailing days plus today and `future` leading
// days for the location.
func (c *Client) GetForecast(ctx context.Context, loc types.Location, past, future int) ([]types.ForecastDay, error) {
	days, err := c.breaker.Execute(func() ([]types.ForecastDay, error) {
		return c.fetch(ctx, loc, past, future)
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamWeather, "weather provider request failed", err)
	}
	return days, nil
}

// fetch performs one provider round trip and maps the response to the
// domain shape.
func (c *Client) fetch(ctx context.Context, loc types.Location, past, future int) ([]types.ForecastDay, error) {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", loc.Latitude))
	q.Set("longitude", fmt.Sprintf("%.4f", loc.Longitude))
	q.Set("daily", "temperature_2m_mean,temperature_2m_min,temperature_2m_max,relative_humidity_2m_mean,wind_speed_10m_max,precipitation_sum,cloud_cover_mean,weather_code")
	q.Set("past_days", fmt.Sprintf("%d", past))
	// forecast_days counts today as day one.
	q.Set("forecast_days", fmt.Sprintf("%d", future+1))
	q.Set("wind_speed_unit", "kmh")
	q.Set("timezone", "UTC")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/forecast?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building forecast request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling weather provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("weather provider returned %d: %s", resp.StatusCode, string(body))
	}

	var pr providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("decoding forecast response: %w", err)
	}

	return mapResponse(pr)
}

// mapResponse converts the provider's column-oriented daily block into
// ForecastDay rows, oldest first.
func mapResponse(pr providerResponse) ([]types.ForecastDay, error) {
	d := pr.Daily
	n := len(d.Time)
	if n == 0 {
		return nil, fmt.Errorf("weather provider returned an empty daily block")
	}

	at := func(vals []float64, i int) float64 {
		if i < len(vals) {
			return vals[i]
		}
		return 0
	}

	days := make([]types.ForecastDay, 0, n)
	for i := 0; i < n; i++ {
		date, err := time.Parse("2006-01-02", d.Time[i])
		if err != nil {
			return nil, fmt.Errorf("parsing forecast date %q: %w", d.Time[i], err)
		}
		code := 0
		if i < len(d.WeatherCode) {
			code = d.WeatherCode[i]
		}
		days = append(days, types.ForecastDay{
			Date:        date.UTC(),
			TempC:       at(d.TempMean, i),
			TempMinC:    at(d.TempMin, i),
			TempMaxC:    at(d.TempMax, i),
			HumidityPct: at(d.HumidityMean, i),
			WindKph:     at(d.WindMax, i),
			PrecipMM:    at(d.PrecipSum, i),
			CloudPct:    at(d.CloudMean, i),
			Condition:   conditionLabel(code),
		})
	}
	return days, nil
}

// conditionLabel maps a WMO weather code to the coarse condition label.
func conditionLabel(code int) string {
	switch {
	case code == 0:
		return "clear"
	case code <= 3:
		return "partly_cloudy"
	case code <= 48:
		return "fog"
	case code <= 67:
		return "rain"
	case code <= 77:
		return "snow"
	case code <= 82:
		return "showers"
	default:
		return "storm"
	}
}
