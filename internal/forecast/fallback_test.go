package forecast

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agroalert/internal/types"
)

type stubSource struct {
	name string
	days []types.ForecastDay
	err  error
}

func (s stubSource) Name() string { return s.name }

func (s stubSource) GetForecast(context.Context, types.Location, int, int) ([]types.ForecastDay, error) {
	return s.days, s.err
}

func TestFallback_PrimaryWins(t *testing.T) {
	primary := stubSource{name: "http", days: []types.ForecastDay{{TempC: 11}}}
	fallback := stubSource{name: "synthetic", days: []types.ForecastDay{{TempC: 99}}}
	f := NewFallbackSource(primary, fallback, slog.New(slog.DiscardHandler))

	days, err := f.GetForecast(context.Background(), types.Location{}, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, 11.0, days[0].TempC)
}

func TestFallback_DegradesOnPrimaryFailure(t *testing.T) {
	primary := stubSource{name: "http", err: errors.New("provider down")}
	fallback := stubSource{name: "synthetic", days: []types.ForecastDay{{TempC: 99}}}
	f := NewFallbackSource(primary, fallback, slog.New(slog.DiscardHandler))

	days, err := f.GetForecast(context.Background(), types.Location{}, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, 99.0, days[0].TempC)
}

func TestFallback_BothFail(t *testing.T) {
	primary := stubSource{name: "http", err: errors.New("provider down")}
	fallback := stubSource{name: "synthetic", err: errors.New("also down")}
	f := NewFallbackSource(primary, fallback, slog.New(slog.DiscardHandler))

	_, err := f.GetForecast(context.Background(), types.Location{}, 4, 2)
	assert.EqualError(t, err, "also down")
}

func TestFallback_Name(t *testing.T) {
	f := NewFallbackSource(stubSource{name: "http"}, stubSource{name: "synthetic"}, nil)
	assert.Equal(t, "http+synthetic", f.Name())
}
