package forecast

import (
	"context"
	"log/slog"

	"agroalert/internal/types"
)

// Compile-time assertion that FallbackSource implements types.ForecastSource.
var _ types.ForecastSource = (*FallbackSource)(nil)

// FallbackSource tries the primary provider and degrades to the fallback
// when it fails. Provider failures are an expected operating condition, not
// a hard error: they are logged at warning level and never surfaced to the
// evaluation batch.
type FallbackSource struct {
	primary  types.ForecastSource
	fallback types.ForecastSource
	logger   *slog.Logger
}

// NewFallbackSource wraps primary with fallback.
func NewFallbackSource(primary, fallback types.ForecastSource, logger *slog.Logger) *FallbackSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackSource{primary: primary, fallback: fallback, logger: logger}
}

// Name identifies the composite in logs and the health endpoint.
func (f *FallbackSource) Name() string {
	return f.primary.Name() + "+" + f.fallback.Name()
}

// GetForecast returns the primary source's forecast, or the fallback's when
// the primary fails.
func (f *FallbackSource) GetForecast(ctx context.Context, loc types.Location, past, future int) ([]types.ForecastDay, error) {
	days, err := f.primary.GetForecast(ctx, loc, past, future)
	if err == nil {
		return days, nil
	}

	f.logger.WarnContext(ctx, "primary forecast source failed, using fallback",
		"primary", f.primary.Name(),
		"fallback", f.fallback.Name(),
		"error", err,
	)
	return f.fallback.GetForecast(ctx, loc, past, future)
}
