package forecast

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"agroalert/internal/types"
)

// Compile-time assertion that SyntheticSource implements types.ForecastSource.
var _ types.ForecastSource = (*SyntheticSource)(nil)

// SyntheticSource generates a plausible forecast locally so the evaluator
// always has input to reason about when the real provider is unreachable or
// not configured. This is a named, intentional operating mode for demo and
// offline use, not an error handler.
//
// Generation is season- and region-aware: the seasonal temperature curve
// follows the hemisphere implied by the latitude, and the humidity/rain
// baseline scales with proximity to the equator. Output is deterministic for
// a given (location, day): each day is seeded from both, so repeated calls
// within a tick, and re-evaluations on the same day, see identical weather.
type SyntheticSource struct {
	clock types.Clock
}

// NewSyntheticSource creates a SyntheticSource driven by the given clock.
func NewSyntheticSource(clock types.Clock) *SyntheticSource {
	return &SyntheticSource{clock: clock}
}

// Name identifies the source in logs and the health endpoint.
func (s *SyntheticSource) Name() string { return "synthetic" }

// GetForecast generates `past` trailing days plus today and `future` leading
// days, oldest first.
func (s *SyntheticSource) GetForecast(_ context.Context, loc types.Location, past, future int) ([]types.ForecastDay, error) {
	today := types.DayOf(s.clock.Now())

	days := make([]types.ForecastDay, 0, past+future+1)
	for offset := -past; offset <= future; offset++ {
		date := today.AddDate(0, 0, offset)
		days = append(days, synthesizeDay(loc, date))
	}
	return days, nil
}

// synthesizeDay produces one day of weather from the location and date.
func synthesizeDay(loc types.Location, date time.Time) types.ForecastDay {
	rng := rand.New(rand.NewPCG(daySeed(loc, date), 0))

	// Seasonal phase: day-of-year angle, flipped for the southern hemisphere.
	phase := 2 * math.Pi * float64(date.YearDay()) / 365
	if loc.Latitude < 0 {
		phase += math.Pi
	}

	// Annual temperature curve: coldest near mid-January (northern),
	// amplitude grows with distance from the equator.
	amplitude := 3 + math.Abs(loc.Latitude)/4
	base := 22 - math.Abs(loc.Latitude)/3
	mean := base - amplitude*math.Cos(phase) + rng.Float64()*6 - 3

	spread := 4 + rng.Float64()*4
	humidity := clamp(55+30*math.Sin(phase/2)*equatorFactor(loc)+rng.Float64()*30-15, 20, 100)
	cloud := clamp(humidity-20+rng.Float64()*40-10, 0, 100)

	precip := 0.0
	if rng.Float64() < 0.35*equatorFactor(loc)+0.15 {
		precip = rng.Float64() * 25
	}

	wind := 5 + rng.Float64()*25

	return types.ForecastDay{
		Date:        date,
		TempC:       round1(mean),
		TempMinC:    round1(mean - spread),
		TempMaxC:    round1(mean + spread),
		HumidityPct: round1(humidity),
		WindKph:     round1(wind),
		PrecipMM:    round1(precip),
		CloudPct:    round1(cloud),
		Condition:   syntheticCondition(precip, cloud),
	}
}

// daySeed derives a stable seed from the location and calendar day.
func daySeed(loc types.Location, date time.Time) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(date.Format("2006-01-02")))
	_, _ = h.Write([]byte(loc.Region))
	var buf [16]byte
	putFloat(buf[:8], loc.Latitude)
	putFloat(buf[8:], loc.Longitude)
	_, _ = h.Write(buf[:])
	return h.Sum64()
}

// putFloat writes a float64's bits big-endian into an 8-byte slice.
func putFloat(b []byte, f float64) {
	bits := math.Float64bits(f)
	for i := 0; i < 8; i++ {
		b[i] = byte(bits >> (56 - 8*i))
	}
}

// equatorFactor scales from 1.0 at the equator toward 0.4 at the poles,
// driving the wetter tropical baseline.
func equatorFactor(loc types.Location) float64 {
	return 1 - 0.6*math.Abs(loc.Latitude)/90
}

func syntheticCondition(precip, cloud float64) string {
	switch {
	case precip > 15:
		return "rain"
	case precip > 0:
		return "showers"
	case cloud > 70:
		return "partly_cloudy"
	default:
		return "clear"
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
