// Package synthetic produces deterministic stand-in observations for keys without
// persisted history. Every value is a pure function of (city, disease, date) so
// repeated requests without a backend return identical series.
package synthetic

import (
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"github.com/i474232898/disease-trend-forecast/internal/cities"
	"github.com/i474232898/disease-trend-forecast/internal/trend"
)

const (
	yearDays = 365.25

	minTemp, maxTemp = 18.0, 38.0
	minAQI, maxAQI   = 30.0, 200.0
)

// Generator synthesizes observations. It is safe for concurrent use.
type Generator struct {
	registry *cities.Registry
}

// New returns a Generator that uses registry latitudes for the temperature baseline.
func New(registry *cities.Registry) *Generator {
	return &Generator{registry: registry}
}

// Observation returns the synthetic point for key on the UTC day of date.
func (g *Generator) Observation(key trend.SeriesKey, date time.Time) trend.ObservationPoint {
	day := trend.Day(date)
	rng := rand.New(rand.NewPCG(seed(key, day.Format(time.DateOnly)), uint64(day.Unix())))

	annual := 2 * math.Pi * float64(day.YearDay()) / yearDays
	weekly := 2 * math.Pi * float64(day.Weekday()) / 7

	base := 50 + float64(keyHash(key)%50)
	cases := base + 30*math.Sin(annual-math.Pi/2) + 20 + 6*math.Sin(weekly) + rng.NormFloat64()*10

	temp := g.baseTemp(key.City) + 5*math.Sin(annual) + rng.NormFloat64()*2
	aqi := 80 - 20*math.Sin(annual+math.Pi) + rng.NormFloat64()*15

	return trend.ObservationPoint{
		Date:    day,
		Cases:   int(math.Max(0, math.Round(cases))),
		AvgTemp: round2(clamp(temp, minTemp, maxTemp)),
		AQI:     round2(clamp(aqi, minAQI, maxAQI)),
	}
}

// Series returns one synthetic point per day in [from, to].
func (g *Generator) Series(key trend.SeriesKey, from, to time.Time) []trend.ObservationPoint {
	from, to = trend.Day(from), trend.Day(to)
	var pts []trend.ObservationPoint
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		pts = append(pts, g.Observation(key, d))
	}
	return pts
}

// Live returns the "latest observation" for key at ts: the synthetic point for ts's
// day with per-tick jitter seeded from the timestamp.
func (g *Generator) Live(key trend.SeriesKey, ts time.Time) trend.LiveUpdate {
	obs := g.Observation(key, ts)
	rng := rand.New(rand.NewPCG(seed(key, "live"), uint64(ts.UnixNano())))

	cases := obs.Cases + rng.IntN(16) - 5 // [-5, 10]
	if cases < 0 {
		cases = 0
	}

	return trend.LiveUpdate{
		Timestamp: ts.UTC(),
		City:      key.City,
		Disease:   key.Disease,
		Cases:     cases,
		AvgTemp:   round2(obs.AvgTemp + (rng.Float64()*4 - 2)),
		AQI:       round2(math.Max(0, obs.AQI+(rng.Float64()*20-10))),
	}
}

// baseTemp approximates the climate baseline from latitude: north is cooler, south warmer.
func (g *Generator) baseTemp(city string) float64 {
	if g.registry == nil {
		return 25
	}
	c, err := g.registry.Lookup(city)
	if err != nil {
		return 25
	}
	switch {
	case c.Lat > 28:
		return 22
	case c.Lat < 12:
		return 28
	default:
		return 25
	}
}

func keyHash(key trend.SeriesKey) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key.City))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(key.Disease))
	return h.Sum64()
}

func seed(key trend.SeriesKey, salt string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key.City))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(key.Disease))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(salt))
	return h.Sum64()
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
