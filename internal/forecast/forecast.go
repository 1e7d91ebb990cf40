package forecast

import (
	"errors"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/stromplan/stromplan/internal/engine"
	"github.com/stromplan/stromplan/internal/prices"
	"github.com/stromplan/stromplan/internal/weather"
)

// ErrUnavailable marks forecast data that could not be obtained from the
// providers. Callers surface it unchanged; the allocation engine never
// produces or wraps it.
var ErrUnavailable = errors.New("forecast data unavailable")

// SolarPotential estimates the 0-1 solar yield factor for an hour: a
// clear-sky daylight parabola peaking at noon, scaled by cloud cover. The
// hour of day is taken in t's own location.
func SolarPotential(t time.Time, cloudCoverPct float64) float64 {
	h := float64(t.Hour())
	dayFactor := math.Max(0, -0.05*(h-12)*(h-12)+1.0)
	potential := (100 - cloudCoverPct) / 100 * dayFactor
	return math.Min(1, math.Max(0, potential))
}

// Assemble inner-joins hourly prices and weather into engine slots. Both
// inputs are bucketed to the hour in loc; price duplicates within an hour
// are averaged, hours present in only one source are dropped. The result
// is chronologically sorted with one slot per hour.
func Assemble(hp []prices.HourlyPrice, hs []weather.Hour, loc *time.Location) []engine.ForecastSlot {
	type priceBucket struct {
		sum float64
		n   int
	}
	priceByHour := make(map[int64]*priceBucket)
	for _, p := range hp {
		key := p.Timestamp.Truncate(time.Hour).Unix()
		b := priceByHour[key]
		if b == nil {
			b = &priceBucket{}
			priceByHour[key] = b
		}
		b.sum += p.EURPerKWh
		b.n++
	}

	cloudsByHour := make(map[int64]float64)
	for _, h := range hs {
		cloudsByHour[h.Timestamp.Truncate(time.Hour).Unix()] = h.CloudCoverPct
	}

	slots := make([]engine.ForecastSlot, 0, len(priceByHour))
	for key, b := range priceByHour {
		clouds, ok := cloudsByHour[key]
		if !ok {
			continue
		}
		hour := time.Unix(key, 0).In(loc)
		slots = append(slots, engine.ForecastSlot{
			Timestamp:      hour,
			PricePerKWh:    b.sum / float64(b.n),
			SolarPotential: SolarPotential(hour, clouds),
		})
	}

	sort.Slice(slots, func(i, j int) bool {
		return slots[i].Timestamp.Before(slots[j].Timestamp)
	})

	return slots
}

// Stats summarizes the price horizon for display.
type Stats struct {
	Slots     int     `json:"slots"`
	MinPrice  float64 `json:"min_price"`
	MaxPrice  float64 `json:"max_price"`
	MeanPrice float64 `json:"mean_price"`
}

// Summarize computes horizon price statistics. Empty input yields the zero
// Stats.
func Summarize(slots []engine.ForecastSlot) Stats {
	if len(slots) == 0 {
		return Stats{}
	}
	ps := make([]float64, len(slots))
	for i, s := range slots {
		ps[i] = s.PricePerKWh
	}
	return Stats{
		Slots:     len(slots),
		MinPrice:  floats.Min(ps),
		MaxPrice:  floats.Max(ps),
		MeanPrice: stat.Mean(ps, nil),
	}
}
