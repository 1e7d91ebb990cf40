package engine

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

const (
	evCheapQuantile        = 0.25
	applianceCheapQuantile = 0.15
	sellFloorFraction      = 0.10
)

// ComputeThresholds derives the decision prices from the full forecast
// horizon: the EV and appliance cheap-price quantiles and the sell floor as
// a fraction of the horizon's maximum price. Fails with ErrInsufficientData
// on an empty horizon.
func ComputeThresholds(slots []ForecastSlot) (Thresholds, error) {
	if len(slots) == 0 {
		return Thresholds{}, fmt.Errorf("%w: no forecast slots", ErrInsufficientData)
	}

	prices := make([]float64, len(slots))
	for i, s := range slots {
		prices[i] = s.PricePerKWh
	}
	sorted := append([]float64(nil), prices...)
	sort.Float64s(sorted)

	return Thresholds{
		EVCheapPrice:        quantile(sorted, evCheapQuantile),
		ApplianceCheapPrice: quantile(sorted, applianceCheapQuantile),
		SellPriceFloor:      sellFloorFraction * floats.Max(prices),
	}, nil
}

// quantile returns the p-quantile of the ascending-sorted values, linearly
// interpolating between the two nearest order statistics (h = (n-1)p).
func quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	h := p * float64(n-1)
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	return sorted[lo] + (h-math.Floor(h))*(sorted[lo+1]-sorted[lo])
}
