package engine

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
)

var (
	ErrInsufficientData   = errors.New("forecast series is empty or malformed")
	ErrInvalidPreferences = errors.New("invalid user preferences")
)

// noActionReason is recorded when neither solar nor grid conditions favour
// any action for the hour.
const noActionReason = "no action recommended"

// Engine turns an hourly forecast plus household preferences into one
// recommendation per hour. The zero value is usable; SolarPriority
// overrides the order solar surplus is offered to actions, Workers > 1
// spreads slot processing across goroutines.
type Engine struct {
	SolarPriority []Action
	Workers       int
}

// New returns an engine with the default solar priority and serial
// processing.
func New() *Engine {
	return &Engine{}
}

// Allocate runs a default engine over the forecast.
func Allocate(slots []ForecastSlot, prefs UserPreferences) ([]AllocationResult, error) {
	return New().Allocate(slots, prefs)
}

// Allocate produces exactly one AllocationResult per forecast slot, in
// input order. Preferences are validated before any slot is processed;
// thresholds are computed once over the whole horizon. The computation is
// pure and deterministic: equal inputs yield identical results regardless
// of Workers.
func (e *Engine) Allocate(slots []ForecastSlot, prefs UserPreferences) ([]AllocationResult, error) {
	if err := prefs.Validate(); err != nil {
		return nil, err
	}
	if err := validateSlots(slots); err != nil {
		return nil, err
	}

	th, err := ComputeThresholds(slots)
	if err != nil {
		return nil, err
	}

	priority := e.SolarPriority
	if len(priority) == 0 {
		priority = DefaultSolarPriority
	}

	results := make([]AllocationResult, len(slots))
	if e.Workers > 1 {
		e.allocateParallel(slots, prefs, th, priority, results)
	} else {
		for i, slot := range slots {
			results[i] = allocateSlot(slot, prefs, th, priority)
		}
	}
	return results, nil
}

// allocateParallel splits the slots into contiguous chunks, one goroutine
// each. Every worker writes results by index, so input order is preserved
// without coordination.
func (e *Engine) allocateParallel(slots []ForecastSlot, prefs UserPreferences, th Thresholds, priority []Action, results []AllocationResult) {
	workers := e.Workers
	if workers > len(slots) {
		workers = len(slots)
	}
	chunk := (len(slots) + workers - 1) / workers

	var wg sync.WaitGroup
	for start := 0; start < len(slots); start += chunk {
		end := start + chunk
		if end > len(slots) {
			end = len(slots)
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				results[i] = allocateSlot(slots[i], prefs, th, priority)
			}
		}(start, end)
	}
	wg.Wait()
}

// allocateSlot processes one hour against fresh claim state: solar phase
// first, then the grid-price fallback, then clause aggregation.
func allocateSlot(slot ForecastSlot, prefs UserPreferences, th Thresholds, priority []Action) AllocationResult {
	solarKW := slot.SolarPotential * prefs.SolarPeakCapacityKW

	claims := SlotClaims{}
	clauses := solarPhase(slot, prefs, th, solarKW, &claims, priority)
	clauses = append(clauses, gridPhase(slot, prefs, th, &claims)...)

	reason := noActionReason
	if len(clauses) > 0 {
		reason = strings.Join(clauses, "; ")
	}

	return AllocationResult{
		Timestamp:         slot.Timestamp,
		PricePerKWh:       slot.PricePerKWh,
		EstimatedSolarKW:  solarKW,
		NetGridDemandKW:   prefs.BaseConsumptionKW - solarKW,
		ChargeEV:          claims.ChargeEV,
		RunDishwasher:     claims.Dishwasher,
		RunWashingMachine: claims.WashingMachine,
		SellToGrid:        claims.SellToGrid,
		SurplusSoldKW:     claims.SoldKW,
		Reason:            reason,
	}
}

// validateSlots rejects forecasts the allocation cannot be trusted on:
// empty series, missing timestamps, out-of-order or duplicate hours, and
// non-finite values. Errors wrap ErrInsufficientData.
func validateSlots(slots []ForecastSlot) error {
	if len(slots) == 0 {
		return fmt.Errorf("%w: empty forecast", ErrInsufficientData)
	}
	for i, s := range slots {
		if s.Timestamp.IsZero() {
			return fmt.Errorf("%w: slot %d has no timestamp", ErrInsufficientData, i)
		}
		if math.IsNaN(s.PricePerKWh) || math.IsInf(s.PricePerKWh, 0) {
			return fmt.Errorf("%w: slot %d has a non-finite price", ErrInsufficientData, i)
		}
		if math.IsNaN(s.SolarPotential) || s.SolarPotential < 0 || s.SolarPotential > 1 {
			return fmt.Errorf("%w: slot %d solar potential outside [0,1]", ErrInsufficientData, i)
		}
		if i > 0 && !slots[i-1].Timestamp.Before(s.Timestamp) {
			return fmt.Errorf("%w: slots out of order or duplicated at index %d", ErrInsufficientData, i)
		}
	}
	return nil
}
