package engine

import (
	"fmt"
	"time"
)

// ForecastSlot represents one hour of forecasted price and solar conditions.
// Slots are produced by the forecast assembler, hour-aligned and ordered.
type ForecastSlot struct {
	Timestamp      time.Time `json:"timestamp"`
	PricePerKWh    float64   `json:"price_per_kwh"`   // EUR/kWh, may be negative
	SolarPotential float64   `json:"solar_potential"` // 0-1
}

// UserPreferences describes the household the allocation is computed for.
type UserPreferences struct {
	WorkingHoursStart     int     `json:"working_hours_start"` // hour of day, 0-23
	WorkingHoursEnd       int     `json:"working_hours_end"`   // hour of day, 0-23
	EVChargePowerKW       float64 `json:"ev_charge_power_kw"`
	DishwasherPowerKW     float64 `json:"dishwasher_power_kw"`
	WashingMachinePowerKW float64 `json:"washing_machine_power_kw"`
	BaseConsumptionKW     float64 `json:"base_consumption_kw"`
	SolarPeakCapacityKW   float64 `json:"solar_peak_capacity_kw"`
}

// Validate reports whether the preferences form a usable configuration.
// Errors wrap ErrInvalidPreferences.
func (p UserPreferences) Validate() error {
	if p.WorkingHoursStart < 0 || p.WorkingHoursStart > 23 ||
		p.WorkingHoursEnd < 0 || p.WorkingHoursEnd > 23 {
		return fmt.Errorf("%w: working hours must be within 0-23", ErrInvalidPreferences)
	}
	if p.WorkingHoursStart >= p.WorkingHoursEnd {
		return fmt.Errorf("%w: working hours start (%d) must be before end (%d)",
			ErrInvalidPreferences, p.WorkingHoursStart, p.WorkingHoursEnd)
	}
	if p.EVChargePowerKW <= 0 || p.DishwasherPowerKW <= 0 || p.WashingMachinePowerKW <= 0 {
		return fmt.Errorf("%w: EV and appliance powers must be positive", ErrInvalidPreferences)
	}
	if p.BaseConsumptionKW < 0 {
		return fmt.Errorf("%w: base consumption must not be negative", ErrInvalidPreferences)
	}
	if p.SolarPeakCapacityKW < 0 {
		return fmt.Errorf("%w: solar peak capacity must not be negative", ErrInvalidPreferences)
	}
	return nil
}

// InWorkingHours reports whether t falls inside the daily working-hours
// window, using the hour of day in t's own location.
func (p UserPreferences) InWorkingHours(t time.Time) bool {
	h := t.Hour()
	return h >= p.WorkingHoursStart && h < p.WorkingHoursEnd
}

// Thresholds holds the horizon-wide decision prices. Computed once per run
// and passed by value into every per-slot call; never recomputed mid-run.
type Thresholds struct {
	EVCheapPrice        float64 `json:"ev_cheap_price"`
	ApplianceCheapPrice float64 `json:"appliance_cheap_price"`
	SellPriceFloor      float64 `json:"sell_price_floor"`
}

// Action identifies one of the recommendable household actions.
type Action string

const (
	ActionDishwasher     Action = "dishwasher"
	ActionWashingMachine Action = "washing_machine"
	ActionChargeEV       Action = "charge_ev"
	ActionSellToGrid     Action = "sell_to_grid"
)

// DefaultSolarPriority is the order in which solar surplus is offered to
// actions: appliances first, then the EV, selling whatever remains.
var DefaultSolarPriority = []Action{
	ActionDishwasher,
	ActionWashingMachine,
	ActionChargeEV,
	ActionSellToGrid,
}

// SlotClaims is the per-hour scratch state: which actions the hour's power
// has already been committed to, the solar surplus still unassigned, and the
// amount sold if the sell action claimed. A fresh value is created for each
// slot and discarded once the slot's result is produced.
type SlotClaims struct {
	Dishwasher     bool
	WashingMachine bool
	ChargeEV       bool
	SellToGrid     bool
	SurplusKW      float64
	SoldKW         float64
}

func (c *SlotClaims) claimed(a Action) bool {
	switch a {
	case ActionDishwasher:
		return c.Dishwasher
	case ActionWashingMachine:
		return c.WashingMachine
	case ActionChargeEV:
		return c.ChargeEV
	case ActionSellToGrid:
		return c.SellToGrid
	}
	return false
}

func (c *SlotClaims) claim(a Action) {
	switch a {
	case ActionDishwasher:
		c.Dishwasher = true
	case ActionWashingMachine:
		c.WashingMachine = true
	case ActionChargeEV:
		c.ChargeEV = true
	case ActionSellToGrid:
		c.SellToGrid = true
	}
}

// ResultForHour finds the result whose calendar hour contains t, compared
// in the result's own location. Each input timestamp yields exactly one
// result, so the lookup is unambiguous.
func ResultForHour(results []AllocationResult, t time.Time) (AllocationResult, bool) {
	for _, r := range results {
		lt := t.In(r.Timestamp.Location())
		if lt.Year() == r.Timestamp.Year() && lt.Month() == r.Timestamp.Month() &&
			lt.Day() == r.Timestamp.Day() && lt.Hour() == r.Timestamp.Hour() {
			return r, true
		}
	}
	return AllocationResult{}, false
}

// AllocationResult is the engine's verdict for one hour.
type AllocationResult struct {
	Timestamp         time.Time `json:"timestamp"`
	PricePerKWh       float64   `json:"price_per_kwh"`
	EstimatedSolarKW  float64   `json:"estimated_solar_kw"`
	NetGridDemandKW   float64   `json:"net_grid_demand_kw"`
	ChargeEV          bool      `json:"charge_ev"`
	RunDishwasher     bool      `json:"run_dishwasher"`
	RunWashingMachine bool      `json:"run_washing_machine"`
	SellToGrid        bool      `json:"sell_to_grid"`
	SurplusSoldKW     float64   `json:"surplus_sold_kw"`
	Reason            string    `json:"reason"`
}
