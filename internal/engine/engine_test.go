package engine

import (
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestAllocateFlatCheapDay(t *testing.T) {
	// 24 identical slots at 0.05 EUR/kWh with no solar: all thresholds
	// collapse to 0.05, so every hour is a cheap hour
	prefs := testPrefs()
	base := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	slots := make([]ForecastSlot, 24)
	for i := range slots {
		slots[i] = ForecastSlot{
			Timestamp:   base.Add(time.Duration(i) * time.Hour),
			PricePerKWh: 0.05,
		}
	}

	results, err := Allocate(slots, prefs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 24 {
		t.Fatalf("got %d results, want 24", len(results))
	}

	th, err := ComputeThresholds(slots)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEq(th.EVCheapPrice, 0.05) || !almostEq(th.ApplianceCheapPrice, 0.05) {
		t.Fatalf("flat horizon thresholds = %+v, want both cheap prices 0.05", th)
	}

	for i, r := range results {
		hour := base.Add(time.Duration(i) * time.Hour).Hour()
		wantEV := hour < prefs.WorkingHoursStart || hour >= prefs.WorkingHoursEnd
		if r.ChargeEV != wantEV {
			t.Errorf("hour %d: ChargeEV = %v, want %v", hour, r.ChargeEV, wantEV)
		}
		if !r.RunDishwasher || !r.RunWashingMachine {
			t.Errorf("hour %d: both appliances should claim at the flat cheap price, got %+v", hour, r)
		}
		if r.SellToGrid {
			t.Errorf("hour %d: nothing to sell without solar", hour)
		}
	}
}

func TestAllocateSolarCascade(t *testing.T) {
	// the sunny expensive hour runs both appliances and sells the rest;
	// its price sits above the cheap thresholds so no grid claims pile on
	prefs := testPrefs()
	base := time.Date(2025, 6, 21, 17, 0, 0, 0, time.UTC)
	slots := []ForecastSlot{
		{Timestamp: base, PricePerKWh: 0.10},
		{Timestamp: base.Add(1 * time.Hour), PricePerKWh: 0.12},
		{Timestamp: base.Add(2 * time.Hour), PricePerKWh: 0.14},
		{Timestamp: base.Add(3 * time.Hour), PricePerKWh: 0.30, SolarPotential: 1.0}, // 20:00
	}

	results, err := Allocate(slots, prefs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sunny := results[3]
	if !almostEq(sunny.EstimatedSolarKW, 5.0) {
		t.Errorf("EstimatedSolarKW = %v, want 5.0", sunny.EstimatedSolarKW)
	}
	if !almostEq(sunny.NetGridDemandKW, 0.3-5.0) {
		t.Errorf("NetGridDemandKW = %v, want %v", sunny.NetGridDemandKW, 0.3-5.0)
	}
	if !sunny.RunDishwasher || !sunny.RunWashingMachine {
		t.Errorf("both appliances should claim the 4.7 kW surplus, got %+v", sunny)
	}
	if sunny.ChargeEV {
		t.Errorf("EV must not claim: 0.2 kW residual is far below its fraction and 0.30 is not a cheap price")
	}
	if !sunny.SellToGrid || !almostEq(sunny.SurplusSoldKW, 0.2) {
		t.Errorf("0.2 kW residual should sell above the floor, got %+v", sunny)
	}
	if strings.Contains(sunny.Reason, "EV") {
		t.Errorf("reason must not mention the EV, got %q", sunny.Reason)
	}
	if !strings.Contains(sunny.Reason, "dishwasher") || !strings.Contains(sunny.Reason, "washing machine") {
		t.Errorf("reason should cite both appliance claims, got %q", sunny.Reason)
	}
}

func TestAllocateEmptyForecast(t *testing.T) {
	for _, slots := range [][]ForecastSlot{nil, {}} {
		results, err := Allocate(slots, testPrefs())
		if !errors.Is(err, ErrInsufficientData) {
			t.Errorf("error = %v, want ErrInsufficientData", err)
		}
		if results != nil {
			t.Errorf("no results expected on failure, got %d", len(results))
		}
	}
}

func TestAllocateInvalidPreferences(t *testing.T) {
	base := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	slots := []ForecastSlot{{Timestamp: base, PricePerKWh: 0.10}}

	tests := []struct {
		name   string
		mutate func(*UserPreferences)
	}{
		{"working hours inverted", func(p *UserPreferences) { p.WorkingHoursStart = 8; p.WorkingHoursEnd = 6 }},
		{"working hours equal", func(p *UserPreferences) { p.WorkingHoursStart = 9; p.WorkingHoursEnd = 9 }},
		{"hour out of range", func(p *UserPreferences) { p.WorkingHoursEnd = 24 }},
		{"zero EV power", func(p *UserPreferences) { p.EVChargePowerKW = 0 }},
		{"negative dishwasher power", func(p *UserPreferences) { p.DishwasherPowerKW = -2 }},
		{"zero washing machine power", func(p *UserPreferences) { p.WashingMachinePowerKW = 0 }},
		{"negative base consumption", func(p *UserPreferences) { p.BaseConsumptionKW = -0.1 }},
		{"negative solar capacity", func(p *UserPreferences) { p.SolarPeakCapacityKW = -5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefs := testPrefs()
			tt.mutate(&prefs)
			results, err := Allocate(slots, prefs)
			if !errors.Is(err, ErrInvalidPreferences) {
				t.Errorf("error = %v, want ErrInvalidPreferences", err)
			}
			if results != nil {
				t.Errorf("no results expected on failure")
			}
		})
	}
}

func TestAllocateRejectsMalformedForecast(t *testing.T) {
	base := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		slots []ForecastSlot
	}{
		{
			name:  "zero timestamp",
			slots: []ForecastSlot{{PricePerKWh: 0.10}},
		},
		{
			name: "duplicate timestamps",
			slots: []ForecastSlot{
				{Timestamp: base, PricePerKWh: 0.10},
				{Timestamp: base, PricePerKWh: 0.12},
			},
		},
		{
			name: "out of order",
			slots: []ForecastSlot{
				{Timestamp: base.Add(time.Hour), PricePerKWh: 0.10},
				{Timestamp: base, PricePerKWh: 0.12},
			},
		},
		{
			name:  "NaN price",
			slots: []ForecastSlot{{Timestamp: base, PricePerKWh: math.NaN()}},
		},
		{
			name:  "solar potential above one",
			slots: []ForecastSlot{{Timestamp: base, PricePerKWh: 0.10, SolarPotential: 1.5}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Allocate(tt.slots, testPrefs())
			if !errors.Is(err, ErrInsufficientData) {
				t.Errorf("error = %v, want ErrInsufficientData", err)
			}
		})
	}
}

func TestAllocateOrderingAndReasons(t *testing.T) {
	prefs := testPrefs()
	slots := variedHorizon(72)

	results, err := Allocate(slots, prefs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != len(slots) {
		t.Fatalf("got %d results, want %d", len(results), len(slots))
	}
	for i := range results {
		if !results[i].Timestamp.Equal(slots[i].Timestamp) {
			t.Errorf("result %d timestamp %v, want %v", i, results[i].Timestamp, slots[i].Timestamp)
		}
		if results[i].Reason == "" {
			t.Errorf("result %d has an empty reason", i)
		}
	}
}

func TestAllocateDeterministic(t *testing.T) {
	prefs := testPrefs()
	slots := variedHorizon(72)

	first, err := Allocate(slots, prefs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Allocate(slots, prefs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated runs over equal input differ")
	}
}

func TestAllocateParallelMatchesSerial(t *testing.T) {
	prefs := testPrefs()
	slots := variedHorizon(96)

	serial, err := New().Allocate(slots, prefs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, workers := range []int{2, 4, 32, 200} {
		parallel := &Engine{Workers: workers}
		got, err := parallel.Allocate(slots, prefs)
		if err != nil {
			t.Fatalf("workers=%d: unexpected error: %v", workers, err)
		}
		if !reflect.DeepEqual(serial, got) {
			t.Errorf("workers=%d: parallel results differ from serial", workers)
		}
	}
}

func TestAllocateNoActionHour(t *testing.T) {
	// expensive, dark hour inside working hours: nothing to recommend
	prefs := testPrefs()
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	slots := []ForecastSlot{
		{Timestamp: base, PricePerKWh: 0.10},
		{Timestamp: base.Add(1 * time.Hour), PricePerKWh: 0.12},
		{Timestamp: base.Add(2 * time.Hour), PricePerKWh: 0.14},
		{Timestamp: base.Add(3 * time.Hour), PricePerKWh: 0.40},
	}

	results, err := Allocate(slots, prefs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	last := results[3]
	if last.ChargeEV || last.RunDishwasher || last.RunWashingMachine || last.SellToGrid {
		t.Fatalf("expected no claims for the expensive dark hour, got %+v", last)
	}
	if last.Reason != "no action recommended" {
		t.Errorf("Reason = %q, want the fixed no-action clause", last.Reason)
	}
}

// variedHorizon builds a deterministic multi-day forecast covering cheap and
// expensive hours, dark and sunny ones.
func variedHorizon(n int) []ForecastSlot {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	slots := make([]ForecastSlot, n)
	for i := range slots {
		hour := i % 24
		potential := 0.0
		if hour >= 7 && hour <= 17 {
			potential = 1.0 - math.Abs(float64(hour)-12.0)/10.0
		}
		slots[i] = ForecastSlot{
			Timestamp:      base.Add(time.Duration(i) * time.Hour),
			PricePerKWh:    0.04 + 0.013*float64(i%19) - 0.02*float64(i%3),
			SolarPotential: potential,
		}
	}
	return slots
}

func testPrefs() UserPreferences {
	return UserPreferences{
		WorkingHoursStart:     8,
		WorkingHoursEnd:       18,
		EVChargePowerKW:       11.0,
		DishwasherPowerKW:     2.0,
		WashingMachinePowerKW: 2.5,
		BaseConsumptionKW:     0.3,
		SolarPeakCapacityKW:   5.0,
	}
}

func almostEq(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
