package forecast

import (
	"math"
	"testing"
	"time"

	"github.com/stromplan/stromplan/internal/engine"
	"github.com/stromplan/stromplan/internal/prices"
	"github.com/stromplan/stromplan/internal/weather"
)

func TestSolarPotential(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("loading location: %v", err)
	}
	at := func(hour int) time.Time {
		return time.Date(2025, 6, 21, hour, 0, 0, 0, berlin)
	}

	tests := []struct {
		name   string
		t      time.Time
		clouds float64
		want   float64
	}{
		{"clear noon peaks", at(12), 0, 1.0},
		{"half clouds halve noon", at(12), 50, 0.5},
		{"overcast noon", at(12), 100, 0.0},
		{"clear morning shoulder", at(8), 0, 0.2},
		{"clear evening shoulder", at(16), 0, 0.2},
		{"before sunrise clamps to zero", at(5), 0, 0.0},
		{"midnight", at(0), 0, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SolarPotential(tt.t, tt.clouds)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("SolarPotential(%v, %v) = %v, want %v", tt.t, tt.clouds, got, tt.want)
			}
			if got < 0 || got > 1 {
				t.Errorf("potential %v outside [0,1]", got)
			}
		})
	}
}

func TestSolarPotentialUsesLocalHour(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("loading location: %v", err)
	}
	// 10:00 UTC in summer is 12:00 in Berlin
	utcMorning := time.Date(2025, 6, 21, 10, 0, 0, 0, time.UTC)

	if got := SolarPotential(utcMorning.In(berlin), 0); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("Berlin noon potential = %v, want 1.0", got)
	}
	if got := SolarPotential(utcMorning, 0); math.Abs(got-0.8) > 1e-9 {
		t.Errorf("UTC 10:00 potential = %v, want 0.8", got)
	}
}

func TestAssemble(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("loading location: %v", err)
	}
	base := time.Date(2025, 6, 21, 10, 0, 0, 0, time.UTC) // 12:00 Berlin

	hp := []prices.HourlyPrice{
		{Timestamp: base.Add(time.Hour), EURPerKWh: 0.12},
		{Timestamp: base, EURPerKWh: 0.10},
		{Timestamp: base.Add(20 * time.Minute), EURPerKWh: 0.20}, // same hour as base
		{Timestamp: base.Add(3 * time.Hour), EURPerKWh: 0.30},    // no weather for this hour
	}
	hs := []weather.Hour{
		{Timestamp: base, CloudCoverPct: 0},
		{Timestamp: base.Add(time.Hour), CloudCoverPct: 100},
		{Timestamp: base.Add(2 * time.Hour), CloudCoverPct: 0}, // no price for this hour
	}

	slots := Assemble(hp, hs, berlin)

	if len(slots) != 2 {
		t.Fatalf("got %d slots, want 2 (inner join)", len(slots))
	}

	// duplicate prices within the first hour are averaged
	if math.Abs(slots[0].PricePerKWh-0.15) > 1e-9 {
		t.Errorf("slot 0 price = %v, want 0.15", slots[0].PricePerKWh)
	}
	if slots[0].Timestamp.Location() != berlin {
		t.Errorf("slot timestamps should be normalized to %v, got %v", berlin, slots[0].Timestamp.Location())
	}
	if slots[0].Timestamp.Hour() != 12 {
		t.Errorf("slot 0 local hour = %d, want 12", slots[0].Timestamp.Hour())
	}
	if math.Abs(slots[0].SolarPotential-1.0) > 1e-9 {
		t.Errorf("clear Berlin noon potential = %v, want 1.0", slots[0].SolarPotential)
	}

	// overcast next hour
	if math.Abs(slots[1].PricePerKWh-0.12) > 1e-9 {
		t.Errorf("slot 1 price = %v, want 0.12", slots[1].PricePerKWh)
	}
	if slots[1].SolarPotential != 0 {
		t.Errorf("overcast potential = %v, want 0", slots[1].SolarPotential)
	}

	if !slots[0].Timestamp.Before(slots[1].Timestamp) {
		t.Errorf("slots not chronologically sorted")
	}
}

func TestAssembleEmpty(t *testing.T) {
	if got := Assemble(nil, nil, time.UTC); len(got) != 0 {
		t.Errorf("got %d slots from empty input", len(got))
	}
}

func TestSummarize(t *testing.T) {
	base := time.Date(2025, 6, 21, 0, 0, 0, 0, time.UTC)

	s := Summarize(nil)
	if s.Slots != 0 || s.MinPrice != 0 || s.MaxPrice != 0 || s.MeanPrice != 0 {
		t.Errorf("empty summary should be zero, got %+v", s)
	}

	in := []engine.ForecastSlot{
		{Timestamp: base, PricePerKWh: 0.10},
		{Timestamp: base.Add(time.Hour), PricePerKWh: 0.30},
		{Timestamp: base.Add(2 * time.Hour), PricePerKWh: 0.20},
	}
	got := Summarize(in)
	if got.Slots != 3 {
		t.Errorf("Slots = %d, want 3", got.Slots)
	}
	if math.Abs(got.MinPrice-0.10) > 1e-9 || math.Abs(got.MaxPrice-0.30) > 1e-9 {
		t.Errorf("min/max = %v/%v, want 0.10/0.30", got.MinPrice, got.MaxPrice)
	}
	if math.Abs(got.MeanPrice-0.20) > 1e-9 {
		t.Errorf("MeanPrice = %v, want 0.20", got.MeanPrice)
	}
}
