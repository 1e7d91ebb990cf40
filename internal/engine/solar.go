package engine

import (
	"fmt"
	"math"
)

const (
	solarNoiseFloorKW      = 0.05
	applianceSolarFraction = 0.7
	evSolarFraction        = 0.5
	sellMinimumKW          = 0.1
)

// solarPhase greedily assigns the hour's solar surplus to actions in
// priority order, consuming from a single running counter seeded at
// generation minus base consumption. Claims update the shared SlotClaims;
// returned clauses explain each assignment in order.
func solarPhase(slot ForecastSlot, prefs UserPreferences, th Thresholds, solarKW float64, claims *SlotClaims, priority []Action) []string {
	if solarKW <= solarNoiseFloorKW {
		return nil
	}

	surplus := solarKW - prefs.BaseConsumptionKW
	if surplus <= 0 {
		return []string{fmt.Sprintf("solar (%.2f kW) covering base consumption", solarKW)}
	}
	claims.SurplusKW = surplus

	clauses := []string{}
	for _, action := range priority {
		if claims.claimed(action) {
			continue
		}
		switch action {
		case ActionDishwasher:
			if claims.SurplusKW > applianceSolarFraction*prefs.DishwasherPowerKW {
				clauses = append(clauses, fmt.Sprintf("dishwasher on solar surplus (%.2f kW available)", claims.SurplusKW))
				claims.claim(action)
				claims.SurplusKW = math.Max(0, claims.SurplusKW-prefs.DishwasherPowerKW)
			}
		case ActionWashingMachine:
			if claims.SurplusKW > applianceSolarFraction*prefs.WashingMachinePowerKW {
				clauses = append(clauses, fmt.Sprintf("washing machine on solar surplus (%.2f kW available)", claims.SurplusKW))
				claims.claim(action)
				claims.SurplusKW = math.Max(0, claims.SurplusKW-prefs.WashingMachinePowerKW)
			}
		case ActionChargeEV:
			if !prefs.InWorkingHours(slot.Timestamp) && claims.SurplusKW > evSolarFraction*prefs.EVChargePowerKW {
				clauses = append(clauses, fmt.Sprintf("EV charging on solar surplus (%.2f kW available)", claims.SurplusKW))
				claims.claim(action)
				claims.SurplusKW = math.Max(0, claims.SurplusKW-prefs.EVChargePowerKW)
			}
		case ActionSellToGrid:
			if claims.SurplusKW > sellMinimumKW {
				if slot.PricePerKWh >= th.SellPriceFloor {
					clauses = append(clauses, fmt.Sprintf("selling %.2f kW surplus at %.4f EUR/kWh", claims.SurplusKW, slot.PricePerKWh))
					claims.claim(action)
					claims.SoldKW = claims.SurplusKW
					claims.SurplusKW = 0
				} else {
					clauses = append(clauses, fmt.Sprintf("%.2f kW surplus unsold (price %.4f EUR/kWh below sell floor)", claims.SurplusKW, slot.PricePerKWh))
				}
			}
		}
	}
	return clauses
}
