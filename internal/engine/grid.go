package engine

import "fmt"

// gridPhase claims actions the solar phase left unassigned whenever the
// hour's grid price clears the relevant cheap-price threshold. The three
// checks are independent; several appliances may share one cheap hour.
// Selling is never claimed from grid power.
func gridPhase(slot ForecastSlot, prefs UserPreferences, th Thresholds, claims *SlotClaims) []string {
	clauses := []string{}

	if !claims.ChargeEV && !prefs.InWorkingHours(slot.Timestamp) && slot.PricePerKWh <= th.EVCheapPrice {
		claims.ChargeEV = true
		clauses = append(clauses, fmt.Sprintf("EV charging at low grid price (%.4f EUR/kWh)", slot.PricePerKWh))
	}
	if !claims.WashingMachine && slot.PricePerKWh <= th.ApplianceCheapPrice {
		claims.WashingMachine = true
		clauses = append(clauses, fmt.Sprintf("washing machine at low grid price (%.4f EUR/kWh)", slot.PricePerKWh))
	}
	if !claims.Dishwasher && slot.PricePerKWh <= th.ApplianceCheapPrice {
		claims.Dishwasher = true
		clauses = append(clauses, fmt.Sprintf("dishwasher at low grid price (%.4f EUR/kWh)", slot.PricePerKWh))
	}

	return clauses
}
