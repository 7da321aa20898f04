package payment

import "math"

// epsilon absorbs binary float noise before any decimal rounding decision.
// 0.8*120 evaluates to 96.00000000000001; without the guard the significance
// check below would round that up to 96.01.
const epsilon = 1e-9

// SwapCostInput carries the raw measurements and terms a swap cost is
// computed from. Energy readings are in watt-hours as reported by the
// battery BMS; quota values and the rate are already expressed to two
// decimals by the backend of record.
type SwapCostInput struct {
	NewBatteryEnergyWh float64
	OldBatteryEnergyWh float64
	RatePerKwh         float64
	QuotaTotal         float64
	QuotaUsed          float64
}

// SwapCost is the result of the four-step cost computation. It is a pure
// value: recomputed from scratch whenever needed and never persisted as
// authoritative — only the facts reported to the backend of record are.
type SwapCost struct {
	// EnergyDiff is the transferred energy in kWh, floored to 2 decimals.
	EnergyDiff float64
	// QuotaDeduction is the portion of EnergyDiff covered by remaining quota.
	QuotaDeduction float64
	// ChargeableEnergy is the portion of EnergyDiff the customer pays for.
	ChargeableEnergy float64
	// GrossEnergyCost is what the full differential would cost without quota.
	GrossEnergyCost float64
	// QuotaCreditValue is the monetary value the quota deduction offset.
	QuotaCreditValue float64
	// Cost is the amount to report, rounded up to 2 decimals (never down).
	Cost float64
}

// CalculateSwapPayment computes the chargeable cost of a battery swap. It is
// total over its input domain and deterministic: identical inputs always
// yield identical outputs.
//
// The energy differential is the only point at which energy is rounded
// (floored, so the customer is never charged for more energy than measured);
// the monetary step rounds up (so the operator never reports less than the
// differential warrants). All intermediate values carry full precision.
func CalculateSwapPayment(in SwapCostInput) SwapCost {
	energyDiff := floorTo2((in.NewBatteryEnergyWh - in.OldBatteryEnergyWh) / 1000)

	availableQuota := math.Max(0, in.QuotaTotal-in.QuotaUsed)
	quotaDeduction := math.Min(availableQuota, energyDiff)

	chargeableEnergy := math.Max(0, energyDiff-quotaDeduction)

	cost := roundUpTo2(chargeableEnergy * in.RatePerKwh)
	grossEnergyCost := roundUpTo2(energyDiff * in.RatePerKwh)

	return SwapCost{
		EnergyDiff:       energyDiff,
		QuotaDeduction:   quotaDeduction,
		ChargeableEnergy: chargeableEnergy,
		GrossEnergyCost:  grossEnergyCost,
		QuotaCreditValue: grossEnergyCost - cost,
		Cost:             cost,
	}
}

// DisplayCost floors the cost to a whole currency unit. Customers cannot pay
// fractional units at the point of collection; the floor is applied only at
// that boundary and never fed back into the reported cost.
func (c SwapCost) DisplayCost() float64 {
	return math.Floor(c.Cost + epsilon)
}

// ShouldSkipPayment reports whether the payment collection step can be
// skipped entirely.
func (c SwapCost) ShouldSkipPayment() bool {
	return c.DisplayCost() <= 0
}

// HasSufficientQuota reports whether the remaining quota covered the whole
// differential (and there was a differential to cover).
func (c SwapCost) HasSufficientQuota() bool {
	return c.QuotaDeduction >= c.EnergyDiff && c.EnergyDiff > 0
}

// floorTo2 floors x to 2 decimal places.
func floorTo2(x float64) float64 {
	return math.Floor(x*100+epsilon) / 100
}

// roundUpTo2 rounds x to 2 decimal places, upward whenever x carries more
// than 2 significant decimals, normally otherwise.
func roundUpTo2(x float64) float64 {
	scaled := x * 100
	if scaled-math.Floor(scaled) > epsilon {
		return math.Ceil(scaled) / 100
	}
	return math.Round(scaled) / 100
}
