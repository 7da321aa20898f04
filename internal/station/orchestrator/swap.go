package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/go-openapi/swag"
	"github.com/gridswap/go-station-ops/internal/station/correlate"
	"github.com/gridswap/go-station-ops/internal/station/payment"
	"github.com/gridswap/go-station-ops/internal/station/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// SwapFlow drives the six-step asset-swap workflow.
type SwapFlow struct {
	*Flow
}

// swapFacts are the captured measurements a cost is derived from. The cost
// itself is recomputed from these facts every time it is needed.
type swapFacts struct {
	ident session.SwapIdentification
	ret   session.BatteryReturn
	issue session.BatteryIssue
	cost  payment.SwapCost
}

// IdentifySubscription looks the subscription up with the backend of record.
// On success the backend-assigned order reference keys all persistence from
// here on, and the session is flushed for the first time.
func (f *SwapFlow) IdentifySubscription(ctx context.Context, subscriptionCode string) (*session.SwapIdentification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.guard(); err != nil {
		return nil, err
	}

	out, err := f.svc.correlator.Request(ctx, correlate.Request{
		Subject:   f.svc.subject("swap", "identify"),
		Operation: "swap_identify",
		Payload: map[string]interface{}{
			"subscriptionCode": subscriptionCode,
			"stationId":        f.svc.cfg.StationID,
			"operatorId":       f.svc.actor.ID,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "identify subscription")
	}
	if out.TimedOut {
		f.fail(1, "identification timed out")
		return nil, ErrRequestTimedOut
	}
	if !out.Success {
		f.fail(1, out.Message)
		return nil, &RejectionError{Message: out.Message, Signals: out.Signals}
	}

	var ident session.SwapIdentification
	if err := json.Unmarshal(out.Data, &ident); err != nil {
		return nil, errors.Wrap(err, "decode identification response")
	}
	if ident.SubscriptionCode == "" {
		ident.SubscriptionCode = subscriptionCode
	}

	if err := f.advance(1, ident); err != nil {
		return nil, err
	}
	f.current = f.current.UpdateSummary(f.svc.clock, session.SummaryPatch{
		CounterpartyName: swag.String(ident.SubscriberName),
		ReferenceCode:    swag.String(ident.OrderRef),
	})
	f.referenceID = ident.OrderRef
	if err := f.advance(2, nil); err != nil {
		return nil, err
	}

	// First persisted write: an order reference exists now.
	if err := f.saver.FlushNow(ctx); err != nil {
		return nil, errors.Wrap(err, "persist identified session")
	}

	log.Info().Str("orderRef", ident.OrderRef).Str("subscriber", ident.SubscriberName).
		Msg("Subscription identified")
	return &ident, nil
}

// ReturnOldBattery captures the battery being handed in.
func (f *SwapFlow) ReturnOldBattery(ctx context.Context, reading BatteryReading) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.guard(); err != nil {
		return err
	}
	if f.current.Record(1) == nil {
		return ErrStepNotReady
	}

	if err := f.advance(2, session.BatteryReturn{BatteryID: reading.BatteryID, EnergyWh: reading.EnergyWh}); err != nil {
		return err
	}
	return f.advance(3, nil)
}

// IssueNewBattery captures the battery being handed out.
func (f *SwapFlow) IssueNewBattery(ctx context.Context, reading BatteryReading) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.guard(); err != nil {
		return err
	}
	if f.current.Record(2) == nil {
		return ErrStepNotReady
	}

	if err := f.advance(3, session.BatteryIssue{BatteryID: reading.BatteryID, EnergyWh: reading.EnergyWh}); err != nil {
		return err
	}
	return f.advance(4, nil)
}

// ReviewCost computes the chargeable cost from the captured measurements and
// snapshots it for the review screen. The snapshot is informational; the
// settlement recomputes from scratch.
func (f *SwapFlow) ReviewCost(ctx context.Context) (*payment.SwapCost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.guard(); err != nil {
		return nil, err
	}
	facts, err := f.facts()
	if err != nil {
		return nil, err
	}

	review := session.CostReview{
		EnergyDiff:       facts.cost.EnergyDiff,
		QuotaDeduction:   facts.cost.QuotaDeduction,
		ChargeableEnergy: facts.cost.ChargeableEnergy,
		Cost:             facts.cost.Cost,
		DisplayCost:      facts.cost.DisplayCost(),
	}
	if err := f.advance(4, review); err != nil {
		return nil, err
	}
	f.current = f.current.UpdateSummary(f.svc.clock, session.SummaryPatch{
		TotalAmount: swag.Float64(facts.cost.DisplayCost()),
	})
	f.markDirty()

	cost := facts.cost
	return &cost, nil
}

// ConfirmSettlement reports payment and completion to the backend of record.
// The session is flushed before the call (point of no return) and after it;
// a timeout is surfaced as ErrRequestTimedOut because the settlement may
// have been applied server-side.
func (f *SwapFlow) ConfirmSettlement(ctx context.Context, input PaymentInput) (*SettlementResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.guard(); err != nil {
		return nil, err
	}
	facts, err := f.facts()
	if err != nil {
		return nil, err
	}

	const payStep = 5
	if entry := f.current.Timeline[payStep]; entry != nil && entry.Status == session.StepStatusFailed {
		f.current = f.current.CountRetry(f.svc.clock)
	}
	if err := f.advance(payStep, nil); err != nil {
		return nil, err
	}
	if err := f.saver.FlushNow(ctx); err != nil {
		return nil, errors.Wrap(err, "persist before settlement")
	}

	amount := facts.cost.DisplayCost()
	out, err := f.svc.correlator.Request(ctx, correlate.Request{
		Subject:        f.svc.subject("swap", "complete"),
		Operation:      "swap_settlement",
		IdempotencyKey: f.referenceID + ":settlement",
		Payload: map[string]interface{}{
			"orderRef":         f.referenceID,
			"amount":           amount,
			"method":           input.Method,
			"paymentReference": input.Reference,
			"oldBatteryId":     facts.ret.BatteryID,
			"newBatteryId":     facts.issue.BatteryID,
			"energyDiffKwh":    facts.cost.EnergyDiff,
			"quotaDeduction":   facts.cost.QuotaDeduction,
			"stationId":        f.svc.cfg.StationID,
			"operatorId":       f.svc.actor.ID,
		},
	})
	if err != nil {
		f.fail(payStep, "settlement publish failed")
		return nil, errors.Wrap(err, "publish settlement")
	}
	if out.TimedOut {
		f.fail(payStep, "settlement timed out")
		if flushErr := f.saver.FlushNow(ctx); flushErr != nil {
			log.Warn().Err(flushErr).Str("orderRef", f.referenceID).Msg("Failed to persist timed-out settlement state")
		}
		return nil, ErrRequestTimedOut
	}
	if !out.Success {
		f.fail(payStep, out.Message)
		if flushErr := f.saver.FlushNow(ctx); flushErr != nil {
			log.Warn().Err(flushErr).Str("orderRef", f.referenceID).Msg("Failed to persist rejected settlement state")
		}
		return nil, &RejectionError{Message: out.Message, Signals: out.Signals}
	}

	settle := session.Settlement{
		Amount:     amount,
		Method:     input.Method,
		Reference:  input.Reference,
		Idempotent: out.IsIdempotent,
	}
	if err := f.advance(payStep, settle); err != nil {
		return nil, err
	}
	if err := f.advance(6, session.SwapDone{Confirmed: true}); err != nil {
		return nil, err
	}
	f.current = f.current.Complete(f.svc.clock)
	f.markDirty()
	if err := f.saver.FlushNow(ctx); err != nil {
		return nil, errors.Wrap(err, "persist completed session")
	}

	log.Info().Str("orderRef", f.referenceID).Float64("amount", amount).
		Bool("idempotent", out.IsIdempotent).Msg("Swap settled")
	return &SettlementResult{AmountReported: amount, Idempotent: out.IsIdempotent}, nil
}

// facts decodes the captured step data and recomputes the cost. Callers
// hold f.mu.
func (f *SwapFlow) facts() (*swapFacts, error) {
	var facts swapFacts
	if err := f.current.DecodeStepData(1, &facts.ident); err != nil {
		return nil, errors.Wrap(ErrStepNotReady, "subscription not identified")
	}
	if err := f.current.DecodeStepData(2, &facts.ret); err != nil {
		return nil, errors.Wrap(ErrStepNotReady, "old battery not captured")
	}
	if err := f.current.DecodeStepData(3, &facts.issue); err != nil {
		return nil, errors.Wrap(ErrStepNotReady, "new battery not captured")
	}

	facts.cost = payment.CalculateSwapPayment(payment.SwapCostInput{
		NewBatteryEnergyWh: facts.issue.EnergyWh,
		OldBatteryEnergyWh: facts.ret.EnergyWh,
		RatePerKwh:         facts.ident.RatePerKwh,
		QuotaTotal:         facts.ident.QuotaTotal,
		QuotaUsed:          facts.ident.QuotaUsed,
	})
	return &facts, nil
}
