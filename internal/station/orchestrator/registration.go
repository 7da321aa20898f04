package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/go-openapi/swag"
	"github.com/gridswap/go-station-ops/internal/station/correlate"
	"github.com/gridswap/go-station-ops/internal/station/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// RegistrationFlow drives the customer registration workflow: seven steps,
// eight when the station requires a guarantor.
type RegistrationFlow struct {
	*Flow
}

// SelectPlan captures the chosen subscription plan.
func (f *RegistrationFlow) SelectPlan(ctx context.Context, plan session.PlanSelection) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.guard(); err != nil {
		return err
	}
	if err := f.advance(1, plan); err != nil {
		return err
	}
	return f.advance(2, nil)
}

// SubmitCustomerDetails captures the customer identity fields and moves on
// to the next step (guarantor or identity verification, depending on the
// station).
func (f *RegistrationFlow) SubmitCustomerDetails(ctx context.Context, details session.CustomerDetails) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.guard(); err != nil {
		return err
	}
	if f.current.Record(1) == nil {
		return ErrStepNotReady
	}

	if err := f.advance(2, details); err != nil {
		return err
	}
	f.current = f.current.UpdateSummary(f.svc.clock, session.SummaryPatch{
		CounterpartyName: swag.String(details.FullName),
	})
	f.markDirty()
	return f.advance(3, nil)
}

// SubmitGuarantor captures the guarantor. Only part of the graph when the
// station requires one.
func (f *RegistrationFlow) SubmitGuarantor(ctx context.Context, g session.Guarantor) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.guard(); err != nil {
		return err
	}
	step := f.step(session.StepKindGuarantor)
	if step == 0 {
		return errors.Wrap(session.ErrInvalidStep, "guarantor step not part of this workflow")
	}
	if f.current.Record(2) == nil {
		return ErrStepNotReady
	}

	if err := f.advance(step, g); err != nil {
		return err
	}
	return f.advance(step+1, nil)
}

// VerifyIdentity sends the captured customer (and guarantor) details to the
// backend of record. On success the backend-assigned reference code keys all
// persistence from here on, and the session is flushed for the first time.
func (f *RegistrationFlow) VerifyIdentity(ctx context.Context) (*session.IdentityVerification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.guard(); err != nil {
		return nil, err
	}
	verifyStep := f.step(session.StepKindIdentityVerification)

	var plan session.PlanSelection
	var details session.CustomerDetails
	if err := f.current.DecodeStepData(1, &plan); err != nil {
		return nil, errors.Wrap(ErrStepNotReady, "plan not selected")
	}
	if err := f.current.DecodeStepData(2, &details); err != nil {
		return nil, errors.Wrap(ErrStepNotReady, "customer details not captured")
	}

	payload := map[string]interface{}{
		"fullName":   details.FullName,
		"phone":      details.Phone,
		"idNumber":   details.IDNumber,
		"address":    details.Address,
		"planCode":   plan.PlanCode,
		"stationId":  f.svc.cfg.StationID,
		"companyId":  f.svc.cfg.CompanyID,
		"operatorId": f.svc.actor.ID,
	}
	if guarantorStep := f.step(session.StepKindGuarantor); guarantorStep != 0 {
		var g session.Guarantor
		if err := f.current.DecodeStepData(guarantorStep, &g); err != nil {
			return nil, errors.Wrap(ErrStepNotReady, "guarantor not captured")
		}
		payload["guarantor"] = g
	}

	out, err := f.svc.correlator.Request(ctx, correlate.Request{
		Subject:   f.svc.subject("registration", "identify"),
		Operation: "registration_identify",
		Payload:   payload,
	})
	if err != nil {
		return nil, errors.Wrap(err, "verify identity")
	}
	if out.TimedOut {
		f.fail(verifyStep, "identity verification timed out")
		return nil, ErrRequestTimedOut
	}
	if !out.Success {
		f.fail(verifyStep, out.Message)
		return nil, &RejectionError{Message: out.Message, Signals: out.Signals}
	}

	var ident session.IdentityVerification
	if err := json.Unmarshal(out.Data, &ident); err != nil {
		return nil, errors.Wrap(err, "decode verification response")
	}
	if !ident.Verified {
		f.fail(verifyStep, "identity not verified")
		return nil, &RejectionError{Message: "identity not verified", Signals: out.Signals}
	}

	if err := f.advance(verifyStep, ident); err != nil {
		return nil, err
	}
	f.current = f.current.UpdateSummary(f.svc.clock, session.SummaryPatch{
		ReferenceCode: swag.String(ident.ReferenceCode),
	})
	f.referenceID = ident.ReferenceCode
	if err := f.advance(verifyStep+1, nil); err != nil {
		return nil, err
	}

	// First persisted write: a reference code exists now.
	if err := f.saver.FlushNow(ctx); err != nil {
		return nil, errors.Wrap(err, "persist verified session")
	}

	log.Info().Str("referenceCode", ident.ReferenceCode).Str("customer", details.FullName).
		Msg("Identity verified")
	return &ident, nil
}

// AssignBattery captures the battery handed to the new customer.
func (f *RegistrationFlow) AssignBattery(ctx context.Context, reading BatteryReading) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.guard(); err != nil {
		return err
	}
	verifyStep := f.step(session.StepKindIdentityVerification)
	assignStep := f.step(session.StepKindBatteryAssignment)
	if f.current.Record(verifyStep) == nil {
		return ErrStepNotReady
	}

	if err := f.advance(assignStep, session.BatteryAssignment{BatteryID: reading.BatteryID, EnergyWh: reading.EnergyWh}); err != nil {
		return err
	}
	return f.advance(assignStep+1, nil)
}

// CollectPayment records collection of the first monthly fee. The session is
// flushed at this boundary before the flow moves on.
func (f *RegistrationFlow) CollectPayment(ctx context.Context, input PaymentInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.guard(); err != nil {
		return err
	}
	payStep := f.step(session.StepKindPaymentCollection)
	assignStep := f.step(session.StepKindBatteryAssignment)
	if f.current.Record(assignStep) == nil {
		return ErrStepNotReady
	}

	var plan session.PlanSelection
	if err := f.current.DecodeStepData(1, &plan); err != nil {
		return errors.Wrap(ErrStepNotReady, "plan not selected")
	}

	if entry := f.current.Timeline[payStep]; entry != nil && entry.Status == session.StepStatusFailed {
		f.current = f.current.CountRetry(f.svc.clock)
	}
	if err := f.advance(payStep, session.PaymentCollection{
		Amount:    plan.MonthlyFee,
		Method:    input.Method,
		Reference: input.Reference,
	}); err != nil {
		return err
	}
	f.current = f.current.UpdateSummary(f.svc.clock, session.SummaryPatch{
		TotalAmount: swag.Float64(plan.MonthlyFee),
	})
	f.markDirty()
	if err := f.saver.FlushNow(ctx); err != nil {
		return errors.Wrap(err, "persist collected payment")
	}
	return f.advance(payStep+1, nil)
}

// ReportCompletion reports the finished registration to the backend of
// record, idempotently keyed by the reference code. A timeout is surfaced as
// ErrRequestTimedOut because the report may have been applied server-side.
func (f *RegistrationFlow) ReportCompletion(ctx context.Context) (*SettlementResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.guard(); err != nil {
		return nil, err
	}
	reportStep := f.step(session.StepKindCompletionReport)
	payStep := f.step(session.StepKindPaymentCollection)
	assignStep := f.step(session.StepKindBatteryAssignment)

	var pay session.PaymentCollection
	if err := f.current.DecodeStepData(payStep, &pay); err != nil {
		return nil, errors.Wrap(ErrStepNotReady, "payment not collected")
	}
	var battery session.BatteryAssignment
	if err := f.current.DecodeStepData(assignStep, &battery); err != nil {
		return nil, errors.Wrap(ErrStepNotReady, "battery not assigned")
	}

	if entry := f.current.Timeline[reportStep]; entry != nil && entry.Status == session.StepStatusFailed {
		f.current = f.current.CountRetry(f.svc.clock)
	}
	if err := f.advance(reportStep, nil); err != nil {
		return nil, err
	}
	if err := f.saver.FlushNow(ctx); err != nil {
		return nil, errors.Wrap(err, "persist before completion report")
	}

	out, err := f.svc.correlator.Request(ctx, correlate.Request{
		Subject:        f.svc.subject("registration", "complete"),
		Operation:      "registration_complete",
		IdempotencyKey: f.referenceID + ":completion",
		Payload: map[string]interface{}{
			"referenceCode":    f.referenceID,
			"batteryId":        battery.BatteryID,
			"amount":           pay.Amount,
			"method":           pay.Method,
			"paymentReference": pay.Reference,
			"stationId":        f.svc.cfg.StationID,
			"operatorId":       f.svc.actor.ID,
		},
	})
	if err != nil {
		f.fail(reportStep, "completion publish failed")
		return nil, errors.Wrap(err, "publish completion report")
	}
	if out.TimedOut {
		f.fail(reportStep, "completion report timed out")
		if flushErr := f.saver.FlushNow(ctx); flushErr != nil {
			log.Warn().Err(flushErr).Str("referenceCode", f.referenceID).Msg("Failed to persist timed-out completion state")
		}
		return nil, ErrRequestTimedOut
	}
	if !out.Success {
		f.fail(reportStep, out.Message)
		if flushErr := f.saver.FlushNow(ctx); flushErr != nil {
			log.Warn().Err(flushErr).Str("referenceCode", f.referenceID).Msg("Failed to persist rejected completion state")
		}
		return nil, &RejectionError{Message: out.Message, Signals: out.Signals}
	}

	if err := f.advance(reportStep, session.CompletionReport{
		ReferenceCode: f.referenceID,
		Idempotent:    out.IsIdempotent,
	}); err != nil {
		return nil, err
	}
	if err := f.advance(reportStep+1, nil); err != nil {
		return nil, err
	}
	if err := f.saver.FlushNow(ctx); err != nil {
		return nil, errors.Wrap(err, "persist reported session")
	}

	log.Info().Str("referenceCode", f.referenceID).Bool("idempotent", out.IsIdempotent).
		Msg("Registration reported complete")
	return &SettlementResult{AmountReported: pay.Amount, Idempotent: out.IsIdempotent}, nil
}

// FinishReview confirms the final review and freezes the session.
func (f *RegistrationFlow) FinishReview(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.guard(); err != nil {
		return err
	}
	reportStep := f.step(session.StepKindCompletionReport)
	if f.current.Record(reportStep) == nil {
		return ErrStepNotReady
	}

	reviewStep := f.step(session.StepKindReview)
	if err := f.advance(reviewStep, session.Review{Confirmed: true}); err != nil {
		return err
	}
	f.current = f.current.Complete(f.svc.clock)
	f.markDirty()
	if err := f.saver.FlushNow(ctx); err != nil {
		return errors.Wrap(err, "persist completed session")
	}
	return nil
}
