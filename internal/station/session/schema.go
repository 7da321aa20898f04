package session

import (
	"github.com/pkg/errors"
)

// ErrStepPayloadMismatch is returned when captured step data does not match
// the variant the workflow schema expects at that step.
var ErrStepPayloadMismatch = errors.New("step payload does not match workflow schema")

// StepKind tags the payload variant a step captures.
type StepKind string

const (
	// Registration workflow.
	StepKindPlanSelection        StepKind = "plan_selection"
	StepKindCustomerDetails      StepKind = "customer_details"
	StepKindGuarantor            StepKind = "guarantor"
	StepKindIdentityVerification StepKind = "identity_verification"
	StepKindBatteryAssignment    StepKind = "battery_assignment"
	StepKindPaymentCollection    StepKind = "payment_collection"
	StepKindCompletionReport     StepKind = "completion_report"
	StepKindReview               StepKind = "review"

	// Asset-swap workflow.
	StepKindSwapIdentification StepKind = "swap_identification"
	StepKindBatteryReturn      StepKind = "battery_return"
	StepKindBatteryIssue       StepKind = "battery_issue"
	StepKindCostReview         StepKind = "cost_review"
	StepKindSettlement         StepKind = "settlement"
	StepKindSwapDone           StepKind = "swap_done"
)

// StepPayload is implemented by every step data variant.
type StepPayload interface {
	StepKind() StepKind
}

// PlanSelection 注册第一步：选择订阅套餐
type PlanSelection struct {
	PlanCode     string  `json:"planCode"`
	PlanName     string  `json:"planName"`
	MonthlyQuota float64 `json:"monthlyQuota"`
	MonthlyFee   float64 `json:"monthlyFee"`
}

func (PlanSelection) StepKind() StepKind { return StepKindPlanSelection }

type CustomerDetails struct {
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
	IDNumber string `json:"idNumber"`
	Address  string `json:"address"`
}

func (CustomerDetails) StepKind() StepKind { return StepKindCustomerDetails }

type Guarantor struct {
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
	IDNumber string `json:"idNumber"`
	Relation string `json:"relation"`
}

func (Guarantor) StepKind() StepKind { return StepKindGuarantor }

// IdentityVerification captures the backend's answer to the identification
// request, including the backend-assigned order reference that keys all
// subsequent persistence.
type IdentityVerification struct {
	CustomerRef   string `json:"customerRef"`
	ReferenceCode string `json:"referenceCode"`
	Verified      bool   `json:"verified"`
}

func (IdentityVerification) StepKind() StepKind { return StepKindIdentityVerification }

type BatteryAssignment struct {
	BatteryID string  `json:"batteryId"`
	EnergyWh  float64 `json:"energyWh"`
}

func (BatteryAssignment) StepKind() StepKind { return StepKindBatteryAssignment }

type PaymentCollection struct {
	Amount    float64 `json:"amount"`
	Method    string  `json:"method"`
	Reference string  `json:"reference"`
}

func (PaymentCollection) StepKind() StepKind { return StepKindPaymentCollection }

type CompletionReport struct {
	ReferenceCode string `json:"referenceCode"`
	Idempotent    bool   `json:"idempotent"`
}

func (CompletionReport) StepKind() StepKind { return StepKindCompletionReport }

type Review struct {
	Confirmed bool `json:"confirmed"`
}

func (Review) StepKind() StepKind { return StepKindReview }

// SwapIdentification captures the subscription lookup result: quota, usage
// and rate drive the cost computation, OrderRef keys persistence.
type SwapIdentification struct {
	SubscriptionCode string  `json:"subscriptionCode"`
	SubscriberName   string  `json:"subscriberName"`
	QuotaTotal       float64 `json:"quotaTotal"`
	QuotaUsed        float64 `json:"quotaUsed"`
	RatePerKwh       float64 `json:"ratePerKwh"`
	OrderRef         string  `json:"orderRef"`
}

func (SwapIdentification) StepKind() StepKind { return StepKindSwapIdentification }

type BatteryReturn struct {
	BatteryID string  `json:"batteryId"`
	EnergyWh  float64 `json:"energyWh"`
}

func (BatteryReturn) StepKind() StepKind { return StepKindBatteryReturn }

type BatteryIssue struct {
	BatteryID string  `json:"batteryId"`
	EnergyWh  float64 `json:"energyWh"`
}

func (BatteryIssue) StepKind() StepKind { return StepKindBatteryIssue }

// CostReview snapshots the rounding engine output shown to the customer. The
// snapshot is informational: the cost is recomputed from scratch before it is
// reported.
type CostReview struct {
	EnergyDiff       float64 `json:"energyDiff"`
	QuotaDeduction   float64 `json:"quotaDeduction"`
	ChargeableEnergy float64 `json:"chargeableEnergy"`
	Cost             float64 `json:"cost"`
	DisplayCost      float64 `json:"displayCost"`
}

func (CostReview) StepKind() StepKind { return StepKindCostReview }

type Settlement struct {
	Amount     float64 `json:"amount"`
	Method     string  `json:"method"`
	Reference  string  `json:"reference"`
	Idempotent bool    `json:"idempotent"`
}

func (Settlement) StepKind() StepKind { return StepKindSettlement }

type SwapDone struct {
	Confirmed bool `json:"confirmed"`
}

func (SwapDone) StepKind() StepKind { return StepKindSwapDone }

// StepDef names one step of a workflow graph and the payload variant it may
// capture.
type StepDef struct {
	Number int
	Name   string
	Kind   StepKind
}

// Steps returns the fixed step graph for a workflow type. Registration grows
// from 7 to 8 steps when the guarantor step is required.
func Steps(wt WorkflowType, requireGuarantor bool) []StepDef {
	switch wt {
	case WorkflowRegistration:
		defs := []StepDef{
			{1, "Plan Selection", StepKindPlanSelection},
			{2, "Customer Details", StepKindCustomerDetails},
		}
		if requireGuarantor {
			defs = append(defs, StepDef{3, "Guarantor", StepKindGuarantor})
		}
		base := len(defs)
		defs = append(defs,
			StepDef{base + 1, "Identity Verification", StepKindIdentityVerification},
			StepDef{base + 2, "Battery Assignment", StepKindBatteryAssignment},
			StepDef{base + 3, "Payment", StepKindPaymentCollection},
			StepDef{base + 4, "Completion Report", StepKindCompletionReport},
			StepDef{base + 5, "Review", StepKindReview},
		)
		return defs
	case WorkflowAssetSwap:
		return []StepDef{
			{1, "Subscription", StepKindSwapIdentification},
			{2, "Old Battery", StepKindBatteryReturn},
			{3, "New Battery", StepKindBatteryIssue},
			{4, "Review", StepKindCostReview},
			{5, "Payment", StepKindSettlement},
			{6, "Done", StepKindSwapDone},
		}
	default:
		return nil
	}
}

// TotalSteps returns the step count of a workflow graph.
func TotalSteps(wt WorkflowType, requireGuarantor bool) int {
	return len(Steps(wt, requireGuarantor))
}

// validatePayload checks that payload is the variant the workflow schema
// expects at step. The registration graph is inferred from totalSteps (8
// means the guarantor step is present).
func validatePayload(wt WorkflowType, totalSteps int, step int, payload StepPayload) error {
	if payload == nil {
		return nil
	}

	requireGuarantor := wt == WorkflowRegistration && totalSteps == 8
	for _, def := range Steps(wt, requireGuarantor) {
		if def.Number != step {
			continue
		}
		if def.Kind != payload.StepKind() {
			return errors.Wrapf(ErrStepPayloadMismatch,
				"step %d of %s expects %s, got %s", step, wt, def.Kind, payload.StepKind())
		}
		return nil
	}

	return errors.Wrapf(ErrStepPayloadMismatch, "step %d is not part of %s", step, wt)
}

// StepName resolves the canonical name of a step in a workflow graph, or ""
// when the step is out of range.
func StepName(wt WorkflowType, totalSteps int, step int) string {
	requireGuarantor := wt == WorkflowRegistration && totalSteps == 8
	for _, def := range Steps(wt, requireGuarantor) {
		if def.Number == step {
			return def.Name
		}
	}
	return ""
}
