package orchestrator

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrSessionCompleted guards every mutating handler: a completed session
	// is review-only.
	ErrSessionCompleted = errors.New("session is completed and review-only")
	// ErrNotResumable is returned when a session is expired or completed.
	ErrNotResumable = errors.New("session can no longer be resumed")
	// ErrStepNotReady is returned when a handler runs before the step data
	// it depends on was captured.
	ErrStepNotReady = errors.New("prerequisite step data missing")
	// ErrRequestTimedOut is surfaced distinctly from transport errors: the
	// operation may have succeeded server-side, so the operator is told to
	// check status instead of blindly retrying a payment-affecting call.
	ErrRequestTimedOut = errors.New("no response within deadline; verify backend status before retrying")
	// ErrWorkflowMismatch is returned when a flow is used as the wrong
	// workflow type.
	ErrWorkflowMismatch = errors.New("session belongs to a different workflow")
)

// RejectionError carries an explicit backend rejection. Terminal for the
// attempt; the backend's message is surfaced verbatim where available.
type RejectionError struct {
	Message string
	Signals []string
}

func (e *RejectionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend rejected the operation: %s", e.Message)
	}
	return "backend rejected the operation"
}

// BatteryReading is a battery identity plus its BMS energy reading.
type BatteryReading struct {
	BatteryID string
	EnergyWh  float64
}

// PaymentInput is what the operator captures at the payment boundary.
type PaymentInput struct {
	Method    string
	Reference string
}

// SettlementResult reports how a payment-plus-completion call ended.
type SettlementResult struct {
	// AmountReported is the settled amount sent to the backend of record.
	AmountReported float64
	// Idempotent is true when the backend had already applied this
	// settlement; the UI says "already recorded" instead of confirming a
	// fresh charge.
	Idempotent bool
}
