package correlate

import (
	"encoding/json"
)

// SignalIdempotentOperationDetected marks a response whose operation the
// backend recognized as already applied. The caller treats it as success
// without re-applying any local side effect.
const SignalIdempotentOperationDetected = "IDEMPOTENT_OPERATION_DETECTED"

// Error signals. Any of these makes the response a failure regardless of the
// nominal success flag.
const (
	SignalDeviceMismatch   = "DEVICE_MISMATCH"
	SignalValidationFailed = "VALIDATION_FAILED"
	SignalSecurityRejected = "SECURITY_REJECTED"
	SignalRateLimited      = "RATE_LIMITED"
)

var errorSignals = map[string]struct{}{
	SignalDeviceMismatch:   {},
	SignalValidationFailed: {},
	SignalSecurityRejected: {},
	SignalRateLimited:      {},
}

// Outcome is the structured result of one correlated request. The client
// resolves with an Outcome rather than an error for protocol-level results,
// so the orchestrator always has a typed result to branch on.
type Outcome struct {
	// Success is the effective result after signal precedence is applied.
	Success bool
	// IsIdempotent flags a success the backend had already applied. The UI
	// says "already recorded" instead of re-confirming.
	IsIdempotent bool
	// TimedOut distinguishes a missing response from a transport failure:
	// the operation may have actually succeeded server-side.
	TimedOut bool
	// Signals is the raw signal list of the response.
	Signals []string
	// Message is the backend's message, surfaced verbatim where available.
	Message string
	// Data carries the response payload for the caller to decode.
	Data json.RawMessage
}

// response is the wire shape of a correlated response message.
type response struct {
	CorrelationID string          `json:"correlationId"`
	Success       bool            `json:"success"`
	Signals       []string        `json:"signals"`
	Message       string          `json:"message"`
	Data          json.RawMessage `json:"data"`
}

// evaluate applies the signal precedence rules: an error signal always means
// failure, the idempotent signal without an error signal always means
// success, and only then does the nominal success flag count.
func evaluate(resp response) *Outcome {
	out := &Outcome{
		Signals: resp.Signals,
		Message: resp.Message,
		Data:    resp.Data,
	}

	idempotent := false
	for _, sig := range resp.Signals {
		if _, isErr := errorSignals[sig]; isErr {
			out.Success = false
			if out.Message == "" {
				out.Message = "backend rejected the operation: " + sig
			}
			return out
		}
		if sig == SignalIdempotentOperationDetected {
			idempotent = true
		}
	}

	if idempotent {
		out.Success = true
		out.IsIdempotent = true
		return out
	}

	out.Success = resp.Success
	return out
}

// matches pairs a response correlation id with a pending request id: exact
// match, or the response id is a prefix of the request id (intermediate
// systems are allowed to truncate, but a prefix shorter than 8 characters is
// too ambiguous to trust).
func matches(requestID, responseID string) bool {
	if responseID == requestID {
		return true
	}
	return len(responseID) >= minCorrelationPrefix &&
		len(responseID) < len(requestID) &&
		requestID[:len(responseID)] == responseID
}

const minCorrelationPrefix = 8
