package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	// ErrInvalidStep is returned when a transition names a step outside the
	// workflow graph.
	ErrInvalidStep = errors.New("step outside workflow graph")
)

// New builds a fresh session: step 1 in progress, high-water mark 1, TTL
// counted from now. No backend round-trip happens here; the document is
// first persisted once a backend-assigned order reference exists.
func New(clock time2.Clock, wt WorkflowType, totalSteps int, actor Actor, ttl time.Duration) (*Session, error) {
	if totalSteps < 1 {
		return nil, errors.Wrapf(ErrInvalidStep, "totalSteps %d", totalSteps)
	}

	now := clock.Now()
	firstStep := StepName(wt, totalSteps, 1)
	startedAt := now

	s := &Session{
		SessionID:    uuid.New().String(),
		WorkflowType: wt,
		Version:      0,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		Actor:        actor,
		FlowState: FlowState{
			CurrentStep:    1,
			MaxStepReached: 1,
			TotalSteps:     totalSteps,
		},
		Timeline: map[int]*TimelineEntry{
			1: {Name: firstStep, Status: StepStatusInProgress, StartedAt: &startedAt},
		},
		RecoverySummary: RecoverySummary{
			CurrentStep:     1,
			CurrentStepName: firstStep,
			LastAction:      "Session started",
			LastActionAt:    &startedAt,
			CanResume:       true,
		},
		StepData: map[string]*StepRecord{},
		Metadata: Metadata{
			LastAction:   "Session started",
			LastActionAt: &startedAt,
		},
	}

	return s, nil
}

// Advance is a pure transform: it returns a new session value with step
// marked in progress, the previously active step settled, the high-water
// mark raised and the recovery summary refreshed. Callers are responsible
// for persisting the result.
//
// Back-navigation (step below the current one) is permitted and never lowers
// MaxStepReached; the abandoned step returns to pending with its original
// start time preserved so re-entering it keeps the first StartedAt.
func (s *Session) Advance(clock time2.Clock, step int, stepName string, payload StepPayload) (*Session, error) {
	if step < 1 || step > s.FlowState.TotalSteps {
		return nil, errors.Wrapf(ErrInvalidStep, "step %d of %d", step, s.FlowState.TotalSteps)
	}
	if err := validatePayload(s.WorkflowType, s.FlowState.TotalSteps, step, payload); err != nil {
		return nil, err
	}

	now := clock.Now()
	out := s.clone()

	// Settle the step we are leaving.
	if prev := out.Timeline[out.FlowState.CurrentStep]; prev != nil &&
		out.FlowState.CurrentStep != step && prev.Status == StepStatusInProgress {
		if step > out.FlowState.CurrentStep {
			completedAt := now
			prev.Status = StepStatusCompleted
			prev.CompletedAt = &completedAt
		} else {
			// Back-navigation: the step was not finished, it goes back to
			// pending and keeps its original StartedAt.
			prev.Status = StepStatusPending
		}
	}

	entry := out.Timeline[step]
	if entry == nil {
		startedAt := now
		entry = &TimelineEntry{Name: stepName, Status: StepStatusInProgress, StartedAt: &startedAt}
		out.Timeline[step] = entry
	} else if entry.Status != StepStatusCompleted {
		entry.Name = stepName
		entry.Status = StepStatusInProgress
		if entry.StartedAt == nil {
			startedAt := now
			entry.StartedAt = &startedAt
		}
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrapf(err, "marshal step %d payload", step)
		}
		out.StepData[StepDataKey(step)] = &StepRecord{
			Kind:       payload.StepKind(),
			CapturedAt: now,
			Data:       data,
		}
	}

	out.FlowState.CurrentStep = step
	if step > out.FlowState.MaxStepReached {
		out.FlowState.MaxStepReached = step
	}

	lastAction := fmt.Sprintf("Moved to step %d (%s)", step, stepName)
	out.RecoverySummary.CurrentStep = step
	out.RecoverySummary.CurrentStepName = stepName
	out.touch(now, lastAction)

	return out, nil
}

// SummaryPatch is a shallow partial update of the recovery summary, used
// when domain facts become known independent of step progression.
type SummaryPatch struct {
	CounterpartyName *string
	TotalAmount      *float64
	ReferenceCode    *string
	LastAction       *string
}

// UpdateSummary merges patch into the recovery summary without touching the
// flow state.
func (s *Session) UpdateSummary(clock time2.Clock, patch SummaryPatch) *Session {
	now := clock.Now()
	out := s.clone()

	if patch.CounterpartyName != nil {
		out.RecoverySummary.CounterpartyName = *patch.CounterpartyName
	}
	if patch.TotalAmount != nil {
		out.RecoverySummary.TotalAmount = *patch.TotalAmount
	}
	if patch.ReferenceCode != nil {
		out.RecoverySummary.ReferenceCode = *patch.ReferenceCode
	}

	lastAction := out.RecoverySummary.LastAction
	if patch.LastAction != nil {
		lastAction = *patch.LastAction
	}
	out.touch(now, lastAction)

	return out
}

// Complete marks the final timeline step completed and freezes the session
// for review.
func (s *Session) Complete(clock time2.Clock) *Session {
	now := clock.Now()
	out := s.clone()
	final := out.FlowState.TotalSteps

	entry := out.Timeline[final]
	if entry == nil {
		startedAt := now
		entry = &TimelineEntry{
			Name:      StepName(out.WorkflowType, final, final),
			Status:    StepStatusInProgress,
			StartedAt: &startedAt,
		}
		out.Timeline[final] = entry
	}
	completedAt := now
	entry.Status = StepStatusCompleted
	entry.CompletedAt = &completedAt

	out.FlowState.CurrentStep = final
	out.FlowState.MaxStepReached = final
	out.RecoverySummary.CurrentStep = final
	out.RecoverySummary.CurrentStepName = entry.Name
	out.RecoverySummary.CanResume = false
	out.touch(now, "Transaction completed")

	return out
}

// Fail marks a step failed and counts the error. The step stays failed until
// a later Advance re-enters it.
func (s *Session) Fail(clock time2.Clock, step int, reason string) (*Session, error) {
	if step < 1 || step > s.FlowState.TotalSteps {
		return nil, errors.Wrapf(ErrInvalidStep, "step %d of %d", step, s.FlowState.TotalSteps)
	}

	now := clock.Now()
	out := s.clone()

	entry := out.Timeline[step]
	if entry == nil {
		entry = &TimelineEntry{Name: StepName(out.WorkflowType, out.FlowState.TotalSteps, step)}
		out.Timeline[step] = entry
	}
	if entry.Status != StepStatusCompleted {
		entry.Status = StepStatusFailed
	}

	out.Metadata.ErrorCount++
	out.touch(now, fmt.Sprintf("Step %d failed: %s", step, reason))

	return out, nil
}

// CountRetry increments the retry counter, used when the operator re-issues
// a previously failed transaction-critical call.
func (s *Session) CountRetry(clock time2.Clock) *Session {
	now := clock.Now()
	out := s.clone()
	out.Metadata.RetryCount++
	out.touch(now, "Retrying failed step")
	return out
}

// touch refreshes the shared bookkeeping every mutation carries.
func (s *Session) touch(now time.Time, lastAction string) {
	at := now
	s.UpdatedAt = now
	s.RecoverySummary.LastAction = lastAction
	s.RecoverySummary.LastActionAt = &at
	s.Metadata.LastAction = lastAction
	s.Metadata.LastActionAt = &at
	s.Metadata.SessionDurationSeconds = int(now.Sub(s.CreatedAt).Seconds())
}
