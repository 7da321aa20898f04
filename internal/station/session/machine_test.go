package session_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/gridswap/go-station-ops/internal/station/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSwapSession(t *testing.T, clock time2.Clock) *session.Session {
	t.Helper()

	s, err := session.New(clock, session.WorkflowAssetSwap, 6, session.Actor{
		Role:        "attendant",
		ID:          "op-1",
		DisplayName: "Test Operator",
		Station:     "st-01",
		CompanyID:   "co-9",
	}, 24*time.Hour)
	require.NoError(t, err)

	return s
}

func TestNew_FreshSession(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	s := newSwapSession(t, clock)

	assert.NotEmpty(t, s.SessionID)
	assert.Equal(t, session.WorkflowAssetSwap, s.WorkflowType)
	assert.Equal(t, 1, s.FlowState.CurrentStep)
	assert.Equal(t, 1, s.FlowState.MaxStepReached)
	assert.Equal(t, 6, s.FlowState.TotalSteps)
	assert.Equal(t, clock.Now().Add(24*time.Hour), s.ExpiresAt)

	require.Contains(t, s.Timeline, 1)
	assert.Equal(t, session.StepStatusInProgress, s.Timeline[1].Status)
	assert.True(t, s.RecoverySummary.CanResume)
	assert.True(t, s.CanResume(clock.Now()))
}

func TestAdvance_BackNavigationKeepsHighWaterMark(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	s := newSwapSession(t, clock)

	s, err := s.Advance(clock, 4, "Review", nil)
	require.NoError(t, err)
	assert.Equal(t, 4, s.FlowState.CurrentStep)
	assert.Equal(t, 4, s.FlowState.MaxStepReached)

	s, err = s.Advance(clock, 3, "New Battery", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, s.FlowState.CurrentStep)
	assert.Equal(t, 4, s.FlowState.MaxStepReached, "back navigation must not lower the high-water mark")
}

func TestAdvance_SingleStepInProgress(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	s := newSwapSession(t, clock)

	steps := []struct {
		step int
		name string
	}{
		{2, "Old Battery"}, {3, "New Battery"}, {2, "Old Battery"}, {4, "Review"}, {1, "Subscription"}, {5, "Payment"},
	}

	for _, st := range steps {
		var err error
		s, err = s.Advance(clock, st.step, st.name, nil)
		require.NoError(t, err)

		inProgress := 0
		for _, entry := range s.Timeline {
			if entry.Status == session.StepStatusInProgress {
				inProgress++
			}
		}
		require.LessOrEqual(t, inProgress, 1, "at most one step may be in progress")
	}
}

func TestAdvance_MaxStepMonotonic(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	s := newSwapSession(t, clock)

	sequence := []int{2, 3, 1, 4, 2, 5, 3, 6}
	prevMax := s.FlowState.MaxStepReached

	for _, step := range sequence {
		var err error
		s, err = s.Advance(clock, step, "Step", nil)
		require.NoError(t, err)
		require.GreaterOrEqual(t, s.FlowState.MaxStepReached, prevMax)
		prevMax = s.FlowState.MaxStepReached
	}
	assert.Equal(t, 6, s.FlowState.MaxStepReached)
}

func TestAdvance_ReentryPreservesStartedAt(t *testing.T) {
	start := time.Now()
	clock := time2.NewMockClock(start)
	s := newSwapSession(t, clock)

	s, err := s.Advance(clock, 2, "Old Battery", nil)
	require.NoError(t, err)
	firstStart := *s.Timeline[2].StartedAt

	clock.Advance(5 * time.Minute)
	s, err = s.Advance(clock, 3, "New Battery", nil)
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	s, err = s.Advance(clock, 2, "Old Battery", nil)
	require.NoError(t, err)

	assert.Equal(t, firstStart, *s.Timeline[2].StartedAt)
}

func TestAdvance_CapturesStepData(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	s := newSwapSession(t, clock)

	s, err := s.Advance(clock, 2, "Old Battery", session.BatteryReturn{BatteryID: "bat-17", EnergyWh: 450})
	require.NoError(t, err)

	rec := s.Record(2)
	require.NotNil(t, rec)
	assert.Equal(t, session.StepKindBatteryReturn, rec.Kind)

	var ret session.BatteryReturn
	require.NoError(t, s.DecodeStepData(2, &ret))
	assert.Equal(t, "bat-17", ret.BatteryID)
	assert.Equal(t, 450.0, ret.EnergyWh)
}

func TestAdvance_RejectsCrossWorkflowPayload(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	s := newSwapSession(t, clock)

	// Registration data must not land in an asset-swap session.
	_, err := s.Advance(clock, 2, "Old Battery", session.CustomerDetails{FullName: "A"})
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrStepPayloadMismatch)
}

func TestAdvance_RejectsStepOutsideGraph(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	s := newSwapSession(t, clock)

	_, err := s.Advance(clock, 7, "Nope", nil)
	assert.ErrorIs(t, err, session.ErrInvalidStep)

	_, err = s.Advance(clock, 0, "Nope", nil)
	assert.ErrorIs(t, err, session.ErrInvalidStep)
}

func TestAdvance_IsPure(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	s := newSwapSession(t, clock)

	before, err := json.Marshal(s)
	require.NoError(t, err)

	_, err = s.Advance(clock, 2, "Old Battery", nil)
	require.NoError(t, err)

	after, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after), "Advance must not mutate its receiver")
}

func TestUpdateSummary_DoesNotTouchFlowState(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	s := newSwapSession(t, clock)

	name := "Jane Rider"
	amount := 96.0
	s2 := s.UpdateSummary(clock, session.SummaryPatch{
		CounterpartyName: &name,
		TotalAmount:      &amount,
	})

	assert.Equal(t, s.FlowState, s2.FlowState)
	assert.Equal(t, "Jane Rider", s2.RecoverySummary.CounterpartyName)
	assert.Equal(t, 96.0, s2.RecoverySummary.TotalAmount)
}

func TestComplete_FreezesSession(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	s := newSwapSession(t, clock)

	s, err := s.Advance(clock, 6, "Done", nil)
	require.NoError(t, err)
	s = s.Complete(clock)

	assert.True(t, s.Completed())
	assert.False(t, s.RecoverySummary.CanResume)
	assert.False(t, s.CanResume(clock.Now()))
	assert.Equal(t, "completed", s.Status(clock.Now()))
	assert.Equal(t, session.StepStatusCompleted, s.Timeline[6].Status)
}

func TestFail_CountsErrors(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	s := newSwapSession(t, clock)

	s, err := s.Fail(clock, 1, "identification timed out")
	require.NoError(t, err)
	assert.Equal(t, session.StepStatusFailed, s.Timeline[1].Status)
	assert.Equal(t, 1, s.Metadata.ErrorCount)

	// A later advance re-enters the failed step.
	s, err = s.Advance(clock, 1, "Subscription", nil)
	require.NoError(t, err)
	assert.Equal(t, session.StepStatusInProgress, s.Timeline[1].Status)
}

func TestExpiry(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	s := newSwapSession(t, clock)

	assert.False(t, s.Expired(clock.Now()))
	assert.Equal(t, "expired", s.Status(clock.Now().Add(25*time.Hour)))
	assert.False(t, s.CanResume(clock.Now().Add(25*time.Hour)))
}

func TestRegistrationGraph_GuarantorStep(t *testing.T) {
	assert.Equal(t, 7, session.TotalSteps(session.WorkflowRegistration, false))
	assert.Equal(t, 8, session.TotalSteps(session.WorkflowRegistration, true))
	assert.Equal(t, 6, session.TotalSteps(session.WorkflowAssetSwap, false))

	// With the guarantor step in place, identity verification shifts to 4.
	assert.Equal(t, "Identity Verification", session.StepName(session.WorkflowRegistration, 7, 3))
	assert.Equal(t, "Guarantor", session.StepName(session.WorkflowRegistration, 8, 3))
	assert.Equal(t, "Identity Verification", session.StepName(session.WorkflowRegistration, 8, 4))
}

func TestSessionJSON_PreservesUnknownFields(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	s := newSwapSession(t, clock)

	data, err := json.Marshal(s)
	require.NoError(t, err)

	// Simulate a forward-compatible addition by the backend of record.
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	doc["serverAnnotations"] = json.RawMessage(`{"region":"east"}`)
	annotated, err := json.Marshal(doc)
	require.NoError(t, err)

	var loaded session.Session
	require.NoError(t, json.Unmarshal(annotated, &loaded))

	rewritten, err := json.Marshal(&loaded)
	require.NoError(t, err)

	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rewritten, &out))
	assert.JSONEq(t, `{"region":"east"}`, string(out["serverAnnotations"]))
	assert.Equal(t, s.SessionID, loaded.SessionID)
}
