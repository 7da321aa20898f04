package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// WorkflowType discriminates the two fixed step graphs this engine drives.
type WorkflowType string

const (
	WorkflowRegistration WorkflowType = "REGISTRATION"
	WorkflowAssetSwap    WorkflowType = "ASSET_SWAP"
)

// StepStatus 时间线步骤状态
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
)

// Actor identifies who is operating the workflow. Immutable after session
// creation; credentials are passed explicitly, never read from ambient state.
type Actor struct {
	Role        string `json:"role"`
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Station     string `json:"station"`
	CompanyID   string `json:"companyId"`
}

// FlowState tracks step progression. MaxStepReached is a high-water mark and
// never decreases, even when the operator navigates back.
type FlowState struct {
	CurrentStep    int `json:"currentStep"`
	MaxStepReached int `json:"maxStepReached"`
	TotalSteps     int `json:"totalSteps"`
}

// TimelineEntry records the lifecycle of a single step. A step moves
// pending → in_progress → completed monotonically; completed is terminal.
type TimelineEntry struct {
	Name        string     `json:"name"`
	Status      StepStatus `json:"status"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// RecoverySummary is the denormalized, UI-facing snapshot of session
// progress. It exists so a session list can be rendered without
// deserializing full per-step payloads.
type RecoverySummary struct {
	CounterpartyName string     `json:"counterpartyName"`
	CurrentStep      int        `json:"currentStep"`
	CurrentStepName  string     `json:"currentStepName"`
	LastAction       string     `json:"lastAction"`
	LastActionAt     *time.Time `json:"lastActionAt,omitempty"`
	TotalAmount      float64    `json:"totalAmount"`
	ReferenceCode    string     `json:"referenceCode"`
	CanResume        bool       `json:"canResume"`
}

// Metadata holds rolling operational counters. Written by the orchestrator,
// read-only for the UI.
type Metadata struct {
	LastAction             string     `json:"lastAction"`
	LastActionAt           *time.Time `json:"lastActionAt,omitempty"`
	ErrorCount             int        `json:"errorCount"`
	RetryCount             int        `json:"retryCount"`
	SessionDurationSeconds int        `json:"sessionDurationSeconds"`
}

// StepRecord is one entry of the step-indexed data bag. Data keeps the raw
// encoding of the step payload; Kind tags which variant it decodes into so
// registration and swap payloads cannot cross-contaminate.
type StepRecord struct {
	Kind       StepKind        `json:"kind"`
	CapturedAt time.Time       `json:"capturedAt"`
	Data       json.RawMessage `json:"data"`
}

// Session is the unit of recoverability. The JSON shape is a contract with
// the backend of record: the document is always written and read in full,
// and fields this build does not know about are preserved on round-trip.
type Session struct {
	SessionID       string
	WorkflowType    WorkflowType
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
	Actor           Actor
	FlowState       FlowState
	Timeline        map[int]*TimelineEntry
	RecoverySummary RecoverySummary
	StepData        map[string]*StepRecord
	Metadata        Metadata

	// extra carries unknown-but-present document fields so that
	// forward-compatible additions by the backend survive a save.
	extra map[string]json.RawMessage
}

// sessionJSON is the wire shape of Session.
type sessionJSON struct {
	SessionID       string                 `json:"sessionId"`
	WorkflowType    WorkflowType           `json:"workflowType"`
	Version         int64                  `json:"version"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
	ExpiresAt       time.Time              `json:"expiresAt"`
	Actor           Actor                  `json:"actor"`
	FlowState       FlowState              `json:"flowState"`
	Timeline        map[int]*TimelineEntry `json:"timeline"`
	RecoverySummary RecoverySummary        `json:"recoverySummary"`
	StepData        map[string]*StepRecord `json:"stepData"`
	Metadata        Metadata               `json:"metadata"`
}

var knownSessionFields = map[string]struct{}{
	"sessionId": {}, "workflowType": {}, "version": {}, "createdAt": {},
	"updatedAt": {}, "expiresAt": {}, "actor": {}, "flowState": {},
	"timeline": {}, "recoverySummary": {}, "stepData": {}, "metadata": {},
}

func (s *Session) MarshalJSON() ([]byte, error) {
	doc := map[string]json.RawMessage{}
	for k, v := range s.extra {
		doc[k] = v
	}

	known, err := json.Marshal(sessionJSON{
		SessionID:       s.SessionID,
		WorkflowType:    s.WorkflowType,
		Version:         s.Version,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
		ExpiresAt:       s.ExpiresAt,
		Actor:           s.Actor,
		FlowState:       s.FlowState,
		Timeline:        s.Timeline,
		RecoverySummary: s.RecoverySummary,
		StepData:        s.StepData,
		Metadata:        s.Metadata,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal session fields")
	}

	var knownDoc map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownDoc); err != nil {
		return nil, errors.Wrap(err, "remarshal session fields")
	}
	for k, v := range knownDoc {
		doc[k] = v
	}

	return json.Marshal(doc)
}

func (s *Session) UnmarshalJSON(data []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return errors.Wrap(err, "unmarshal session document")
	}

	var wire sessionJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return errors.Wrap(err, "unmarshal session fields")
	}

	s.SessionID = wire.SessionID
	s.WorkflowType = wire.WorkflowType
	s.Version = wire.Version
	s.CreatedAt = wire.CreatedAt
	s.UpdatedAt = wire.UpdatedAt
	s.ExpiresAt = wire.ExpiresAt
	s.Actor = wire.Actor
	s.FlowState = wire.FlowState
	s.Timeline = wire.Timeline
	s.RecoverySummary = wire.RecoverySummary
	s.StepData = wire.StepData
	s.Metadata = wire.Metadata

	s.extra = nil
	for k, v := range doc {
		if _, ok := knownSessionFields[k]; ok {
			continue
		}
		if s.extra == nil {
			s.extra = map[string]json.RawMessage{}
		}
		s.extra[k] = v
	}

	if s.Timeline == nil {
		s.Timeline = map[int]*TimelineEntry{}
	}
	if s.StepData == nil {
		s.StepData = map[string]*StepRecord{}
	}

	return nil
}

// StepDataKey returns the bag key for a step number, e.g. "step_3_data".
func StepDataKey(step int) string {
	return fmt.Sprintf("step_%d_data", step)
}

// Record returns the captured data record for step, or nil.
func (s *Session) Record(step int) *StepRecord {
	return s.StepData[StepDataKey(step)]
}

// DecodeStepData decodes the captured data of step into out. It fails when
// nothing was captured for the step.
func (s *Session) DecodeStepData(step int, out interface{}) error {
	rec := s.Record(step)
	if rec == nil {
		return errors.Errorf("no data captured for step %d", step)
	}
	if err := json.Unmarshal(rec.Data, out); err != nil {
		return errors.Wrapf(err, "decode step %d data", step)
	}
	return nil
}

// Completed reports whether the final timeline step has completed, which
// freezes the session for review.
func (s *Session) Completed() bool {
	final := s.Timeline[s.FlowState.TotalSteps]
	return final != nil && final.Status == StepStatusCompleted
}

// Expired reports whether the session's TTL has lapsed.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// CanResume reports whether the session may still be picked up by an
// operator.
func (s *Session) CanResume(now time.Time) bool {
	return !s.Completed() && !s.Expired(now)
}

// Status derives the coarse session status used by list filters.
func (s *Session) Status(now time.Time) string {
	switch {
	case s.Completed():
		return "completed"
	case s.Expired(now):
		return "expired"
	default:
		return "in_progress"
	}
}

func (s *Session) clone() *Session {
	out := *s

	out.Timeline = make(map[int]*TimelineEntry, len(s.Timeline))
	for step, entry := range s.Timeline {
		copied := *entry
		out.Timeline[step] = &copied
	}

	out.StepData = make(map[string]*StepRecord, len(s.StepData))
	for key, rec := range s.StepData {
		copied := *rec
		out.StepData[key] = &copied
	}

	if s.extra != nil {
		out.extra = make(map[string]json.RawMessage, len(s.extra))
		for k, v := range s.extra {
			out.extra[k] = v
		}
	}

	return &out
}
