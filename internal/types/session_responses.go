package types

import (
	"github.com/go-openapi/errors"
	"github.com/go-openapi/strfmt"
)

// SessionSummary is one row of the session recovery list.
type SessionSummary struct {
	// Required: true
	ReferenceID *string `json:"referenceId"`
	// Required: true
	SessionID *string `json:"sessionId"`
	// Required: true
	WorkflowType *string `json:"workflowType"`
	// Required: true
	Status *string `json:"status"`
	// Required: true
	CurrentStep *int64 `json:"currentStep"`
	// Required: true
	CurrentStepName *string `json:"currentStepName"`
	// Required: true
	CanResume *bool `json:"canResume"`

	CounterpartyName string  `json:"counterpartyName,omitempty"`
	ReferenceCode    string  `json:"referenceCode,omitempty"`
	TotalAmount      float64 `json:"totalAmount,omitempty"`
	// LastActivity is a humanized elapsed-time string, e.g. "5m ago".
	LastActivity string          `json:"lastActivity,omitempty"`
	UpdatedAt    strfmt.DateTime `json:"updatedAt,omitempty"`
}

func (m *SessionSummary) Validate(formats strfmt.Registry) error {
	if m.ReferenceID == nil {
		return errors.Required("referenceId", "body", nil)
	}
	if m.SessionID == nil {
		return errors.Required("sessionId", "body", nil)
	}
	if m.WorkflowType == nil {
		return errors.Required("workflowType", "body", nil)
	}
	if m.Status == nil {
		return errors.Required("status", "body", nil)
	}
	if m.CurrentStep == nil {
		return errors.Required("currentStep", "body", nil)
	}
	if m.CurrentStepName == nil {
		return errors.Required("currentStepName", "body", nil)
	}
	if m.CanResume == nil {
		return errors.Required("canResume", "body", nil)
	}
	return nil
}

// PaginationInfo describes one page of a list response.
type PaginationInfo struct {
	// Required: true
	Page *int64 `json:"page"`
	// Required: true
	Limit *int64 `json:"limit"`
	// Required: true
	Total *int64 `json:"total"`
	// Required: true
	TotalPages *int64 `json:"totalPages"`
	// Required: true
	HasNextPage *bool `json:"hasNextPage"`
}

func (m *PaginationInfo) Validate(formats strfmt.Registry) error {
	if m.Page == nil {
		return errors.Required("page", "body", nil)
	}
	if m.Limit == nil {
		return errors.Required("limit", "body", nil)
	}
	if m.Total == nil {
		return errors.Required("total", "body", nil)
	}
	if m.TotalPages == nil {
		return errors.Required("totalPages", "body", nil)
	}
	if m.HasNextPage == nil {
		return errors.Required("hasNextPage", "body", nil)
	}
	return nil
}

// ListSessionsResponse is the session recovery list.
type ListSessionsResponse struct {
	// Required: true
	Sessions []*SessionSummary `json:"sessions"`
	// Required: true
	Pagination *PaginationInfo `json:"pagination"`
}

func (m *ListSessionsResponse) Validate(formats strfmt.Registry) error {
	if m.Sessions == nil {
		return errors.Required("sessions", "body", nil)
	}
	for _, s := range m.Sessions {
		if s == nil {
			continue
		}
		if err := s.Validate(formats); err != nil {
			return err
		}
	}
	if m.Pagination == nil {
		return errors.Required("pagination", "body", nil)
	}
	return m.Pagination.Validate(formats)
}

// TimelineStep is one step of a session's timeline view.
type TimelineStep struct {
	// Required: true
	Step *int64 `json:"step"`
	// Required: true
	Name *string `json:"name"`
	// Required: true
	Status *string `json:"status"`

	StartedAt   *strfmt.DateTime `json:"startedAt,omitempty"`
	CompletedAt *strfmt.DateTime `json:"completedAt,omitempty"`
}

func (m *TimelineStep) Validate(formats strfmt.Registry) error {
	if m.Step == nil {
		return errors.Required("step", "body", nil)
	}
	if m.Name == nil {
		return errors.Required("name", "body", nil)
	}
	if m.Status == nil {
		return errors.Required("status", "body", nil)
	}
	return nil
}

// ActorInfo identifies the operator a session belongs to.
type ActorInfo struct {
	Role        string `json:"role,omitempty"`
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Station     string `json:"station,omitempty"`
	CompanyID   string `json:"companyId,omitempty"`
}

// RecoverySummaryInfo is the denormalized progress snapshot of a session.
type RecoverySummaryInfo struct {
	CounterpartyName string           `json:"counterpartyName,omitempty"`
	CurrentStep      int64            `json:"currentStep,omitempty"`
	CurrentStepName  string           `json:"currentStepName,omitempty"`
	LastAction       string           `json:"lastAction,omitempty"`
	LastActionAt     *strfmt.DateTime `json:"lastActionAt,omitempty"`
	LastActivity     string           `json:"lastActivity,omitempty"`
	TotalAmount      float64          `json:"totalAmount,omitempty"`
	ReferenceCode    string           `json:"referenceCode,omitempty"`
	CanResume        bool             `json:"canResume,omitempty"`
}

// SessionMetadata carries the rolling operational counters of a session.
type SessionMetadata struct {
	LastAction             string `json:"lastAction,omitempty"`
	ErrorCount             int64  `json:"errorCount,omitempty"`
	RetryCount             int64  `json:"retryCount,omitempty"`
	SessionDurationSeconds int64  `json:"sessionDurationSeconds,omitempty"`
}

// GetSessionResponse is the full session detail view.
type GetSessionResponse struct {
	// Required: true
	SessionID *string `json:"sessionId"`
	// Required: true
	ReferenceID *string `json:"referenceId"`
	// Required: true
	WorkflowType *string `json:"workflowType"`
	// Required: true
	Status *string `json:"status"`
	// Required: true
	Version *int64 `json:"version"`
	// Required: true
	CurrentStep *int64 `json:"currentStep"`
	// Required: true
	MaxStepReached *int64 `json:"maxStepReached"`
	// Required: true
	TotalSteps *int64 `json:"totalSteps"`

	CreatedAt strfmt.DateTime `json:"createdAt,omitempty"`
	UpdatedAt strfmt.DateTime `json:"updatedAt,omitempty"`
	ExpiresAt strfmt.DateTime `json:"expiresAt,omitempty"`

	Actor           *ActorInfo           `json:"actor,omitempty"`
	Timeline        []*TimelineStep      `json:"timeline,omitempty"`
	RecoverySummary *RecoverySummaryInfo `json:"recoverySummary,omitempty"`
	Metadata        *SessionMetadata     `json:"metadata,omitempty"`
}

func (m *GetSessionResponse) Validate(formats strfmt.Registry) error {
	if m.SessionID == nil {
		return errors.Required("sessionId", "body", nil)
	}
	if m.ReferenceID == nil {
		return errors.Required("referenceId", "body", nil)
	}
	if m.WorkflowType == nil {
		return errors.Required("workflowType", "body", nil)
	}
	if m.Status == nil {
		return errors.Required("status", "body", nil)
	}
	if m.Version == nil {
		return errors.Required("version", "body", nil)
	}
	if m.CurrentStep == nil {
		return errors.Required("currentStep", "body", nil)
	}
	if m.MaxStepReached == nil {
		return errors.Required("maxStepReached", "body", nil)
	}
	if m.TotalSteps == nil {
		return errors.Required("totalSteps", "body", nil)
	}
	for _, step := range m.Timeline {
		if step == nil {
			continue
		}
		if err := step.Validate(formats); err != nil {
			return err
		}
	}
	return nil
}
