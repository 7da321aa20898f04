package storage

import (
	"context"
	"time"

	"github.com/gridswap/go-station-ops/internal/station/session"
	"github.com/pkg/errors"
)

var (
	// ErrSessionNotFound is returned when no document exists for a reference.
	ErrSessionNotFound = errors.New("session not found")
	// ErrVersionConflict is returned when the backing store rejects a write
	// carrying a stale version. The conflict is fatal to the save: this
	// client does not reconcile, the operator must reload.
	ErrVersionConflict = errors.New("session version conflict")
	// ErrMalformedDocument is returned when a stored document cannot be
	// decoded. A partially rehydrated session is never returned.
	ErrMalformedDocument = errors.New("malformed session document")
)

// Filter narrows and pages a session list.
type Filter struct {
	Type   string
	Status string
	Search string
	Page   int
	Limit  int
}

// Summary is the denormalized list entry; it mirrors each session's recovery
// summary so the list renders without loading full documents.
type Summary struct {
	ReferenceID      string               `json:"referenceId"`
	SessionID        string               `json:"sessionId"`
	WorkflowType     session.WorkflowType `json:"workflowType"`
	Status           string               `json:"status"`
	CounterpartyName string               `json:"counterpartyName"`
	CurrentStep      int                  `json:"currentStep"`
	CurrentStepName  string               `json:"currentStepName"`
	ReferenceCode    string               `json:"referenceCode"`
	TotalAmount      float64              `json:"totalAmount"`
	CanResume        bool                 `json:"canResume"`
	UpdatedAt        time.Time            `json:"updatedAt"`
}

// Pagination describes one page of a session list.
type Pagination struct {
	Page        int  `json:"page"`
	Limit       int  `json:"limit"`
	Total       int  `json:"total"`
	TotalPages  int  `json:"totalPages"`
	HasNextPage bool `json:"hasNextPage"`
}

// Page is one page of session summaries.
type Page struct {
	Sessions   []Summary  `json:"sessions"`
	Pagination Pagination `json:"pagination"`
}

// SessionStore persists session documents keyed by the backend-assigned
// order reference. Save replaces the whole document: callers always send
// the full, current session value, never a partial one.
type SessionStore interface {
	Save(ctx context.Context, referenceID string, s *session.Session) error
	Load(ctx context.Context, referenceID string) (*session.Session, error)
	List(ctx context.Context, filter Filter) (*Page, error)
	Delete(ctx context.Context, referenceID string) error
}
