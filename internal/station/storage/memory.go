package storage

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/dropbox/godropbox/time2"
	"github.com/gridswap/go-station-ops/internal/station/session"
	"github.com/pkg/errors"
)

// MemoryStore is an in-process SessionStore with the same semantics as the
// backend adapter (whole-document replacement, optimistic version check).
// Used by tests and the local CLI path.
type MemoryStore struct {
	clock time2.Clock

	mu   sync.RWMutex
	docs map[string]storedDoc
}

type storedDoc struct {
	version int64
	data    []byte
}

func NewMemoryStore(clock time2.Clock) *MemoryStore {
	return &MemoryStore{
		clock: clock,
		docs:  map[string]storedDoc{},
	}
}

func (m *MemoryStore) Save(_ context.Context, referenceID string, s *session.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "marshal session document")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.docs[referenceID]; ok && s.Version <= existing.version {
		return errors.Wrapf(ErrVersionConflict, "reference %s version %d (stored %d)",
			referenceID, s.Version, existing.version)
	}

	m.docs[referenceID] = storedDoc{version: s.Version, data: data}
	return nil
}

func (m *MemoryStore) Load(_ context.Context, referenceID string) (*session.Session, error) {
	m.mu.RLock()
	doc, ok := m.docs[referenceID]
	m.mu.RUnlock()

	if !ok {
		return nil, errors.Wrapf(ErrSessionNotFound, "reference %s", referenceID)
	}

	var s session.Session
	if err := json.Unmarshal(doc.data, &s); err != nil {
		return nil, errors.Wrapf(ErrMalformedDocument, "reference %s: %v", referenceID, err)
	}

	return &s, nil
}

func (m *MemoryStore) List(_ context.Context, filter Filter) (*Page, error) {
	now := m.clock.Now()

	m.mu.RLock()
	summaries := make([]Summary, 0, len(m.docs))
	for referenceID, doc := range m.docs {
		var s session.Session
		if err := json.Unmarshal(doc.data, &s); err != nil {
			continue
		}
		summaries = append(summaries, Summary{
			ReferenceID:      referenceID,
			SessionID:        s.SessionID,
			WorkflowType:     s.WorkflowType,
			Status:           s.Status(now),
			CounterpartyName: s.RecoverySummary.CounterpartyName,
			CurrentStep:      s.RecoverySummary.CurrentStep,
			CurrentStepName:  s.RecoverySummary.CurrentStepName,
			ReferenceCode:    s.RecoverySummary.ReferenceCode,
			TotalAmount:      s.RecoverySummary.TotalAmount,
			CanResume:        s.CanResume(now),
			UpdatedAt:        s.UpdatedAt,
		})
	}
	m.mu.RUnlock()

	filtered := summaries[:0]
	for _, sum := range summaries {
		if filter.Type != "" && string(sum.WorkflowType) != filter.Type {
			continue
		}
		if filter.Status != "" && sum.Status != filter.Status {
			continue
		}
		if filter.Search != "" && !matchesSearch(sum, filter.Search) {
			continue
		}
		filtered = append(filtered, sum)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].UpdatedAt.After(filtered[j].UpdatedAt)
	})

	page := max(filter.Page, 1)
	limit := defaultLimit(filter.Limit)
	total := len(filtered)
	totalPages := (total + limit - 1) / limit

	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := min(start+limit, total)

	return &Page{
		Sessions: filtered[start:end],
		Pagination: Pagination{
			Page:        page,
			Limit:       limit,
			Total:       total,
			TotalPages:  totalPages,
			HasNextPage: page < totalPages,
		},
	}, nil
}

func (m *MemoryStore) Delete(_ context.Context, referenceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[referenceID]; !ok {
		return errors.Wrapf(ErrSessionNotFound, "reference %s", referenceID)
	}
	delete(m.docs, referenceID)
	return nil
}

func matchesSearch(sum Summary, search string) bool {
	needle := strings.ToLower(search)
	return strings.Contains(strings.ToLower(sum.CounterpartyName), needle) ||
		strings.Contains(strings.ToLower(sum.ReferenceCode), needle) ||
		strings.Contains(strings.ToLower(sum.ReferenceID), needle)
}
