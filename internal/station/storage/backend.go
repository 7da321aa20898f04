package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gridswap/go-station-ops/internal/config"
	"github.com/gridswap/go-station-ops/internal/station/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// BackendStore talks to the backend of record's session CRUD endpoints.
// Every save carries the full document; the backend performs whole-document
// replacement and rejects stale versions with 409.
type BackendStore struct {
	cfg    config.Backend
	client *http.Client
}

// NewBackendStore creates the adapter. A nil client falls back to a default
// client with the configured timeout.
func NewBackendStore(cfg config.Backend, client *http.Client) *BackendStore {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &BackendStore{cfg: cfg, client: client}
}

func (b *BackendStore) sessionURL(referenceID string) string {
	return fmt.Sprintf("%s/api/v1/station/orders/%s/session", b.cfg.BaseURL, url.PathEscape(referenceID))
}

// Save replaces the persisted document for referenceID with s.
func (b *BackendStore) Save(ctx context.Context, referenceID string, s *session.Session) error {
	body, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "marshal session document")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.sessionURL(referenceID), bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build save request")
	}
	b.decorate(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "save session")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		log.Debug().Str("referenceId", referenceID).Int64("version", s.Version).Msg("Session document saved")
		return nil
	case http.StatusConflict:
		return errors.Wrapf(ErrVersionConflict, "reference %s version %d", referenceID, s.Version)
	default:
		return errors.Errorf("save session: backend returned %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}
}

// Load fetches the full document for referenceID. It never returns a
// partially populated session: decode failures surface as
// ErrMalformedDocument.
func (b *BackendStore) Load(ctx context.Context, referenceID string) (*session.Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.sessionURL(referenceID), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build load request")
	}
	b.decorate(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "load session")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, errors.Wrapf(ErrSessionNotFound, "reference %s", referenceID)
	default:
		return nil, errors.Errorf("load session: backend returned %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var s session.Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, errors.Wrapf(ErrMalformedDocument, "reference %s: %v", referenceID, err)
	}
	if s.SessionID == "" || s.FlowState.TotalSteps == 0 {
		return nil, errors.Wrapf(ErrMalformedDocument, "reference %s: missing required fields", referenceID)
	}

	return &s, nil
}

// List fetches a filtered, paginated page of session summaries.
func (b *BackendStore) List(ctx context.Context, filter Filter) (*Page, error) {
	q := url.Values{}
	if filter.Type != "" {
		q.Set("type", filter.Type)
	}
	if filter.Status != "" {
		q.Set("status", filter.Status)
	}
	if filter.Search != "" {
		q.Set("search", filter.Search)
	}
	q.Set("page", strconv.Itoa(max(filter.Page, 1)))
	q.Set("limit", strconv.Itoa(defaultLimit(filter.Limit)))

	listURL := fmt.Sprintf("%s/api/v1/station/sessions?%s", b.cfg.BaseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build list request")
	}
	b.decorate(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("list sessions: backend returned %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, errors.Wrap(err, "decode session list")
	}

	return &page, nil
}

// Delete discards the document for referenceID.
func (b *BackendStore) Delete(ctx context.Context, referenceID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, b.sessionURL(referenceID), nil)
	if err != nil {
		return errors.Wrap(err, "build delete request")
	}
	b.decorate(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "delete session")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return errors.Wrapf(ErrSessionNotFound, "reference %s", referenceID)
	default:
		return errors.Errorf("delete session: backend returned %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}
}

func (b *BackendStore) decorate(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if b.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.Token)
	}
}

func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil {
		return ""
	}
	return string(bytes.TrimSpace(data))
}

func defaultLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	return limit
}
