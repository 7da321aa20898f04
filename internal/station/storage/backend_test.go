package storage_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/gridswap/go-station-ops/internal/config"
	"github.com/gridswap/go-station-ops/internal/station/session"
	"github.com/gridswap/go-station-ops/internal/station/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) *session.Session {
	t.Helper()

	clock := time2.NewMockClock(time.Now())
	s, err := session.New(clock, session.WorkflowAssetSwap, 6, session.Actor{ID: "op-1", Role: "attendant"}, 24*time.Hour)
	require.NoError(t, err)
	return s
}

func TestBackendStore_SaveSendsWholeDocument(t *testing.T) {
	s := newTestSession(t)
	s.Version = 3

	var gotPath, gotMethod, gotAuth string
	var gotDoc map[string]json.RawMessage

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotDoc))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := storage.NewBackendStore(config.Backend{BaseURL: srv.URL, Token: "tok-1"}, nil)
	require.NoError(t, store.Save(context.Background(), "order-7", s))

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/api/v1/station/orders/order-7/session", gotPath)
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Contains(t, gotDoc, "sessionId")
	assert.Contains(t, gotDoc, "flowState")
	assert.Contains(t, gotDoc, "recoverySummary")
	assert.JSONEq(t, "3", string(gotDoc["version"]))
}

func TestBackendStore_SaveVersionConflictIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	store := storage.NewBackendStore(config.Backend{BaseURL: srv.URL}, nil)
	err := store.Save(context.Background(), "order-7", newTestSession(t))
	assert.ErrorIs(t, err, storage.ErrVersionConflict)
}

func TestBackendStore_LoadRoundTrip(t *testing.T) {
	s := newTestSession(t)
	doc, err := json.Marshal(s)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc)
	}))
	defer srv.Close()

	store := storage.NewBackendStore(config.Backend{BaseURL: srv.URL}, nil)
	loaded, err := store.Load(context.Background(), "order-7")
	require.NoError(t, err)

	assert.Equal(t, s.SessionID, loaded.SessionID)
	assert.Equal(t, s.FlowState, loaded.FlowState)
	assert.Equal(t, s.WorkflowType, loaded.WorkflowType)
}

func TestBackendStore_LoadNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	store := storage.NewBackendStore(config.Backend{BaseURL: srv.URL}, nil)
	_, err := store.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)
}

func TestBackendStore_LoadNeverReturnsPartialSession(t *testing.T) {
	cases := map[string]string{
		"truncated": `{"sessionId": "abc", "flowSt`,
		"empty":     `{}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			store := storage.NewBackendStore(config.Backend{BaseURL: srv.URL}, nil)
			loaded, err := store.Load(context.Background(), "order-7")
			assert.ErrorIs(t, err, storage.ErrMalformedDocument)
			assert.Nil(t, loaded)
		})
	}
}

func TestBackendStore_ListPassesFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "ASSET_SWAP", q.Get("type"))
		assert.Equal(t, "in_progress", q.Get("status"))
		assert.Equal(t, "jane", q.Get("search"))
		assert.Equal(t, "2", q.Get("page"))
		assert.Equal(t, "10", q.Get("limit"))

		_ = json.NewEncoder(w).Encode(storage.Page{
			Sessions: []storage.Summary{{ReferenceID: "order-1", WorkflowType: session.WorkflowAssetSwap}},
			Pagination: storage.Pagination{
				Page: 2, Limit: 10, Total: 11, TotalPages: 2, HasNextPage: false,
			},
		})
	}))
	defer srv.Close()

	store := storage.NewBackendStore(config.Backend{BaseURL: srv.URL}, nil)
	page, err := store.List(context.Background(), storage.Filter{
		Type: "ASSET_SWAP", Status: "in_progress", Search: "jane", Page: 2, Limit: 10,
	})
	require.NoError(t, err)

	assert.Len(t, page.Sessions, 1)
	assert.Equal(t, 2, page.Pagination.Page)
	assert.False(t, page.Pagination.HasNextPage)
}
