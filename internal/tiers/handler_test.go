package tiers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdminServer(t *testing.T, store Store) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Mount("/v1/tiers", NewHandler(store).Routes())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postTier(t *testing.T, srv *httptest.Server, body map[string]interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/v1/tiers", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func TestTierAdminCRUD(t *testing.T) {
	store := NewMemoryStore()
	srv := newAdminServer(t, store)

	// Create.
	resp := postTier(t, srv, map[string]interface{}{
		"name": "Bronze", "level": 1, "min_points": 0, "max_points": 100,
		"discount_rate": "1.00",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created Tier
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	assert.Equal(t, "Bronze", created.Name)
	assert.True(t, created.Active)

	// Duplicate level conflicts.
	resp = postTier(t, srv, map[string]interface{}{
		"name": "Shadow", "level": 1, "min_points": 0,
		"discount_rate": "1.00",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// Update.
	raw, _ := json.Marshal(map[string]interface{}{
		"name": "Bronze", "level": 1, "min_points": 0, "max_points": 150,
		"discount_rate": "0.99",
	})
	req, _ := http.NewRequest(http.MethodPut, fmt.Sprintf("%s/v1/tiers/%s", srv.URL, created.ID), bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated Tier
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&updated))
	resp.Body.Close()
	require.NotNil(t, updated.MaxPoints)
	assert.Equal(t, int64(150), *updated.MaxPoints)

	// Deactivate keeps the row but hides it from the active table.
	req, _ = http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/v1/tiers/%s", srv.URL, created.ID), nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	active, err := store.ListActive(t.Context())
	require.NoError(t, err)
	assert.Empty(t, active)
	all, err := store.List(t.Context())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestTierAdminValidation(t *testing.T) {
	srv := newAdminServer(t, NewMemoryStore())

	resp := postTier(t, srv, map[string]interface{}{
		"name": "", "level": 1, "min_points": 0, "discount_rate": "1.00",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()

	resp = postTier(t, srv, map[string]interface{}{
		"name": "Broken", "level": 1, "min_points": 100, "max_points": 50,
		"discount_rate": "1.00",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()
}

func TestTierTableValidateEndpoint(t *testing.T) {
	store := NewMemoryStore()
	srv := newAdminServer(t, store)

	var report struct {
		Valid  bool   `json:"valid"`
		Reason string `json:"reason"`
	}

	// A gap is reported, not silently accepted.
	store.Seed([]Tier{
		bounded(0, 100, 1, "Bronze"),
		unbounded(200, 2, "Silver"),
	})
	resp, err := http.Get(srv.URL + "/v1/tiers/validate")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	resp.Body.Close()
	assert.False(t, report.Valid)
	assert.Contains(t, report.Reason, "gap")

	store.Seed(wellFormedTable())
	resp, err = http.Get(srv.URL + "/v1/tiers/validate")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	resp.Body.Close()
	assert.True(t, report.Valid)
}
