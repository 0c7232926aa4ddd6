package points

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestServer(t *testing.T, svc Service) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Mount("/v1", NewHandler(svc).Routes())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postEvent(t *testing.T, srv *httptest.Server, body map[string]interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/v1/points/events", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func TestHandleRecordEvent(t *testing.T) {
	srv := newTestServer(t, newTestService(nil))
	userID := uuid.New()

	resp := postEvent(t, srv, map[string]interface{}{
		"user_id": userID.String(), "delta": 50, "type": "CHECK_IN",
		"description": "daily check-in",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var result LedgerResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	resp.Body.Close()
	assert.Equal(t, int64(50), result.NewBalance)
	assert.Equal(t, "Bronze", result.Tier.Name)
}

func TestHandleRecordEventDuplicateReturnsOriginal(t *testing.T) {
	srv := newTestServer(t, newTestService(nil))
	userID := uuid.New()

	body := map[string]interface{}{
		"user_id": userID.String(), "delta": 50, "type": "EXCHANGE",
		"ref_id": "promo1",
	}

	resp := postEvent(t, srv, body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var first LedgerResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&first))
	resp.Body.Close()

	resp = postEvent(t, srv, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var second LedgerResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&second))
	resp.Body.Close()

	assert.Equal(t, first.EntryID, second.EntryID)
	assert.Equal(t, first.NewBalance, second.NewBalance)
	assert.True(t, second.Duplicate)
}

func TestHandleRecordEventErrors(t *testing.T) {
	srv := newTestServer(t, newTestService(nil))
	userID := uuid.New()

	cases := []struct {
		name string
		body map[string]interface{}
		want int
	}{
		{
			name: "invalid user id",
			body: map[string]interface{}{"user_id": "nope", "delta": 1, "type": "CHECK_IN"},
			want: http.StatusBadRequest,
		},
		{
			name: "zero delta",
			body: map[string]interface{}{"user_id": userID.String(), "delta": 0, "type": "CHECK_IN"},
			want: http.StatusBadRequest,
		},
		{
			name: "unknown type",
			body: map[string]interface{}{"user_id": userID.String(), "delta": 1, "type": "BOGUS"},
			want: http.StatusBadRequest,
		},
		{
			name: "insufficient points",
			body: map[string]interface{}{"user_id": userID.String(), "delta": -10, "type": "CONSUMPTION"},
			want: http.StatusUnprocessableEntity,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postEvent(t, srv, tc.body)
			assert.Equal(t, tc.want, resp.StatusCode)
			resp.Body.Close()
		})
	}
}

func TestHandleGetBalanceAndEntries(t *testing.T) {
	svc := newTestService(nil)
	srv := newTestServer(t, svc)
	userID := uuid.New()

	for i := 0; i < 3; i++ {
		_, err := svc.RecordEvent(t.Context(), userID, 40, TypeCheckIn, "", "")
		require.NoError(t, err)
	}

	resp, err := http.Get(fmt.Sprintf("%s/v1/users/%s/balance", srv.URL, userID))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view BalanceView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	resp.Body.Close()
	assert.Equal(t, int64(120), view.CurrentPoints)
	assert.Equal(t, "Silver", view.Tier.Name)

	resp, err = http.Get(fmt.Sprintf("%s/v1/users/%s/entries?page=1&per_page=2", srv.URL, userID))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listing struct {
		Entries []struct {
			Seq          int64 `json:"seq"`
			BalanceAfter int64 `json:"balance_after"`
		} `json:"entries"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	resp.Body.Close()
	require.Len(t, listing.Entries, 2)
	assert.Equal(t, int64(3), listing.Entries[0].Seq)
	assert.Equal(t, int64(120), listing.Entries[0].BalanceAfter)
}

func TestRateLimitMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.With(RateLimit(rate.NewLimiter(0, 0))).Mount("/v1", NewHandler(newTestService(nil)).Routes())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/v1/users/" + uuid.NewString() + "/balance")
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	resp.Body.Close()
}
