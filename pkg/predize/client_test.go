package predize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nocnoc-data/predize-sync/internal/resilience"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, Wait: time.Millisecond}
}

// newTestClient spins up a test server whose /v1/auth/login accepts the test
// credentials, then logs a client in against it.
func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(tokenPair{AccessToken: "tok-1", RefreshToken: "ref-1"})
	})
	mux.HandleFunc("/", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := Login(context.Background(), "ops@example.com", "secret",
		WithBaseURL(srv.URL), WithRetry(fastRetry()))
	require.NoError(t, err)
	return c
}

func TestLogin(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/auth/login", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ops@example.com", body["email"])
		assert.Equal(t, "secret", body["password"])

		json.NewEncoder(w).Encode(tokenPair{AccessToken: "tok", RefreshToken: "ref"})
	}))
	t.Cleanup(srv.Close)

	c, err := Login(context.Background(), "ops@example.com", "secret",
		WithBaseURL(srv.URL), WithRetry(fastRetry()))
	require.NoError(t, err)
	assert.NotNil(t, c)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestLogin_RejectedAfterThreeAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"statusCode":401,"message":"Unauthorized"}`))
	}))
	t.Cleanup(srv.Close)

	_, err := Login(context.Background(), "ops@example.com", "wrong",
		WithBaseURL(srv.URL), WithRetry(fastRetry()))
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGetTickets(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/tickets", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))

		q := r.URL.Query()
		assert.Equal(t, "1", q.Get("page"))
		assert.Equal(t, "100", q.Get("limit"))
		assert.Equal(t, "POST_ORDER", q.Get("type"))
		assert.Equal(t, "2024-03-01T12:00:00.000Z", q.Get("lastMessageFrom"))
		assert.Empty(t, q.Get("status"))

		json.NewEncoder(w).Encode(TicketPage{
			Items: []Ticket{
				{ID: 101, Status: "OPEN", Type: "POST_ORDER"},
				{ID: 102, Status: "CLOSED", Type: "PRE_ORDER"},
			},
			Meta: PageMeta{CurrentPage: 1, TotalPages: 1, TotalItems: 2},
		})
	})

	page, err := c.GetTickets(context.Background(), TicketQuery{
		Type:            "POST_ORDER",
		LastMessageFrom: "2024-03-01T12:00:00.000Z",
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, int64(101), page.Items[0].ID.Int64())
	assert.Equal(t, 1, page.Meta.TotalPages)
}

func TestGetTickets_StringIDs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[{"id":"4711","status":"OPEN","type":"POST_ORDER","channelAccount":{"id":23,"channel":"mercadolivre"}}],"meta":{"totalPages":1}}`))
	})

	page, err := c.GetTickets(context.Background(), TicketQuery{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(4711), page.Items[0].ID.Int64())
	assert.Equal(t, "mercadolivre", page.Items[0].ChannelAccount.Channel)
}

func TestGetTickets_NotFoundBodyIsEmptyResult(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"statusCode":404,"message":"no tickets","error":"Not Found"}`))
	})

	page, err := c.GetTickets(context.Background(), TicketQuery{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestGetTicketMessages_RefreshOn401(t *testing.T) {
	var mu sync.Mutex
	refreshed := false

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(tokenPair{AccessToken: "tok-1", RefreshToken: "ref-1"})
	})
	mux.HandleFunc("/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ref-1", body["refreshToken"])

		mu.Lock()
		refreshed = true
		mu.Unlock()
		json.NewEncoder(w).Encode(tokenPair{AccessToken: "tok-2", RefreshToken: "ref-2"})
	})
	mux.HandleFunc("/v1/tickets/55/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-2" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"statusCode":401,"message":"Unauthorized"}`))
			return
		}
		json.NewEncoder(w).Encode(MessagePage{
			Items: []Message{{ID: 9, TicketID: 55, Text: "where is my order", Seller: false}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := Login(context.Background(), "ops@example.com", "secret",
		WithBaseURL(srv.URL), WithRetry(fastRetry()))
	require.NoError(t, err)

	mp, err := c.GetTicketMessages(context.Background(), 55, 1, 100)
	require.NoError(t, err)
	require.Len(t, mp.Items, 1)
	assert.Equal(t, "where is my order", mp.Items[0].Text)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, refreshed)
}

func TestGetTicketOrders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/tickets/77/order", r.URL.Path)
		w.Write([]byte(`[{"code":880011,"creationDate":"2024-02-01T10:00:00.000Z","status":"DELIVERED","channelOrderId":"Lojas Americanas-12345"}]`))
	})

	orders, err := c.GetTicketOrders(context.Background(), 77)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, int64(880011), orders[0].Code.Int64())
	assert.Equal(t, "Lojas Americanas-12345", orders[0].ChannelOrderID)
}

func TestGetTicketOrders_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"statusCode":404,"message":"ticket has no order","error":"Not Found"}`))
	})

	orders, err := c.GetTicketOrders(context.Background(), 77)
	require.NoError(t, err)
	assert.Nil(t, orders)
}

func TestGetTickets_RetriesTransientServerError(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"statusCode":502,"message":"bad gateway"}`))
			return
		}
		json.NewEncoder(w).Encode(TicketPage{Items: []Ticket{{ID: 1}}})
	})

	page, err := c.GetTickets(context.Background(), TicketQuery{})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGetTickets_PermanentErrorCarriesBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"statusCode":400,"message":"invalid claimType"}`))
	})

	_, err := c.GetTickets(context.Background(), TicketQuery{ClaimType: "NOPE"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "invalid claimType")
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2024, 3, 1, 9, 30, 0, 0, time.FixedZone("BRT", -3*3600))
	assert.Equal(t, "2024-03-01T12:30:00.000Z", FormatTimestamp(ts))
}
