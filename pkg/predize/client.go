// Package predize provides a typed client for the Predize helpdesk API.
//
// The client authenticates once at construction, holds the bearer token
// pair, and transparently refreshes it when the API reports an unauthorized
// request. A structured "Not Found" body is treated as an empty result.
package predize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/nocnoc-data/predize-sync/internal/resilience"
)

// Default base URL for the Predize API.
const defaultBaseURL = "https://api.predize.com"

// Client defines the Predize API operations used by the sync pipeline.
type Client interface {
	GetTickets(ctx context.Context, q TicketQuery) (*TicketPage, error)
	GetTicketMessages(ctx context.Context, ticketID int64, page, limit int) (*MessagePage, error)
	GetTicketOrders(ctx context.Context, ticketID int64) ([]Order, error)
}

// AuthError indicates the login or refresh credentials were rejected.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("predize: authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// APIError is returned when the API responds with an unexpected error body.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("predize: HTTP %d: %s", e.StatusCode, e.Body)
}

// errNotFound marks the structured "Not Found" body; callers map it to an
// empty result.
var errNotFound = eris.New("predize: not found")

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit paces requests at rps per second. The original scripts
// slept between page fetches to stay under the API's radar; a limiter does
// the same without blocking workers longer than needed.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithRetry overrides the default 3-attempt fixed-wait retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig

	// Token pair guarded by mu. generation increments on every refresh so
	// concurrent workers that hit 401 together refresh exactly once.
	mu           sync.Mutex
	generation   uint64
	accessToken  string
	refreshToken string
}

// Login authenticates against the API and returns a ready client. The login
// call is attempted up to 3 times with a fixed 3-second wait; a final
// failure is reported as *AuthError.
func Login(ctx context.Context, email, password string, opts ...Option) (Client, error) {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}

	loginRetry := c.retry
	// Login retries every failure, not just transient ones.
	loginRetry.ShouldRetry = func(error) bool { return true }
	loginRetry.OnRetry = resilience.RetryLogger("predize", "login")

	pair, err := resilience.DoVal(ctx, loginRetry, func(ctx context.Context) (tokenPair, error) {
		return c.postToken(ctx, "/v1/auth/login", map[string]string{
			"email":    email,
			"password": password,
		})
	})
	if err != nil {
		return nil, &AuthError{Err: err}
	}

	c.accessToken = pair.AccessToken
	c.refreshToken = pair.RefreshToken
	return c, nil
}

func (c *httpClient) GetTickets(ctx context.Context, q TicketQuery) (*TicketPage, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = 100
	}

	params := url.Values{}
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("limit", strconv.Itoa(q.Limit))
	setIfPresent(params, "status", q.Status)
	setIfPresent(params, "type", q.Type)
	setIfPresent(params, "claimType", q.ClaimType)
	setIfPresent(params, "greaterThanDate", q.GreaterThanDate)
	setIfPresent(params, "lessThanDate", q.LessThanDate)
	setIfPresent(params, "lastMessageFrom", q.LastMessageFrom)
	setIfPresent(params, "lastMessageTo", q.LastMessageTo)

	var page TicketPage
	err := resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		page = TicketPage{}
		return c.getJSON(ctx, "/v1/tickets?"+params.Encode(), &page)
	})
	if err != nil {
		if eris.Is(err, errNotFound) {
			return &TicketPage{}, nil
		}
		return nil, eris.Wrap(err, "predize: get tickets")
	}
	return &page, nil
}

func (c *httpClient) GetTicketMessages(ctx context.Context, ticketID int64, page, limit int) (*MessagePage, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 100
	}

	path := fmt.Sprintf("/v1/tickets/%d/messages?page=%d&limit=%d", ticketID, page, limit)

	var mp MessagePage
	err := resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		mp = MessagePage{}
		return c.getJSON(ctx, path, &mp)
	})
	if err != nil {
		if eris.Is(err, errNotFound) {
			return &MessagePage{}, nil
		}
		return nil, eris.Wrapf(err, "predize: get messages for ticket %d", ticketID)
	}
	return &mp, nil
}

func (c *httpClient) GetTicketOrders(ctx context.Context, ticketID int64) ([]Order, error) {
	path := fmt.Sprintf("/v1/tickets/%d/order", ticketID)

	var orders []Order
	err := resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		orders = nil
		return c.getJSON(ctx, path, &orders)
	})
	if err != nil {
		if eris.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "predize: get order for ticket %d", ticketID)
	}
	return orders, nil
}

// postToken posts credentials to an auth endpoint and decodes the token pair.
func (c *httpClient) postToken(ctx context.Context, path string, body map[string]string) (tokenPair, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return tokenPair{}, eris.Wrap(err, "marshal auth request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return tokenPair{}, eris.Wrap(err, "create auth request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return tokenPair{}, eris.Wrap(err, "execute auth request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return tokenPair{}, eris.Wrap(err, "read auth response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return tokenPair{}, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var pair tokenPair
	if err := json.Unmarshal(data, &pair); err != nil {
		return tokenPair{}, eris.Wrap(err, "decode token pair")
	}
	return pair, nil
}

// getJSON performs an authenticated GET. On an unauthorized response it
// refreshes the token pair and reports a transient error so the retry layer
// re-issues the request with the new token. A structured "Not Found" body
// returns errNotFound.
func (c *httpClient) getJSON(ctx context.Context, path string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "rate limit")
		}
	}

	token, gen := c.tokenSnapshot()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	env := parseEnvelope(data)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || env.Message == "Unauthorized":
		if refreshErr := c.refresh(ctx, gen); refreshErr != nil {
			return refreshErr
		}
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		return resilience.NewTransientError(apiErr, resp.StatusCode)

	case env.ErrorName == "Not Found":
		return errNotFound

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}

// tokenSnapshot returns the current access token and its generation.
func (c *httpClient) tokenSnapshot() (string, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken, c.generation
}

// refresh exchanges the refresh token for a new pair. The generation check
// makes concurrent 401s collapse into a single refresh: whoever holds the
// stale generation refreshes, everyone else reuses the result.
func (c *httpClient) refresh(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != gen {
		// Another worker already refreshed.
		return nil
	}

	pair, err := c.postToken(ctx, "/v1/auth/refresh", map[string]string{
		"refreshToken": c.refreshToken,
	})
	if err != nil {
		return &AuthError{Err: eris.Wrap(err, "refresh token")}
	}

	c.accessToken = pair.AccessToken
	c.refreshToken = pair.RefreshToken
	c.generation++
	return nil
}

func setIfPresent(params url.Values, key, val string) {
	if val != "" {
		params.Set(key, val)
	}
}

// FormatTimestamp renders a time in the millisecond UTC format the API
// expects for date filters.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
