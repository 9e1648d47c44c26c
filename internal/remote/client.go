// Package remote is a thin client for the Postgrest-style table store
// behind the product. It knows upsert and filtered select, nothing else;
// retrying is the sync coordinator's job.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Error is a failed remote call. Retryable errors are expected under
// unreliable connectivity and leave records dirty for the next sync pass;
// non-retryable auth errors must bubble up to re-authentication.
type Error struct {
	Status    int // 0 for transport-level failures
	Retryable bool
	Body      string
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("remote: transport failure: %s", e.Body)
	}
	return fmt.Sprintf("remote: status %d: %s", e.Status, e.Body)
}

// IsRetryable reports whether err is a remote failure worth retrying on a
// later sync trigger.
func IsRetryable(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Retryable
}

// IsAuthError reports whether err means the session token is no longer
// accepted and the user has to sign in again.
func IsAuthError(err error) bool {
	var re *Error
	return errors.As(err, &re) && (re.Status == http.StatusUnauthorized || re.Status == http.StatusForbidden)
}

// TokenFunc supplies the bearer token for each call. Returning false makes
// the call fail fast with a non-retryable error; callers are expected to
// check the session before starting a sync run.
type TokenFunc func() (token string, ok bool)

// Client talks to one Postgrest base URL.
type Client struct {
	baseURL string
	apiKey  string
	token   TokenFunc
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a client. timeout bounds every individual call.
func NewClient(baseURL, apiKey string, token TokenFunc, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		token:   token,
		http:    &http.Client{Timeout: timeout},
		// Keep background sync polite: sustained 10 req/s with small bursts.
		limiter: rate.NewLimiter(10, 20),
	}
}

// Upsert writes one row by primary key with replace semantics, which is
// what makes pushes idempotent.
func (c *Client) Upsert(ctx context.Context, table string, row any) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encoding %s row: %w", table, err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.baseURL+"/rest/v1/"+table, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "resolution=merge-duplicates")

	_, err = c.do(req)
	return err
}

// Select reads rows matching the given Postgrest filters (e.g.
// {"user_id": "eq.abc", "last_updated": "gte.1000"}) into out.
func (c *Client) Select(ctx context.Context, table string, filters map[string]string, out any) error {
	q := url.Values{"select": {"*"}}
	for k, v := range filters {
		q.Set(k, v)
	}

	req, err := c.newRequest(ctx, http.MethodGet, c.baseURL+"/rest/v1/"+table+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}

	body, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s rows: %w", table, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	token, ok := c.token()
	if !ok {
		return nil, &Error{Status: http.StatusUnauthorized, Retryable: false, Body: "no session token"}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, &Error{Retryable: true, Body: err.Error()}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts and connectivity failures are the normal offline case.
		return nil, &Error{Retryable: true, Body: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Retryable: true, Body: err.Error()}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	return nil, &Error{
		Status:    resp.StatusCode,
		Retryable: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		Body:      truncate(string(body), 256),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
