package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rhombus.app/internal/audit"
	"rhombus.app/internal/obs"
)

// Decision is the external policy verdict for one (resource, action) pair.
// Force means the verdict is authoritative and local rules must not run.
type Decision struct {
	Allow bool `json:"allow"`
	Force bool `json:"force"`
}

// Decisions maps resourceID -> action -> decision.
type Decisions map[string]map[string]Decision

// Get returns the decision for a resource/action pair.
func (d Decisions) Get(resourceID, action string) (Decision, bool) {
	byAction, ok := d[resourceID]
	if !ok {
		return Decision{}, false
	}
	dec, ok := byAction[action]
	return dec, ok
}

var (
	ErrUnavailable = errors.New("policy: service unavailable")
	ErrMalformed   = errors.New("policy: malformed response")
)

const (
	documentType    = "rhombus"
	requestIDHeader = "X-Request-Id"

	defaultTimeout  = 5 * time.Second
	defaultAttempts = 3
	defaultBackoff  = 100 * time.Millisecond
)

// Client queries the space/document policy service over HTTP. Transient
// failures are retried with bounded exponential backoff before an error is
// surfaced; callers treat any error as a fail-closed external denial.
type Client struct {
	baseURL  string
	http     *http.Client
	attempts int
	backoff  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithAttempts sets the total number of attempts per call (minimum 1).
func WithAttempts(n int) Option {
	return func(c *Client) {
		if n >= 1 {
			c.attempts = n
		}
	}
}

// WithBackoff sets the initial retry backoff; it doubles on every retry.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.backoff = d
		}
	}
}

// New creates a client for the policy service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: defaultTimeout},
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PermissionsForDocuments fetches decisions for every (document, action) pair
// in one call.
func (c *Client) PermissionsForDocuments(ctx context.Context, userID, teamID string, actions, documentIDs []string) (Decisions, error) {
	if len(actions) == 0 || len(documentIDs) == 0 {
		return nil, fmt.Errorf("%w: empty actions or document ids", ErrMalformed)
	}
	q := url.Values{}
	q.Set("userId", userID)
	q.Set("teamId", teamID)
	q.Set("actions", strings.Join(actions, ","))
	q.Set("documentIds", strings.Join(documentIDs, ","))
	q.Set("documentType", documentType)
	return c.fetch(ctx, q)
}

// PermissionsForSpace fetches decisions for one action against one space.
func (c *Client) PermissionsForSpace(ctx context.Context, userID, teamID, spaceID, action string) (Decisions, error) {
	if spaceID == "" || action == "" {
		return nil, fmt.Errorf("%w: empty space id or action", ErrMalformed)
	}
	q := url.Values{}
	q.Set("userId", userID)
	q.Set("teamId", teamID)
	q.Set("actions", action)
	q.Set("spaceIds", spaceID)
	return c.fetch(ctx, q)
}

type permissionsResponse struct {
	Data Decisions `json:"data"`
}

func (c *Client) fetch(ctx context.Context, q url.Values) (Decisions, error) {
	endpoint := c.baseURL + "/v1/spaces/permissions?" + q.Encode()

	var lastErr error
	backoff := c.backoff
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		decisions, retryable, err := c.do(ctx, endpoint)
		if err == nil {
			return decisions, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, endpoint string) (Decisions, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if rid := audit.RequestIDFromContext(ctx); rid != "" {
		req.Header.Set(requestIDHeader, rid)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	obs.ObservePolicyRequest(resp.StatusCode)

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, true, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	var payload permissionsResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if payload.Data == nil {
		return nil, false, fmt.Errorf("%w: missing data", ErrMalformed)
	}
	return payload.Data, false, nil
}
