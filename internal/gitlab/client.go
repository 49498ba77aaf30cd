// Package gitlab is a minimal GitLab REST client covering the project,
// issue, and commit endpoints the mirror needs.
package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultPageSize = 100

// Config carries the connection settings for one client. It is passed in
// explicitly per construction; there is no ambient global configuration.
type Config struct {
	BaseURL string
	Token   string
}

// Client talks to a single GitLab server using a private token.
type Client struct {
	baseURL    string
	token      string
	pageSize   int
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithPageSize overrides the listing page size (default 100).
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithHTTPClient replaces the underlying http client (used in tests and to
// tune the request timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient builds a client from cfg. Returns ErrNotConfigured when the
// server URL or token is missing.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" || cfg.Token == "" {
		return nil, ErrNotConfigured
	}
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		pageSize:   defaultPageSize,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// get performs one GET and decodes the JSON body into out. A non-2xx status
// becomes an *APIError; transport failures come back wrapped.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + "/api/v4" + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Method: http.MethodGet, Path: path}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response for %s: %w", path, err)
	}
	return nil
}

// fetchPaged walks a page-based listing endpoint until exhaustion: an empty
// page or a page shorter than the page size ends the walk. Pages are fetched
// strictly in order; any failed page aborts the whole fetch with no partial
// result.
func fetchPaged[T any](ctx context.Context, c *Client, path string, params url.Values) ([]T, error) {
	var all []T
	for page := 1; ; page++ {
		params.Set("per_page", strconv.Itoa(c.pageSize))
		params.Set("page", strconv.Itoa(page))

		var batch []T
		if err := c.get(ctx, path, params, &batch); err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)
		if len(batch) < c.pageSize {
			break
		}
	}
	return all, nil
}

// FetchProject returns the metadata for one project.
func (c *Client) FetchProject(ctx context.Context, projectID int64) (*ProjectRecord, error) {
	var p ProjectRecord
	if err := c.get(ctx, fmt.Sprintf("/projects/%d", projectID), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// FetchIssues lists a project's issues ordered ascending by creation time.
// createdAfter, when non-nil, is forwarded as the created_after filter so an
// incremental sync only receives newer records. A record created in the same
// instant as the bound may be returned again; the merge layer is idempotent,
// so that is harmless.
func (c *Client) FetchIssues(ctx context.Context, projectID int64, createdAfter *time.Time) ([]IssueRecord, error) {
	params := url.Values{}
	params.Set("scope", "all")
	params.Set("order_by", "created_at")
	params.Set("sort", "asc")
	if createdAfter != nil {
		params.Set("created_after", createdAfter.UTC().Format(time.RFC3339))
	}
	return fetchPaged[IssueRecord](ctx, c, fmt.Sprintf("/projects/%d/issues", projectID), params)
}

// FetchCommits lists repository commits within [since, until], with line
// stats. The commit listing does not guarantee any ordering, so the window
// is applied purely as a filter.
func (c *Client) FetchCommits(ctx context.Context, projectID int64, since, until *time.Time) ([]CommitRecord, error) {
	params := url.Values{}
	params.Set("all", "true")
	params.Set("with_stats", "true")
	if since != nil {
		params.Set("since", since.UTC().Format(time.RFC3339))
	}
	if until != nil {
		params.Set("until", until.UTC().Format(time.RFC3339))
	}
	return fetchPaged[CommitRecord](ctx, c, fmt.Sprintf("/projects/%d/repository/commits", projectID), params)
}

// CloseIssue asks GitLab to close one issue. A non-2xx response is a hard
// failure; callers must not mark the issue closed locally when this errors.
func (c *Client) CloseIssue(ctx context.Context, projectID, iid int64) error {
	path := fmt.Sprintf("/projects/%d/issues/%d", projectID, iid)
	u := c.baseURL + "/api/v4" + path + "?state_event=close"

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Method: http.MethodPut, Path: path}
	}
	return nil
}
