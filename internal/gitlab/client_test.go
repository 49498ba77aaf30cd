package gitlab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issuePage(start, n int) []IssueRecord {
	page := make([]IssueRecord, n)
	for i := range page {
		iid := int64(start + i)
		page[i] = IssueRecord{
			IID:       &iid,
			Title:     fmt.Sprintf("issue %d", iid),
			State:     "opened",
			CreatedAt: "2024-03-01T10:00:00Z",
		}
	}
	return page
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{BaseURL: srv.URL, Token: "test-token"})
	require.NoError(t, err)
	return c, srv
}

func TestNewClientNotConfigured(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "", Token: "tok"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewClient(Config{BaseURL: "https://gitlab.example.com", Token: ""})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestFetchIssuesPaginatesUntilShortPage(t *testing.T) {
	var requests int
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.Equal(t, "test-token", r.Header.Get("PRIVATE-TOKEN"))
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))

		var page []IssueRecord
		switch r.URL.Query().Get("page") {
		case "1":
			page = issuePage(1, 100)
		case "2":
			page = issuePage(101, 100)
		case "3":
			page = issuePage(201, 37)
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
			page = []IssueRecord{}
		}
		_ = json.NewEncoder(w).Encode(page)
	}))

	issues, err := c.FetchIssues(context.Background(), 42, nil)
	require.NoError(t, err)
	assert.Len(t, issues, 237)
	assert.Equal(t, 3, requests, "a short page must end the walk")
	assert.Equal(t, int64(1), *issues[0].IID)
	assert.Equal(t, int64(237), *issues[236].IID)
}

func TestFetchIssuesPaginatesUntilEmptyPage(t *testing.T) {
	var requests int
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		var page []IssueRecord
		switch r.URL.Query().Get("page") {
		case "1", "2", "3":
			page = issuePage(1, 100)
		default:
			page = []IssueRecord{}
		}
		_ = json.NewEncoder(w).Encode(page)
	}))

	issues, err := c.FetchIssues(context.Background(), 42, nil)
	require.NoError(t, err)
	assert.Len(t, issues, 300)
	assert.Equal(t, 4, requests, "full pages require one more probe request")
}

func TestFetchIssuesForwardsCreatedAfter(t *testing.T) {
	var gotQuery string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		assert.Equal(t, "all", r.URL.Query().Get("scope"))
		assert.Equal(t, "created_at", r.URL.Query().Get("order_by"))
		assert.Equal(t, "asc", r.URL.Query().Get("sort"))
		_ = json.NewEncoder(w).Encode([]IssueRecord{})
	}))

	after := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	_, err := c.FetchIssues(context.Background(), 42, &after)
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "created_after=2024-03-01T10%3A00%3A00Z")
}

func TestFetchIssuesFailedPageAbortsWhole(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(issuePage(1, 100))
	}))

	issues, err := c.FetchIssues(context.Background(), 42, nil)
	assert.Nil(t, issues, "no partial result on a failed page")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.True(t, IsRejected(err))
	assert.False(t, IsUnavailable(err))
}

func TestFetchProject(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/projects/7", r.URL.Path)
		_ = json.NewEncoder(w).Encode(ProjectRecord{ID: 7, Name: "widgets", PathWithNamespace: "acme/widgets"})
	}))

	p, err := c.FetchProject(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.ID)
	assert.Equal(t, "acme/widgets", p.PathWithNamespace)
}

func TestFetchCommitsQuery(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/projects/7/repository/commits", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("all"))
		assert.Equal(t, "true", r.URL.Query().Get("with_stats"))
		assert.Equal(t, "2024-01-01T00:00:00Z", r.URL.Query().Get("since"))
		_ = json.NewEncoder(w).Encode([]CommitRecord{
			{AuthorName: "alice", CommittedDate: "2024-01-03T09:00:00Z", Stats: &CommitStats{Additions: 5, Deletions: 2}},
		})
	}))

	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	commits, err := c.FetchCommits(context.Background(), 7, &since, nil)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, "alice", commits[0].AuthorName)
	assert.Equal(t, 5, commits[0].Stats.Additions)
}

func TestCloseIssue(t *testing.T) {
	var gotMethod, gotPath, gotQuery string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(map[string]string{"state": "closed"})
	}))

	require.NoError(t, c.CloseIssue(context.Background(), 7, 31))
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/api/v4/projects/7/issues/31", gotPath)
	assert.Equal(t, "state_event=close", gotQuery)
}

func TestCloseIssueRejected(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	err := c.CloseIssue(context.Background(), 7, 31)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.NotFound())
	assert.Equal(t, http.MethodPut, apiErr.Method)
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c, err := NewClient(Config{BaseURL: srv.URL, Token: "tok"})
	require.NoError(t, err)

	_, err = c.FetchProject(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.False(t, IsRejected(err))

	var te *TransportError
	assert.True(t, errors.As(err, &te))
}

func TestParseTime(t *testing.T) {
	ts := ParseTime("2024-03-01T10:30:00Z")
	require.NotNil(t, ts)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC), *ts)

	// offsets normalize to UTC
	ts = ParseTime("2024-03-01T12:30:00+02:00")
	require.NotNil(t, ts)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC), *ts)

	assert.Nil(t, ParseTime(""))
	assert.Nil(t, ParseTime("not-a-timestamp"))
}
