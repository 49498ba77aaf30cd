package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimdev/glim/internal/gitlab"
	"github.com/glimdev/glim/internal/models"
	"github.com/glimdev/glim/internal/store"
)

// fakeGitLab is a scriptable stand-in for one GitLab project's API surface.
type fakeGitLab struct {
	project       gitlab.ProjectRecord
	issues        []map[string]any
	failCloseIIDs map[int64]bool

	createdAfterSeen []string
	closedIIDs       []int64
}

func (f *fakeGitLab) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v4/projects/{id}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(f.project)
	})
	mux.HandleFunc("GET /api/v4/projects/{id}/issues", func(w http.ResponseWriter, r *http.Request) {
		f.createdAfterSeen = append(f.createdAfterSeen, r.URL.Query().Get("created_after"))
		if r.URL.Query().Get("page") != "1" {
			_ = json.NewEncoder(w).Encode([]any{})
			return
		}
		_ = json.NewEncoder(w).Encode(f.issues)
	})
	mux.HandleFunc("PUT /api/v4/projects/{id}/issues/{iid}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "close", r.URL.Query().Get("state_event"))
		iid, err := strconv.ParseInt(r.PathValue("iid"), 10, 64)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if f.failCloseIIDs[iid] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		f.closedIIDs = append(f.closedIIDs, iid)
		_ = json.NewEncoder(w).Encode(map[string]string{"state": "closed"})
	})
	return mux
}

func newTestSyncer(t *testing.T, fake *fakeGitLab) (*Syncer, store.Store) {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	client, err := gitlab.NewClient(gitlab.Config{BaseURL: srv.URL, Token: "tok"})
	require.NoError(t, err)

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	return New(s, client), s
}

func rawIssue(iid int64, title, createdAt string) map[string]any {
	return map[string]any{
		"iid":        iid,
		"title":      title,
		"state":      "opened",
		"labels":     []string{"bug"},
		"author":     map[string]any{"id": 1, "name": "alice"},
		"created_at": createdAt,
		"updated_at": createdAt,
	}
}

func TestSyncProjectsFullThenIncremental(t *testing.T) {
	fake := &fakeGitLab{
		project: gitlab.ProjectRecord{ID: 7, Name: "widgets", PathWithNamespace: "acme/widgets"},
		issues: []map[string]any{
			rawIssue(1, "crash on save", "2024-03-01T10:00:00Z"),
			rawIssue(2, "add dark mode", "2024-03-02T10:00:00Z"),
		},
	}
	syncer, s := newTestSyncer(t, fake)
	ctx := context.Background()

	results, err := syncer.SyncProjects(ctx, []int64{7}, true)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ProjectResult{ProjectID: 7, Fetched: 2, Merged: 2}, results[0])

	// no watermark yet, so the first sync is unbounded
	require.Len(t, fake.createdAfterSeen, 1)
	assert.Empty(t, fake.createdAfterSeen[0])

	p, err := s.GetProject(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, p.LastSyncedCreatedAt)
	assert.Equal(t, "2024-03-02T10:00:00Z", p.LastSyncedCreatedAt.Format("2006-01-02T15:04:05Z"))

	// second sync is bounded by the stored watermark
	fake.issues = []map[string]any{rawIssue(3, "docs outdated", "2024-03-03T10:00:00Z")}
	_, err = syncer.SyncProjects(ctx, []int64{7}, true)
	require.NoError(t, err)
	require.Len(t, fake.createdAfterSeen, 2)
	assert.Equal(t, "2024-03-02T10:00:00Z", fake.createdAfterSeen[1])

	issues, _, err := s.SearchIssues(ctx, []int64{7}, store.IssueSearchFilter{})
	require.NoError(t, err)
	assert.Len(t, issues, 3)
}

func TestSyncProjectsFullIgnoresWatermark(t *testing.T) {
	fake := &fakeGitLab{
		project: gitlab.ProjectRecord{ID: 7, Name: "widgets"},
		issues:  []map[string]any{rawIssue(1, "crash on save", "2024-03-01T10:00:00Z")},
	}
	syncer, s := newTestSyncer(t, fake)
	ctx := context.Background()

	_, err := syncer.SyncProjects(ctx, []int64{7}, true)
	require.NoError(t, err)

	// full sync leaves created_after unset even though a watermark exists
	_, err = syncer.SyncProjects(ctx, []int64{7}, false)
	require.NoError(t, err)
	require.Len(t, fake.createdAfterSeen, 2)
	assert.Empty(t, fake.createdAfterSeen[1])

	// re-fetching everything never duplicates
	issues, _, err := s.SearchIssues(ctx, []int64{7}, store.IssueSearchFilter{})
	require.NoError(t, err)
	assert.Len(t, issues, 1)
}

func TestSyncSkipsRecordsWithoutIID(t *testing.T) {
	broken := rawIssue(0, "no natural key", "2024-03-01T10:00:00Z")
	delete(broken, "iid")

	fake := &fakeGitLab{
		project: gitlab.ProjectRecord{ID: 7, Name: "widgets"},
		issues: []map[string]any{
			rawIssue(1, "good", "2024-03-01T10:00:00Z"),
			broken,
			rawIssue(2, "also good", "2024-03-02T10:00:00Z"),
		},
	}
	syncer, s := newTestSyncer(t, fake)
	ctx := context.Background()

	results, err := syncer.SyncProjects(ctx, []int64{7}, true)
	require.NoError(t, err)
	assert.Equal(t, ProjectResult{ProjectID: 7, Fetched: 3, Merged: 2, Skipped: 1}, results[0])

	issues, _, err := s.SearchIssues(ctx, []int64{7}, store.IssueSearchFilter{})
	require.NoError(t, err)
	assert.Len(t, issues, 2)
}

func TestSyncMalformedTimestampDoesNotAdvanceWatermark(t *testing.T) {
	fake := &fakeGitLab{
		project: gitlab.ProjectRecord{ID: 7, Name: "widgets"},
		issues:  []map[string]any{rawIssue(1, "bad clock", "not-a-timestamp")},
	}
	syncer, s := newTestSyncer(t, fake)
	ctx := context.Background()

	results, err := syncer.SyncProjects(ctx, []int64{7}, true)
	require.NoError(t, err)
	// the record itself is fine (iid present), only its timestamp is null
	assert.Equal(t, ProjectResult{ProjectID: 7, Fetched: 1, Merged: 1}, results[0])

	p, err := s.GetProject(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, p.LastSyncedCreatedAt)

	issues, _, err := s.SearchIssues(ctx, []int64{7}, store.IssueSearchFilter{})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Nil(t, issues[0].RemoteCreatedAt)
}

func seedIssues(t *testing.T, s store.Store, iids ...int64) []string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpsertProject(ctx, &models.Project{ID: 7, Name: "widgets"}))

	ids := make([]string, len(iids))
	for i, iid := range iids {
		issue := &models.Issue{IID: iid, Title: "issue", State: "opened", Author: "alice"}
		require.NoError(t, s.UpsertIssues(ctx, 7, []*models.Issue{issue}, nil))
		ids[i] = issue.ID
	}
	return ids
}

func TestCloseIssuesRemoteThenLocal(t *testing.T) {
	fake := &fakeGitLab{project: gitlab.ProjectRecord{ID: 7, Name: "widgets"}}
	syncer, s := newTestSyncer(t, fake)
	ctx := context.Background()

	ids := seedIssues(t, s, 1, 2)

	n, err := syncer.CloseIssues(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.ElementsMatch(t, []int64{1, 2}, fake.closedIIDs)

	for _, id := range ids {
		issue, err := s.GetIssue(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.IssueStateClosed, issue.State)
	}
}

func TestCloseIssuesAbortsLocalOnRemoteFailure(t *testing.T) {
	fake := &fakeGitLab{
		project:       gitlab.ProjectRecord{ID: 7, Name: "widgets"},
		failCloseIIDs: map[int64]bool{2: true},
	}
	syncer, s := newTestSyncer(t, fake)
	ctx := context.Background()

	ids := seedIssues(t, s, 1, 2)

	_, err := syncer.CloseIssues(ctx, ids)
	require.Error(t, err)
	assert.True(t, gitlab.IsRejected(err))

	// one remote close may have gone through, but locally nothing moved
	for _, id := range ids {
		issue, err := s.GetIssue(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "opened", issue.State)
	}
}

func TestCloseIssuesUnknownID(t *testing.T) {
	fake := &fakeGitLab{project: gitlab.ProjectRecord{ID: 7, Name: "widgets"}}
	syncer, s := newTestSyncer(t, fake)
	ctx := context.Background()

	ids := seedIssues(t, s, 1)

	_, err := syncer.CloseIssues(ctx, append(ids, "no-such-id"))
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, fake.closedIIDs, "no remote call for a partially unknown batch")
}

func TestMapIssue(t *testing.T) {
	iid := int64(5)
	rec := gitlab.IssueRecord{
		IID:       &iid,
		Title:     "crash on save",
		State:     "opened",
		Labels:    []string{"bug"},
		Author:    &gitlab.UserRef{ID: 1, Name: "alice"},
		Assignee:  &gitlab.UserRef{ID: 2, Name: "bob"},
		CreatedAt: "2024-03-01T10:00:00Z",
	}

	issue, err := mapIssue(7, rec)
	require.NoError(t, err)
	assert.Equal(t, int64(7), issue.ProjectID)
	assert.Equal(t, int64(5), issue.IID)
	assert.Equal(t, "alice", issue.Author)
	require.NotNil(t, issue.Assignee)
	assert.Equal(t, "bob", *issue.Assignee)
	require.NotNil(t, issue.AssigneeID)
	assert.Equal(t, int64(2), *issue.AssigneeID)
	require.NotNil(t, issue.RemoteCreatedAt)

	// no assignee: name and id are both absent
	rec.Assignee = nil
	issue, err = mapIssue(7, rec)
	require.NoError(t, err)
	assert.Nil(t, issue.Assignee)
	assert.Nil(t, issue.AssigneeID)

	// no iid: unmergeable
	rec.IID = nil
	_, err = mapIssue(7, rec)
	assert.Error(t, err)
}
