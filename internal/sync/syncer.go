// Package sync pulls issue data from GitLab into the local mirror and
// coordinates mutations that must succeed remotely before they are applied
// locally.
package sync

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/glimdev/glim/internal/gitlab"
	"github.com/glimdev/glim/internal/logging"
	"github.com/glimdev/glim/internal/models"
	"github.com/glimdev/glim/internal/store"
)

// maxParallelProjects bounds concurrent per-project syncs. Each project
// touches a disjoint key space, so they are safe to run side by side.
const maxParallelProjects = 4

// Syncer fetches remote records and merges them into the local store.
type Syncer struct {
	store  store.Store
	client *gitlab.Client
}

// New creates a syncer over the given store and client.
func New(s store.Store, client *gitlab.Client) *Syncer {
	return &Syncer{store: s, client: client}
}

// ProjectResult reports the outcome of syncing one project.
type ProjectResult struct {
	ProjectID int64 `json:"project_id"`
	Fetched   int   `json:"fetched"`
	Merged    int   `json:"merged"`
	Skipped   int   `json:"skipped"`
}

// SyncProjects refreshes the issue mirror for every requested project.
// With newerOnly set, each project's stored watermark bounds the fetch so
// only issues created since the last sync are requested; otherwise the full
// history is re-fetched (the merge is idempotent either way).
func (s *Syncer) SyncProjects(ctx context.Context, projectIDs []int64, newerOnly bool) ([]ProjectResult, error) {
	results := make([]ProjectResult, len(projectIDs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelProjects)
	for i, id := range projectIDs {
		g.Go(func() error {
			r, err := s.syncProject(ctx, id, newerOnly)
			if err != nil {
				return fmt.Errorf("sync project %d: %w", id, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// syncProject is one fetch-then-merge unit: refresh project metadata, fetch
// the (possibly watermark-bounded) issue pages, and commit the merged batch
// together with the advanced watermark in one transaction.
func (s *Syncer) syncProject(ctx context.Context, projectID int64, newerOnly bool) (ProjectResult, error) {
	r := ProjectResult{ProjectID: projectID}

	remote, err := s.client.FetchProject(ctx, projectID)
	if err != nil {
		return r, err
	}
	project := &models.Project{
		ID:                remote.ID,
		Name:              remote.Name,
		PathWithNamespace: remote.PathWithNamespace,
	}
	if err := s.store.UpsertProject(ctx, project); err != nil {
		return r, err
	}

	var createdAfter *time.Time
	if newerOnly {
		createdAfter = project.LastSyncedCreatedAt
	}

	records, err := s.client.FetchIssues(ctx, projectID, createdAfter)
	if err != nil {
		return r, err
	}
	r.Fetched = len(records)

	issues := make([]*models.Issue, 0, len(records))
	var newest *time.Time
	for _, rec := range records {
		issue, err := mapIssue(projectID, rec)
		if err != nil {
			logging.Warn("skipping malformed issue record", "project_id", projectID, "error", err)
			r.Skipped++
			continue
		}
		issues = append(issues, issue)
		if issue.RemoteCreatedAt != nil && (newest == nil || issue.RemoteCreatedAt.After(*newest)) {
			newest = issue.RemoteCreatedAt
		}
	}

	if err := s.store.UpsertIssues(ctx, projectID, issues, newest); err != nil {
		return r, err
	}
	r.Merged = len(issues)

	logging.Info("synced project", "project_id", projectID,
		"fetched", r.Fetched, "merged", r.Merged, "skipped", r.Skipped)
	return r, nil
}

// mapIssue converts a raw remote record into a local issue. A record without
// an iid has no natural key and is rejected; every other missing optional
// field falls back to its zero value. The assignee name/id pair is extracted
// together so the two are never set independently.
func mapIssue(projectID int64, rec gitlab.IssueRecord) (*models.Issue, error) {
	if rec.IID == nil {
		return nil, fmt.Errorf("issue record has no iid")
	}

	issue := &models.Issue{
		ProjectID:       projectID,
		IID:             *rec.IID,
		Title:           rec.Title,
		Description:     rec.Description,
		State:           rec.State,
		Labels:          rec.Labels,
		WebURL:          rec.WebURL,
		RemoteCreatedAt: gitlab.ParseTime(rec.CreatedAt),
		RemoteUpdatedAt: gitlab.ParseTime(rec.UpdatedAt),
	}
	if rec.Author != nil {
		issue.Author = rec.Author.Name
	}
	if rec.Assignee != nil {
		name := rec.Assignee.Name
		id := rec.Assignee.ID
		issue.Assignee = &name
		issue.AssigneeID = &id
	}
	return issue, nil
}

// CloseIssues closes the referenced issues on GitLab and then, only if every
// remote call succeeded, marks them closed locally in one batch write. The
// local mirror never shows an issue as closed unless its remote counterpart
// was closed first.
func (s *Syncer) CloseIssues(ctx context.Context, issueIDs []string) (int64, error) {
	issues, err := s.store.GetIssuesByIDs(ctx, issueIDs)
	if err != nil {
		return 0, err
	}
	if len(issues) != len(issueIDs) {
		return 0, fmt.Errorf("close issues: %d of %d issues: %w",
			len(issueIDs)-len(issues), len(issueIDs), store.ErrNotFound)
	}

	for _, issue := range issues {
		if err := s.client.CloseIssue(ctx, issue.ProjectID, issue.IID); err != nil {
			return 0, fmt.Errorf("close issue %d/%d remotely: %w", issue.ProjectID, issue.IID, err)
		}
	}

	n, err := s.store.MarkIssuesClosed(ctx, issueIDs)
	if err != nil {
		return 0, fmt.Errorf("mark issues closed locally: %w", err)
	}
	logging.Info("closed issues", "count", n)
	return n, nil
}
