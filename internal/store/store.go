package store

import (
	"context"
	"errors"
	"time"

	"github.com/glimdev/glim/internal/models"
)

// ErrNotFound marks lookups for entities that do not exist locally.
// Callers distinguish it with errors.Is.
var ErrNotFound = errors.New("not found")

// IssueSearchFilter holds the optional, conjunctive search predicates.
// Zero values mean "no filter".
type IssueSearchFilter struct {
	Query    string // case-insensitive substring over title OR description
	Author   string // exact
	Assignee string // exact
	Label    string // membership in the issue's label set
	Category string // exact
	Note     string // case-insensitive substring
}

// Store defines the persistence interface for glim.
type Store interface {
	// Settings
	GetSetting(ctx context.Context) (*models.Setting, error)
	UpsertSetting(ctx context.Context, s *models.Setting) error

	// Projects
	UpsertProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id int64) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)

	// Issues
	// UpsertIssues reconciles a synced batch against the mirror and, in the
	// same transaction, advances the project watermark to newestCreatedAt
	// when it is newer than the stored one.
	UpsertIssues(ctx context.Context, projectID int64, issues []*models.Issue, newestCreatedAt *time.Time) error
	GetIssue(ctx context.Context, id string) (*models.Issue, error)
	GetIssuesByIDs(ctx context.Context, ids []string) ([]*models.Issue, error)
	// SearchIssues returns matching issues newest-created-first plus the
	// per-assignee count over the project scope (independent of the other
	// filters; unassigned issues count under "Unassigned").
	SearchIssues(ctx context.Context, projectIDs []int64, f IssueSearchFilter) ([]*models.Issue, map[string]int, error)
	UpdateIssueLocalFields(ctx context.Context, id string, note, category *string) (*models.Issue, error)
	MarkIssuesClosed(ctx context.Context, ids []string) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
