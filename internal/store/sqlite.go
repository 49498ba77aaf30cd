package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/glimdev/glim/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool, so
	// concurrent syncs for the same project cannot interleave their writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Settings ---

func (s *SQLiteStore) GetSetting(ctx context.Context) (*models.Setting, error) {
	setting := &models.Setting{}
	err := s.db.QueryRowContext(ctx,
		"SELECT gitlab_server, api_token FROM settings WHERE id = 1",
	).Scan(&setting.GitLabServer, &setting.APIToken)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("setting: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get setting: %w", err)
	}
	return setting, nil
}

func (s *SQLiteStore) UpsertSetting(ctx context.Context, setting *models.Setting) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (id, gitlab_server, api_token) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET gitlab_server = excluded.gitlab_server, api_token = excluded.api_token`,
		setting.GitLabServer, setting.APIToken,
	)
	if err != nil {
		return fmt.Errorf("upsert setting: %w", err)
	}
	return nil
}

// --- Projects ---

func (s *SQLiteStore) UpsertProject(ctx context.Context, p *models.Project) error {
	now := time.Now().UTC()
	p.UpdatedAt = now

	// The watermark is deliberately left out of the update branch: it only
	// moves through UpsertIssues.
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET name = ?, path_with_namespace = ?, updated_at = ? WHERE id = ?`,
		p.Name, p.PathWithNamespace, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		existing, err := s.GetProject(ctx, p.ID)
		if err != nil {
			return err
		}
		p.LastSyncedCreatedAt = existing.LastSyncedCreatedAt
		p.CreatedAt = existing.CreatedAt
		return nil
	}

	p.CreatedAt = now
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, path_with_namespace, last_synced_created_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.PathWithNamespace, p.LastSyncedCreatedAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	p := &models.Project{}
	var lastSynced sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, path_with_namespace, last_synced_created_at, created_at, updated_at
		FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.PathWithNamespace, &lastSynced, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	if lastSynced.Valid {
		t := lastSynced.Time.UTC()
		p.LastSyncedCreatedAt = &t
	}
	return p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*models.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, path_with_namespace, last_synced_created_at, created_at, updated_at
		FROM projects ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []*models.Project
	for rows.Next() {
		p := &models.Project{}
		var lastSynced sql.NullTime
		if err := rows.Scan(&p.ID, &p.Name, &p.PathWithNamespace, &lastSynced, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		if lastSynced.Valid {
			t := lastSynced.Time.UTC()
			p.LastSyncedCreatedAt = &t
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// --- Issues ---

const issueColumns = `id, project_id, iid, title, description, state, labels, author, assignee, assignee_id, web_url, remote_created_at, remote_updated_at, note, category, created_at, updated_at`

// UpsertIssues merges a batch of synced issues into the mirror. Existing rows
// (matched on project_id+iid) get their remote-sourced fields overwritten;
// note and category are never touched. New rows get a fresh ULID. The
// watermark update rides in the same transaction, so either the whole batch
// and the new watermark land, or nothing does.
func (s *SQLiteStore) UpsertIssues(ctx context.Context, projectID int64, issues []*models.Issue, newestCreatedAt *time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, issue := range issues {
		labelsJSON, err := json.Marshal(issue.Labels)
		if err != nil {
			return fmt.Errorf("marshal labels for issue %d: %w", issue.IID, err)
		}

		var existingID string
		err = tx.QueryRowContext(ctx,
			"SELECT id FROM issues WHERE project_id = ? AND iid = ?",
			projectID, issue.IID,
		).Scan(&existingID)

		switch {
		case err == sql.ErrNoRows:
			issue.ID = newULID()
			issue.ProjectID = projectID
			issue.CreatedAt = now
			issue.UpdatedAt = now
			_, err = tx.ExecContext(ctx,
				`INSERT INTO issues (`+issueColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				issue.ID, projectID, issue.IID, issue.Title, issue.Description, issue.State,
				string(labelsJSON), issue.Author, issue.Assignee, issue.AssigneeID, issue.WebURL,
				issue.RemoteCreatedAt, issue.RemoteUpdatedAt, issue.Note, issue.Category,
				issue.CreatedAt, issue.UpdatedAt,
			)
			if err != nil {
				return fmt.Errorf("insert issue %d/%d: %w", projectID, issue.IID, err)
			}
		case err != nil:
			return fmt.Errorf("lookup issue %d/%d: %w", projectID, issue.IID, err)
		default:
			issue.ID = existingID
			issue.ProjectID = projectID
			issue.UpdatedAt = now
			_, err = tx.ExecContext(ctx,
				`UPDATE issues SET title = ?, description = ?, state = ?, labels = ?, author = ?,
				assignee = ?, assignee_id = ?, web_url = ?, remote_created_at = ?, remote_updated_at = ?, updated_at = ?
				WHERE id = ?`,
				issue.Title, issue.Description, issue.State, string(labelsJSON), issue.Author,
				issue.Assignee, issue.AssigneeID, issue.WebURL,
				issue.RemoteCreatedAt, issue.RemoteUpdatedAt, issue.UpdatedAt,
				existingID,
			)
			if err != nil {
				return fmt.Errorf("update issue %d/%d: %w", projectID, issue.IID, err)
			}
		}
	}

	if newestCreatedAt != nil {
		// Monotone: only move the watermark forward.
		_, err = tx.ExecContext(ctx,
			`UPDATE projects SET last_synced_created_at = ?
			WHERE id = ? AND (last_synced_created_at IS NULL OR last_synced_created_at < ?)`,
			newestCreatedAt.UTC(), projectID, newestCreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("advance watermark for project %d: %w", projectID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// scanIssue reads one issue row. dest order must match issueColumns.
func scanIssue(scan func(dest ...any) error) (*models.Issue, error) {
	issue := &models.Issue{}
	var labelsJSON string
	var assignee sql.NullString
	var assigneeID sql.NullInt64
	var remoteCreated, remoteUpdated sql.NullTime

	err := scan(&issue.ID, &issue.ProjectID, &issue.IID, &issue.Title, &issue.Description,
		&issue.State, &labelsJSON, &issue.Author, &assignee, &assigneeID, &issue.WebURL,
		&remoteCreated, &remoteUpdated, &issue.Note, &issue.Category,
		&issue.CreatedAt, &issue.UpdatedAt)
	if err != nil {
		return nil, err
	}

	_ = json.Unmarshal([]byte(labelsJSON), &issue.Labels)
	if assignee.Valid {
		issue.Assignee = &assignee.String
	}
	if assigneeID.Valid {
		issue.AssigneeID = &assigneeID.Int64
	}
	if remoteCreated.Valid {
		t := remoteCreated.Time.UTC()
		issue.RemoteCreatedAt = &t
	}
	if remoteUpdated.Valid {
		t := remoteUpdated.Time.UTC()
		issue.RemoteUpdatedAt = &t
	}
	return issue, nil
}

func (s *SQLiteStore) GetIssue(ctx context.Context, id string) (*models.Issue, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+issueColumns+" FROM issues WHERE id = ?", id)
	issue, err := scanIssue(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("issue %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get issue: %w", err)
	}
	return issue, nil
}

func (s *SQLiteStore) GetIssuesByIDs(ctx context.Context, ids []string) ([]*models.Issue, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+issueColumns+" FROM issues WHERE id IN ("+strings.Join(placeholders, ",")+")",
		args...)
	if err != nil {
		return nil, fmt.Errorf("get issues by ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var issues []*models.Issue
	for rows.Next() {
		issue, err := scanIssue(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

func (s *SQLiteStore) SearchIssues(ctx context.Context, projectIDs []int64, f IssueSearchFilter) ([]*models.Issue, map[string]int, error) {
	if len(projectIDs) == 0 {
		return nil, map[string]int{}, nil
	}

	projectPlaceholders := make([]string, len(projectIDs))
	projectArgs := make([]any, len(projectIDs))
	for i, id := range projectIDs {
		projectPlaceholders[i] = "?"
		projectArgs[i] = id
	}
	projectIn := "project_id IN (" + strings.Join(projectPlaceholders, ",") + ")"

	conditions := []string{projectIn}
	args := append([]any{}, projectArgs...)

	// SQLite LIKE is case-insensitive for ASCII, which matches the remote's
	// search behavior closely enough for titles and notes.
	if f.Query != "" {
		conditions = append(conditions, "(title LIKE '%' || ? || '%' OR description LIKE '%' || ? || '%')")
		args = append(args, f.Query, f.Query)
	}
	if f.Author != "" {
		conditions = append(conditions, "author = ?")
		args = append(args, f.Author)
	}
	if f.Assignee != "" {
		conditions = append(conditions, "assignee = ?")
		args = append(args, f.Assignee)
	}
	if f.Label != "" {
		conditions = append(conditions, "EXISTS (SELECT 1 FROM json_each(issues.labels) WHERE json_each.value = ?)")
		args = append(args, f.Label)
	}
	if f.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, f.Category)
	}
	if f.Note != "" {
		conditions = append(conditions, "note LIKE '%' || ? || '%'")
		args = append(args, f.Note)
	}

	query := "SELECT " + issueColumns + " FROM issues WHERE " +
		strings.Join(conditions, " AND ") +
		" ORDER BY remote_created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("search issues: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var issues []*models.Issue
	for rows.Next() {
		issue, err := scanIssue(rows.Scan)
		if err != nil {
			return nil, nil, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	// The summary spans the whole project scope on purpose: it is not
	// narrowed by the text/author/label filters above.
	summaryRows, err := s.db.QueryContext(ctx,
		"SELECT COALESCE(assignee, 'Unassigned'), COUNT(*) FROM issues WHERE "+projectIn+" GROUP BY assignee",
		projectArgs...)
	if err != nil {
		return nil, nil, fmt.Errorf("assignee summary: %w", err)
	}
	defer func() { _ = summaryRows.Close() }()

	summary := make(map[string]int)
	for summaryRows.Next() {
		var name string
		var count int
		if err := summaryRows.Scan(&name, &count); err != nil {
			return nil, nil, fmt.Errorf("scan summary: %w", err)
		}
		summary[name] += count
	}
	if err := summaryRows.Err(); err != nil {
		return nil, nil, err
	}

	return issues, summary, nil
}

func (s *SQLiteStore) UpdateIssueLocalFields(ctx context.Context, id string, note, category *string) (*models.Issue, error) {
	issue, err := s.GetIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	if note != nil {
		issue.Note = *note
	}
	if category != nil {
		issue.Category = *category
	}
	issue.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		"UPDATE issues SET note = ?, category = ?, updated_at = ? WHERE id = ?",
		issue.Note, issue.Category, issue.UpdatedAt, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update issue fields: %w", err)
	}
	return issue, nil
}

func (s *SQLiteStore) MarkIssuesClosed(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+2)
	args = append(args, models.IssueStateClosed, time.Now().UTC())
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	result, err := tx.ExecContext(ctx,
		"UPDATE issues SET state = ?, updated_at = ? WHERE id IN ("+strings.Join(placeholders, ",")+")",
		args...)
	if err != nil {
		return 0, fmt.Errorf("mark issues closed: %w", err)
	}
	n, _ := result.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return n, nil
}
