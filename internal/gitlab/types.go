package gitlab

import "time"

// UserRef is the nested author/assignee object on an issue record.
type UserRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// IssueRecord is a raw issue as returned by the GitLab issues listing.
// IID is a pointer so a missing natural key is detectable; timestamps stay
// strings and go through ParseTime.
type IssueRecord struct {
	IID         *int64   `json:"iid"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	State       string   `json:"state"`
	Labels      []string `json:"labels"`
	Author      *UserRef `json:"author"`
	Assignee    *UserRef `json:"assignee"`
	WebURL      string   `json:"web_url"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

// ProjectRecord is the project metadata returned by GET /projects/{id}.
type ProjectRecord struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	PathWithNamespace string `json:"path_with_namespace"`
}

// CommitStats is the optional per-commit line-count object.
type CommitStats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
}

// CommitRecord is a raw commit from the repository commits listing.
// CommittedDate is preferred; CreatedAt is the fallback timestamp.
type CommitRecord struct {
	AuthorName    string       `json:"author_name"`
	CommittedDate string       `json:"committed_date"`
	CreatedAt     string       `json:"created_at"`
	Stats         *CommitStats `json:"stats"`
}

// ParseTime parses a GitLab ISO-8601 timestamp. Unparsable or empty input
// returns nil rather than an error: the remote occasionally ships malformed
// timestamps and a null is the deliberate, documented outcome.
func ParseTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
