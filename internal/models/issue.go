package models

import "time"

// IssueStateClosed is the remote state written by a bulk close. State is
// otherwise a free-form string taken verbatim from GitLab.
const IssueStateClosed = "closed"

// Issue mirrors a GitLab issue. The natural identity is (ProjectID, IID);
// IID is unique only within its project. ID is a local ULID surrogate
// assigned on first insertion.
//
// Note and Category are locally owned and never touched by sync.
type Issue struct {
	ID          string
	ProjectID   int64
	IID         int64
	Title       string
	Description string
	State       string
	Labels      []string
	Author      string

	// Assignee and AssigneeID are both nil or both set.
	Assignee   *string
	AssigneeID *int64

	WebURL          string
	RemoteCreatedAt *time.Time
	RemoteUpdatedAt *time.Time

	Note     string
	Category string

	CreatedAt time.Time
	UpdatedAt time.Time
}
