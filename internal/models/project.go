package models

import "time"

// Project is a locally mirrored GitLab project. The ID is the remote
// numeric project id and is never generated locally.
//
// LastSyncedCreatedAt is the newest issue created_at observed in the most
// recent sync batch. Nil means no incremental bound (next sync is full).
type Project struct {
	ID                  int64
	Name                string
	PathWithNamespace   string
	LastSyncedCreatedAt *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
