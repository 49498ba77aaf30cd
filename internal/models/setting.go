package models

// Setting holds the GitLab connection credentials. There is at most one row.
type Setting struct {
	GitLabServer string `json:"gitlab_server"`
	APIToken     string `json:"api_token"`
}
