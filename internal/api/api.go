// Package api exposes the mirror over HTTP. The handlers are thin: all
// sync, search, and aggregation logic lives in the packages they call.
package api

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/glimdev/glim/internal/gitlab"
	"github.com/glimdev/glim/internal/logging"
	"github.com/glimdev/glim/internal/models"
	"github.com/glimdev/glim/internal/stats"
	"github.com/glimdev/glim/internal/store"
	syncer "github.com/glimdev/glim/internal/sync"
)

// Server provides the REST API handlers.
type Server struct {
	store      store.Store
	clientOpts []gitlab.Option
}

// NewServer creates a new API server. clientOpts are applied to every
// GitLab client the server constructs (page size, http client).
func NewServer(s store.Store, clientOpts ...gitlab.Option) *Server {
	return &Server{store: s, clientOpts: clientOpts}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/config", s.getConfig)
	mux.HandleFunc("POST /api/v1/config", s.updateConfig)

	mux.HandleFunc("GET /api/v1/projects", s.listProjects)
	mux.HandleFunc("POST /api/v1/projects", s.syncProjects)

	mux.HandleFunc("POST /api/v1/issues/refresh", s.refreshIssues)
	mux.HandleFunc("GET /api/v1/issues", s.searchIssues)
	mux.HandleFunc("GET /api/v1/issues/export", s.exportIssues)
	mux.HandleFunc("POST /api/v1/issues/bulk-close", s.bulkCloseIssues)
	mux.HandleFunc("PATCH /api/v1/issues/{id}", s.patchIssue)

	mux.HandleFunc("GET /api/v1/commit-stats", s.commitStats)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, gitlab.ErrNotConfigured):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case gitlab.IsUnavailable(err):
		status = http.StatusServiceUnavailable
	case gitlab.IsRejected(err):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		logging.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

// client builds a GitLab client from the stored settings. Missing settings
// surface as ErrNotConfigured before any fetch is attempted.
func (s *Server) client(r *http.Request) (*gitlab.Client, error) {
	setting, err := s.store.GetSetting(r.Context())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, gitlab.ErrNotConfigured
		}
		return nil, err
	}
	return gitlab.NewClient(gitlab.Config{BaseURL: setting.GitLabServer, Token: setting.APIToken}, s.clientOpts...)
}

// parseProjectIDs parses a comma separated project_ids query parameter.
func parseProjectIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid project id %q", part)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("project_ids is required")
	}
	return ids, nil
}

func searchFilterFromQuery(r *http.Request) store.IssueSearchFilter {
	q := r.URL.Query()
	return store.IssueSearchFilter{
		Query:    q.Get("query"),
		Author:   q.Get("author"),
		Assignee: q.Get("assignee"),
		Label:    q.Get("label"),
		Category: q.Get("category"),
		Note:     q.Get("note"),
	}
}

// --- Config ---

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	setting, err := s.store.GetSetting(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"gitlab_server": setting.GitLabServer,
		"api_token":     logging.MaskSensitive(setting.APIToken),
	})
}

func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	var setting models.Setting
	if err := json.NewDecoder(r.Body).Decode(&setting); err != nil {
		writeBadRequest(w, "invalid JSON")
		return
	}
	if setting.GitLabServer == "" || setting.APIToken == "" {
		writeBadRequest(w, "gitlab_server and api_token are required")
		return
	}
	if err := s.store.UpsertSetting(r.Context(), &setting); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// --- Projects ---

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

// syncProjects registers projects by fetching their metadata from GitLab
// and upserting them locally.
func (s *Server) syncProjects(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectIDs []int64 `json:"project_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON")
		return
	}
	if len(req.ProjectIDs) == 0 {
		writeBadRequest(w, "project_ids is required")
		return
	}

	client, err := s.client(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var projects []*models.Project
	for _, id := range req.ProjectIDs {
		remote, err := client.FetchProject(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		p := &models.Project{
			ID:                remote.ID,
			Name:              remote.Name,
			PathWithNamespace: remote.PathWithNamespace,
		}
		if err := s.store.UpsertProject(r.Context(), p); err != nil {
			writeError(w, err)
			return
		}
		projects = append(projects, p)
	}
	writeJSON(w, http.StatusOK, projects)
}

// --- Issues ---

type searchResponse struct {
	Issues          []*models.Issue `json:"issues"`
	AssigneeSummary map[string]int  `json:"assignee_summary"`
}

func (s *Server) refreshIssues(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectIDs     []int64 `json:"project_ids"`
		FetchNewerOnly *bool   `json:"fetch_newer_only"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON")
		return
	}
	if len(req.ProjectIDs) == 0 {
		writeBadRequest(w, "project_ids is required")
		return
	}
	newerOnly := true
	if req.FetchNewerOnly != nil {
		newerOnly = *req.FetchNewerOnly
	}

	client, err := s.client(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := syncer.New(s.store, client).SyncProjects(r.Context(), req.ProjectIDs, newerOnly); err != nil {
		writeError(w, err)
		return
	}

	issues, summary, err := s.store.SearchIssues(r.Context(), req.ProjectIDs, store.IssueSearchFilter{})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Issues: issues, AssigneeSummary: summary})
}

func (s *Server) searchIssues(w http.ResponseWriter, r *http.Request) {
	projectIDs, err := parseProjectIDs(r.URL.Query().Get("project_ids"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	issues, summary, err := s.store.SearchIssues(r.Context(), projectIDs, searchFilterFromQuery(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Issues: issues, AssigneeSummary: summary})
}

func (s *Server) patchIssue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var patch struct {
		Note     *string `json:"note"`
		Category *string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeBadRequest(w, "invalid JSON")
		return
	}

	issue, err := s.store.UpdateIssueLocalFields(r.Context(), id, patch.Note, patch.Category)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (s *Server) bulkCloseIssues(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IssueIDs []string `json:"issue_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON")
		return
	}
	if len(req.IssueIDs) == 0 {
		writeBadRequest(w, "issue_ids is required")
		return
	}

	client, err := s.client(r)
	if err != nil {
		writeError(w, err)
		return
	}

	n, err := syncer.New(s.store, client).CloseIssues(r.Context(), req.IssueIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "closed", "count": n})
}

func (s *Server) exportIssues(w http.ResponseWriter, r *http.Request) {
	projectIDs, err := parseProjectIDs(r.URL.Query().Get("project_ids"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	issues, _, err := s.store.SearchIssues(r.Context(), projectIDs, searchFilterFromQuery(r))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="issues.csv"`)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"ID", "Project", "IID", "Title", "Author", "Assignee", "Labels", "State", "Category", "Note", "Created", "Updated", "URL"})
	for _, issue := range issues {
		assignee := ""
		if issue.Assignee != nil {
			assignee = *issue.Assignee
		}
		created, updated := "", ""
		if issue.RemoteCreatedAt != nil {
			created = issue.RemoteCreatedAt.Format("2006-01-02 15:04:05")
		}
		if issue.RemoteUpdatedAt != nil {
			updated = issue.RemoteUpdatedAt.Format("2006-01-02 15:04:05")
		}
		_ = cw.Write([]string{
			issue.ID,
			strconv.FormatInt(issue.ProjectID, 10),
			strconv.FormatInt(issue.IID, 10),
			issue.Title,
			issue.Author,
			assignee,
			strings.Join(issue.Labels, ", "),
			issue.State,
			issue.Category,
			issue.Note,
			created,
			updated,
			issue.WebURL,
		})
	}
	cw.Flush()
}

// --- Commit stats ---

func (s *Server) commitStats(w http.ResponseWriter, r *http.Request) {
	projectIDs, err := parseProjectIDs(r.URL.Query().Get("project_ids"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	weeks := 8
	if raw := r.URL.Query().Get("weeks"); raw != "" {
		weeks, err = strconv.Atoi(raw)
		if err != nil || weeks < 1 {
			writeBadRequest(w, "weeks must be a positive integer")
			return
		}
	}

	client, err := s.client(r)
	if err != nil {
		writeError(w, err)
		return
	}

	buckets, err := stats.NewReporter(client).CommitStats(r.Context(), projectIDs, weeks)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": buckets})
}
