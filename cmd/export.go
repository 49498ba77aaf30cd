package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/glimdev/glim/internal/store"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export matching issues as CSV",
	Long:  "Export issues matching the same filters as 'glim search' to a CSV file (or stdout).",
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportRun()
	},
}

func init() {
	exportCmd.Flags().StringVar(&searchProjectsFlag, "projects", "", "Comma separated project ids (required)")
	exportCmd.Flags().StringVarP(&searchQuery, "query", "q", "", "Substring match on title or description")
	exportCmd.Flags().StringVar(&searchAuthor, "author", "", "Exact author name")
	exportCmd.Flags().StringVar(&searchAssignee, "assignee", "", "Exact assignee name")
	exportCmd.Flags().StringVar(&searchLabel, "label", "", "Label that must be on the issue")
	exportCmd.Flags().StringVar(&searchCategory, "category", "", "Exact local category")
	exportCmd.Flags().StringVar(&searchNote, "note", "", "Substring match on the local note")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default stdout)")
	_ = exportCmd.MarkFlagRequired("projects")
	rootCmd.AddCommand(exportCmd)
}

func exportRun() error {
	projectIDs, err := parseProjectIDs(searchProjectsFlag)
	if err != nil {
		return err
	}

	s, err := getStore()
	if err != nil {
		return err
	}

	filter := store.IssueSearchFilter{
		Query:    searchQuery,
		Author:   searchAuthor,
		Assignee: searchAssignee,
		Label:    searchLabel,
		Category: searchCategory,
		Note:     searchNote,
	}
	issues, _, err := s.SearchIssues(context.Background(), projectIDs, filter)
	if err != nil {
		return err
	}

	out := os.Stdout
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	cw := csv.NewWriter(out)
	if err := cw.Write([]string{"ID", "Project", "IID", "Title", "Author", "Assignee", "Labels", "State", "Category", "Note", "Created", "Updated", "URL"}); err != nil {
		return err
	}
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
		if err := cw.Write([]string{
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
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}

	if exportOut != "" {
		ui.Success("Exported %d issues to %s", len(issues), exportOut)
	}
	return nil
}
