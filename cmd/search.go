package cmd

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/glimdev/glim/internal/output"
	"github.com/glimdev/glim/internal/store"
)

var (
	searchProjectsFlag string
	searchQuery        string
	searchAuthor       string
	searchAssignee     string
	searchLabel        string
	searchCategory     string
	searchNote         string
	searchSummaryOnly  bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search mirrored issues",
	Long: `Search the local issue mirror. All filters are optional and combined
with AND. The per-assignee summary always covers every issue in the
selected projects, regardless of the other filters.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return searchRun()
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchProjectsFlag, "projects", "", "Comma separated project ids (required)")
	searchCmd.Flags().StringVarP(&searchQuery, "query", "q", "", "Substring match on title or description")
	searchCmd.Flags().StringVar(&searchAuthor, "author", "", "Exact author name")
	searchCmd.Flags().StringVar(&searchAssignee, "assignee", "", "Exact assignee name")
	searchCmd.Flags().StringVar(&searchLabel, "label", "", "Label that must be on the issue")
	searchCmd.Flags().StringVar(&searchCategory, "category", "", "Exact local category")
	searchCmd.Flags().StringVar(&searchNote, "note", "", "Substring match on the local note")
	searchCmd.Flags().BoolVar(&searchSummaryOnly, "summary", false, "Only print the per-assignee summary")
	_ = searchCmd.MarkFlagRequired("projects")
	rootCmd.AddCommand(searchCmd)
}

func searchRun() error {
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
	issues, summary, err := s.SearchIssues(context.Background(), projectIDs, filter)
	if err != nil {
		return err
	}

	if !searchSummaryOnly {
		table := ui.Table([]string{"ID", "Project", "IID", "Title", "State", "Assignee", "Category", "Created"})
		for _, issue := range issues {
			assignee := "-"
			if issue.Assignee != nil {
				assignee = *issue.Assignee
			}
			created := "-"
			if issue.RemoteCreatedAt != nil {
				created = issue.RemoteCreatedAt.Format("2006-01-02")
			}
			_ = table.Append([]string{
				output.Cyan(issue.ID),
				strconv.FormatInt(issue.ProjectID, 10),
				strconv.FormatInt(issue.IID, 10),
				issue.Title,
				output.StateColor(issue.State),
				assignee,
				issue.Category,
				created,
			})
		}
		_ = table.Render()
		fmt.Fprintf(ui.Out, "\n%d issues\n\n", len(issues))
	}

	names := make([]string, 0, len(summary))
	for name := range summary {
		names = append(names, name)
	}
	sort.Strings(names)

	summaryTable := ui.Table([]string{"Assignee", "Issues"})
	for _, name := range names {
		_ = summaryTable.Append([]string{name, strconv.Itoa(summary[name])})
	}
	_ = summaryTable.Render()
	return nil
}
