package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	annotateNote     string
	annotateCategory string
)

var annotateCmd = &cobra.Command{
	Use:   "annotate <issue-id>",
	Short: "Set the local note or category on an issue",
	Long: `Set the locally-owned note and category fields on a mirrored issue.
These fields are never overwritten by sync.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return annotateRun(cmd, args[0])
	},
}

func init() {
	annotateCmd.Flags().StringVar(&annotateNote, "note", "", "Free-text note")
	annotateCmd.Flags().StringVar(&annotateCategory, "category", "", "Category label")
	rootCmd.AddCommand(annotateCmd)
}

func annotateRun(cmd *cobra.Command, issueID string) error {
	var note, category *string
	if cmd.Flags().Changed("note") {
		note = &annotateNote
	}
	if cmd.Flags().Changed("category") {
		category = &annotateCategory
	}
	if note == nil && category == nil {
		return fmt.Errorf("nothing to update (use --note and/or --category)")
	}

	s, err := getStore()
	if err != nil {
		return err
	}

	issue, err := s.UpdateIssueLocalFields(context.Background(), issueID, note, category)
	if err != nil {
		return err
	}
	ui.Success("Updated %s (note=%q category=%q)", issue.ID, issue.Note, issue.Category)
	return nil
}
