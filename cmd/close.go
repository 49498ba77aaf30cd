package cmd

import (
	"context"

	"github.com/spf13/cobra"

	syncer "github.com/glimdev/glim/internal/sync"
)

var closeCmd = &cobra.Command{
	Use:   "close <issue-id>...",
	Short: "Close issues on GitLab and in the local mirror",
	Long: `Close the given issues. Each issue is closed on GitLab first; the
local mirror is only updated after every remote close succeeded. If any
remote close fails, nothing is changed locally.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return closeRun(args)
	},
}

func init() {
	rootCmd.AddCommand(closeCmd)
}

func closeRun(issueIDs []string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	client, err := getClient(ctx, s)
	if err != nil {
		return err
	}

	n, err := syncer.New(s, client).CloseIssues(ctx, issueIDs)
	if err != nil {
		return err
	}
	ui.Success("Closed %d issues", n)
	return nil
}
