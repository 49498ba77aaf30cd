package cmd

import (
	"context"

	"github.com/spf13/cobra"

	syncer "github.com/glimdev/glim/internal/sync"
)

var (
	syncProjectsFlag string
	syncFull         bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync issues from GitLab into the local mirror",
	Long: `Fetch issues for the given projects and merge them into the local
mirror. By default only issues created since the last sync are fetched;
--full re-fetches the whole history (the merge is idempotent, so this is
safe at any time).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return syncRun()
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncProjectsFlag, "projects", "", "Comma separated project ids (required)")
	syncCmd.Flags().BoolVar(&syncFull, "full", false, "Ignore the watermark and re-fetch all issues")
	_ = syncCmd.MarkFlagRequired("projects")
	rootCmd.AddCommand(syncCmd)
}

func syncRun() error {
	projectIDs, err := parseProjectIDs(syncProjectsFlag)
	if err != nil {
		return err
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	client, err := getClient(ctx, s)
	if err != nil {
		return err
	}

	results, err := syncer.New(s, client).SyncProjects(ctx, projectIDs, !syncFull)
	if err != nil {
		return err
	}

	for _, r := range results {
		if r.Skipped > 0 {
			ui.Warning("project %d: skipped %d malformed records", r.ProjectID, r.Skipped)
		}
		ui.Success("project %d: %d fetched, %d merged", r.ProjectID, r.Fetched, r.Merged)
	}
	return nil
}
