package cmd

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/glimdev/glim/internal/stats"
)

var (
	statsProjectsFlag string
	statsWeeks        int
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-author commit activity by ISO week",
	RunE: func(cmd *cobra.Command, args []string) error {
		return statsRun()
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsProjectsFlag, "projects", "", "Comma separated project ids (required)")
	statsCmd.Flags().IntVar(&statsWeeks, "weeks", 8, "Number of trailing weeks to cover")
	_ = statsCmd.MarkFlagRequired("projects")
	rootCmd.AddCommand(statsCmd)
}

func statsRun() error {
	projectIDs, err := parseProjectIDs(statsProjectsFlag)
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

	buckets, err := stats.NewReporter(client).CommitStats(ctx, projectIDs, statsWeeks)
	if err != nil {
		return err
	}
	if len(buckets) == 0 {
		ui.Info("No commits in the last %d weeks", statsWeeks)
		return nil
	}

	table := ui.Table([]string{"Week", "Author", "Commits", "Additions", "Deletions"})
	for _, b := range buckets {
		_ = table.Append([]string{
			b.Week,
			b.Author,
			strconv.Itoa(b.Commits),
			strconv.Itoa(b.Additions),
			strconv.Itoa(b.Deletions),
		})
	}
	_ = table.Render()
	return nil
}
