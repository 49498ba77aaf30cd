package cmd

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/glimdev/glim/internal/models"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage mirrored GitLab projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectListRun()
	},
}

var projectAddCmd = &cobra.Command{
	Use:   "add <project-id>...",
	Short: "Register projects by their GitLab numeric ids",
	Long:  "Fetch project metadata from GitLab and add the projects to the local mirror.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectAddRun(args)
	},
}

var projectListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List mirrored projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectListRun()
	},
}

func init() {
	projectCmd.AddCommand(projectAddCmd)
	projectCmd.AddCommand(projectListCmd)
	rootCmd.AddCommand(projectCmd)
}

func projectAddRun(args []string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	client, err := getClient(ctx, s)
	if err != nil {
		return err
	}

	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			ui.Error("invalid project id %q", arg)
			continue
		}

		remote, err := client.FetchProject(ctx, id)
		if err != nil {
			return err
		}
		p := &models.Project{
			ID:                remote.ID,
			Name:              remote.Name,
			PathWithNamespace: remote.PathWithNamespace,
		}
		if err := s.UpsertProject(ctx, p); err != nil {
			return err
		}
		ui.Success("Added %s (%s)", p.Name, p.PathWithNamespace)
	}
	return nil
}

func projectListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	projects, err := s.ListProjects(context.Background())
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		ui.Info("No projects mirrored yet (use 'glim project add <id>')")
		return nil
	}

	table := ui.Table([]string{"ID", "Name", "Path", "Last Sync Watermark"})
	for _, p := range projects {
		watermark := "-"
		if p.LastSyncedCreatedAt != nil {
			watermark = p.LastSyncedCreatedAt.Format("2006-01-02 15:04:05")
		}
		_ = table.Append([]string{
			strconv.FormatInt(p.ID, 10),
			p.Name,
			p.PathWithNamespace,
			watermark,
		})
	}
	_ = table.Render()
	return nil
}
