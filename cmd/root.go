package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/glimdev/glim/internal/gitlab"
	"github.com/glimdev/glim/internal/output"
	"github.com/glimdev/glim/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "glim",
	Short: "GitLab issue mirror - sync, search, and commit analytics",
	Long: `glim mirrors issue and commit data from a GitLab server into a local
SQLite database, keeps it current with incremental syncs, and answers
filtered searches and per-author commit rollups without hitting the
remote API.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/glim/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "glim")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("GLIM")
	viper.AutomaticEnv()

	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "glim")

	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "glim.db"))
	viper.SetDefault("port", 8080)
	viper.SetDefault("gitlab.page_size", 100)
	viper.SetDefault("gitlab.request_timeout", "30s")

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose

	// The store is initialized lazily so config/version commands can run
	// without a database.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// clientOptions builds the GitLab client options from viper config.
func clientOptions() []gitlab.Option {
	timeout, err := time.ParseDuration(viper.GetString("gitlab.request_timeout"))
	if err != nil || timeout <= 0 {
		timeout = 30 * time.Second
	}
	return []gitlab.Option{
		gitlab.WithPageSize(viper.GetInt("gitlab.page_size")),
		gitlab.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
}

// getClient builds a GitLab client from the stored server/token settings.
func getClient(ctx context.Context, s store.Store) (*gitlab.Client, error) {
	setting, err := s.GetSetting(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w (run 'glim config set' first)", gitlab.ErrNotConfigured)
		}
		return nil, err
	}
	return gitlab.NewClient(gitlab.Config{
		BaseURL: setting.GitLabServer,
		Token:   setting.APIToken,
	}, clientOptions()...)
}

// parseProjectIDs parses a comma separated list of numeric project ids.
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
		return nil, fmt.Errorf("no project ids given (use --projects 1,2,3)")
	}
	return ids, nil
}
