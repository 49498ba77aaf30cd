package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/glimdev/glim/internal/logging"
	"github.com/glimdev/glim/internal/models"
	"github.com/glimdev/glim/internal/store"
)

var (
	configServer string
	configToken  string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage glim configuration.

GitLab server and token are stored in the local database; everything else
comes from the config file, environment, or defaults.

Running bare 'glim config' is the same as 'glim config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set the GitLab server and API token",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configSetRun()
	},
}

func init() {
	configSetCmd.Flags().StringVar(&configServer, "server", "", "GitLab server base URL (e.g. https://gitlab.example.com)")
	configSetCmd.Flags().StringVar(&configToken, "token", "", "GitLab private API token")
	_ = configSetCmd.MarkFlagRequired("server")
	_ = configSetCmd.MarkFlagRequired("token")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "db_path", EnvVar: "GLIM_DB_PATH"},
	{Key: "port", EnvVar: "GLIM_PORT"},
	{Key: "gitlab.page_size", EnvVar: "GLIM_GITLAB_PAGE_SIZE"},
	{Key: "gitlab.request_timeout", EnvVar: "GLIM_GITLAB_REQUEST_TIMEOUT"},
}

func configShowRun() error {
	cfgPath := viper.ConfigFileUsed()
	if cfgPath != "" {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	fileValues := readConfigFileValues(cfgPath)
	for _, k := range configKeys {
		val := viper.Get(k.Key)
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-24s %v  %s\n", k.Key, val, source)
	}
	fmt.Fprintln(ui.Out)

	s, err := getStore()
	if err != nil {
		return err
	}
	setting, err := s.GetSetting(context.Background())
	if errors.Is(err, store.ErrNotFound) {
		ui.Warning("GitLab server/token not set (run 'glim config set')")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(ui.Out, "  %-24s %s\n", "gitlab server", setting.GitLabServer)
	fmt.Fprintf(ui.Out, "  %-24s %s\n", "gitlab token", logging.MaskSensitive(setting.APIToken))
	return nil
}

func configSetRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	setting := &models.Setting{GitLabServer: configServer, APIToken: configToken}
	if err := s.UpsertSetting(context.Background(), setting); err != nil {
		return err
	}
	ui.Success("GitLab connection saved (%s)", configServer)
	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)
	if path == "" {
		return result
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}
