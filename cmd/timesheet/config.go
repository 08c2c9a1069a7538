package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/timesheet-dev/timesheet/internal/config"
	"github.com/timesheet-dev/timesheet/internal/jira"
	"github.com/timesheet-dev/timesheet/internal/types"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Manage the configuration file",
}

var configUpdateCmd = &cobra.Command{
	Use:   "update [--url URL] [--user USER] [--token TOKEN] [--project KEY]",
	Short: "Create or change the configuration",
	Long: `Write connection settings to the config file.

Settings given as flags replace the stored ones. In a terminal, settings that
are still missing are asked for. The credentials are checked against Jira
before the file is written unless --no-verify is given.

The file holds the API token and is only readable by you.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		for flag, dst := range map[string]*string{
			"url":      &cfg.Jira.URL,
			"user":     &cfg.Jira.User,
			"token":    &cfg.Jira.Token,
			"project":  &cfg.TrackingProject,
			"database": &cfg.Database,
		} {
			if cmd.Flags().Changed(flag) {
				*dst, _ = cmd.Flags().GetString(flag)
			}
		}
		cfg.Jira.URL = strings.TrimRight(strings.TrimSpace(cfg.Jira.URL), "/")
		cfg.TrackingProject = strings.ToUpper(strings.TrimSpace(cfg.TrackingProject))

		if len(cfg.Missing()) > 0 && config.Interactive() {
			if err := config.Prompt(cfg); err != nil {
				return err
			}
		}
		if cfg.Jira.URL != "" {
			if err := config.ValidateURL(cfg.Jira.URL); err != nil {
				return types.Wrap(types.ErrBadInput, "update config", "jira.url", err)
			}
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		out := newOutput()
		if noVerify, _ := cmd.Flags().GetBool("no-verify"); !noVerify {
			client, err := jira.New(cfg.JiraClient())
			if err != nil {
				return err
			}
			user, err := client.CurrentUser(cmd.Context())
			if err != nil {
				return err
			}
			out.Success("Authenticated as %s", user.DisplayName)
		}

		if err := config.Save(cfg, configPath); err != nil {
			return err
		}
		out.Success("Saved %s", cfg.Path())
		if cfg.TrackingProject == "" {
			out.Warn("No tracking project set; 'timesheet codes' needs one")
		}
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:     "list [--format toml|yaml|json]",
	Aliases: []string{"show"},
	Short:   "Print the effective configuration",
	Long: `Print the configuration after defaults and TIMESHEET_* environment
variables are applied. The API token is never printed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return config.Encode(cmd.OutOrStdout(), cfg, format)
	},
}

var configRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Delete the configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if !force {
			return types.Wrap(types.ErrBadInput, "remove config", "", errors.New("this deletes your stored credentials; pass --force to confirm"))
		}
		path := configPath
		if path == "" {
			path = config.DefaultPath()
		}
		if err := config.Remove(path); err != nil {
			return err
		}
		newOutput().Success("Removed %s", path)
		return nil
	},
}

func init() {
	configUpdateCmd.Flags().String("url", "", "Jira base URL, e.g. https://example.atlassian.net")
	configUpdateCmd.Flags().String("user", "", "Jira user (email)")
	configUpdateCmd.Flags().String("token", "", "Jira API token")
	configUpdateCmd.Flags().String("project", "", "project holding the time codes")
	configUpdateCmd.Flags().String("database", "", "path of the cache database")
	configUpdateCmd.Flags().Bool("no-verify", false, "save without checking the credentials")

	configListCmd.Flags().StringP("format", "f", config.FormatTOML, "output format: toml, yaml or json")

	configRemoveCmd.Flags().Bool("force", false, "confirm removal")

	configCmd.AddCommand(configUpdateCmd, configListCmd, configRemoveCmd)
	rootCmd.AddCommand(configCmd)
}
