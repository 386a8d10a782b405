package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/larroy/fusearch/internal/config"
	ferrors "github.com/larroy/fusearch/internal/errors"
	"github.com/larroy/fusearch/internal/output"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage user configuration",
		Long: `Manage the user configuration file.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config ($XDG_CONFIG_HOME/fusearch/config.yaml)
  3. The file given with --config
  4. Environment variables (FUSEARCH_*)`,
		Example: `  # Create the user config with defaults
  fusearch config init

  # Show the effective configuration
  fusearch config show

  # Print the user config file path
  fusearch config path`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd(root))
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		force bool
		dirs  []string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the user configuration file",
		Long: `Write the default configuration, with comments, to the user config file.

An existing file is kept unless --force is given; it is then backed up
next to the new one (the newest backups are kept).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force, dirs)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration")
	cmd.Flags().StringSliceVarP(&dirs, "dir", "d", nil, "Directories to put in index_dirs (repeatable)")

	return cmd
}

func newConfigShowCmd(root *rootOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the user configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}

func runConfigInit(cmd *cobra.Command, force bool, dirs []string) error {
	out := output.New(cmd.OutOrStdout())
	path := config.GetUserConfigPath()

	if config.UserConfigExists() {
		if !force {
			return ferrors.New(ferrors.ErrCodeInvalidInput, "configuration already exists", nil).
				WithDetail("path", path).
				WithSuggestion("use --force to overwrite it")
		}
		backup, err := config.Backup(path)
		if err != nil {
			return err
		}
		out.Statusf("", "Backed up existing config to %s", backup)
	}

	cfg := config.NewConfig()
	if len(dirs) > 0 {
		roots, err := config.ResolveRoots(dirs)
		if err != nil {
			return err
		}
		cfg.IndexDirs = roots
	}
	if err := cfg.WriteTemplate(path); err != nil {
		return err
	}

	out.Successf("Created %s", path)
	if len(cfg.IndexDirs) == 0 {
		out.Status("", "Add directories to index_dirs, then run 'fusearch index'")
	}
	return nil
}
