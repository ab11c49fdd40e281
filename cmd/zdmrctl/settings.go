package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/z-dmr/zdmr/internal/model"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect or replace the daemon's Settings record",
	}
	cmd.AddCommand(newSettingsShowCmd(), newSettingsImportCmd())
	return cmd
}

// newSettingsShowCmd prints Settings as TOML for reading; `settings import`
// reads YAML, so this output is not accepted by it as-is.
func newSettingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print current Settings as TOML",
		RunE: func(cmd *cobra.Command, args []string) error {
			var settings model.Settings
			if err := newAPIClient().get("/settings", &settings); err != nil {
				return err
			}
			return toml.NewEncoder(os.Stdout).Encode(settings)
		},
	}
}

// newSettingsImportCmd replaces Settings from a YAML file. This is separate
// from internal/config, which layers zdmr.toml and environment variables
// for process bootstrap.
func newSettingsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [FILE]",
		Short: "Replace Settings from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			var settings model.Settings
			if err := yaml.Unmarshal(raw, &settings); err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}
			if err := newAPIClient().post("/settings", settings, nil); err != nil {
				return err
			}
			printSuccess("settings imported")
			return nil
		},
	}
}
