package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configPathCmd, configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or change hub settings",
	Long:  "Inspect the settings the hub runs with, or change one. Settings live in ~/.synchub/config.toml unless --config points elsewhere.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings with defaults applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		cfg, err := loadConfig(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return writeEffectiveConfig(cmd.OutOrStdout(), path, cfg)
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the settings file location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <section.key> <value>",
	Short: "Change one setting",
	Long:  "Change one setting and write the file back. Values are validated first.\nExample: synchub config set hub.heartbeat_interval 15s",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		cfg, err := loadConfig(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		key, value := args[0], args[1]
		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}
		if err := saveConfig(path, cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		if key == "server.token" {
			value = maskKey(value)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
		return nil
	},
}

// writeEffectiveConfig prints cfg as TOML under a header naming its source.
// The token is masked.
func writeEffectiveConfig(w io.Writer, path string, cfg *Config) error {
	shown := *cfg
	if shown.Server.Token != "" {
		shown.Server.Token = maskKey(shown.Server.Token)
	}
	data, err := toml.Marshal(shown)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	header := "# " + path
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		header += " (not created yet, defaults only)"
	}
	_, err = fmt.Fprintf(w, "%s\n%s", header, data)
	return err
}
