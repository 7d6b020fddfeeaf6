package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var (
	initToken  string
	initUserID string
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initToken, "token", "", "bearer token for the server")
	initCmd.Flags().StringVar(&initUserID, "user-id", "", "local user id (own messages are not counted as unread)")
}

var initCmd = &cobra.Command{
	Use:   "init <server-url>",
	Short: "Store the server URL in ~/.synchub/config.toml",
	Long:  "Initialize synchub by storing the chat server URL (and optionally a token) in the local configuration file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := url.Parse(args[0])
		if err != nil || u.Host == "" {
			return fmt.Errorf("invalid server url %q", args[0])
		}

		path, err := configPath()
		if err != nil {
			return err
		}
		cfg, err := loadConfig(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Server.URL = args[0]
		if initToken != "" {
			cfg.Server.Token = initToken
		}
		if initUserID != "" {
			cfg.Server.UserID = initUserID
		}

		if err := saveConfig(path, cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Server saved to %s\n", path)
		return nil
	},
}
