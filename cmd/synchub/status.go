package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftchat/synchub"
)

var statusAddr string

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "status API address of a running hub (overrides hub.status_addr)")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and hub status",
	Long:  "Display the current configuration and, if a hub is listening with its status API enabled, its live connection state.",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		cfg, err := loadConfig(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Configuration:")
		fmt.Fprintf(out, "  Server:  %s\n", valueOrDefault(cfg.Server.URL, "(not set)"))
		if cfg.Server.Token != "" {
			fmt.Fprintf(out, "  Token:   %s\n", maskKey(cfg.Server.Token))
		} else {
			fmt.Fprintln(out, "  Token:   (not set)")
		}
		fmt.Fprintf(out, "  User ID: %s\n", valueOrDefault(cfg.Server.UserID, "(not set)"))
		fmt.Fprintf(out, "  Index:   %s\n", valueOrDefault(cfg.Index.Backend, "memory"))

		addr := valueOrDefault(statusAddr, cfg.Hub.StatusAddr)
		if addr == "" {
			return nil
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Live status:")

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()

		snap, err := fetchSnapshot(ctx, addr)
		if err != nil {
			fmt.Fprintf(out, "  Error: %v\n", err)
			return nil
		}
		fmt.Fprintf(out, "  State:      %s\n", snap.State)
		fmt.Fprintf(out, "  Connected:  %t\n", snap.ConnectedOnce)
		fmt.Fprintf(out, "  Reconnects: %d\n", snap.Reconnects)
		fmt.Fprintf(out, "  Processed:  %d\n", snap.Processed)
		fmt.Fprintf(out, "  Faults:     %d\n", snap.Faults)
		return nil
	},
}

func fetchSnapshot(ctx context.Context, addr string) (*synchub.Snapshot, error) {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hub not reachable at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var snap synchub.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &snap, nil
}
