package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rzpsarthak13/storefwd/pkg/storefwd"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Test connectivity to the remote store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, closeLog, err := newLogger(cfg.Logging)
		if err != nil {
			return err
		}
		defer closeLog()

		// Only the remote store is probed.
		cfg.Realtime.Type = "none"
		cfg.Local.Type = "none"

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		svc, err := storefwd.NewFromConfig(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer svc.Stop(context.Background())

		res := svc.TestConnection(ctx)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("connectivity check failed: %s", res.Error)
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().Duration("timeout", 10*time.Second, "overall timeout for the check")
}
