package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rzpsarthak13/storefwd/internal/core"
	"github.com/rzpsarthak13/storefwd/internal/realtime"
)

var emitCmd = &cobra.Command{
	Use:   "emit",
	Short: "Publish a change event to the Kafka change feed",
	Long: `Publish a change event to the Kafka change feed, as the remote side would.

Example:
  syncd emit --table products --type UPDATE --new '{"id":"p1","price":4.5}'`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		table, _ := cmd.Flags().GetString("table")
		eventType, _ := cmd.Flags().GetString("type")
		newRow, _ := cmd.Flags().GetString("new")
		oldRow, _ := cmd.Flags().GetString("old")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ev := core.ChangeEvent{
			Table:           table,
			Type:            core.ChangeType(strings.ToUpper(eventType)),
			CommitTimestamp: time.Now().UTC(),
		}
		if newRow != "" {
			if err := json.Unmarshal([]byte(newRow), &ev.New); err != nil {
				return fmt.Errorf("invalid --new: %w", err)
			}
		}
		if oldRow != "" {
			if err := json.Unmarshal([]byte(oldRow), &ev.Old); err != nil {
				return fmt.Errorf("invalid --old: %w", err)
			}
		}
		if ev.EntityID() == "" {
			return fmt.Errorf("the event needs an id in --new or --old")
		}

		pub, err := realtime.NewKafkaPublisher(cfg.Realtime.Kafka)
		if err != nil {
			return err
		}
		defer pub.Close()

		if err := pub.Publish(cmd.Context(), ev); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "published %s %s:%s to %s\n", ev.Type, table, ev.EntityID(), cfg.Realtime.Kafka.Topic(table))
		return nil
	},
}

func init() {
	emitCmd.Flags().String("table", "", "table the change belongs to")
	emitCmd.Flags().String("type", "UPDATE", "INSERT, UPDATE or DELETE")
	emitCmd.Flags().String("new", "", "new row as JSON")
	emitCmd.Flags().String("old", "", "old row as JSON")
	_ = emitCmd.MarkFlagRequired("table")
}
