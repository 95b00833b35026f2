package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/databuddy-analytics/databuddy/basket/internal/config"
	"github.com/databuddy-analytics/databuddy/basket/internal/dlq"
)

var (
	dlqPath  string
	dlqLimit int
	dlqYes   bool
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect the file dead letter queue",
	Long: `Read or clear dead letters written by the file DLQ backend.

The directory is taken from --path, falling back to dlq.path in the config
file. Dead letters on the jetstream backend live in the BASKET_DLQ stream
and are managed with the NATS tooling.`,
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print dead letters, oldest first, one JSON object per line",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		q, err := openFileQueue()
		if err != nil {
			return err
		}
		events, err := q.List(cmd.Context(), dlqLimit)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, ev := range events {
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
		return nil
	},
}

var dlqStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show dead letter file counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		q, err := openFileQueue()
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(q.Stats())
	},
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every dead letter file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !dlqYes {
			return errors.New("refusing to purge without --yes")
		}
		q, err := openFileQueue()
		if err != nil {
			return err
		}
		if err := q.Purge(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "dead letter queue purged")
		return nil
	},
}

func init() {
	dlqCmd.PersistentFlags().StringVar(&dlqPath, "path", "", "DLQ directory (default: dlq.path from config)")
	dlqListCmd.Flags().IntVar(&dlqLimit, "limit", 100, "maximum dead letters to print")
	dlqPurgeCmd.Flags().BoolVar(&dlqYes, "yes", false, "confirm deletion")

	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqStatsCmd)
	dlqCmd.AddCommand(dlqPurgeCmd)
}

func openFileQueue() (*dlq.FileQueue, error) {
	path := dlqPath
	if path == "" {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return nil, err
		}
		if cfg.DLQ.Backend != "file" {
			return nil, fmt.Errorf("dlq.backend is %q, only the file backend can be inspected", cfg.DLQ.Backend)
		}
		path = cfg.DLQ.Path
	}
	return dlq.NewFileQueue(path)
}
