package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/databuddy-analytics/databuddy/basket/internal/config"
	"github.com/databuddy-analytics/databuddy/basket/internal/stats"
)

var statsRedisURL string

var statsCmd = &cobra.Command{
	Use:   "stats <client-id>",
	Short: "Show usage counters for a website",
	Long: `Read the per-website usage counters that serve instances flush to Redis
when stats.enabled is set.

The Redis URL is taken from --redis-url, falling back to redis.url in the
config file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := statsRedisURL
		if url == "" {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			url = cfg.Redis.URL
		}

		rdb, err := connectRedis(cmd.Context(), url)
		if err != nil {
			return err
		}
		defer rdb.Close()

		s, err := stats.NewClient(rdb, "", nil).Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsRedisURL, "redis-url", "", "Redis URL (default: redis.url from config)")
}
