package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/databuddy-analytics/databuddy/basket/internal/config"
	"github.com/databuddy-analytics/databuddy/basket/migrations"
)

var migrateDatabaseURL string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the tenant directory schema",
	Long: `Apply or roll back the websites schema used by the postgres directory.

The database URL is taken from --database-url, falling back to
directory.database_url in the config file.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		url, err := migrationURL()
		if err != nil {
			return err
		}
		if err := migrations.Up(cmd.Context(), url); err != nil {
			return err
		}
		return printVersion(cmd, url)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down [steps]",
	Short: "Roll back migrations (default 1 step)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		steps := 1
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return fmt.Errorf("steps must be a positive integer, got %q", args[0])
			}
			steps = n
		}
		url, err := migrationURL()
		if err != nil {
			return err
		}
		if err := migrations.Down(cmd.Context(), url, steps); err != nil {
			return err
		}
		return printVersion(cmd, url)
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		url, err := migrationURL()
		if err != nil {
			return err
		}
		return printVersion(cmd, url)
	},
}

func init() {
	migrateCmd.PersistentFlags().StringVar(&migrateDatabaseURL, "database-url", "", "postgres connection URL")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
}

func migrationURL() (string, error) {
	if migrateDatabaseURL != "" {
		return migrateDatabaseURL, nil
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return "", err
	}
	if cfg.Directory.DatabaseURL == "" {
		return "", errors.New("no database URL: set --database-url or directory.database_url")
	}
	return cfg.Directory.DatabaseURL, nil
}

func printVersion(cmd *cobra.Command, url string) error {
	v, dirty, err := migrations.Version(url)
	if err != nil {
		return err
	}
	state := "clean"
	if dirty {
		state = "dirty"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (%s)\n", v, state)
	return nil
}
