package main

import (
	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "basket",
	Short: "Databuddy event ingestion service",
	Long: `basket receives analytics events from the Databuddy browser SDK,
checks them against the registered website, enriches them and hands them to
the configured event sink.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or /etc/databuddy/basket/config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(botsCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(dlqCmd)
	rootCmd.AddCommand(statsCmd)
}
