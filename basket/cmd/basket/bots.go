package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/databuddy-analytics/databuddy/basket/internal/bots"
)

var botsSignaturesFile string

var botsCmd = &cobra.Command{
	Use:   "bots",
	Short: "Inspect the bot signature table",
}

var botsClassifyCmd = &cobra.Command{
	Use:     "classify <user-agent>",
	Short:   "Classify a user agent",
	Example: `  basket bots classify "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"`,
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		matcher, err := loadMatcher()
		if err != nil {
			return err
		}
		match := matcher.Classify(strings.Join(args, " "))

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(match)
	},
}

func init() {
	botsCmd.PersistentFlags().StringVar(&botsSignaturesFile, "signatures", "", "signature YAML file (default: built-in table)")
	botsCmd.AddCommand(botsClassifyCmd)
}

func loadMatcher() (*bots.Matcher, error) {
	if botsSignaturesFile == "" {
		return bots.Default(), nil
	}
	return bots.LoadFile(botsSignaturesFile)
}
