package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/databuddy-analytics/databuddy/basket/internal/validator"
)

var (
	validateBatch        bool
	validateMaxBatchSize int
)

var validateCmd = &cobra.Command{
	Use:   "validate <file|->",
	Short: "Check events against the ingestion schema",
	Long: `Run the event validator on a JSON file. A file whose first non-space
character is '[' is validated as a batch unless --batch is given explicitly.
Use "-" to read from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateBatch, "batch", false, "validate as a batch")
	validateCmd.Flags().IntVar(&validateMaxBatchSize, "max-batch-size", validator.DefaultMaxBatchSize, "maximum events per batch")
}

func runValidate(cmd *cobra.Command, args []string) error {
	data, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}

	batch := validateBatch
	if !cmd.Flags().Changed("batch") {
		batch = bytes.HasPrefix(bytes.TrimSpace(data), []byte("["))
	}

	v := validator.New(validateMaxBatchSize)
	count := 1
	if batch {
		envs, verr := v.ValidateBatch(data)
		count, err = len(envs), verr
	} else {
		_, err = v.Validate(data)
	}

	out := cmd.OutOrStdout()
	if fields, ok := validator.IsSchemaError(err); ok {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]any{"error": "Invalid event schema", "errors": fields})
		return fmt.Errorf("%d schema violation(s)", len(fields))
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "ok: %d event(s) valid\n", count)
	return nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
