package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/bogwonch/maestral/cmd/maestralctl/cmdutil"
	"github.com/bogwonch/maestral/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and validate configuration",
}

var schemaOutput string

var configSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Generate JSON schema for configuration",
	Long: `Generate a JSON schema for the maestral configuration file.

Examples:
  maestralctl config schema
  maestralctl config schema --output config.schema.json`,
	RunE: runConfigSchema,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Load and validate the maestral configuration file.

Examples:
  maestralctl config validate
  maestralctl config validate --config /etc/maestral/config.yaml`,
	RunE: runConfigValidate,
}

func init() {
	configSchemaCmd.Flags().StringVarP(&schemaOutput, "output", "o", "", "Output file (default: stdout)")
	configCmd.AddCommand(configSchemaCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigSchema(cmd *cobra.Command, args []string) error {
	schemaJSON, err := json.MarshalIndent(config.Schema(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	if schemaOutput != "" {
		if err := os.WriteFile(schemaOutput, schemaJSON, 0o644); err != nil {
			return fmt.Errorf("failed to write schema file: %w", err)
		}
		fmt.Printf("JSON schema written to %s\n", schemaOutput)
		return nil
	}

	fmt.Println(string(schemaJSON))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.LoadConfig()
	if err != nil {
		return err
	}

	displayPath := cmdutil.Flags.ConfigPath
	if displayPath == "" {
		displayPath = config.DefaultConfigPath()
	}

	fmt.Printf("Configuration file: %s\n", displayPath)
	fmt.Println("Validation: OK")
	fmt.Println()
	fmt.Println("Configuration summary:")
	fmt.Printf("  Log level:       %s\n", cfg.Logging.Level)
	fmt.Printf("  Telemetry:       %s\n", cmdutil.BoolToYesNo(cfg.Telemetry.Enabled))
	fmt.Printf("  Metrics:         %s\n", cmdutil.BoolToYesNo(cfg.Metrics.Enabled))
	fmt.Printf("  Credentials dir: %s\n", cfg.Credentials.DataDir)
	return nil
}
