// Package cmdutil provides shared utilities for maestralctl commands.
package cmdutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bogwonch/maestral/internal/cli/output"
	"github.com/bogwonch/maestral/internal/cli/prompt"
	"github.com/bogwonch/maestral/internal/config"
	"github.com/bogwonch/maestral/internal/credentials"
	"github.com/bogwonch/maestral/internal/statestore"
	"github.com/bogwonch/maestral/pkg/remote"
)

// Flags stores global flag values accessible by subcommands.
var Flags = &GlobalFlags{}

// GlobalFlags holds the global flag values.
type GlobalFlags struct {
	ConfigPath string
	Output     string
	NoColor    bool
	Verbose    bool
}

// OAuthEndpoints are the PKCE endpoints maestralctl links against. They are
// fixed at build time rather than user-configurable: the linked account is
// always this remote's own account, not a user-chosen server.
var OAuthEndpoints = remote.OAuthEndpoints{
	AuthURL:     "https://www.dropbox.com/oauth2/authorize",
	TokenURL:    "https://api.dropboxapi.com/oauth2/token",
	ClientID:    "maestral",
	RedirectURI: "http://localhost:0/oauth2/callback",
}

// OpenStores opens the on-disk CredentialStore and StateStore rooted at
// cfg.Credentials.DataDir, generating a sealing key on first run. Callers
// must Close both when done.
func OpenStores(cfg *config.Config) (*credentials.Store, *statestore.Store, error) {
	keyPath := filepath.Join(cfg.Credentials.DataDir, "credential.key")
	key, err := credentials.LoadOrGenerateKey(keyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load sealing key: %w", err)
	}

	credStore, err := credentials.Open(filepath.Join(cfg.Credentials.DataDir, "credentials"), key)
	if err != nil {
		return nil, nil, fmt.Errorf("open credential store: %w", err)
	}

	stateStore, err := statestore.Open(filepath.Join(cfg.Credentials.DataDir, "state"))
	if err != nil {
		_ = credStore.Close()
		return nil, nil, fmt.Errorf("open state store: %w", err)
	}

	return credStore, stateStore, nil
}

// LoadConfig loads configuration from the --config flag, falling back to
// the default config path.
func LoadConfig() (*config.Config, error) {
	return config.Load(Flags.ConfigPath)
}

// NewRemoteClient builds a RemoteClient over cfg's CredentialStore/
// StateStore. The returned close func releases both underlying databases;
// callers should defer it.
func NewRemoteClient(cfg *config.Config) (*remote.RemoteClient, func(), error) {
	credStore, stateStore, err := OpenStores(cfg)
	if err != nil {
		return nil, nil, err
	}

	clientCfg := remote.Config{
		Endpoints:        OAuthEndpoints,
		BaseURL:          "https://api.dropboxapi.com",
		ContentURL:       "https://content.dropboxapi.com",
		UserAgentSuffix:  cfg.Client.UserAgentSuffix,
		RequestTimeout:   cfg.Client.Timeout,
		ChunkSize:        cfg.Transfer.DefaultChunkSize,
		MaxUploadRetries: cfg.Transfer.MaxRetries,
		BatchSize:        cfg.Batch.DefaultBatchSize,
	}
	client := remote.New(clientCfg, credStore, stateStore)

	closeFn := func() {
		client.Close()
		_ = stateStore.Close()
		_ = credStore.Close()
	}
	return client, closeFn, nil
}

// RequireLinked returns an error with a "run maestralctl link" hint if no
// account is currently linked.
func RequireLinked(client *remote.RemoteClient) error {
	linked, err := client.Linked()
	if err != nil {
		return err
	}
	if !linked {
		return fmt.Errorf("not linked. Run 'maestralctl link' first")
	}
	return nil
}

// GetOutputFormat returns the output format string.
func GetOutputFormat() string {
	return Flags.Output
}

// GetOutputFormatParsed returns the parsed output format.
func GetOutputFormatParsed() (output.Format, error) {
	return output.ParseFormat(Flags.Output)
}

// IsColorDisabled returns whether color output is disabled.
func IsColorDisabled() bool {
	return Flags.NoColor
}

// IsVerbose returns whether verbose output is enabled.
func IsVerbose() bool {
	return Flags.Verbose
}

// PrintOutput prints data in the specified format (JSON, YAML, or table).
// For table format, it displays emptyMsg if data is empty, otherwise uses the tableRenderer.
func PrintOutput(w io.Writer, data any, isEmpty bool, emptyMsg string, tableRenderer output.TableRenderer) error {
	format, err := GetOutputFormatParsed()
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(w, data)
	case output.FormatYAML:
		return output.PrintYAML(w, data)
	default:
		if isEmpty {
			_, _ = fmt.Fprintln(w, emptyMsg)
			return nil
		}
		return output.PrintTable(w, tableRenderer)
	}
}

// PrintSuccess prints a success message if the output format is table.
func PrintSuccess(msg string) {
	format, err := GetOutputFormatParsed()
	if err != nil || format != output.FormatTable {
		return
	}
	printer := output.NewPrinter(os.Stdout, format, !IsColorDisabled())
	printer.Success(msg)
}

// PrintSuccessWithInfo prints a success message followed by additional info lines.
// The info lines are only printed in table format.
func PrintSuccessWithInfo(msg string, infoLines ...string) {
	format, err := GetOutputFormatParsed()
	if err != nil || format != output.FormatTable {
		return
	}
	printer := output.NewPrinter(os.Stdout, format, !IsColorDisabled())
	printer.Success(msg)
	for _, line := range infoLines {
		fmt.Println(line)
	}
}

// PrintResource prints a resource in the specified format.
// For table format, it uses the provided tableRenderer. For JSON/YAML, it outputs the resource.
func PrintResource(w io.Writer, data any, tableRenderer output.TableRenderer) error {
	format, err := GetOutputFormatParsed()
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(w, data)
	case output.FormatYAML:
		return output.PrintYAML(w, data)
	default:
		return output.PrintTable(w, tableRenderer)
	}
}

// RunWithConfirmation prompts for confirmation (unless force is true) and runs fn.
func RunWithConfirmation(message string, force bool, fn func() error) error {
	confirmed, err := prompt.ConfirmWithForce(message, force)
	if err != nil {
		if prompt.IsAborted(err) {
			fmt.Println("\nAborted.")
			return nil
		}
		return err
	}
	if !confirmed {
		fmt.Println("Aborted.")
		return nil
	}
	return fn()
}

// ParseCommaSeparatedList parses a comma-separated string into a slice of trimmed strings.
func ParseCommaSeparatedList(s string) []string {
	if s == "" {
		return nil
	}
	var result []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			result = append(result, item)
		}
	}
	return result
}

// BoolToYesNo converts a boolean to "yes" or "no" string.
func BoolToYesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// EmptyOr returns the value if not empty, otherwise returns the fallback.
// Useful for table display where empty fields should show "-".
func EmptyOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// HandleAbort checks if error is an abort (Ctrl+C) and prints a message.
// Returns nil for abort (user cancelled), otherwise returns the original error.
func HandleAbort(err error) error {
	if prompt.IsAborted(err) {
		fmt.Println("\nAborted.")
		return nil
	}
	return err
}
