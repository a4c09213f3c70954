package commands

import (
	"fmt"
	"os"

	"github.com/bogwonch/maestral/cmd/maestralctl/cmdutil"
	"github.com/bogwonch/maestral/internal/cli/output"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show link and account status",
	Long: `Display whether this machine is linked and, if so, the cached
account facts last persisted by 'maestralctl link'.

Examples:
  maestralctl status
  maestralctl status -o json`,
	RunE: runStatus,
}

// LinkStatus represents the link/account status for display.
type LinkStatus struct {
	Linked      bool   `json:"linked" yaml:"linked"`
	Email       string `json:"email,omitempty" yaml:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	AccountType string `json:"account_type,omitempty" yaml:"account_type,omitempty"`
	Usage       string `json:"usage,omitempty" yaml:"usage,omitempty"`
	HomePath    string `json:"home_path,omitempty" yaml:"home_path,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	credStore, stateStore, err := cmdutil.OpenStores(cfg)
	if err != nil {
		return fmt.Errorf("failed to open local stores: %w", err)
	}
	defer func() { _ = stateStore.Close() }()
	defer func() { _ = credStore.Close() }()

	cred, err := credStore.Load()
	if err != nil {
		return fmt.Errorf("failed to read credential store: %w", err)
	}

	status := LinkStatus{Linked: cred != nil}
	if status.Linked {
		status.Email, _, _ = stateStore.Get("account", "email")
		status.DisplayName, _, _ = stateStore.Get("account", "display_name")
		status.AccountType, _, _ = stateStore.Get("account", "type")
		status.Usage, _, _ = stateStore.Get("account", "usage")
		status.HomePath, _, _ = stateStore.Get("account", "home_path")
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, status)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, status)
	default:
		printStatusTable(status)
	}
	return nil
}

func printStatusTable(status LinkStatus) {
	fmt.Println()
	fmt.Println("maestral Status")
	fmt.Println("===============")
	fmt.Println()

	if status.Linked {
		fmt.Println("  Linked:       \033[32myes\033[0m")
	} else {
		fmt.Println("  Linked:       \033[31mno\033[0m")
	}

	if status.Email != "" {
		fmt.Printf("  Account:      %s\n", status.Email)
	}
	if status.DisplayName != "" {
		fmt.Printf("  Name:         %s\n", status.DisplayName)
	}
	if status.AccountType != "" {
		fmt.Printf("  Plan:         %s\n", status.AccountType)
	}
	if status.Usage != "" {
		fmt.Printf("  Usage:        %s\n", status.Usage)
	}
	if status.HomePath != "" {
		fmt.Printf("  Home path:    %s\n", status.HomePath)
	}
	fmt.Println()
}
