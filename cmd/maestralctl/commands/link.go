package commands

import (
	"context"
	"fmt"

	"github.com/bogwonch/maestral/cmd/maestralctl/cmdutil"
	"github.com/bogwonch/maestral/internal/cli/prompt"
	"github.com/spf13/cobra"
)

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Link this machine to a remote account",
	Long: `Link this machine to a remote account via OAuth2 PKCE.

This prints an authorization URL that must be visited in a browser; the
authorization code it produces is pasted back here to complete linking.

Examples:
  maestralctl link`,
	RunE: runLink,
}

func runLink(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client, closeFn, err := cmdutil.NewRemoteClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize remote client: %w", err)
	}
	defer closeFn()

	linked, err := client.Linked()
	if err != nil {
		return err
	}
	if linked {
		return fmt.Errorf("already linked. Run 'maestralctl unlink' first to link a different account")
	}

	authURL, err := client.StartLink()
	if err != nil {
		return fmt.Errorf("failed to start linking: %w", err)
	}

	fmt.Println("To link this machine, visit the following URL in a browser:")
	fmt.Println()
	fmt.Println(authURL)
	fmt.Println()

	code, err := prompt.InputRequired("Authorization code")
	if err != nil {
		return cmdutil.HandleAbort(err)
	}

	if err := client.FinishLink(context.Background(), code); err != nil {
		return fmt.Errorf("linking failed: %w", err)
	}

	cmdutil.PrintSuccess("Linked successfully")
	return nil
}
