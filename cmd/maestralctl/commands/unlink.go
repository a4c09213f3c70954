package commands

import (
	"context"
	"fmt"

	"github.com/bogwonch/maestral/cmd/maestralctl/cmdutil"
	"github.com/spf13/cobra"
)

var unlinkForce bool

var unlinkCmd = &cobra.Command{
	Use:   "unlink",
	Short: "Unlink this machine from its remote account",
	Long: `Revoke the stored credential and clear local linking state.

Examples:
  maestralctl unlink
  maestralctl unlink --force`,
	RunE: runUnlink,
}

func init() {
	unlinkCmd.Flags().BoolVarP(&unlinkForce, "force", "f", false, "Skip confirmation prompt")
}

func runUnlink(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client, closeFn, err := cmdutil.NewRemoteClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize remote client: %w", err)
	}
	defer closeFn()

	if err := cmdutil.RequireLinked(client); err != nil {
		return err
	}

	return cmdutil.RunWithConfirmation("Unlink this machine from its remote account?", unlinkForce, func() error {
		if err := client.Unlink(context.Background()); err != nil {
			return fmt.Errorf("unlink failed: %w", err)
		}
		cmdutil.PrintSuccess("Unlinked successfully")
		return nil
	})
}
