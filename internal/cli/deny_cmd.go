package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/ledgerwatch/internal/client"
)

func init() {
	rootCmd.AddCommand(denyCmd)
}

var denyCmd = &cobra.Command{
	Use:   "deny <key>",
	Short: "Deny a transaction waiting for operator approval",
	Long:  "Denies a pending request. Identical requests are rejected with COMPLIANCE_DENIED.",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeny,
}

func runDeny(cmd *cobra.Command, args []string) error {
	key := args[0]

	if approvalServer != "" {
		c, err := client.Dial(approvalServer, os.Getenv(TokenEnv))
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.Deny(context.Background(), key); err != nil {
			return err
		}
	} else {
		store, err := localApprovals()
		if err != nil {
			return err
		}
		if err := store.Deny(key, approvalActor); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Denied %q\n", key)
	return nil
}
