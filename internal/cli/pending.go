package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/ledgerwatch/internal/approval"
	"github.com/ppiankov/ledgerwatch/internal/client"
)

func init() {
	rootCmd.AddCommand(pendingCmd)
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List transactions waiting for operator approval",
	RunE:  runPending,
}

func runPending(cmd *cobra.Command, args []string) error {
	var list []approval.Approval
	if approvalServer != "" {
		c, err := client.Dial(approvalServer, os.Getenv(TokenEnv))
		if err != nil {
			return err
		}
		defer c.Close()
		if list, err = c.ListPending(context.Background()); err != nil {
			return err
		}
	} else {
		store, err := localApprovals()
		if err != nil {
			return err
		}
		if list, err = store.List(approval.StatusPending); err != nil {
			return fmt.Errorf("failed to list approvals: %w", err)
		}
	}

	w := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(w, "No pending approvals.")
		return nil
	}

	fmt.Fprintf(w, "%-22s %-14s %-10s %-14s %-16s %s\n", "KEY", "REQUESTER", "TYPE", "ASSET", "AMOUNT", "CREATED")
	for _, a := range list {
		fmt.Fprintf(w, "%-22s %-14s %-10s %-14s %-16s %s\n",
			a.Key,
			truncate(a.Subject.RequesterID, 14),
			a.Subject.TransactionType,
			truncate(a.Subject.AssetID, 14),
			truncate(a.Subject.Amount, 16),
			a.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
