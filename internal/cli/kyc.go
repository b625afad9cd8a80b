package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/ledgerwatch/internal/model"
)

func init() {
	rootCmd.AddCommand(kycCmd)
	kycCmd.AddCommand(kycSetCmd, kycShowCmd)
}

var kycCmd = &cobra.Command{
	Use:   "kyc",
	Short: "Inspect and record identity verification status",
}

var kycSetCmd = &cobra.Command{
	Use:   "set <user> <none|pending|approved|rejected>",
	Short: "Record a requester's verification status",
	Args:  cobra.ExactArgs(2),
	RunE:  runKYCSet,
}

var kycShowCmd = &cobra.Command{
	Use:   "show <user>",
	Short: "Print a requester's verification status",
	Args:  cobra.ExactArgs(1),
	RunE:  runKYCShow,
}

func runKYCSet(cmd *cobra.Command, args []string) error {
	user, raw := args[0], args[1]
	status := model.ParseKYCStatus(raw)
	if string(status) != raw {
		return fmt.Errorf("unknown status %q: use none, pending, approved or rejected", raw)
	}

	ctx := context.Background()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SetKYCStatus(ctx, user, status); err != nil {
		return fmt.Errorf("failed to record status: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", user, status)
	return nil
}

func runKYCShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	status, err := st.KYCStatus(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], status)
	return nil
}
