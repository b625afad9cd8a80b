package cli

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(holdingsCmd)
	holdingsCmd.AddCommand(holdingsShowCmd, holdingsAdjustCmd)
}

var holdingsCmd = &cobra.Command{
	Use:   "holdings",
	Short: "Inspect and correct local balances",
}

var holdingsShowCmd = &cobra.Command{
	Use:   "show <asset> <holder>",
	Short: "Print one holder's balance of an asset",
	Args:  cobra.ExactArgs(2),
	RunE:  runHoldingsShow,
}

var holdingsAdjustCmd = &cobra.Command{
	Use:   "adjust <asset> <holder> <delta>",
	Short: "Apply a signed correction to a balance",
	Long: "Adds delta (which may be negative) to the balance. The change is rejected if the\n" +
		"result would be below zero. Corrections bypass the pipeline and are not written to the audit log.",
	Args: cobra.ExactArgs(3),
	RunE: runHoldingsAdjust,
}

func runHoldingsShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	h, err := st.Holding(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	return printJSON(cmd, h)
}

func runHoldingsAdjust(cmd *cobra.Command, args []string) error {
	delta, err := decimal.NewFromString(args[2])
	if err != nil {
		return fmt.Errorf("invalid delta %q: %w", args[2], err)
	}
	if delta.IsZero() {
		return fmt.Errorf("delta must not be zero")
	}

	ctx := context.Background()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if _, err := st.GetAsset(ctx, args[0]); err != nil {
		return fmt.Errorf("asset %s: %w", args[0], err)
	}
	h, err := st.AdjustBalance(ctx, args[0], args[1], delta)
	if err != nil {
		return err
	}
	return printJSON(cmd, h)
}
