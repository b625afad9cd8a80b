package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/ledgerwatch/internal/approval"
	"github.com/ppiankov/ledgerwatch/internal/client"
)

var (
	approveDuration time.Duration
	approvalServer  string
	approvalActor   string
)

func init() {
	rootCmd.AddCommand(approveCmd)
	approveCmd.Flags().DurationVar(&approveDuration, "duration", 0, "Validity period (e.g., 30m, 1h). Default: valid until used")
	for _, c := range []*cobra.Command{approveCmd, denyCmd, pendingCmd} {
		c.Flags().StringVar(&approvalServer, "server", "", "Resolve through a running server's gRPC API instead of the local queue")
		c.Flags().StringVar(&approvalActor, "operator", os.Getenv("USER"), "Operator name recorded on local resolutions")
	}
}

var approveCmd = &cobra.Command{
	Use:   "approve <key>",
	Short: "Approve a transaction waiting for operator approval",
	Long: "Approves a pending request. The next identical request from the same requester goes through and consumes the approval.\n" +
		"With --duration, the approval expires if it is not used within the period.",
	Args: cobra.ExactArgs(1),
	RunE: runApprove,
}

func runApprove(cmd *cobra.Command, args []string) error {
	key := args[0]

	if approvalServer != "" {
		c, err := client.Dial(approvalServer, os.Getenv(TokenEnv))
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.Approve(context.Background(), key, approveDuration); err != nil {
			return err
		}
	} else {
		store, err := localApprovals()
		if err != nil {
			return err
		}
		if err := store.Approve(key, approvalActor, approveDuration); err != nil {
			return err
		}
	}

	if approveDuration > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Approved %q for %s\n", key, approveDuration)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Approved %q (single use)\n", key)
	}
	return nil
}

func localApprovals() (*approval.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := approval.NewStore(cfg.ApprovalsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open approval store: %w", err)
	}
	return store, nil
}
