package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/ledgerwatch/internal/mcp"
)

var mcpToken string

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpToken, "token", "", "Credential tool calls run as (default $"+TokenEnv+")")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs ledgerwatch as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes policy-enforced tools: ledger_execute, ledger_pending, ledger_approve, audit_verify.",
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	token := mcpToken
	if token == "" {
		token = os.Getenv(TokenEnv)
	}
	if token == "" {
		return fmt.Errorf("a credential is required: pass --token or set %s", TokenEnv)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = a.Close(closeCtx)
	}()

	srv, err := mcp.New(ctx, a, token)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	p := srv.Principal()
	fmt.Fprintf(os.Stderr, "ledgerwatch MCP server running on stdio as %s (%s)\n", p.UserID, p.Role)
	return srv.Run(ctx)
}
