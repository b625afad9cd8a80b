// Package mcp exposes the pipeline as Model Context Protocol tools.
package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ppiankov/ledgerwatch/internal/app"
	"github.com/ppiankov/ledgerwatch/internal/model"
)

// Version is reported to MCP clients.
var Version = "0.1.0"

// Server wraps the MCP SDK server. Every tool call runs as the principal
// resolved from the token given at startup.
type Server struct {
	mcpServer *mcpsdk.Server
	app       *app.App
	principal model.Principal
	logger    *zap.Logger
}

// New resolves token and registers the ledger tools.
func New(ctx context.Context, a *app.App, token string) (*Server, error) {
	p, err := a.Resolver.Resolve(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve MCP credential: %w", err)
	}

	s := &Server{
		app:       a,
		principal: p,
		logger:    a.Logger.Named("mcp").With(zap.String("principal", p.UserID)),
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "ledgerwatch",
			Version: Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// Run serves on stdio. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp serving on stdio", zap.String("role", string(s.principal.Role)))
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Principal returns the identity tool calls run as.
func (s *Server) Principal() model.Principal { return s.principal }

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "ledger_execute",
		Description: "Validate, sign and submit a ledger transaction to every configured network. Rejected requests return an error code and reason; approval_required returns an approval_key.",
	}, s.handleExecute)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "ledger_pending",
		Description: "List transactions waiting for operator approval. Requires the admin or operator role.",
	}, s.handlePending)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "ledger_approve",
		Description: "Approve or deny a pending transaction by approval_key. Requires the admin or operator role.",
	}, s.handleApprove)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "audit_verify",
		Description: "Verify the hash chain of the audit log and list requests that were opened but never closed.",
	}, s.handleVerify)
}
