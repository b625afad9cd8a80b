package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/ledgerwatch/internal/app"
	"github.com/ppiankov/ledgerwatch/internal/config"
	"github.com/ppiankov/ledgerwatch/internal/logging"
	"github.com/ppiankov/ledgerwatch/internal/store"
)

var (
	configPath   string
	policyFlag   string
	auditLogFlag string
	denylistFlag string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML (default ~/.ledgerwatch/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&policyFlag, "policy", "", "Path to policy YAML (overrides config)")
	rootCmd.PersistentFlags().StringVar(&auditLogFlag, "audit-log", "", "Path to audit log JSONL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&denylistFlag, "denylist", "", "Path to denylist YAML (overrides config)")
}

var rootCmd = &cobra.Command{
	Use:   "ledgerwatch",
	Short: "Policy-gated multi-network ledger transaction pipeline",
	Long: "Validates transaction requests against policy and per-asset rules, submits them to every configured\n" +
		"ledger network in parallel, reconciles the outcomes and keeps local holdings and a hash-chained audit log.",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if policyFlag != "" {
		cfg.PolicyPath = policyFlag
	}
	if auditLogFlag != "" {
		cfg.AuditLog = auditLogFlag
	}
	if denylistFlag != "" {
		cfg.DenylistPath = denylistFlag
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, _, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// openApp loads config and wires the full pipeline.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	return app.Open(ctx, cfg, logger)
}

// cmdOut tolerates a nil command for direct calls from tests.
func cmdOut(cmd *cobra.Command) io.Writer {
	if cmd == nil {
		return os.Stdout
	}
	return cmd.OutOrStdout()
}

// openStore opens only the store, for operator commands that edit records.
func openStore(ctx context.Context) (store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, nil
}
