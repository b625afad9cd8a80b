package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/ledgerwatch/internal/policy"
)

func init() {
	rootCmd.AddCommand(initPolicyCmd)
}

var initPolicyCmd = &cobra.Command{
	Use:   "init-policy",
	Short: "Generate default policy.yaml with comments",
	Long: "Writes the default policy (ceilings, rate limits, operator rules) to the configured policy path.\n" +
		"Refuses to overwrite an existing file.",
	RunE: runInitPolicy,
}

func runInitPolicy(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := cfg.PolicyPath

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("policy already exists at %s", path)
	}

	if _, err := writeIfMissing(path, policy.DefaultConfigYAML()); err != nil {
		return fmt.Errorf("failed to write policy: %w", err)
	}

	fmt.Fprintf(cmdOut(cmd), "Created %s\n", path)
	return nil
}
