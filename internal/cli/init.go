package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/ledgerwatch/internal/config"
	"github.com/ppiankov/ledgerwatch/internal/denylist"
	"github.com/ppiankov/ledgerwatch/internal/policy"
)

var (
	initDir   string
	initForce bool
)

func init() {
	initCmd.Flags().StringVar(&initDir, "dir", "", "Config directory (default ~/.ledgerwatch)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config files")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Bootstrap ledgerwatch configuration",
	Long: `Creates the config directory with a commented config.yaml, the default
policy.yaml and a denylist.yaml seeded with the black-hole addresses.

Existing files are left alone unless --force is given.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	configDir, err := initConfigDir()
	if err != nil {
		return err
	}

	denylistContent, err := defaultDenylistYAML()
	if err != nil {
		return fmt.Errorf("generate default denylist: %w", err)
	}

	files := []struct {
		name    string
		content string
	}{
		{"config.yaml", config.DefaultYAML()},
		{"policy.yaml", policy.DefaultConfigYAML()},
		{"denylist.yaml", denylistContent},
	}

	var created []string
	for _, f := range files {
		path := filepath.Join(configDir, f.name)
		wrote, err := writeIfMissing(path, f.content)
		if err != nil {
			return err
		}
		if wrote {
			created = append(created, path)
		}
	}

	out := cmdOut(cmd)
	fmt.Fprintln(out, "ledgerwatch init-config complete.")
	fmt.Fprintln(out)
	if len(created) > 0 {
		fmt.Fprintln(out, "Created:")
		for _, path := range created {
			fmt.Fprintf(out, "  %s\n", path)
		}
	} else {
		fmt.Fprintln(out, "All files already exist (use --force to overwrite).")
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Next:")
	fmt.Fprintf(out, "  export %s=$(ledgerwatch keygen --quiet)\n", config.DefaultSigningKeyEnv)
	fmt.Fprintln(out, "  ledgerwatch serve")
	return nil
}

// initConfigDir returns --dir or ~/.ledgerwatch.
func initConfigDir() (string, error) {
	if initDir != "" {
		return initDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".ledgerwatch"), nil
}

// writeIfMissing writes content to path if it doesn't exist or --force is set.
// Returns true if the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

// defaultDenylistYAML generates a commented default denylist.yaml.
func defaultDenylistYAML() (string, error) {
	data, err := yaml.Marshal(denylist.DefaultPatterns)
	if err != nil {
		return "", err
	}
	header := "# ledgerwatch sanctions denylist.\n" +
		"# addresses: exact destination addresses (case sensitive).\n" +
		"# requesters: requester ids, * globs allowed.\n" +
		"# assets: frozen asset ids.\n" +
		"#\n" +
		"# The built-in black-hole addresses always apply, even if removed here.\n\n"
	return header + string(data), nil
}
