package cli

import (
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/ppiankov/ledgerwatch/internal/mcp"
)

// version is overridden at build time with -ldflags "-X ...cli.version=v1.2.3".
var version = "0.3.0"

func init() {
	mcp.Version = version
	rootCmd.Version = version
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printJSON(cmd, buildInfo())
	},
}

func buildInfo() map[string]string {
	info := map[string]string{
		"name":    "ledgerwatch",
		"version": version,
		"go":      runtime.Version(),
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info["commit"] = s.Value
		case "vcs.modified":
			if s.Value == "true" {
				info["dirty"] = "true"
			}
		}
	}
	return info
}
