package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/ledgerwatch/internal/audit"
)

var (
	replayLog       string
	replayRequester string
	replayFrom      string
	replayTo        string
	replayFormat    string
)

func init() {
	auditCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVarP(&replayLog, "log", "l", "", "Path to audit log (default from config)")
	replayCmd.Flags().StringVar(&replayRequester, "requester", "", "Only entries for this requester")
	replayCmd.Flags().StringVar(&replayFrom, "from", "", "Start time filter (RFC3339)")
	replayCmd.Flags().StringVar(&replayTo, "to", "", "End time filter (RFC3339)")
	replayCmd.Flags().StringVarP(&replayFormat, "format", "f", "text", "Output format (text|json)")
}

var replayCmd = &cobra.Command{
	Use:   "replay [request-id]",
	Short: "Replay requests from the audit log",
	Long: "Reads the audit log, filters by request id, requester and time range,\n" +
		"and renders a timeline of open and close entries with a summary.",
	Args: cobra.MaximumNArgs(1),
	RunE: runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	filter := audit.ReplayFilter{RequesterID: replayRequester}
	if len(args) > 0 {
		filter.RequestID = args[0]
	}

	if replayFrom != "" {
		from, err := time.Parse(time.RFC3339, replayFrom)
		if err != nil {
			return fmt.Errorf("invalid --from time %q: %w", replayFrom, err)
		}
		filter.From = from
	}

	if replayTo != "" {
		to, err := time.Parse(time.RFC3339, replayTo)
		if err != nil {
			return fmt.Errorf("invalid --to time %q: %w", replayTo, err)
		}
		filter.To = to
	}

	path := replayLog
	if path == "" {
		var err error
		if path, err = auditPath(nil); err != nil {
			return err
		}
	}

	result, err := audit.Replay(path, filter)
	if err != nil {
		return err
	}

	switch replayFormat {
	case "json":
		out, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
	default:
		fmt.Fprint(cmd.OutOrStdout(), audit.FormatTimeline(result))
	}

	return nil
}
