package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	stateLimit       int
	stateFilterEvent string
	stateFailed      bool
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "View the tile event log and pending failures",
	Long: `Queries the state ledger and displays recent tile events, or with
--failed the set of tiles currently recorded as failed and awaiting retry.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		if stateFailed {
			logger.Info("Querying pending failures.")
			return getLedger().DisplayPending(cmd.Context(), os.Stdout)
		}
		logger.Info("Querying tile event log.", "event_filter", stateFilterEvent, "limit", stateLimit)
		return getLedger().DisplayHistory(cmd.Context(), os.Stdout, stateFilterEvent, stateLimit)
	},
}

func init() {
	stateCmd.Flags().IntVarP(&stateLimit, "limit", "n", 50, "Limit the number of log records displayed")
	stateCmd.Flags().StringVarP(&stateFilterEvent, "event", "e", "", "Filter records by event type (e.g. failed, extract_end)")
	stateCmd.Flags().BoolVar(&stateFailed, "failed", false, "Show pending failures instead of the event log")
}
