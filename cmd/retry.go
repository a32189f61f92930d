package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/brensch/tilepull/internal/config"
	"github.com/brensch/tilepull/internal/enumerate"
	"github.com/brensch/tilepull/internal/fetch"
	"github.com/brensch/tilepull/internal/ledger"
	"github.com/brensch/tilepull/internal/tile"
)

var (
	retrySource         string
	retryToken          string
	retryTokenFile      string
	retryDeleteArchives bool
	retryTUI            bool
)

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-run only the tiles the ledger holds as failed",
	Long: `Loads the pending failures from the ledger, re-resolves them against
the source list, and runs them through the pipeline again. Tiles that
succeed are cleared from the ledger; tiles that fail again stay recorded.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()
		if !cmd.Flags().Changed("source") {
			retrySource = cfg.SourceList
		}
		if !cmd.Flags().Changed("token-file") {
			retryTokenFile = cfg.TokenFile
		}

		pending, err := getLedger().Pending(cmd.Context())
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Println("No pending failures in the ledger.")
			return nil
		}
		logger.Info("Loaded pending failures.", "count", len(pending))

		token, err := fetch.LoadToken(retryToken, retryTokenFile)
		if err != nil {
			return err
		}

		listCtx, cancelList := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancelList()
		sources, err := enumerate.LoadSourceList(listCtx, http.DefaultClient, retrySource)
		if err != nil {
			return err
		}

		keys := make(map[tile.Key]bool, len(pending))
		for k := range pending {
			keys[k] = true
		}
		items := enumerate.FromSources(logger, sources, cfg.StagingDir, cfg.OutputDir, cfg.WantedSuffix)
		items = enumerate.SelectKeys(items, keys)
		if len(items) < len(pending) {
			logger.Warn("Some ledgered tiles are absent from the source list and cannot be retried.",
				"pending", len(pending), "resolvable", len(items))
		}

		todo, done := enumerate.Filter(items, nil)
		if len(done) > 0 {
			// The artifact exists despite the ledger entry; clear them now.
			for _, it := range done {
				if err := getLedger().Clear(cmd.Context(), it.Key); err != nil {
					logger.Error("Could not clear ledger entry.", "tile", it.Key.String(), "error", err)
					continue
				}
				if err := getLedger().LogEvent(cmd.Context(), it.Key, ledger.EventCleared, "artifact found on disk", nil); err != nil {
					logger.Error("Could not log clear event.", "tile", it.Key.String(), "error", err)
				}
			}
			logger.Info("Cleared ledger entries whose artifacts already exist.", "count", len(done))
		}

		deleteArchives := flagOrConfigBool(cmd, "delete-archives", retryDeleteArchives, cfg.DeleteSources)
		fetcher := fetch.New(token, logger)
		return runPass(passOptions{
			taskTag:      "Retrying failed tiles",
			activeStatus: "Fetching",
			items:        todo,
			alreadyDone:  len(done),
			process:      fetchProcess(fetcher, cfg.WantedSuffix, cfg.IgnoredSuffixes, deleteArchives),
			useTUI:       retryTUI,
		})
	},
}

func init() {
	defaults := config.Default()
	retryCmd.Flags().StringVar(&retrySource, "source", defaults.SourceList, "Source list to re-resolve failed tiles against")
	retryCmd.Flags().StringVar(&retryToken, "token", "", "Bearer token for fetch requests (overrides the token file)")
	retryCmd.Flags().StringVar(&retryTokenFile, "token-file", defaults.TokenFile, "File holding the bearer token")
	retryCmd.Flags().BoolVar(&retryDeleteArchives, "delete-archives", false, "Remove each archive after its payload is extracted")
	retryCmd.Flags().BoolVar(&retryTUI, "tui", false, "Show a live progress display instead of plain logs")
}
