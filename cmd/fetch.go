package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/brensch/tilepull/internal/config"
	"github.com/brensch/tilepull/internal/enumerate"
	"github.com/brensch/tilepull/internal/extract"
	"github.com/brensch/tilepull/internal/fetch"
	"github.com/brensch/tilepull/internal/ledger"
	"github.com/brensch/tilepull/internal/pipeline"
	"github.com/brensch/tilepull/internal/work"
)

var (
	fetchSource         string
	fetchToken          string
	fetchTokenFile      string
	fetchStart          int
	fetchEnd            int
	fetchTest           bool
	fetchDeleteArchives bool
	fetchRetryFailed    bool
	fetchTUI            bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch remote tile archives and extract their payloads",
	Long: `Downloads each archive named by the source list (a URL or local file
holding one archive URL per line, or an HTML directory listing), extracts
the wanted payload member, and lands it in the output directory. Tiles whose
payload already exists are skipped, so an interrupted run resumes where it
left off. Requests carry a bearer token read from --token or the token file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()
		if !cmd.Flags().Changed("source") {
			fetchSource = cfg.SourceList
		}
		if !cmd.Flags().Changed("token-file") {
			fetchTokenFile = cfg.TokenFile
		}

		token, err := fetch.LoadToken(fetchToken, fetchTokenFile)
		if err != nil {
			return err
		}

		listCtx, cancelList := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancelList()
		sources, err := enumerate.LoadSourceList(listCtx, http.DefaultClient, fetchSource)
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			return fmt.Errorf("source list %s names no archives", fetchSource)
		}
		logger.Info("Loaded source list.", "source", fetchSource, "archives", len(sources))

		items := enumerate.FromSources(logger, sources, cfg.StagingDir, cfg.OutputDir, cfg.WantedSuffix)
		items = enumerate.Clamp(items, fetchStart, fetchEnd)
		if fetchTest {
			logger.Warn("Test mode: restricting to the first tile with one worker.")
			items = enumerate.Clamp(items, 0, 1)
			appConfig.Workers = 1
		}

		todo, done := enumerate.Filter(items, nil)
		logger.Info("Enumeration complete.",
			"total", len(items), "already_on_disk", len(done), "to_fetch", len(todo))

		deleteArchives := flagOrConfigBool(cmd, "delete-archives", fetchDeleteArchives, cfg.DeleteSources)
		fetcher := fetch.New(token, logger)
		return runPass(passOptions{
			taskTag:      "Fetching archives",
			activeStatus: "Fetching",
			items:        todo,
			alreadyDone:  len(done),
			process:      fetchProcess(fetcher, cfg.WantedSuffix, cfg.IgnoredSuffixes, deleteArchives),
			useTUI:       fetchTUI,
			retryFailed:  fetchRetryFailed,
		})
	},
}

// fetchProcess is the full remote job for one tile: download the archive to
// staging, then extract the payload to its final path.
func fetchProcess(fetcher *fetch.Fetcher, wantedSuffix string, ignoredSuffixes []string, deleteArchives bool) pipeline.ProcessFunc {
	logger := getLogger()
	return func(ctx context.Context, it work.Item) error {
		led := getLedger()
		if err := led.LogEvent(ctx, it.Key, ledger.EventFetchStart, it.Source, nil); err != nil {
			logger.Error("Could not log fetch event.", "tile", it.Key.String(), "error", err)
		}
		start := time.Now()
		if err := fetcher.Fetch(ctx, it); err != nil {
			return err
		}
		elapsed := time.Since(start)
		if err := led.LogEvent(ctx, it.Key, ledger.EventFetchEnd, "", &elapsed); err != nil {
			logger.Error("Could not log fetch event.", "tile", it.Key.String(), "error", err)
		}
		return extract.Archive(it, wantedSuffix, ignoredSuffixes, deleteArchives)
	}
}

func init() {
	defaults := config.Default()
	fetchCmd.Flags().StringVar(&fetchSource, "source", defaults.SourceList, "Source list: URL or local file of archive URLs, or an HTML listing")
	fetchCmd.Flags().StringVar(&fetchToken, "token", "", "Bearer token for fetch requests (overrides the token file)")
	fetchCmd.Flags().StringVar(&fetchTokenFile, "token-file", defaults.TokenFile, "File holding the bearer token")
	fetchCmd.Flags().IntVar(&fetchStart, "start", 0, "Index of the first archive to consider")
	fetchCmd.Flags().IntVar(&fetchEnd, "end", -1, "Index past the last archive to consider (-1 for all)")
	fetchCmd.Flags().BoolVar(&fetchTest, "test", false, "Fetch only the first archive with a single worker")
	fetchCmd.Flags().BoolVar(&fetchDeleteArchives, "delete-archives", false, "Remove each archive after its payload is extracted")
	fetchCmd.Flags().BoolVar(&fetchRetryFailed, "retry-failed", false, "Re-run this pass's failed tiles once before exiting")
	fetchCmd.Flags().BoolVar(&fetchTUI, "tui", false, "Show a live progress display instead of plain logs")
}
