package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brensch/tilepull/internal/enumerate"
	"github.com/brensch/tilepull/internal/extract"
	"github.com/brensch/tilepull/internal/pipeline"
	"github.com/brensch/tilepull/internal/work"
)

var (
	unpackDataDir     string
	unpackExt         string
	unpackStart       int
	unpackEnd         int
	unpackTest        bool
	unpackKeepSources bool
	unpackRetryFailed bool
	unpackTUI         bool
)

var unpackCmd = &cobra.Command{
	Use:   "unpack",
	Short: "Unpack local gzip-compressed tiles in place",
	Long: `Scans a directory tree for gzip-compressed tile files (e.g.
N37W123.hgt.gz) and decompresses each next to its source, removing the
compressed file once the payload is confirmed on disk. Tiles already
decompressed are skipped. Progress is reported against the expected size of
the complete dataset.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()
		if !cmd.Flags().Changed("data-dir") {
			unpackDataDir = cfg.OutputDir
		}

		items, err := enumerate.FromDir(logger, unpackDataDir, unpackExt)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return fmt.Errorf("no %s files under %s", unpackExt, unpackDataDir)
		}
		items = enumerate.Clamp(items, unpackStart, unpackEnd)
		if unpackTest {
			logger.Warn("Test mode: restricting to the first tile with one worker.")
			items = enumerate.Clamp(items, 0, 1)
			appConfig.Workers = 1
		}

		todo, done := enumerate.Filter(items, nil)
		logger.Info("Enumeration complete.",
			"total", len(items), "already_unpacked", len(done), "to_unpack", len(todo))

		return runPass(passOptions{
			taskTag:       "Unpacking tiles",
			activeStatus:  "Extracting",
			items:         todo,
			alreadyDone:   len(done),
			process:       unpackProcess(!unpackKeepSources),
			useTUI:        unpackTUI,
			retryFailed:   unpackRetryFailed,
			expectedTiles: cfg.ExpectedTiles,
		})
	},
}

func unpackProcess(deleteSources bool) pipeline.ProcessFunc {
	return func(ctx context.Context, it work.Item) error {
		return extract.Gzip(it, deleteSources)
	}
}

func init() {
	unpackCmd.Flags().StringVar(&unpackDataDir, "data-dir", "", "Directory tree to scan (defaults to the output directory)")
	unpackCmd.Flags().StringVar(&unpackExt, "ext", ".hgt.gz", "Compressed tile extension to scan for")
	unpackCmd.Flags().IntVar(&unpackStart, "start", 0, "Index of the first tile to consider")
	unpackCmd.Flags().IntVar(&unpackEnd, "end", -1, "Index past the last tile to consider (-1 for all)")
	unpackCmd.Flags().BoolVar(&unpackTest, "test", false, "Unpack only the first tile with a single worker")
	unpackCmd.Flags().BoolVar(&unpackKeepSources, "keep-sources", false, "Keep the compressed files after unpacking")
	unpackCmd.Flags().BoolVar(&unpackRetryFailed, "retry-failed", false, "Re-run this pass's failed tiles once before exiting")
	unpackCmd.Flags().BoolVar(&unpackTUI, "tui", false, "Show a live progress display instead of plain logs")
}
