package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/brensch/tilepull/internal/pipeline"
	"github.com/brensch/tilepull/internal/progress"
	"github.com/brensch/tilepull/internal/work"
)

// passOptions configures one pipeline pass run from a subcommand.
type passOptions struct {
	taskTag       string
	activeStatus  string // display status while a tile is in flight
	items         []work.Item
	alreadyDone   int
	process       pipeline.ProcessFunc
	useTUI        bool
	retryFailed   bool
	expectedTiles int
}

// runPass executes one pass (optionally followed by one in-process retry of
// its failures), rendering progress and printing the summary. The returned
// error is non-nil when any item remains failed, so the process exits
// non-zero on incomplete datasets.
func runPass(opts passOptions) error {
	logger := getLogger()
	cfg := getConfig()
	start := time.Now()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tracker := progress.NewTracker(len(opts.items))

	pipeOpts := pipeline.Options{
		Workers:   cfg.Workers,
		Ledger:    getLedger(),
		Logger:    logger,
		OnOutcome: tracker.Observe,
	}

	var res pipeline.Result
	var runErr error
	if opts.useTUI {
		model := progress.NewModel(opts.taskTag, len(opts.items), cancel)
		pipeOpts.OnOutcome = func(oc work.Outcome) {
			tracker.Observe(oc)
			model.Publish(oc)
		}
		inner := opts.process
		status := opts.activeStatus
		if status == "" {
			status = "Fetching"
		}
		process := func(ctx context.Context, it work.Item) error {
			model.PublishStage(it.Key.String(), status)
			return inner(ctx, it)
		}
		prog := tea.NewProgram(model)
		go func() {
			res, runErr = pipeline.Run(runCtx, opts.items, process, pipeOpts)
			model.Finish(runErr)
		}()
		if _, err := prog.Run(); err != nil {
			return fmt.Errorf("progress display failed: %w", err)
		}
	} else {
		res, runErr = pipeline.Run(runCtx, opts.items, opts.process, pipeOpts)
	}

	if runErr != nil && ctx.Err() == nil && runCtx.Err() != nil {
		logger.Warn("Pass stopped early.", "error", runErr)
	}

	if opts.retryFailed && runErr == nil && len(res.Failed) > 0 {
		retryItems := make([]work.Item, 0, len(res.Failed))
		for _, oc := range res.Failed {
			retryItems = append(retryItems, oc.Item)
		}
		logger.Info("Re-running failed tiles.", "count", len(retryItems))

		retryTracker := progress.NewTracker(len(retryItems))
		retryOpts := pipeOpts
		retryOpts.OnOutcome = retryTracker.Observe
		retryRes, retryErr := pipeline.Run(runCtx, retryItems, opts.process, retryOpts)

		res.Succeeded += retryRes.Succeeded + retryRes.Skipped
		res.Failed = retryRes.Failed
		tracker = mergeTrackers(tracker, retryTracker, retryRes)
		runErr = retryErr
	}

	tracker.Summary(os.Stdout, time.Since(start), opts.alreadyDone, opts.expectedTiles)

	if runErr != nil {
		return runErr
	}
	return pipeline.ExitError(res)
}

// mergeTrackers folds a retry pass into the first-pass tracker so the
// summary reflects final per-tile states rather than double counting.
func mergeTrackers(first, retry *progress.Tracker, retryRes pipeline.Result) *progress.Tracker {
	merged := progress.NewTracker(first.Total)
	skipped, succeeded, _ := first.Counts()
	rSkipped, rSucceeded, _ := retry.Counts()
	for i := 0; i < skipped+rSkipped; i++ {
		merged.Observe(work.Outcome{Status: work.StatusSkipped})
	}
	for i := 0; i < succeeded+rSucceeded; i++ {
		merged.Observe(work.Outcome{Status: work.StatusSucceeded})
	}
	for _, oc := range retryRes.Failed {
		merged.Observe(oc)
	}
	merged.AddBytes(first.Bytes() + retry.Bytes())
	return merged
}

// flagOrConfigBool resolves a boolean setting: an explicit command-line flag
// wins, otherwise the config file value applies.
func flagOrConfigBool(cmd *cobra.Command, name string, flagVal, cfgVal bool) bool {
	if cmd.Flags().Changed(name) {
		return flagVal
	}
	return cfgVal
}
