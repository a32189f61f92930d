// Package pipeline runs work items through a bounded worker pool, producing
// exactly one outcome per dispatched item and recording failures durably.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/brensch/tilepull/internal/ledger"
	"github.com/brensch/tilepull/internal/tile"
	"github.com/brensch/tilepull/internal/work"
)

// Ledger is the durable failure record the pipeline writes through. The
// concrete implementation is DuckDB-backed; tests substitute an in-memory
// fake.
type Ledger interface {
	Record(ctx context.Context, key tile.Key, kind work.ErrorKind, message string) error
	Clear(ctx context.Context, key tile.Key) error
	LogEvent(ctx context.Context, key tile.Key, event, message string, duration *time.Duration) error
}

// ProcessFunc performs the whole job for one item: fetch+extract for remote
// sources, extract-only for local ones. It returns a classified error on
// failure.
type ProcessFunc func(ctx context.Context, it work.Item) error

// Options configures a pipeline run.
type Options struct {
	Workers int
	Ledger  Ledger
	Logger  *slog.Logger

	// OnOutcome observes each outcome as it lands, in completion order.
	// Used to feed the progress display. May be nil.
	OnOutcome func(work.Outcome)
}

// Result summarizes one pass.
type Result struct {
	Skipped   int
	Succeeded int
	Failed    []work.Outcome
	Elapsed   time.Duration
}

// Run processes items through opts.Workers concurrent workers. Items are
// dispatched in slice order through a channel bounded at the worker count,
// so at most Workers items are in flight and dispatch order is preserved.
// One item's failure never stops its siblings, except for failures fatal to
// the run (rejected credential, exhausted disk) which cancel dispatch.
// In-flight items are allowed to finish on cancellation; undispatched items
// produce no outcome.
func Run(ctx context.Context, items []work.Item, process ProcessFunc, opts Options) (Result, error) {
	start := time.Now()
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	defer stopDispatch()

	// Stopping dispatch must not abort work in progress: an item already
	// handed to a worker finishes its stage even on a fatal failure or
	// SIGINT, so a tile mid-retry can still land its artifact.
	itemCtx := context.WithoutCancel(ctx)

	jobs := make(chan work.Item, opts.Workers)
	outcomes := make(chan work.Outcome, opts.Workers)

	var wg sync.WaitGroup
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			workerLogger := logger.With("worker_id", id)
			for it := range jobs {
				if err := dispatchCtx.Err(); err != nil {
					// Drained from the buffer after a stop, never started.
					// Not a real attempt, so it stays out of the ledger.
					outcomes <- work.Failed(it, work.NewError(work.KindTransientNetwork, err), 0)
					continue
				}
				outcomes <- runOne(itemCtx, it, process, opts.Ledger, workerLogger)
			}
		}(i)
	}

	go func() {
		defer close(jobs)
		for _, it := range items {
			select {
			case <-dispatchCtx.Done():
				return
			case jobs <- it:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	var res Result
	var fatalErr error
	for oc := range outcomes {
		switch oc.Status {
		case work.StatusSkipped:
			res.Skipped++
		case work.StatusSucceeded:
			res.Succeeded++
		case work.StatusFailed:
			res.Failed = append(res.Failed, oc)
			if work.FatalToRun(oc.Kind, oc.Err) && fatalErr == nil {
				fatalErr = oc.Err
				logger.Error("Failure is fatal to the run, stopping dispatch.",
					"tile", oc.Item.Key.String(), "kind", string(oc.Kind), "error", oc.Err)
				stopDispatch()
			}
		}
		if opts.OnOutcome != nil {
			opts.OnOutcome(oc)
		}
	}

	res.Elapsed = time.Since(start)
	if fatalErr != nil {
		return res, fatalErr
	}
	return res, ctx.Err()
}

// runOne processes a single item and translates the result into an outcome,
// keeping the failure ledger in step. Ledger write errors are logged rather
// than failing the item; the artifact on disk is the primary record.
func runOne(ctx context.Context, it work.Item, process ProcessFunc, led Ledger, logger *slog.Logger) work.Outcome {
	start := time.Now()
	key := it.Key

	// The enumeration filter runs before dispatch, but a retry pass can hold
	// items whose artifact landed since. Those are skips, not re-work.
	if fi, err := os.Stat(it.FinalPath); err == nil && fi.Size() > 0 {
		logger.Debug("Artifact already present, skipping.", "tile", key.String(), "path", it.FinalPath)
		if led != nil {
			if logErr := led.LogEvent(ctx, key, ledger.EventSkip, "", nil); logErr != nil {
				logger.Error("Could not log skip event.", "tile", key.String(), "error", logErr)
			}
		}
		return work.Skipped(it)
	}

	logger.Debug("Processing tile.", "tile", key.String(), "source", it.Source)
	var err error
	for attempt := 1; ; attempt++ {
		err = process(ctx, it)
		if err == nil {
			break
		}
		kind := work.Classify(err)
		// The fetch stage runs its own transient retry loop, so the policy
		// table is consulted here only for the remaining kinds. In practice
		// this grants interrupted disk writes their second attempt.
		if kind == work.KindTransientNetwork || errors.Is(err, context.Canceled) || !work.Retryable(kind, attempt) {
			break
		}
		delay := work.PolicyFor(kind).Delay(attempt + 1)
		logger.Info("Retrying tile.",
			"tile", key.String(), "kind", string(kind), "attempt", attempt+1, "delay", delay.String())
		time.Sleep(delay)
	}
	elapsed := time.Since(start)

	if err != nil {
		oc := work.Failed(it, err, elapsed)
		logger.Warn("Tile failed.", "tile", key.String(), "kind", string(oc.Kind), "error", err)
		if led != nil && !errors.Is(err, context.Canceled) {
			if recErr := led.Record(ctx, key, oc.Kind, err.Error()); recErr != nil {
				logger.Error("Could not record failure in ledger.", "tile", key.String(), "error", recErr)
			}
			if logErr := led.LogEvent(ctx, key, ledger.EventFailed, err.Error(), &elapsed); logErr != nil {
				logger.Error("Could not log failure event.", "tile", key.String(), "error", logErr)
			}
		}
		return oc
	}

	if led != nil {
		if clrErr := led.Clear(ctx, key); clrErr != nil {
			logger.Error("Could not clear ledger entry.", "tile", key.String(), "error", clrErr)
		}
		if logErr := led.LogEvent(ctx, key, ledger.EventExtractEnd, "", &elapsed); logErr != nil {
			logger.Error("Could not log completion event.", "tile", key.String(), "error", logErr)
		}
	}
	logger.Info("Tile complete.", "tile", key.String(), "elapsed", elapsed.String())
	return work.Succeeded(it, elapsed)
}

// ExitError converts a pass result into the process-level error: any
// remaining failure means a non-zero exit so schedulers notice incomplete
// datasets.
func ExitError(res Result) error {
	if len(res.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(res.Failed))
	for _, oc := range res.Failed {
		errs = append(errs, oc.Err)
	}
	return errors.Join(errs...)
}
