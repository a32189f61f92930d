// Package progress tracks pass counters and renders them either as a
// terminal UI or a plain end-of-run summary.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brensch/tilepull/internal/work"
)

// Tracker accumulates outcome counts for one pass. Safe for concurrent use
// by the pipeline's outcome callback.
type Tracker struct {
	Total int

	skipped   atomic.Int64
	succeeded atomic.Int64
	bytes     atomic.Int64

	mu       sync.Mutex
	failures []work.Outcome
}

// NewTracker returns a tracker expecting total items this pass.
func NewTracker(total int) *Tracker {
	return &Tracker{Total: total}
}

// Observe records one outcome.
func (t *Tracker) Observe(oc work.Outcome) {
	switch oc.Status {
	case work.StatusSkipped:
		t.skipped.Add(1)
	case work.StatusSucceeded:
		t.succeeded.Add(1)
		if fi, err := os.Stat(oc.Item.FinalPath); err == nil {
			t.bytes.Add(fi.Size())
		}
	case work.StatusFailed:
		t.mu.Lock()
		t.failures = append(t.failures, oc)
		t.mu.Unlock()
	}
}

// Counts returns the current tallies.
func (t *Tracker) Counts() (skipped, succeeded, failed int) {
	t.mu.Lock()
	failed = len(t.failures)
	t.mu.Unlock()
	return int(t.skipped.Load()), int(t.succeeded.Load()), failed
}

// Bytes returns the payload bytes written by observed successes.
func (t *Tracker) Bytes() int64 {
	return t.bytes.Load()
}

// AddBytes folds in a byte tally from another pass, keeping the payload
// total accurate when trackers are merged.
func (t *Tracker) AddBytes(n int64) {
	t.bytes.Add(n)
}

// Failures returns a copy of the failed outcomes in completion order.
func (t *Tracker) Failures() []work.Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]work.Outcome, len(t.failures))
	copy(out, t.failures)
	return out
}

// Summary writes the end-of-pass report. alreadyDone counts items whose
// artifacts predate this pass; expectedTiles, when positive, is the size of
// the complete dataset and yields a coverage percentage.
func (t *Tracker) Summary(w io.Writer, elapsed time.Duration, alreadyDone, expectedTiles int) {
	skipped, succeeded, failed := t.Counts()

	fmt.Fprintf(w, "\nFinished in %s.\n", elapsed.Round(time.Second))
	fmt.Fprintf(w, "  completed this run: %d\n", succeeded)
	fmt.Fprintf(w, "  already on disk:    %d\n", alreadyDone+skipped)
	if b := t.bytes.Load(); b > 0 {
		fmt.Fprintf(w, "  payload written:    %.1f MiB\n", float64(b)/(1<<20))
	}
	if failed > 0 {
		fmt.Fprintf(w, "  failed:             %d\n", failed)
		for _, oc := range t.Failures() {
			fmt.Fprintf(w, "    %s [%s]: %v\n", oc.Item.Key, oc.Kind, oc.Err)
		}
		fmt.Fprintln(w, "Failed tiles are recorded in the ledger; run the retry command to re-attempt them.")
	}
	if expectedTiles > 0 {
		have := alreadyDone + skipped + succeeded
		fmt.Fprintf(w, "  dataset coverage:   %d/%d (%.1f%%)\n",
			have, expectedTiles, 100*float64(have)/float64(expectedTiles))
	}
}
