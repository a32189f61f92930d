package work

import (
	"time"

	"github.com/brensch/tilepull/internal/tile"
)

// Item is one unit of work: acquire a single tile and land its payload at
// FinalPath. Items are immutable once enumerated; the Key is the resume and
// retry identity for the tile.
type Item struct {
	Key    tile.Key
	Source string // remote URL or local file path
	Remote bool   // true when Source must be fetched over HTTP

	// StagingPath is where the archive/compressed source lives while being
	// worked on. For local sources it equals Source.
	StagingPath string

	// FinalPath is the destination artifact. Its existence (size > 0) is
	// what marks the item complete on a later run.
	FinalPath string
}

// Status is the terminal state of processing one Item during one pass.
type Status string

const (
	StatusSkipped   Status = "skipped"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Outcome is produced exactly once per Item per pass.
type Outcome struct {
	Item    Item
	Status  Status
	Kind    ErrorKind // set when Status is StatusFailed
	Err     error
	Elapsed time.Duration
}

// Skipped builds the outcome for an item whose final artifact already exists.
func Skipped(it Item) Outcome {
	return Outcome{Item: it, Status: StatusSkipped}
}

// Succeeded builds the outcome for a completed item.
func Succeeded(it Item, elapsed time.Duration) Outcome {
	return Outcome{Item: it, Status: StatusSucceeded, Elapsed: elapsed}
}

// Failed builds the outcome for a failed item, classifying err.
func Failed(it Item, err error, elapsed time.Duration) Outcome {
	return Outcome{Item: it, Status: StatusFailed, Kind: Classify(err), Err: err, Elapsed: elapsed}
}
