package tile

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Key is the canonical coordinate code identifying one elevation tile,
// e.g. "N00E006" or "S45W071". It is parsed from source filenames and is
// stable across runs, which makes it the resume and retry key for a tile.
type Key string

// ErrNoKey indicates a source name that contains no recognizable
// coordinate code.
var ErrNoKey = errors.New("tile: no coordinate code in name")

var keyPattern = regexp.MustCompile(`[NS]\d{2}[EW]\d{3}`)

// ParseKey extracts the coordinate code from a source name (URL, archive
// filename or local path). Matching is case-insensitive; the returned key
// is always upper case.
func ParseKey(name string) (Key, error) {
	base := strings.ToUpper(filepath.Base(name))
	m := keyPattern.FindString(base)
	if m == "" {
		return "", fmt.Errorf("%w: %q", ErrNoKey, name)
	}
	return Key(m), nil
}

func (k Key) String() string { return string(k) }
