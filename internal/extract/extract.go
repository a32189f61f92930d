// Package extract lands tile payloads at their final paths, from zip
// archives or gzip-compressed files, writing through a temp file so a
// half-written artifact can never be mistaken for a finished tile.
package extract

import (
	"archive/zip"
	"compress/gzip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/brensch/tilepull/internal/work"
)

// Archive extracts the single member of the zip at it.StagingPath whose name
// ends in wantedSuffix, writing it to it.FinalPath. Members matching any
// ignored suffix are passed over without being read. Exactly one wanted
// member must exist; zero or several is a per-item failure. When
// deleteSource is set the archive is removed only after the payload is
// confirmed in place.
func Archive(it work.Item, wantedSuffix string, ignoredSuffixes []string, deleteSource bool) error {
	zr, err := zip.OpenReader(it.StagingPath)
	if err != nil {
		// A staged archive that will not open is corrupt. Remove it so the
		// next pass re-fetches instead of failing on the same bytes forever.
		os.Remove(it.StagingPath)
		return work.Errorf(work.KindTransientNetwork, "open archive %s: %w", it.StagingPath, err)
	}
	defer zr.Close()

	var matches []*zip.File
scan:
	for _, member := range zr.File {
		name := strings.ToLower(member.Name)
		for _, ig := range ignoredSuffixes {
			if strings.HasSuffix(name, strings.ToLower(ig)) {
				continue scan
			}
		}
		if strings.HasSuffix(name, strings.ToLower(wantedSuffix)) {
			matches = append(matches, member)
		}
	}

	switch len(matches) {
	case 0:
		return work.Errorf(work.KindNoMatchingMember,
			"archive %s has no member ending in %s", it.StagingPath, wantedSuffix)
	case 1:
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.Name
		}
		return work.Errorf(work.KindAmbiguousMember,
			"archive %s has %d members ending in %s: %s",
			it.StagingPath, len(matches), wantedSuffix, strings.Join(names, ", "))
	}

	rc, err := matches[0].Open()
	if err != nil {
		os.Remove(it.StagingPath)
		return work.Errorf(work.KindTransientNetwork,
			"open member %s in %s: %w", matches[0].Name, it.StagingPath, err)
	}
	defer rc.Close()

	if err := writeStream(it.FinalPath, rc); err != nil {
		return err
	}

	if deleteSource {
		if err := os.Remove(it.StagingPath); err != nil {
			return work.Errorf(work.KindDiskWrite, "remove archive %s: %w", it.StagingPath, err)
		}
	}
	return nil
}

// Gzip decompresses the single-stream gzip file at it.StagingPath to
// it.FinalPath. When deleteSource is set the compressed file is removed only
// after the payload is confirmed in place, so an interrupted run always
// leaves either the source or the artifact on disk.
func Gzip(it work.Item, deleteSource bool) error {
	in, err := os.Open(it.StagingPath)
	if err != nil {
		return work.Errorf(work.KindDiskWrite, "open %s: %w", it.StagingPath, err)
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return work.Errorf(work.KindNoMatchingMember, "read gzip header of %s: %w", it.StagingPath, err)
	}
	defer gz.Close()

	if err := writeStream(it.FinalPath, gz); err != nil {
		return err
	}

	if deleteSource {
		if err := os.Remove(it.StagingPath); err != nil {
			return work.Errorf(work.KindDiskWrite, "remove %s: %w", it.StagingPath, err)
		}
	}
	return nil
}

// writeStream copies r to dest via a temp file in the same directory,
// fsyncing and renaming so dest only ever holds complete bytes.
func writeStream(dest string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return work.Errorf(work.KindDiskWrite, "create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".tmp-*")
	if err != nil {
		return work.Errorf(work.KindDiskWrite, "create temp file for %s: %w", dest, err)
	}
	tmpName := tmp.Name()

	_, copyErr := io.Copy(tmp, r)
	syncErr := tmp.Sync()
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, syncErr, closeErr); err != nil {
		os.Remove(tmpName)
		return work.Errorf(work.KindDiskWrite, "write %s: %w", dest, err)
	}

	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return work.Errorf(work.KindDiskWrite, "move %s into place: %w", dest, err)
	}
	return nil
}
