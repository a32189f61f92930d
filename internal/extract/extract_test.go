package extract

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/brensch/tilepull/internal/work"
)

func writeZip(t *testing.T, path string, members map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range members {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func archiveItem(t *testing.T, members map[string]string) work.Item {
	t.Helper()
	dir := t.TempDir()
	it := work.Item{
		Key:         "N00E006",
		StagingPath: filepath.Join(dir, "ASTGTMV003_N00E006.zip"),
		FinalPath:   filepath.Join(dir, "out", "ASTGTMV003_N00E006_dem.tif"),
	}
	writeZip(t, it.StagingPath, members)
	return it
}

func TestArchiveExtractsWantedMember(t *testing.T) {
	it := archiveItem(t, map[string]string{
		"ASTGTMV003_N00E006_dem.tif": "elevation data",
		"ASTGTMV003_N00E006_num.tif": "quality data",
	})

	if err := Archive(it, "_dem.tif", []string{"_num.tif"}, false); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(it.FinalPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "elevation data" {
		t.Errorf("payload = %q, want the dem member", data)
	}
	if _, err := os.Stat(it.StagingPath); err != nil {
		t.Error("archive should be kept when deleteSource is false")
	}
}

func TestArchiveDeleteSource(t *testing.T) {
	it := archiveItem(t, map[string]string{"ASTGTMV003_N00E006_dem.tif": "x"})

	if err := Archive(it, "_dem.tif", nil, true); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(it.StagingPath); !errors.Is(err, os.ErrNotExist) {
		t.Error("archive should be removed after successful extraction")
	}
	if _, err := os.Stat(it.FinalPath); err != nil {
		t.Error("payload should exist after the archive is removed")
	}
}

func TestArchiveNoMatchingMember(t *testing.T) {
	it := archiveItem(t, map[string]string{"ASTGTMV003_N00E006_num.tif": "x"})

	err := Archive(it, "_dem.tif", []string{"_num.tif"}, false)
	if kind := work.Classify(err); kind != work.KindNoMatchingMember {
		t.Fatalf("kind = %s, want %s", kind, work.KindNoMatchingMember)
	}
	if _, statErr := os.Stat(it.FinalPath); !errors.Is(statErr, os.ErrNotExist) {
		t.Error("no artifact should be written")
	}
}

func TestArchiveAmbiguousMember(t *testing.T) {
	it := archiveItem(t, map[string]string{
		"a_dem.tif":     "one",
		"b/two_dem.tif": "two",
	})

	err := Archive(it, "_dem.tif", nil, false)
	if kind := work.Classify(err); kind != work.KindAmbiguousMember {
		t.Fatalf("kind = %s, want %s", kind, work.KindAmbiguousMember)
	}
}

func TestArchiveCorruptRemovesStagedFile(t *testing.T) {
	dir := t.TempDir()
	it := work.Item{
		Key:         "N00E006",
		StagingPath: filepath.Join(dir, "bad.zip"),
		FinalPath:   filepath.Join(dir, "out.tif"),
	}
	if err := os.WriteFile(it.StagingPath, []byte("not a zip at all"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := Archive(it, "_dem.tif", nil, false)
	if kind := work.Classify(err); kind != work.KindTransientNetwork {
		t.Fatalf("kind = %s, want %s so a retry pass re-fetches", kind, work.KindTransientNetwork)
	}
	if _, statErr := os.Stat(it.StagingPath); !errors.Is(statErr, os.ErrNotExist) {
		t.Error("corrupt archive should be removed so the next pass re-fetches it")
	}
}

func TestGzip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "N37W123.hgt.gz")
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte("heights")); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	it := work.Item{
		Key:         "N37W123",
		StagingPath: src,
		FinalPath:   filepath.Join(dir, "N37W123.hgt"),
	}
	if err := Gzip(it, true); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(it.FinalPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "heights" {
		t.Errorf("payload = %q, want heights", data)
	}
	if _, err := os.Stat(src); !errors.Is(err, os.ErrNotExist) {
		t.Error("compressed source should be removed after unpacking")
	}
}

func TestGzipKeepSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "N37W123.hgt.gz")
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte("h"))
	gz.Close()
	if err := os.WriteFile(src, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	it := work.Item{Key: "N37W123", StagingPath: src, FinalPath: filepath.Join(dir, "N37W123.hgt")}
	if err := Gzip(it, false); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Error("compressed source should be kept when deleteSource is false")
	}
}

func TestGzipCorruptSourceKept(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "N37W123.hgt.gz")
	if err := os.WriteFile(src, []byte("not gzip"), 0o644); err != nil {
		t.Fatal(err)
	}

	it := work.Item{Key: "N37W123", StagingPath: src, FinalPath: filepath.Join(dir, "N37W123.hgt")}
	if err := Gzip(it, true); err == nil {
		t.Fatal("want error for corrupt gzip")
	}
	if _, err := os.Stat(src); err != nil {
		t.Error("source must survive a failed unpack")
	}
	if _, err := os.Stat(it.FinalPath); !errors.Is(err, os.ErrNotExist) {
		t.Error("no artifact should be written for a corrupt source")
	}
}

func TestWriteStreamLeavesNoTempOnSuccess(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "artifact")
	if err := writeStream(dest, bytes.NewReader([]byte("data"))); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "artifact" {
		t.Fatalf("dir holds %v, want only the artifact", entries)
	}
}
