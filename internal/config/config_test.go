package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Workers < 1 {
		t.Error("default worker count must be positive")
	}
	if cfg.WantedSuffix != "_dem.tif" {
		t.Errorf("wanted suffix = %s", cfg.WantedSuffix)
	}
	if len(cfg.IgnoredSuffixes) == 0 {
		t.Error("defaults should ignore the quality layer")
	}
	if cfg.ExpectedTiles != DefaultExpectedTiles {
		t.Errorf("expected tiles = %d", cfg.ExpectedTiles)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
output_dir: /data/tiles
workers: 12
delete_sources: true
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.OutputDir != "/data/tiles" {
		t.Errorf("output dir = %s", cfg.OutputDir)
	}
	if cfg.Workers != 12 {
		t.Errorf("workers = %d", cfg.Workers)
	}
	if !cfg.DeleteSources {
		t.Error("delete_sources should be set")
	}
	// Keys absent from the file keep their defaults.
	if cfg.WantedSuffix != "_dem.tif" {
		t.Errorf("wanted suffix = %s, want the default", cfg.WantedSuffix)
	}
	if cfg.SourceList != DefaultSourceList {
		t.Errorf("source list = %s, want the default", cfg.SourceList)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing config file should error")
	}
}

func TestLoadFileInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("workers: [not an int"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("invalid yaml should error")
	}
}
