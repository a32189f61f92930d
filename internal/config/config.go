package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultSourceList is the published ASTER GDEM v3 URL list.
const DefaultSourceList = "https://www.opentopodata.org/datasets/aster30m_urls.txt"

// DefaultExpectedTiles is the size of the complete Mapzen/skadi dataset,
// used only for percentage reporting when unpacking.
const DefaultExpectedTiles = 65341

// Config holds application settings shared by all commands.
type Config struct {
	OutputDir  string `yaml:"output_dir"`
	StagingDir string `yaml:"staging_dir"`
	DBPath     string `yaml:"db_path"`
	Workers    int    `yaml:"workers"`

	// SourceList is a URL or local file holding the remote archive URLs,
	// one per line, or an HTML directory listing to harvest links from.
	SourceList string `yaml:"source_list"`

	// WantedSuffix selects the single archive member to extract;
	// IgnoredSuffixes are skipped without being read.
	WantedSuffix    string   `yaml:"wanted_suffix"`
	IgnoredSuffixes []string `yaml:"ignored_suffixes"`

	// TokenFile holds the bearer token used on fetch requests.
	TokenFile string `yaml:"token_file"`

	// DeleteSources removes fetched archives after their payload is
	// confirmed on disk. It is the default for --delete-archives; unpack's
	// delete-after-extract is governed by its own --keep-sources flag.
	DeleteSources bool `yaml:"delete_sources"`

	// ExpectedTiles is the complete dataset size for progress reporting.
	ExpectedTiles int `yaml:"expected_tiles"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		OutputDir:       "./data/aster30m",
		StagingDir:      "./data/temp_zips",
		DBPath:          "./tilepull_state.duckdb",
		Workers:         4,
		SourceList:      DefaultSourceList,
		WantedSuffix:    "_dem.tif",
		IgnoredSuffixes: []string{"_num.tif"},
		TokenFile:       "token.txt",
		ExpectedTiles:   DefaultExpectedTiles,
	}
}

// LoadFile reads a YAML config file over the defaults. Missing keys keep
// their default values.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}
