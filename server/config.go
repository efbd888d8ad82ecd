// Copyright 2017 The Nakama Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server holds the tapi CLI's ambient stack: configuration
// loading/overriding and zap-based logging, kept as their own package the
// way the teacher separates process wiring from the command
// implementations in cmd/.
package server

import (
	"flag"
	"io/ioutil"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/tapidb/tapi/flags"
	"github.com/tapidb/tapi/internal/bm25/threshold"
)

// Config is the tapi CLI's process-wide configuration: which relation to
// operate on, how to reach its backing Postgres table, and the BM25/LSM
// tuning knobs from spec §6's "Configuration options".
type Config interface {
	GetDataDir() string
	GetDSN() string
	GetRelation() string
	GetTable() string
	GetColumn() string
	GetTextConfigID() uint32
	GetIndexConfig() *IndexConfig
	GetLogger() *LogConfig
}

// ParseArgs builds a Config from defaults, an optional `--config
// <path>.yaml` file, and any remaining command-line flags generated from
// Config's own struct tags (teacher's `flags.FlagMaker` reflection
// approach, server/config.go's original `ParseArgs`).
func ParseArgs(logger *zap.Logger, args []string) Config {
	config := NewConfig()

	for i, a := range args {
		if a == "--config" && i+1 < len(args) {
			data, err := ioutil.ReadFile(args[i+1])
			if err != nil {
				logger.Error("could not read config file, using defaults", zap.Error(err))
			} else if err := yaml.Unmarshal(data, config); err != nil {
				logger.Error("could not parse config file, using defaults", zap.Error(err))
			}
			break
		}
	}

	flagSet := flag.NewFlagSet("tapi", flag.ExitOnError)
	fm := flags.NewFlagMakerFlagSet(&flags.FlagMakingOptions{
		UseLowerCase: true,
		Flatten:      false,
		TagName:      "yaml",
		TagUsage:     "usage",
	}, flagSet)

	if _, err := fm.ParseArgs(config, args); err != nil {
		logger.Error("could not parse command line arguments - ignoring command-line overrides", zap.Error(err))
	}

	return config
}

type config struct {
	Datadir      string       `yaml:"data_dir" json:"data_dir" usage:"Absolute path to a writeable directory tapi uses for its index files."`
	DSN          string       `yaml:"dsn" json:"dsn" usage:"Postgres connection string for the backing heap table."`
	Relation     string       `yaml:"relation" json:"relation" usage:"Name of the tapi index file (relative to data_dir)."`
	Table        string       `yaml:"table" json:"table" usage:"Name of the Postgres table to index."`
	Column       string       `yaml:"column" json:"column" usage:"Name of the text column within table to index."`
	TextConfigID uint32       `yaml:"text_config_id" json:"text_config_id" usage:"Tokenizer configuration identifier recorded in the metapage; must match between build and query."`
	Index        *IndexConfig `yaml:"index" json:"index" usage:"BM25 scoring and LSM tuning options."`
	Log          *LogConfig   `yaml:"log" json:"log" usage:"Log levels and output"`
}

// NewConfig constructs a Config with the spec's default thresholds (spec
// §4.13) and BM25 parameters (spec §4.10, k1=1.2/b=0.75 — the textbook
// Okapi BM25 defaults `timescale/pg_textsearch` itself ships with).
func NewConfig() *config {
	cwd, _ := os.Getwd()
	return &config{
		Datadir:      filepath.Join(cwd, "data"),
		Relation:     "tapi_index",
		TextConfigID: 1,
		Index:        NewIndexConfig(),
		Log:          NewLogConfig(),
	}
}

func (c *config) GetDataDir() string          { return c.Datadir }
func (c *config) GetDSN() string              { return c.DSN }
func (c *config) GetRelation() string         { return c.Relation }
func (c *config) GetTable() string            { return c.Table }
func (c *config) GetColumn() string           { return c.Column }
func (c *config) GetTextConfigID() uint32     { return c.TextConfigID }
func (c *config) GetIndexConfig() *IndexConfig { return c.Index }
func (c *config) GetLogger() *LogConfig       { return c.Log }

// IndexConfig mirrors spec §6's "Configuration options" list: BM25
// parameters plus every threshold.Policy field, with an added Workers
// knob for `build`'s parallel path (spec §4.12).
type IndexConfig struct {
	K1 float64 `yaml:"k1" json:"k1" usage:"BM25 term-frequency saturation parameter."`
	B  float64 `yaml:"b" json:"b" usage:"BM25 document-length normalization parameter."`

	SpillThreshold              int     `yaml:"spill_threshold" json:"spill_threshold" usage:"Total memtable postings that triggers a spill to a new segment. 0 disables the check."`
	BulkLoadThreshold           int     `yaml:"bulk_load_threshold" json:"bulk_load_threshold" usage:"Distinct terms added in one transaction that forces an immediate spill. 0 disables the check."`
	SegmentsPerLevel            int     `yaml:"segments_per_level" json:"segments_per_level" usage:"Segment count per LSM level that triggers a merge into the next level. 0 disables compaction."`
	MaxLevels                   int     `yaml:"max_levels" json:"max_levels" usage:"Number of LSM levels."`
	ParallelBuildExpansionFactor float64 `yaml:"parallel_build_expansion_factor" json:"parallel_build_expansion_factor" usage:"Page-pool headroom multiplier for parallel build/compaction."`
	CompressSegments             bool    `yaml:"compress_segments" json:"compress_segments" usage:"Bit-pack posting blocks on write."`

	Workers int `yaml:"workers" json:"workers" usage:"Worker goroutine count for a parallel build. 1 runs the serial path."`
}

// NewIndexConfig returns the spec's default thresholds and BM25 params.
func NewIndexConfig() *IndexConfig {
	d := threshold.NewDefault()
	return &IndexConfig{
		K1: 1.2, B: 0.75,
		SpillThreshold:               d.SpillThreshold,
		BulkLoadThreshold:            d.BulkLoadThreshold,
		SegmentsPerLevel:             d.SegmentsPerLevel,
		MaxLevels:                    d.MaxLevels,
		ParallelBuildExpansionFactor: d.ParallelBuildExpansionFactor,
		CompressSegments:             d.CompressSegments,
		Workers:                      1,
	}
}

// Policy converts the YAML/flag-facing IndexConfig into the threshold
// package's runtime Policy type.
func (ic *IndexConfig) Policy() threshold.Policy {
	return threshold.Policy{
		SpillThreshold:               ic.SpillThreshold,
		BulkLoadThreshold:            ic.BulkLoadThreshold,
		SegmentsPerLevel:             ic.SegmentsPerLevel,
		MaxLevels:                    ic.MaxLevels,
		ParallelBuildExpansionFactor: ic.ParallelBuildExpansionFactor,
		CompressSegments:             ic.CompressSegments,
	}
}

// LogConfig is configuration relevant to logging levels and output.
type LogConfig struct {
	Verbose    bool   `yaml:"verbose" json:"verbose" usage:"Turn verbose (debug) logging on."`
	Format     string `yaml:"format" json:"format" usage:"Log encoding: '' or 'json', or 'stackdriver'."`
	Stdout     bool   `yaml:"stdout" json:"stdout" usage:"Log to stdout instead of a file."`
	File       string `yaml:"file" json:"file" usage:"Absolute file path to write JSON logs to, if not logging to stdout."`
	Rotation   bool   `yaml:"rotation" json:"rotation" usage:"Rotate the log file using lumberjack instead of appending forever."`
	MaxSize    int    `yaml:"max_size" json:"max_size" usage:"Maximum log file size in megabytes before it's rotated."`
	MaxAge     int    `yaml:"max_age" json:"max_age" usage:"Maximum number of days to retain old rotated log files."`
	MaxBackups int    `yaml:"max_backups" json:"max_backups" usage:"Maximum number of old rotated log files to retain."`
	LocalTime  bool   `yaml:"local_time" json:"local_time" usage:"Use the host's local time in rotated log file names."`
	Compress   bool   `yaml:"compress" json:"compress" usage:"Gzip-compress rotated log files."`
}

// NewLogConfig creates a new LogConfig struct.
func NewLogConfig() *LogConfig {
	return &LogConfig{
		MaxSize: 100,
		MaxAge:  28,
	}
}
