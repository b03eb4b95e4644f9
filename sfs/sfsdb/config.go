// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package sfsdb

import (
	"path/filepath"
	"time"

	"storj.io/common/memory"
	"storj.io/sfs/sfs/checkpoint"
)

// Config configures the metadata database.
type Config struct {
	Dir        string `help:"directory holding the metadata database" default:"$CONFDIR/data"`
	Name       string `help:"file name of the metadata database" default:"sfs.db"`
	LegacyName string `help:"file name used by older releases, migrated on start" default:"s3gw.db"`

	BusyTimeout  time.Duration `help:"how long a statement waits for a lock before reporting busy" default:"10s"`
	WALSizeLimit memory.Size   `help:"size the write-ahead log is truncated to after a checkpoint" default:"16MiB"`
	Checkpoint   checkpoint.Config

	Profile            bool          `help:"log every statement at debug level" default:"false"`
	SlowQueryThreshold time.Duration `help:"statements slower than this are logged as warnings, zero disables" default:"100ms"`
}

// DefaultConfig returns the configuration used by tests.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:                dir,
		Name:               "sfs.db",
		LegacyName:         "s3gw.db",
		BusyTimeout:        10 * time.Second,
		WALSizeLimit:       16 * memory.MiB,
		Checkpoint:         checkpoint.DefaultConfig(),
		SlowQueryThreshold: 100 * time.Millisecond,
	}
}

// Path returns the path of the database file.
func (config Config) Path() string { return filepath.Join(config.Dir, config.Name) }

// LegacyPath returns the path of the database file used by older releases.
func (config Config) LegacyPath() string {
	if config.LegacyName == "" {
		return ""
	}
	return filepath.Join(config.Dir, config.LegacyName)
}

// ScratchPath returns the path of the copy used by the compatibility check.
func (config Config) ScratchPath() string { return config.Path() + "_tmp" }
