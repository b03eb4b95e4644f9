// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package checkpoint decides when the write-ahead log is merged back into
// the main database file.
package checkpoint

import (
	"github.com/spacemonkeygo/monkit/v3"
)

var mon = monkit.Package()

// Config contains the write-ahead log watermarks.
type Config struct {
	PassiveFrames    int  `help:"wal size in frames above which a passive checkpoint runs after commit" default:"1000"`
	TruncateFrames   int  `help:"wal size in frames at which a truncating checkpoint runs after commit" default:"4000"`
	UseSQLiteDefault bool `help:"use the sqlite auto-checkpoint instead of the adaptive policy" default:"false"`
}

// DefaultConfig returns the configuration used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		PassiveFrames:  1000,
		TruncateFrames: 4000,
	}
}

// Action is what the hook does after a commit.
type Action int

const (
	// None leaves the log alone.
	None Action = iota
	// Passive merges as much of the log as possible without blocking.
	Passive
	// Truncate merges the whole log and shrinks it to zero bytes.
	Truncate
)

// String implements fmt.Stringer.
func (action Action) String() string {
	switch action {
	case None:
		return "none"
	case Passive:
		return "passive"
	case Truncate:
		return "truncate"
	default:
		return "unknown"
	}
}

// Decide returns the action for a log that holds frames frames.
func Decide(config Config, frames int) Action {
	switch {
	case frames <= config.PassiveFrames:
		return None
	case frames >= config.TruncateFrames:
		return Truncate
	default:
		return Passive
	}
}
