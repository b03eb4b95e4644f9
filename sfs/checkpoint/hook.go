// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package checkpoint

import (
	"github.com/ncruces/go-sqlite3"
	"go.uber.org/zap"
)

// Hook is called by sqlite after every commit in wal mode.
type Hook func(conn *sqlite3.Conn, schema string, frames int) error

// NewHook returns the wal hook that applies Decide after each commit.
func NewHook(log *zap.Logger, config Config) Hook {
	return func(conn *sqlite3.Conn, schema string, frames int) error {
		mon.IntVal("wal_frames").Observe(int64(frames))

		var mode sqlite3.CheckpointMode
		switch Decide(config, frames) {
		case Passive:
			mon.Event("wal_checkpoint_passive")
			mode = sqlite3.CHECKPOINT_PASSIVE
		case Truncate:
			mon.Event("wal_checkpoint_truncate")
			mode = sqlite3.CHECKPOINT_TRUNCATE
		default:
			return nil
		}

		total, checkpointed, err := conn.WALCheckpoint(schema, mode)
		if err != nil {
			// A busy checkpoint is retried by a later commit.
			log.Debug("checkpoint incomplete",
				zap.Stringer("mode", modeStringer(mode)),
				zap.Int("frames", frames),
				zap.Error(err))
			return nil
		}

		log.Debug("checkpoint",
			zap.Stringer("mode", modeStringer(mode)),
			zap.Int("total", total),
			zap.Int("checkpointed", checkpointed))
		return nil
	}
}

// Install registers the hook on conn, or leaves sqlite's auto-checkpoint in
// place when config asks for the default behavior.
func Install(log *zap.Logger, conn *sqlite3.Conn, config Config) {
	if config.UseSQLiteDefault {
		return
	}
	conn.WALHook(NewHook(log, config))
}

type modeStringer sqlite3.CheckpointMode

func (mode modeStringer) String() string {
	switch sqlite3.CheckpointMode(mode) {
	case sqlite3.CHECKPOINT_PASSIVE:
		return "passive"
	case sqlite3.CHECKPOINT_TRUNCATE:
		return "truncate"
	default:
		return "other"
	}
}
