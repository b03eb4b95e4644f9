// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package gc

import (
	"time"

	"github.com/zeebo/errs"
)

// Phase is a step of a sweep.
type Phase int

const (
	// PhaseDeletedBuckets reclaims buckets flagged as deleted.
	PhaseDeletedBuckets Phase = 1
	// PhaseDeletedVersions reclaims deleted versions of live buckets.
	PhaseDeletedVersions Phase = 2
	// PhaseTerminalMultiparts reclaims done and aborted uploads of live buckets.
	PhaseTerminalMultiparts Phase = 3
	// PhaseFinished means every phase ran to completion.
	PhaseFinished Phase = 4
)

// String implements fmt.Stringer.
func (phase Phase) String() string {
	switch phase {
	case PhaseDeletedBuckets:
		return "deleted buckets"
	case PhaseDeletedVersions:
		return "deleted versions"
	case PhaseTerminalMultiparts:
		return "terminal multiparts"
	case PhaseFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (phase Phase) MarshalText() ([]byte, error) {
	return []byte(phase.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (phase *Phase) UnmarshalText(data []byte) error {
	for p := PhaseDeletedBuckets; p <= PhaseFinished; p++ {
		if p.String() == string(data) {
			*phase = p
			return nil
		}
	}
	return errs.New("unknown phase %q", data)
}

// Stats are the counters of a sweep.
type Stats struct {
	BucketsDeleted     int64         `json:"bucketsDeleted"`
	ObjectsDeleted     int64         `json:"objectsDeleted"`
	VersionsDeleted    int64         `json:"versionsDeleted"`
	MultipartsAborted  int64         `json:"multipartsAborted"`
	MultipartsDeleted  int64         `json:"multipartsDeleted"`
	PartsDeleted       int64         `json:"partsDeleted"`
	FileDeleteFailures int64         `json:"fileDeleteFailures"`
	Exit               Phase         `json:"exit"`
	Duration           time.Duration `json:"duration"`
}

// Removed returns whether the sweep removed anything.
func (stats Stats) Removed() bool {
	return stats.BucketsDeleted+stats.ObjectsDeleted+stats.VersionsDeleted+
		stats.MultipartsDeleted+stats.PartsDeleted > 0
}

func (stats Stats) record() {
	mon.Counter("gc_buckets_deleted").Inc(stats.BucketsDeleted)
	mon.Counter("gc_objects_deleted").Inc(stats.ObjectsDeleted)
	mon.Counter("gc_versions_deleted").Inc(stats.VersionsDeleted)
	mon.Counter("gc_multiparts_aborted").Inc(stats.MultipartsAborted)
	mon.Counter("gc_multiparts_deleted").Inc(stats.MultipartsDeleted)
	mon.Counter("gc_parts_deleted").Inc(stats.PartsDeleted)
	mon.Counter("gc_file_delete_failures").Inc(stats.FileDeleteFailures)
	mon.IntVal("gc_process_exit").Observe(int64(stats.Exit))
}
