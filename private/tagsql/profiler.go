// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package tagsql

import (
	"strings"
	"time"

	"go.uber.org/zap"
)

// Profiler records statement durations and logs slow statements.
type Profiler struct {
	log     *zap.Logger
	enabled bool
	slow    time.Duration
}

// NewProfiler creates a profiler. Every statement is logged at debug level when
// enabled is set, statements slower than slow are logged as warnings. A zero
// slow disables the slow query log.
func NewProfiler(log *zap.Logger, enabled bool, slow time.Duration) *Profiler {
	return &Profiler{
		log:     log,
		enabled: enabled,
		slow:    slow,
	}
}

func (profiler *Profiler) observe(query string, start time.Time) {
	if profiler == nil {
		return
	}

	elapsed := time.Since(start)
	mon.DurationVal("query_duration").Observe(elapsed)

	slow := profiler.slow > 0 && elapsed > profiler.slow
	if !slow && !profiler.enabled {
		return
	}

	query = compact(query)
	if slow {
		profiler.log.Warn("slow query", zap.Duration("elapsed", elapsed), zap.String("query", query))
	}
	if profiler.enabled {
		profiler.log.Debug("query profile", zap.Duration("elapsed", elapsed), zap.String("query", query))
	}
}

// compact collapses the whitespace of multi-line statements.
func compact(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
