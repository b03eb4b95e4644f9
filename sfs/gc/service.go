// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package gc implements reclaiming the files and rows of deleted buckets,
// deleted versions and finished multipart uploads.
package gc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/errs2"
	"storj.io/common/sync2"
	"storj.io/common/uuid"
	"storj.io/sfs/sfs/sfsdb"
)

var (
	// Error is the default gc error class.
	Error = errs.Class("gc")

	mon = monkit.Package()
)

// Worker is the connection pool worker used by sweeps.
const Worker = "gc"

// Config defines parameters for the garbage collector.
type Config struct {
	Enabled                bool          `help:"run the garbage collector on an interval, when false it starts suspended" default:"true"`
	Interval               time.Duration `help:"how frequently the garbage collector runs" default:"1h0m0s"`
	MaxObjectsPerIteration int           `help:"how many objects of a deleted bucket, versions or parts are handled per batch" default:"1000"`
	MaxProcessTime         time.Duration `help:"how long a single sweep may run, zero means unbounded" default:"0s"`
}

// Blobs removes the files backing versions and parts.
type Blobs interface {
	DeleteVersion(ctx context.Context, objectID uuid.UUID, versionID int64) error
	DeletePart(ctx context.Context, pathUUID uuid.UUID, partNum int) error
}

// Service reclaims storage of deleted metadata.
//
// architecture: Chore
type Service struct {
	log    *zap.Logger
	db     *sfsdb.DB
	blobs  Blobs
	config Config

	maxObjects     int
	maxProcessTime time.Duration

	suspended atomic.Bool

	// mu serializes sweeps.
	mu sync.Mutex

	lastMu sync.Mutex
	last   *Stats

	Loop *sync2.Cycle
}

// NewService creates a new garbage collector.
func NewService(log *zap.Logger, db *sfsdb.DB, blobs Blobs, config Config) *Service {
	service := &Service{
		log:    log,
		db:     db,
		blobs:  blobs,
		config: config,
		Loop:   sync2.NewCycle(config.Interval),
	}
	service.Initialize()
	if !config.Enabled {
		service.Suspend()
	}
	return service
}

// Initialize loads the limits of a sweep from the configuration.
func (service *Service) Initialize() {
	service.mu.Lock()
	defer service.mu.Unlock()

	service.maxObjects = service.config.MaxObjectsPerIteration
	if service.maxObjects <= 0 {
		service.maxObjects = 1000
	}
	service.maxProcessTime = service.config.MaxProcessTime
}

// Suspend stops scheduled sweeps. A running sweep completes.
func (service *Service) Suspend() {
	if !service.suspended.Swap(true) {
		service.log.Info("suspended")
	}
}

// Resume continues scheduled sweeps.
func (service *Service) Resume() {
	if service.suspended.Swap(false) {
		service.log.Info("resumed")
	}
}

// Suspended returns whether scheduled sweeps are suspended.
func (service *Service) Suspended() bool { return service.suspended.Load() }

// LastStats returns the result of the last sweep.
func (service *Service) LastStats() (Stats, bool) {
	service.lastMu.Lock()
	defer service.lastMu.Unlock()
	if service.last == nil {
		return Stats{}, false
	}
	return *service.last, true
}

// Run runs sweeps on an interval until ctx is canceled.
func (service *Service) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	return service.Loop.Run(ctx, func(ctx context.Context) error {
		if service.Suspended() {
			service.log.Debug("sweep skipped, suspended")
			return nil
		}
		_, err := service.Process(ctx)
		if err != nil {
			if errs2.IsCanceled(err) {
				return err
			}
			service.log.Error("sweep failed", zap.Error(err))
		}
		return nil
	})
}

// Close stops the garbage collector.
func (service *Service) Close() (err error) {
	service.Loop.Close()
	return nil
}

// Process runs one sweep. Sweeps do not overlap.
func (service *Service) Process(ctx context.Context) (stats Stats, err error) {
	defer mon.Task()(&ctx)(&err)

	service.mu.Lock()
	defer service.mu.Unlock()

	ctx = sfsdb.WithWorker(ctx, Worker)

	sweep := &sweep{
		log:        service.log,
		db:         service.db,
		blobs:      service.blobs,
		maxObjects: service.maxObjects,
		start:      time.Now(),
	}
	if service.maxProcessTime > 0 {
		sweep.deadline = sweep.start.Add(service.maxProcessTime)
	}

	err = sweep.run(ctx)
	stats = sweep.stats
	stats.Duration = time.Since(sweep.start)
	if err != nil {
		return stats, Error.Wrap(err)
	}

	stats.record()
	if stats.Removed() {
		service.log.Info("sweep finished",
			zap.Int64("buckets", stats.BucketsDeleted),
			zap.Int64("objects", stats.ObjectsDeleted),
			zap.Int64("versions", stats.VersionsDeleted),
			zap.Int64("multiparts", stats.MultipartsDeleted),
			zap.Int64("parts", stats.PartsDeleted),
			zap.Int64("file delete failures", stats.FileDeleteFailures),
			zap.Stringer("exit", stats.Exit),
			zap.Duration("duration", stats.Duration))
	} else {
		service.log.Debug("sweep finished", zap.Stringer("exit", stats.Exit), zap.Duration("duration", stats.Duration))
	}

	service.lastMu.Lock()
	service.last = &stats
	service.lastMu.Unlock()

	return stats, nil
}
