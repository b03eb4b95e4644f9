// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package sfs wires the metadata store, the blob store, the garbage
// collector and the admin server into a runnable peer.
package sfs

import (
	"context"
	"errors"
	"net"
	"runtime/pprof"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/sfs/private/lifecycle"
	"storj.io/sfs/sfs/admin"
	"storj.io/sfs/sfs/blobs"
	"storj.io/sfs/sfs/gc"
	"storj.io/sfs/sfs/sfsdb"
)

var mon = monkit.Package()

// Config is all the configuration parameters of a peer.
type Config struct {
	DB    sfsdb.Config
	Blobs blobs.Config
	GC    gc.Config
	Admin admin.Config
}

// Peer is the metadata engine process.
type Peer struct {
	Log   *zap.Logger
	DB    *sfsdb.DB
	Blobs *blobs.Store

	Servers  *lifecycle.Group
	Services *lifecycle.Group

	GC *gc.Service

	Admin struct {
		Listener net.Listener
		Server   *admin.Server
	}
}

// New creates a new peer on an opened metadata store.
func New(log *zap.Logger, db *sfsdb.DB, config *Config) (*Peer, error) {
	peer := &Peer{
		Log: log,
		DB:  db,

		Servers:  lifecycle.NewGroup(log.Named("servers")),
		Services: lifecycle.NewGroup(log.Named("services")),
	}

	var err error

	{ // setup blob store
		peer.Blobs, err = blobs.New(log.Named("blobs"), config.Blobs)
		if err != nil {
			return nil, errs.Combine(err, peer.Close())
		}

		available, err := peer.Blobs.Available()
		if err != nil {
			log.Warn("unable to read free disk space", zap.Error(err))
		} else {
			log.Info("blob store", zap.String("root", peer.Blobs.Root()), zap.Stringer("available", available))
		}
	}

	{ // setup garbage collector
		peer.GC = gc.NewService(log.Named("gc"), peer.DB, peer.Blobs, config.GC)
		peer.Services.Add(lifecycle.Item{
			Name:  "gc",
			Run:   peer.GC.Run,
			Close: peer.GC.Close,
		})
	}

	{ // setup admin server
		if config.Admin.Address != "" {
			peer.Admin.Listener, err = net.Listen("tcp", config.Admin.Address)
			if err != nil {
				return nil, errs.Combine(err, peer.Close())
			}

			peer.Admin.Server = admin.NewServer(log.Named("admin"), peer.Admin.Listener, peer.GC, config.Admin)
			peer.Servers.Add(lifecycle.Item{
				Name:  "admin",
				Run:   peer.Admin.Server.Run,
				Close: peer.Admin.Server.Close,
			})
		}
	}

	return peer, nil
}

// Run runs the peer until it's either closed or it errors.
func (peer *Peer) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	group, ctx := errgroup.WithContext(ctx)

	pprof.Do(ctx, pprof.Labels("subsystem", "sfs"), func(ctx context.Context) {
		peer.Servers.Run(ctx, group)
		peer.Services.Run(ctx, group)

		err = group.Wait()
	})
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// Close closes all the resources. The metadata store is closed by its owner.
func (peer *Peer) Close() error {
	return errs.Combine(
		peer.Servers.Close(),
		peer.Services.Close(),
	)
}

// AdminAddr returns the address of the admin server, empty when disabled.
func (peer *Peer) AdminAddr() string {
	if peer.Admin.Listener == nil {
		return ""
	}
	return peer.Admin.Listener.Addr().String()
}
