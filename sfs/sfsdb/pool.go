// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package sfsdb

import (
	"context"
	"database/sql"
	"sync"

	"github.com/ncruces/go-sqlite3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/sfs/private/dbutil/sqliteutil"
	"storj.io/sfs/private/tagsql"
)

// MainWorker is the worker used by callers that did not name one.
const MainWorker = "main"

type workerKey struct{}

// WithWorker returns a context whose database calls go through the
// connection pinned to worker id.
func WithWorker(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workerKey{}, id)
}

// Worker returns the worker id carried by ctx.
func Worker(ctx context.Context) string {
	if id, ok := ctx.Value(workerKey{}).(string); ok && id != "" {
		return id
	}
	return MainWorker
}

// Pool hands every worker its own connection, opened on first use and kept
// until the worker is released.
type Pool struct {
	log      *zap.Logger
	db       *sql.DB
	profiler *tagsql.Profiler

	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewPool creates a pool of connections from db. Every connection of db must
// already be initialized by the driver.
func NewPool(log *zap.Logger, db *sql.DB, profiler *tagsql.Profiler) *Pool {
	// released connections are closed instead of kept idle.
	db.SetMaxIdleConns(0)
	return &Pool{
		log:      log,
		db:       db,
		profiler: profiler,
		conns:    map[string]*Conn{},
	}
}

// Conn returns the connection of the worker carried by ctx.
func (pool *Pool) Conn(ctx context.Context) (_ *Conn, err error) {
	id := Worker(ctx)

	pool.mu.RLock()
	conn, ok := pool.conns[id]
	pool.mu.RUnlock()
	if ok {
		return conn, nil
	}

	pool.mu.Lock()
	defer pool.mu.Unlock()

	if conn, ok := pool.conns[id]; ok {
		return conn, nil
	}

	raw, err := pool.db.Conn(ctx)
	if err != nil {
		return nil, ErrDatabase.Wrap(err)
	}
	conn = &Conn{
		worker: id,
		raw:    raw,
		db:     tagsql.Wrap(raw, pool.profiler),
	}
	pool.conns[id] = conn

	pool.log.Debug("connection opened", zap.String("worker", id), zap.Int("connections", len(pool.conns)))
	return conn, nil
}

// Release closes the connection of worker id.
func (pool *Pool) Release(id string) error {
	pool.mu.Lock()
	conn, ok := pool.conns[id]
	delete(pool.conns, id)
	pool.mu.Unlock()

	if !ok {
		return nil
	}
	return conn.close()
}

// Len returns the number of open connections.
func (pool *Pool) Len() int {
	pool.mu.RLock()
	defer pool.mu.RUnlock()
	return len(pool.conns)
}

// Close closes every connection.
func (pool *Pool) Close() error {
	pool.mu.Lock()
	conns := pool.conns
	pool.conns = map[string]*Conn{}
	pool.mu.Unlock()

	var group errs.Group
	for _, conn := range conns {
		group.Add(conn.close())
	}
	return group.Err()
}

// Conn is a connection pinned to a single worker. Calls on it are
// sequential.
type Conn struct {
	worker string

	mu  sync.Mutex
	raw *sql.Conn
	db  tagsql.DB
}

// Worker returns the worker the connection belongs to.
func (conn *Conn) Worker() string { return conn.worker }

// Do calls fn with exclusive use of the connection.
func (conn *Conn) Do(ctx context.Context, fn func(ctx context.Context, db tagsql.DB) error) error {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return fn(ctx, conn.db)
}

// Raw calls fn with the sqlite connection.
func (conn *Conn) Raw(fn func(raw *sqlite3.Conn) error) error {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return sqliteutil.RawConn(conn.raw, fn)
}

func (conn *Conn) close() error {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return ErrDatabase.Wrap(conn.raw.Close())
}

// Backup copies the database into the file at dst.
func (conn *Conn) Backup(ctx context.Context, dst string) error {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return sqliteutil.Backup(ctx, conn.raw, dst)
}
