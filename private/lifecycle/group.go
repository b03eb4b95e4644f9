// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package lifecycle allows controlling group of items.
package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/common/errs2"
)

var mon = monkit.Package()

// Group implements a collection of items that have a
// concurrent start and are closed in reverse order.
type Group struct {
	log   *zap.Logger
	items []Item

	// SlowShutdown is how long Run waits after cancellation before it logs
	// the stacks of the items that are still running.
	SlowShutdown time.Duration
}

// Item is the lifecycle item that group runs and closes.
type Item struct {
	Name  string
	Run   func(ctx context.Context) error
	Close func() error
}

// NewGroup creates a new group.
func NewGroup(log *zap.Logger) *Group {
	return &Group{
		log:          log,
		SlowShutdown: 15 * time.Second,
	}
}

// Add adds item to the group.
func (group *Group) Add(item Item) {
	group.items = append(group.items, item)
}

// Run starts all items concurrently under group g.
func (group *Group) Run(ctx context.Context, g *errgroup.Group) {
	defer mon.Task()(&ctx)(nil)

	var mu sync.Mutex
	running := map[string]bool{}
	var wg sync.WaitGroup

	var started []string
	for _, item := range group.items {
		item := item
		started = append(started, item.Name)
		if item.Run == nil {
			continue
		}

		mu.Lock()
		running[item.Name] = true
		mu.Unlock()

		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			defer func() {
				mu.Lock()
				delete(running, item.Name)
				mu.Unlock()
			}()

			err := item.Run(ctx)
			if errors.Is(ctx.Err(), context.Canceled) {
				err = errs2.IgnoreCanceled(err)
			}
			if err != nil {
				group.log.Error("item failed", zap.String("name", item.Name), zap.Error(err))
			}
			return err
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	go func() {
		select {
		case <-done:
			return
		case <-ctx.Done():
		}

		timer := time.NewTimer(group.SlowShutdown)
		defer timer.Stop()

		select {
		case <-done:
		case <-timer.C:
			mu.Lock()
			var names []string
			for name := range running {
				names = append(names, name)
			}
			mu.Unlock()
			sort.Strings(names)

			buf := make([]byte, 1<<20)
			buf = buf[:runtime.Stack(buf, true)]
			group.log.Warn("slow shutdown",
				zap.Strings("items", names),
				zap.ByteString("stack", stackSummary(buf)))
		}
	}()

	group.log.Debug("started", zap.Strings("items", started))
}

// Close closes all items in reverse order.
func (group *Group) Close() error {
	var errlist errs.Group

	for i := len(group.items) - 1; i >= 0; i-- {
		item := group.items[i]
		if item.Close == nil {
			continue
		}
		errlist.Add(item.Close())
	}

	return errlist.Err()
}

// stackSummary keeps the goroutine headers and function names of a
// runtime.Stack dump, dropping file positions and arguments.
func stackSummary(buf []byte) []byte {
	var out bytes.Buffer
	for _, line := range bytes.Split(buf, []byte("\n")) {
		switch {
		case len(line) == 0:
			out.WriteByte('\n')
		case line[0] == '\t':
		case bytes.HasPrefix(line, []byte("goroutine ")):
			out.Write(line)
			out.WriteByte('\n')
		default:
			if i := bytes.LastIndexByte(line, '('); i > 0 {
				line = line[:i]
			}
			out.WriteByte('\t')
			out.Write(line)
			out.WriteByte('\n')
		}
	}
	return out.Bytes()
}
