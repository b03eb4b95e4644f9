// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

//go:build !windows

package blobs

import (
	"golang.org/x/sys/unix"

	"storj.io/common/memory"
)

// Available returns the free space of the file system holding the store.
func (store *Store) Available() (memory.Size, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(store.root, &stat); err != nil {
		return -1, Error.Wrap(err)
	}

	// the Bsize size depends on the OS and unconvert gives a false-positive
	return memory.Size(int64(stat.Bavail) * int64(stat.Bsize)), nil //nolint: unconvert
}
