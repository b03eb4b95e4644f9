// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package blobs

import (
	"golang.org/x/sys/windows"

	"storj.io/common/memory"
)

// Available returns the free space of the file system holding the store.
func (store *Store) Available() (memory.Size, error) {
	path, err := windows.UTF16PtrFromString(store.root)
	if err != nil {
		return -1, Error.Wrap(err)
	}

	var available uint64
	if err := windows.GetDiskFreeSpaceEx(path, &available, nil, nil); err != nil {
		return -1, Error.Wrap(err)
	}
	return memory.Size(available), nil
}
