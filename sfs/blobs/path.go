// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package blobs

import (
	"encoding/hex"
	"path/filepath"
	"strconv"

	"storj.io/common/uuid"
)

const (
	versionExt = ".v"
	partExt    = ".p"
)

// uuidDir spreads identities over two levels of directories.
func uuidDir(id uuid.UUID) string {
	s := hex.EncodeToString(id[:])
	return filepath.Join(s[0:2], s[2:4], s[4:])
}

// VersionPath returns the path of the file of an object version, relative
// to the store root.
func VersionPath(objectID uuid.UUID, versionID int64) string {
	return filepath.Join(uuidDir(objectID), strconv.FormatInt(versionID, 10)+versionExt)
}

// PartPath returns the path of the file of a multipart part, relative to
// the store root.
func PartPath(pathUUID uuid.UUID, partNum int) string {
	return filepath.Join(uuidDir(pathUUID), strconv.Itoa(partNum)+partExt)
}
