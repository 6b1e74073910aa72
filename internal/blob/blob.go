// Package blob defines the shared-folder contract used to exchange delta
// files between devices, plus the naming scheme of those files.
//
// Two implementations exist: package webdav talks to a WebDAV collection and
// package dirstore uses a plain directory such as a network mount or a
// folder kept in sync by another tool.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

// UpdatesDir is the collection holding every device's delta files.
const UpdatesDir = "updates"

// Ext is the extension of delta files. ListFiles ignores anything else.
const Ext = ".bin"

const filePrefix = "update_"

var (
	// ErrCollectionMissing is returned when the parent collection of a path
	// does not exist (a WebDAV 409 Conflict on PUT, a missing directory).
	ErrCollectionMissing = errors.New("collection missing")

	// ErrNotFound is returned when a file or collection does not exist.
	ErrNotFound = errors.New("not found")
)

// Client is the minimal remote file store.
//
// Paths are slash-separated and relative to the configured root.
type Client interface {
	// CheckConnection verifies that the remote root is reachable.
	CheckConnection(ctx context.Context) error

	// CreateDirectory creates the collection at path. Creating an existing
	// collection is not an error.
	CreateDirectory(ctx context.Context, path string) error

	// PutFile writes data to path, replacing any existing file.
	// Returns ErrCollectionMissing when the parent collection is absent.
	PutFile(ctx context.Context, path string, data []byte) error

	// GetFile reads the whole file at path.
	// Returns ErrNotFound when it does not exist.
	GetFile(ctx context.Context, path string) ([]byte, error)

	// ListFiles returns the names (not paths) of the delta files directly
	// inside the collection at path.
	// Returns ErrNotFound when the collection does not exist.
	ListFiles(ctx context.Context, path string) ([]string, error)
}

// UpdateName returns the file name for a delta pushed by deviceID at t.
func UpdateName(deviceID string, t time.Time) string {
	return fmt.Sprintf("%s%s_%d%s", filePrefix, deviceID, t.UnixMilli(), Ext)
}

// UpdatePath returns the path of a delta file name inside UpdatesDir.
func UpdatePath(name string) string {
	return path.Join(UpdatesDir, name)
}

// ParseUpdateName extracts the device id and timestamp from a delta file name.
func ParseUpdateName(name string) (deviceID string, t time.Time, err error) {
	base, ok := strings.CutSuffix(path.Base(name), Ext)
	if !ok {
		return "", time.Time{}, fmt.Errorf("not a delta file: %s", name)
	}
	base, ok = strings.CutPrefix(base, filePrefix)
	if !ok {
		return "", time.Time{}, fmt.Errorf("not a delta file: %s", name)
	}
	i := strings.LastIndexByte(base, '_')
	if i <= 0 {
		return "", time.Time{}, fmt.Errorf("malformed delta file name: %s", name)
	}
	ms, err := strconv.ParseInt(base[i+1:], 10, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("malformed timestamp in %s: %w", name, err)
	}
	return base[:i], time.UnixMilli(ms), nil
}

// SortByTimestamp orders delta file names oldest first. Names that don't
// parse sort last, by name.
func SortByTimestamp(names []string) {
	key := func(name string) (int64, bool) {
		_, t, err := ParseUpdateName(name)
		if err != nil {
			return 0, false
		}
		return t.UnixMilli(), true
	}
	sort.SliceStable(names, func(i, j int) bool {
		ti, oki := key(names[i])
		tj, okj := key(names[j])
		switch {
		case oki && okj && ti != tj:
			return ti < tj
		case oki != okj:
			return oki
		default:
			return names[i] < names[j]
		}
	})
}

// IsDelta reports whether name has the delta file extension.
func IsDelta(name string) bool {
	return strings.HasSuffix(name, Ext)
}
