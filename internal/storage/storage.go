// Package storage defines the Workspace interface behind the console's shared
// file area, plus the common errors and name rules every backend applies.
//
// Backends register with the factory from an init() function in their own
// package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (storage.Workspace, error) {
//	        return New(&cfg.Workspace.MyBackend)
//	    })
//	}
//
// cmd/server imports each backend with a blank import to trigger init().
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotExist is returned when the named file is absent.
	ErrNotExist = errors.New("file does not exist")
	// ErrExist is returned by Create when the named file is already present.
	ErrExist = errors.New("file already exists")
	// ErrInvalidName is returned for names that are not a single path element.
	ErrInvalidName = errors.New("invalid file name")
)

// Workspace is a single flat namespace of files shared by every account.
//
// Create and Write make their existence checks atomically where the backend
// allows it (O_EXCL locally, conditional requests in object stores), so
// concurrent creators of the same name see exactly one success.
type Workspace interface {
	// Create stores a new empty file, or returns ErrExist.
	Create(ctx context.Context, name string) error

	// Read returns the full content of a file, or ErrNotExist.
	Read(ctx context.Context, name string) ([]byte, error)

	// Write replaces the content of an existing file. It never creates one:
	// absent files yield ErrNotExist.
	Write(ctx context.Context, name string, content []byte) error

	// Delete removes a file, or returns ErrNotExist.
	Delete(ctx context.Context, name string) error

	// List returns every file ordered by name.
	List(ctx context.Context) ([]FileInfo, error)

	// Stat returns metadata for one file, or ErrNotExist.
	Stat(ctx context.Context, name string) (*FileInfo, error)
}

// FileInfo describes a workspace file.
type FileInfo struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// MaxNameLength bounds file names across all backends.
const MaxNameLength = 255

// ValidateName checks that name is usable as a workspace file name: a single
// non-empty path element, not "." or "..", without separators or control
// characters.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	case len(name) > MaxNameLength:
		return fmt.Errorf("%w: name exceeds %d bytes", ErrInvalidName, MaxNameLength)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: name contains control characters", ErrInvalidName)
		}
	}
	return nil
}

// ObjectKey joins an optional key prefix and a file name for object-store
// backends. The prefix is normalized to end with a single "/".
func ObjectKey(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// NameFromKey strips prefix from an object key. It reports false for keys
// outside the prefix or nested below it.
func NameFromKey(prefix, key string) (string, bool) {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		if !strings.HasPrefix(key, prefix+"/") {
			return "", false
		}
		key = strings.TrimPrefix(key, prefix+"/")
	}
	if key == "" || strings.Contains(key, "/") {
		return "", false
	}
	return key, true
}
