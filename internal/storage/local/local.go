// Package local implements the filesystem workspace backend: every workspace
// file is a regular file directly under one base directory. It suits
// single-node installs; several console instances need a shared filesystem
// or an object-store backend.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/opsconsole/opsconsole/internal/config"
	"github.com/opsconsole/opsconsole/internal/storage"
)

func init() {
	storage.Register("local", func(cfg *config.Config) (storage.Workspace, error) {
		return New(&cfg.Workspace.Local)
	})
}

// LocalWorkspace implements storage.Workspace on the local filesystem
type LocalWorkspace struct {
	basePath string
}

// New creates the base directory if needed and returns the backend.
func New(cfg *config.LocalStorageConfig) (*LocalWorkspace, error) {
	if cfg.BasePath == "" {
		return nil, errors.New("workspace base path is required")
	}
	if err := os.MkdirAll(cfg.BasePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}

	return &LocalWorkspace{basePath: cfg.BasePath}, nil
}

// BasePath returns the workspace directory.
func (w *LocalWorkspace) BasePath() string { return w.basePath }

func (w *LocalWorkspace) path(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := storage.ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(w.basePath, name), nil
}

// Create makes an empty file with O_EXCL, so exactly one concurrent creator wins.
func (w *LocalWorkspace) Create(ctx context.Context, name string) error {
	p, err := w.path(ctx, name)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0640)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return storage.ErrExist
		}
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	return nil
}

// Read returns the file content.
func (w *LocalWorkspace) Read(ctx context.Context, name string) ([]byte, error) {
	p, err := w.path(ctx, name)
	if err != nil {
		return nil, err
	}

	if err := w.ensureRegular(p); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotExist
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// Write truncates and rewrites an existing file. The file is opened without
// O_CREATE, so a missing file is reported rather than created.
func (w *LocalWorkspace) Write(ctx context.Context, name string, content []byte) error {
	p, err := w.path(ctx, name)
	if err != nil {
		return err
	}

	if err := w.ensureRegular(p); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return storage.ErrNotExist
		}
		return fmt.Errorf("failed to open file: %w", err)
	}

	if _, err := f.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// Delete removes the file.
func (w *LocalWorkspace) Delete(ctx context.Context, name string) error {
	p, err := w.path(ctx, name)
	if err != nil {
		return err
	}

	if err := w.ensureRegular(p); err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return storage.ErrNotExist
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// List returns the regular files in the workspace directory, sorted by name.
// Subdirectories are not part of the workspace and are skipped.
func (w *LocalWorkspace) List(ctx context.Context) ([]storage.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(w.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspace: %w", err)
	}

	files := make([]storage.FileInfo, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		files = append(files, storage.FileInfo{
			Name:         e.Name(),
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
	}
	return files, nil
}

// Stat returns file metadata.
func (w *LocalWorkspace) Stat(ctx context.Context, name string) (*storage.FileInfo, error) {
	p, err := w.path(ctx, name)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotExist
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, storage.ErrNotExist
	}

	return &storage.FileInfo{
		Name:         name,
		Size:         info.Size(),
		LastModified: info.ModTime(),
	}, nil
}

// ensureRegular treats directories and other non-regular entries as absent.
func (w *LocalWorkspace) ensureRegular(p string) error {
	info, err := os.Lstat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return storage.ErrNotExist
		}
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return storage.ErrNotExist
	}
	return nil
}
