/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FilesystemStorage resolves catalog paths stored relative to the media root.
type FilesystemStorage struct {
	rootDir string
}

// NewFilesystemStorage creates a filesystem-based storage backend.
func NewFilesystemStorage(rootDir string) *FilesystemStorage {
	return &FilesystemStorage{rootDir: rootDir}
}

// Root returns the media root directory.
func (fs *FilesystemStorage) Root() string {
	return fs.rootDir
}

// Path returns the on-disk path for a catalog path. Absolute paths are kept
// as is so hand-inserted rows keep working.
func (fs *FilesystemStorage) Path(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(fs.rootDir, filepath.FromSlash(path))
}

// Rel converts an on-disk path below the root into the catalog form.
func (fs *FilesystemStorage) Rel(fullPath string) (string, error) {
	rel, err := filepath.Rel(fs.rootDir, fullPath)
	if err != nil {
		return "", fmt.Errorf("relative media path: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

// CheckAccess verifies the storage directory exists and is accessible.
func (fs *FilesystemStorage) CheckAccess(ctx context.Context) error {
	info, err := os.Stat(fs.rootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("media root directory does not exist: %s", fs.rootDir)
		}
		return fmt.Errorf("cannot access media root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("media root is not a directory: %s", fs.rootDir)
	}
	return nil
}
