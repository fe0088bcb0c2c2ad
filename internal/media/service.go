/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package media turns catalog paths into files ffmpeg can open.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_tv/internal/config"
)

// S3Scheme prefixes catalog paths that live in object storage.
const S3Scheme = "s3://"

// ErrNoObjectStorage is returned for s3:// paths when no client is configured.
var ErrNoObjectStorage = errors.New("object storage not configured")

// ObjectStore opens remote objects.
type ObjectStore interface {
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// Service resolves catalog paths, downloading remote tracks into a cache.
type Service struct {
	fs       *FilesystemStorage
	remote   ObjectStore
	cacheDir string
	logger   zerolog.Logger

	mu sync.Mutex // serialises downloads into the cache
}

// NewService creates a resolver over the media root. remote may be nil.
func NewService(fs *FilesystemStorage, remote ObjectStore, cacheDir string, logger zerolog.Logger) *Service {
	return &Service{
		fs:       fs,
		remote:   remote,
		cacheDir: cacheDir,
		logger:   logger.With().Str("component", "media").Logger(),
	}
}

// NewServiceFromConfig wires filesystem storage and, when S3 credentials or
// an endpoint are configured, an S3 client.
func NewServiceFromConfig(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Service, error) {
	fs := NewFilesystemStorage(cfg.MediaRoot)

	var remote ObjectStore
	if cfg.S3Endpoint != "" || cfg.S3AccessKeyID != "" {
		s3, err := NewS3Storage(ctx, S3Config{
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			UsePathStyle:    cfg.S3UsePathStyle,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		remote = s3
	}

	return NewService(fs, remote, cfg.MediaCacheDir, logger), nil
}

// Storage returns the filesystem backend.
func (s *Service) Storage() *FilesystemStorage {
	return s.fs
}

// Resolve returns a local file path for a catalog path.
func (s *Service) Resolve(ctx context.Context, path string) (string, error) {
	if !strings.HasPrefix(path, S3Scheme) {
		return s.fs.Path(path), nil
	}

	bucket, key, err := ParseS3Path(path)
	if err != nil {
		return "", err
	}
	if s.remote == nil {
		return "", fmt.Errorf("resolve %s: %w", path, ErrNoObjectStorage)
	}

	local := filepath.Join(s.cacheDir, bucket, filepath.FromSlash(key))

	s.mu.Lock()
	defer s.mu.Unlock()

	if info, err := os.Stat(local); err == nil && info.Size() > 0 {
		return local, nil
	}

	if err := s.download(ctx, bucket, key, local); err != nil {
		return "", err
	}
	s.logger.Info().Str("path", path).Str("local", local).Msg("remote track cached")
	return local, nil
}

func (s *Service) download(ctx context.Context, bucket, key, local string) error {
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	body, err := s.remote.Open(ctx, bucket, key)
	if err != nil {
		return err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(local), ".download-*")
	if err != nil {
		return fmt.Errorf("create cache file: %w", err)
	}
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), local); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("move cache file: %w", err)
	}
	return nil
}

// ParseS3Path splits "s3://bucket/key".
func ParseS3Path(path string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(path, S3Scheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 path %q: expected s3://bucket/key", path)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return "", "", fmt.Errorf("invalid s3 path %q: key escapes cache", path)
		}
	}
	return bucket, key, nil
}
