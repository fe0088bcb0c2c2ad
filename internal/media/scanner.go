/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/friendsincode/grimnir_tv/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// ScanResult summarises a catalog audit.
type ScanResult struct {
	TotalFiles int
	// Orphans are video files under the media root with no catalog row.
	Orphans []string
	// Missing are catalog rows whose local file is gone. The pusher would
	// fail on every pick of these.
	Missing  []models.Video
	Errors   int
	Duration time.Duration
}

// Scanner compares the media root with the catalog.
type Scanner struct {
	db     *gorm.DB
	fs     *FilesystemStorage
	logger zerolog.Logger
}

// NewScanner creates a new catalog scanner.
func NewScanner(db *gorm.DB, fs *FilesystemStorage, logger zerolog.Logger) *Scanner {
	return &Scanner{
		db:     db,
		fs:     fs,
		logger: logger.With().Str("component", "media_scanner").Logger(),
	}
}

// Scan walks the media root and the catalog. It never modifies either.
func (s *Scanner) Scan(ctx context.Context) (*ScanResult, error) {
	startTime := time.Now()
	result := &ScanResult{}

	s.logger.Info().Str("media_root", s.fs.Root()).Msg("starting catalog scan")

	var videos []models.Video
	if err := s.db.WithContext(ctx).Find(&videos).Error; err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	known := make(map[string]struct{}, len(videos))
	for _, v := range videos {
		if strings.HasPrefix(v.Path, S3Scheme) {
			continue
		}
		full := s.fs.Path(v.Path)
		known[filepath.Clean(full)] = struct{}{}
		if _, err := os.Stat(full); errors.Is(err, fs.ErrNotExist) {
			result.Missing = append(result.Missing, v)
		}
	}

	err := filepath.WalkDir(s.fs.Root(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("error accessing path")
			result.Errors++
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !isVideoFile(d.Name()) {
			return nil
		}

		result.TotalFiles++
		if _, ok := known[filepath.Clean(path)]; ok {
			return nil
		}
		rel, err := s.fs.Rel(path)
		if err != nil {
			result.Errors++
			return nil
		}
		result.Orphans = append(result.Orphans, rel)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("walk media directory: %w", err)
	}

	sort.Strings(result.Orphans)
	result.Duration = time.Since(startTime)

	s.logger.Info().
		Int("total_files", result.TotalFiles).
		Int("orphans", len(result.Orphans)).
		Int("missing", len(result.Missing)).
		Int("errors", result.Errors).
		Dur("duration", result.Duration).
		Msg("catalog scan completed")

	return result, err
}

func isVideoFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4", ".mkv", ".webm", ".mov", ".m4v", ".ts":
		return true
	default:
		return false
	}
}
