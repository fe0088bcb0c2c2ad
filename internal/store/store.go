/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store persists the video catalog, play history and settings.
package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/friendsincode/grimnir_tv/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the gorm-backed catalog. Random picks are drawn in Go over the
// candidate ids so every backend gets the same uniform distribution.
type Store struct {
	db  *gorm.DB
	now func() time.Time

	randMu sync.Mutex
	rnd    *rand.Rand
}

// Option configures a Store.
type Option func(*Store)

// WithRand replaces the random source.
func WithRand(r *rand.Rand) Option {
	return func(s *Store) { s.rnd = r }
}

// WithClock replaces time.Now for history stamps and repeat windows.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store over an already migrated database.
func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:  db,
		now: time.Now,
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying handle for connection metrics.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// RandomIdent returns a uniformly random ident, or nil when none exist.
func (s *Store) RandomIdent(ctx context.Context) (*models.Video, error) {
	return s.pickRandom(ctx, func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&models.Video{}).Where("is_ident = ?", true)
	})
}

// RandomTrack returns a uniformly random non-ident video whose genre is in
// genres (any genre when empty) and which has not started playing within the
// last window. Returns nil when nothing qualifies.
func (s *Store) RandomTrack(ctx context.Context, genres []string, window time.Duration) (*models.Video, error) {
	since := s.now().Add(-window).UTC()
	return s.pickRandom(ctx, func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&models.Video{}).
			Where("is_ident = ?", false).
			Where("id NOT IN (?)", s.recentlyPlayed(ctx, since))
		if len(genres) > 0 {
			q = q.Where("genre IN ?", genres)
		}
		return q
	})
}

// recentlyPlayed selects the ids of videos started at or after since.
func (s *Store) recentlyPlayed(ctx context.Context, since time.Time) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.PlayoutLog{}).Select("video_id").Where("played_at >= ?", since)
}

// pickRandom plucks candidate ids, draws one and loads it. A row deleted
// between the two queries causes a fresh draw.
func (s *Store) pickRandom(ctx context.Context, candidates func() *gorm.DB) (*models.Video, error) {
	for attempt := 0; attempt < 3; attempt++ {
		var ids []int64
		if err := candidates().Pluck("id", &ids).Error; err != nil {
			return nil, fmt.Errorf("list candidates: %w", err)
		}
		if len(ids) == 0 {
			return nil, nil
		}

		id := ids[s.intn(len(ids))]

		var video models.Video
		err := s.db.WithContext(ctx).First(&video, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load video %d: %w", id, err)
		}
		return &video, nil
	}
	return nil, nil
}

func (s *Store) intn(n int) int {
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return s.rnd.Intn(n)
}

// OpenHistory records that videoID started playing now and returns the row id.
func (s *Store) OpenHistory(ctx context.Context, videoID int64) (int64, error) {
	entry := models.PlayoutLog{VideoID: videoID, PlayedAt: s.now().UTC()}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return 0, fmt.Errorf("open history for video %d: %w", videoID, err)
	}
	return entry.ID, nil
}

// CloseHistory stamps ended_at on the row.
func (s *Store) CloseHistory(ctx context.Context, historyID int64) error {
	ended := s.now().UTC()
	err := s.db.WithContext(ctx).Model(&models.PlayoutLog{}).
		Where("id = ?", historyID).
		Update("ended_at", &ended).Error
	if err != nil {
		return fmt.Errorf("close history %d: %w", historyID, err)
	}
	return nil
}

// AllSettings returns every settings row as a map.
func (s *Store) AllSettings(ctx context.Context) (map[string]string, error) {
	var rows []models.Setting
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Value
	}
	return out, nil
}

// Setting returns a single value and whether it exists.
func (s *Store) Setting(ctx context.Context, key string) (string, bool, error) {
	var row models.Setting
	// struct condition so gorm quotes the column; key is reserved in MySQL
	err := s.db.WithContext(ctx).Where(&models.Setting{Key: key}).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load setting %s: %w", key, err)
	}
	return row.Value, true, nil
}

// UpsertSetting creates or overwrites a setting.
func (s *Store) UpsertSetting(ctx context.Context, key, value string) error {
	row := models.Setting{Key: key, Value: value}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert setting %s: %w", key, err)
	}
	return nil
}

// InsertVideo adds a catalog entry and fills in its id.
func (s *Store) InsertVideo(ctx context.Context, video *models.Video) error {
	if err := s.db.WithContext(ctx).Create(video).Error; err != nil {
		return fmt.Errorf("insert video %q: %w", video.Path, err)
	}
	return nil
}

// NowPlaying returns the most recently started history row and its video.
// Both are nil when nothing has played yet.
func (s *Store) NowPlaying(ctx context.Context) (*models.Video, *models.PlayoutLog, error) {
	var entry models.PlayoutLog
	err := s.db.WithContext(ctx).Order("played_at DESC").Order("id DESC").Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load latest history: %w", err)
	}

	var video models.Video
	err = s.db.WithContext(ctx).First(&video, entry.VideoID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &entry, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load video %d: %w", entry.VideoID, err)
	}
	return &video, &entry, nil
}

// CountVideos returns the number of idents and regular tracks.
func (s *Store) CountVideos(ctx context.Context) (idents, tracks int64, err error) {
	if err = s.db.WithContext(ctx).Model(&models.Video{}).Where("is_ident = ?", true).Count(&idents).Error; err != nil {
		return 0, 0, fmt.Errorf("count idents: %w", err)
	}
	if err = s.db.WithContext(ctx).Model(&models.Video{}).Where("is_ident = ?", false).Count(&tracks).Error; err != nil {
		return 0, 0, fmt.Errorf("count tracks: %w", err)
	}
	return idents, tracks, nil
}
