/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package selector picks the next video to air.
package selector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/friendsincode/grimnir_tv/internal/models"
	"github.com/friendsincode/grimnir_tv/internal/telemetry"
	"github.com/rs/zerolog"
)

// DefaultNoRepeatMinutes applies when no_repeat_minutes is unset.
const DefaultNoRepeatMinutes = 240

// Catalog is the subset of the store the selector reads.
type Catalog interface {
	RandomIdent(ctx context.Context) (*models.Video, error)
	RandomTrack(ctx context.Context, genres []string, window time.Duration) (*models.Video, error)
}

// Settings provides integer settings.
type Settings interface {
	Int(key string, fallback int) int
}

// Selector chooses idents and regular tracks and counts the tracks played
// since the last ident.
type Selector struct {
	catalog  Catalog
	settings Settings
	logger   zerolog.Logger

	mu         sync.Mutex
	sinceIdent int
}

// New creates a Selector.
func New(catalog Catalog, settings Settings, logger zerolog.Logger) *Selector {
	return &Selector{
		catalog:  catalog,
		settings: settings,
		logger:   logger.With().Str("component", "selector").Logger(),
	}
}

// PickNext returns the next video. With forceIdent an ident is preferred and
// bypasses genre and repeat filters; when no ident exists a regular track is
// picked instead. A nil video with a nil error means nothing is playable.
func (s *Selector) PickNext(ctx context.Context, allowedGenres []string, forceIdent bool) (*models.Video, error) {
	ctx, span := telemetry.StartSpan(ctx, "selector", "selector.PickNext")
	defer span.End()

	if forceIdent {
		ident, err := s.catalog.RandomIdent(ctx)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("pick ident: %w", err)
		}
		if ident != nil {
			s.mu.Lock()
			s.sinceIdent = 0
			s.mu.Unlock()
			telemetry.SelectorPicksTotal.WithLabelValues("ident").Inc()
			telemetry.SchedulerTracksSinceIdent.Set(0)
			telemetry.AddSpanAttributes(span, map[string]any{"video.id": ident.ID, "video.ident": true})
			return ident, nil
		}
		s.logger.Debug().Msg("ident due but none in catalog")
	}

	window := time.Duration(s.settings.Int(models.SettingNoRepeatMinutes, DefaultNoRepeatMinutes)) * time.Minute
	track, err := s.catalog.RandomTrack(ctx, allowedGenres, window)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("pick track: %w", err)
	}
	if track == nil {
		telemetry.SelectorPicksTotal.WithLabelValues("none").Inc()
		return nil, nil
	}

	s.mu.Lock()
	s.sinceIdent++
	n := s.sinceIdent
	s.mu.Unlock()

	telemetry.SelectorPicksTotal.WithLabelValues("track").Inc()
	telemetry.SchedulerTracksSinceIdent.Set(float64(n))
	telemetry.AddSpanAttributes(span, map[string]any{"video.id": track.ID, "video.ident": false})
	return track, nil
}

// TracksSinceIdent returns how many regular tracks were picked since the
// last ident.
func (s *Selector) TracksSinceIdent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sinceIdent
}
