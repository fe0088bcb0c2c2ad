/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package settings caches operator-tunable key/value settings in memory.
//
// Readers always see a complete snapshot: every refresh builds a new map and
// swaps it in atomically. Values are strings exactly as stored; empty values
// count as unset.
package settings

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/friendsincode/grimnir_tv/internal/telemetry"
	"github.com/rs/zerolog"
)

// DefaultRefreshInterval is how often Run reloads the snapshot.
const DefaultRefreshInterval = 60 * time.Second

// Loader reads the full settings table.
type Loader interface {
	AllSettings(ctx context.Context) (map[string]string, error)
}

// Cache holds the current settings snapshot.
type Cache struct {
	loader Loader
	logger zerolog.Logger

	snapshot atomic.Pointer[map[string]string]

	// mu serialises writers; readers only touch snapshot.
	mu        sync.Mutex
	stored    map[string]string
	overrides map[string]string
}

// New creates an empty cache. Call Refresh before relying on stored values.
func New(loader Loader, logger zerolog.Logger) *Cache {
	c := &Cache{
		loader:    loader,
		logger:    logger.With().Str("component", "settings").Logger(),
		stored:    map[string]string{},
		overrides: map[string]string{},
	}
	empty := map[string]string{}
	c.snapshot.Store(&empty)
	return c
}

// Refresh reloads every row from the store. On failure the previous snapshot
// is kept and the error returned.
func (c *Cache) Refresh(ctx context.Context) error {
	rows, err := c.loader.AllSettings(ctx)
	if err != nil {
		telemetry.SettingsRefreshTotal.WithLabelValues("error").Inc()
		c.logger.Warn().Err(err).Msg("settings refresh failed, keeping last snapshot")
		return err
	}

	c.mu.Lock()
	c.stored = rows
	c.publishLocked()
	c.mu.Unlock()

	telemetry.SettingsRefreshTotal.WithLabelValues("ok").Inc()
	c.logger.Debug().Int("keys", len(rows)).Msg("settings refreshed")
	return nil
}

// Set installs a runtime value. Stored rows with a non-empty value for the
// same key take precedence.
func (c *Cache) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides[key] = value
	c.publishLocked()
}

func (c *Cache) publishLocked() {
	next := make(map[string]string, len(c.stored)+len(c.overrides))
	for k, v := range c.overrides {
		next[k] = v
	}
	for k, v := range c.stored {
		if v != "" {
			next[k] = v
		}
	}
	c.snapshot.Store(&next)
}

// Snapshot returns the current snapshot. Callers must not modify it.
func (c *Cache) Snapshot() map[string]string {
	return *c.snapshot.Load()
}

// Get returns the value for key, or fallback when unset or empty.
func (c *Cache) Get(key, fallback string) string {
	if v := c.Snapshot()[key]; v != "" {
		return v
	}
	return fallback
}

// Int parses the value for key as a base-10 integer, returning fallback when
// unset or unparsable.
func (c *Cache) Int(key string, fallback int) int {
	v := strings.TrimSpace(c.Get(key, ""))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		// mimic parseInt: leading digits win
		end := 0
		for end < len(v) && (v[end] >= '0' && v[end] <= '9' || end == 0 && v[end] == '-') {
			end++
		}
		if n, err = strconv.Atoi(v[:end]); err != nil {
			return fallback
		}
	}
	return n
}

// Bool reports whether the value for key is exactly "true".
func (c *Cache) Bool(key string) bool {
	return c.Get(key, "") == "true"
}

// Run refreshes the cache every interval until ctx is cancelled.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.Refresh(ctx)
		}
	}
}
