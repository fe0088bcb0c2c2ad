/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package leadership lets several grimnirtv instances share one channel:
// only the holder of a Redis lease runs the playout loop, the others wait
// as hot standbys.
package leadership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_tv/internal/telemetry"
)

const (
	DefaultKey             = "grimnir:tv:leader"
	DefaultLeaseDuration   = 15 * time.Second
	DefaultRenewalInterval = 5 * time.Second
	DefaultRetryInterval   = 2 * time.Second
)

// ErrLeadershipLost is returned by Hold when another instance owns the lease.
var ErrLeadershipLost = errors.New("leadership lost")

// LeaseStore is the atomic key/value surface the election needs.
type LeaseStore interface {
	// Acquire sets key to owner with ttl if it is unset.
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// Owner returns the current holder, or "" when the key is unset.
	Owner(ctx context.Context, key string) (string, error)
	Renew(ctx context.Context, key string, ttl time.Duration) error
	// Release deletes key only if owner still holds it.
	Release(ctx context.Context, key, owner string) error
}

// Config configures an Election.
type Config struct {
	Key             string
	InstanceID      string
	LeaseDuration   time.Duration
	RenewalInterval time.Duration
	RetryInterval   time.Duration
}

// Election campaigns for and holds a single lease.
type Election struct {
	store  LeaseStore
	cfg    Config
	logger zerolog.Logger
}

// New creates an Election. Zero config fields take the defaults.
func New(store LeaseStore, cfg Config, logger zerolog.Logger) *Election {
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.New().String()
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = DefaultLeaseDuration
	}
	if cfg.RenewalInterval <= 0 {
		cfg.RenewalInterval = DefaultRenewalInterval
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	return &Election{
		store: store,
		cfg:   cfg,
		logger: logger.With().
			Str("component", "leader_election").
			Str("instance_id", cfg.InstanceID).
			Logger(),
	}
}

// InstanceID returns the id written into the lease.
func (e *Election) InstanceID() string {
	return e.cfg.InstanceID
}

// Campaign blocks until this instance holds the lease or ctx ends.
func (e *Election) Campaign(ctx context.Context) error {
	e.logger.Info().Dur("lease_duration", e.cfg.LeaseDuration).Msg("waiting for playout lease")

	ticker := time.NewTicker(e.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		held, err := e.tryAcquire(ctx)
		if err != nil {
			e.logger.Warn().Err(err).Msg("lease acquisition failed")
		}
		if held {
			e.logger.Info().Msg("acquired playout lease")
			telemetry.LeaderElectionStatus.Set(1)
			telemetry.LeaderElectionChanges.WithLabelValues("acquired").Inc()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Hold renews the lease until ctx ends, then releases it and returns nil.
// It returns ErrLeadershipLost as soon as another owner is seen or renewals
// have failed for a full lease duration.
func (e *Election) Hold(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.RenewalInterval)
	defer ticker.Stop()

	lastRenewed := time.Now()
	for {
		select {
		case <-ctx.Done():
			e.release()
			return nil
		case <-ticker.C:
		}

		held, err := e.tryAcquire(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				e.release()
				return nil
			}
			e.logger.Warn().Err(err).Msg("lease renewal failed")
			if time.Since(lastRenewed) < e.cfg.LeaseDuration {
				continue
			}
		case held:
			lastRenewed = time.Now()
			continue
		}

		e.logger.Error().Msg("lost playout lease")
		telemetry.LeaderElectionStatus.Set(0)
		telemetry.LeaderElectionChanges.WithLabelValues("lost").Inc()
		return ErrLeadershipLost
	}
}

// tryAcquire takes a free lease or renews one this instance already owns.
func (e *Election) tryAcquire(ctx context.Context) (bool, error) {
	ok, err := e.store.Acquire(ctx, e.cfg.Key, e.cfg.InstanceID, e.cfg.LeaseDuration)
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	if ok {
		return true, nil
	}

	owner, err := e.store.Owner(ctx, e.cfg.Key)
	if err != nil {
		return false, fmt.Errorf("read lease owner: %w", err)
	}
	if owner != e.cfg.InstanceID {
		return false, nil
	}
	if err := e.store.Renew(ctx, e.cfg.Key, e.cfg.LeaseDuration); err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	return true, nil
}

func (e *Election) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.store.Release(ctx, e.cfg.Key, e.cfg.InstanceID); err != nil {
		e.logger.Error().Err(err).Msg("failed to release playout lease")
		return
	}
	telemetry.LeaderElectionStatus.Set(0)
	telemetry.LeaderElectionChanges.WithLabelValues("released").Inc()
	e.logger.Info().Msg("released playout lease")
}
