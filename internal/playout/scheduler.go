/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playout runs the channel: it keeps the relay up, picks the next
// video, refreshes the overlay and pushes the track, forever.
package playout

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/friendsincode/grimnir_tv/internal/encoder"
	"github.com/friendsincode/grimnir_tv/internal/events"
	"github.com/friendsincode/grimnir_tv/internal/models"
	"github.com/friendsincode/grimnir_tv/internal/telemetry"
	"github.com/rs/zerolog"
)

// Loop timings.
const (
	PausedPoll         = 500 * time.Millisecond
	RelayWarmup        = time.Second
	EmptyCatalogDelay  = 10 * time.Second
	PushFailureBackoff = 2 * time.Second

	DefaultIdentIntervalMinutes = 10
)

// History records playouts.
type History interface {
	OpenHistory(ctx context.Context, videoID int64) (int64, error)
	CloseHistory(ctx context.Context, historyID int64) error
}

// Picker chooses the next video.
type Picker interface {
	PickNext(ctx context.Context, allowedGenres []string, forceIdent bool) (*models.Video, error)
}

// Settings is the settings cache surface the scheduler drives.
type Settings interface {
	Refresh(ctx context.Context) error
	Run(ctx context.Context, interval time.Duration)
	Get(key, fallback string) string
	Int(key string, fallback int) int
	Set(key, value string)
}

// Relay is the long-lived output process.
type Relay interface {
	Start() error
	ManualStart() error
	Stop()
	Running() bool
	Paused() bool
	Stats() encoder.Stats
}

// Pusher plays one file into the relay.
type Pusher interface {
	Push(ctx context.Context, filePath string, duration float64) error
}

// Overlay refreshes the on-screen text files.
type Overlay interface {
	Write(v *models.Video) error
}

// Resolver maps catalog paths to local files.
type Resolver interface {
	Resolve(ctx context.Context, path string) (string, error)
}

// Prober detects a hardware encoder. An empty name means none.
type Prober func(ctx context.Context) (string, error)

// Deps are the collaborators of a Scheduler.
type Deps struct {
	History  History
	Selector Picker
	Settings Settings
	Relay    Relay
	Pusher   Pusher
	Overlay  Overlay
	Media    Resolver
	Probe    Prober
	Events   events.Publisher
}

// Config holds scheduler tunables.
type Config struct {
	// Dirs are created on first start (engine, overlay, media root, hls).
	Dirs []string
	// Genres restricts regular picks; empty allows all.
	Genres           []string
	SettingsInterval time.Duration
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now for ident cadence.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithSleep replaces the context-aware sleep used between iterations.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) { s.sleep = sleep }
}

// Scheduler is the playout control state. The pause flag belongs to the
// relay manager so Stop can win against its restart timer.
type Scheduler struct {
	deps   Deps
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	started   bool
	lastIdent time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a Scheduler.
func New(deps Deps, cfg Config, logger zerolog.Logger, opts ...Option) *Scheduler {
	if deps.Events == nil {
		deps.Events = events.Discard
	}
	s := &Scheduler{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With().Str("component", "playout").Logger(),
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Start brings the channel up and runs the loop in its own goroutine until
// ctx is cancelled. A second call only clears the pause and makes sure the
// relay runs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		s.logger.Info().Msg("scheduler already running, resuming playback")
		if err := s.deps.Relay.ManualStart(); err != nil {
			s.logger.Warn().Err(err).Msg("relay start failed, retry scheduled")
		}
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if err := s.ensureDirs(); err != nil {
		// a later Start must run the full setup again
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return err
	}
	s.logger.Info().Msg("tv scheduler started")

	if err := s.deps.Settings.Refresh(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("initial settings load failed, using defaults")
	}
	s.probeEncoder(ctx)

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.deps.Settings.Run(loopCtx, s.cfg.SettingsInterval)

	if err := s.deps.Relay.Start(); err != nil {
		s.logger.Warn().Err(err).Msg("relay start failed, retry scheduled")
	}

	go func() {
		defer close(done)
		s.loop(loopCtx)
	}()
	return nil
}

// Wait blocks until the loop started by Start has returned.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Shutdown cancels the loop, waits for it and stops both encoders.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.deps.Relay.Stop()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for playout loop: %w", ctx.Err())
	}
}

func (s *Scheduler) ensureDirs() error {
	for _, dir := range s.cfg.Dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// probeEncoder installs a detected hardware encoder unless the operator has
// stored one.
func (s *Scheduler) probeEncoder(ctx context.Context) {
	if s.deps.Probe == nil {
		return
	}
	if stored := s.deps.Settings.Get(models.SettingGPUEncoder, ""); stored != "" {
		s.logger.Info().Str("encoder", stored).Msg("using configured video encoder")
		return
	}
	name, err := s.deps.Probe(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("encoder probe failed, using software encoder")
		return
	}
	if name == "" {
		s.logger.Info().Str("encoder", encoder.SoftwareEncoder).Msg("no hardware encoder detected")
		return
	}
	s.logger.Info().Str("encoder", name).Msg("hardware encoder detected")
	s.deps.Settings.Set(models.SettingGPUEncoder, name)
}

func (s *Scheduler) loop(ctx context.Context) {
	for {
		if err := s.iterate(ctx); err != nil {
			s.logger.Info().Msg("playout loop stopped")
			return
		}
	}
}

// RunIterations runs up to n loop iterations on the caller's goroutine. It
// does not start the relay or the settings refresher.
func (s *Scheduler) RunIterations(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := s.iterate(ctx); err != nil {
			return err
		}
	}
	return nil
}

// iterate runs one pass. It returns an error only when ctx is done.
func (s *Scheduler) iterate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.deps.Relay.Paused() {
		telemetry.SchedulerIterationsTotal.WithLabelValues("paused").Inc()
		return s.sleep(ctx, PausedPoll)
	}

	if !s.deps.Relay.Running() {
		s.logger.Info().Msg("relay not running, restarting playout pipeline")
		if err := s.deps.Relay.Start(); err != nil {
			s.logger.Warn().Err(err).Msg("relay start failed")
		}
		// let ffmpeg bind the UDP socket before the pusher writes to it
		if err := s.sleep(ctx, RelayWarmup); err != nil {
			return err
		}
	}

	next, err := s.deps.Selector.PickNext(ctx, s.cfg.Genres, s.identDue())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		telemetry.SchedulerIterationsTotal.WithLabelValues("error").Inc()
		s.logger.Error().Err(err).Msg("track selection failed")
		return s.sleep(ctx, EmptyCatalogDelay)
	}
	if next == nil {
		telemetry.SchedulerIterationsTotal.WithLabelValues("empty").Inc()
		s.logger.Info().Msg("no tracks in catalog yet, sleeping")
		return s.sleep(ctx, EmptyCatalogDelay)
	}

	if err := s.deps.Overlay.Write(next); err != nil {
		s.logger.Warn().Err(err).Int64("video_id", next.ID).Msg("overlay write failed")
	}
	s.deps.Events.Publish(events.EventNowPlaying, nowPlayingPayload(next))

	historyID, err := s.deps.History.OpenHistory(ctx, next.ID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		telemetry.SchedulerIterationsTotal.WithLabelValues("error").Inc()
		s.logger.Error().Err(err).Int64("video_id", next.ID).Msg("failed to record playout")
		return s.sleep(ctx, PushFailureBackoff)
	}

	started := s.now()
	err = s.play(ctx, next)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		telemetry.SchedulerIterationsTotal.WithLabelValues("push_failed").Inc()
		s.logger.Error().Err(err).
			Int64("video_id", next.ID).
			Int64("history_id", historyID).
			Str("path", next.Path).
			Msg("error while pushing track")
		s.publishResult(next, "failed", started)
		return s.sleep(ctx, PushFailureBackoff)
	}

	if err := s.deps.History.CloseHistory(ctx, historyID); err != nil {
		s.logger.Warn().Err(err).Int64("history_id", historyID).Msg("failed to close playout row")
	}
	telemetry.SchedulerIterationsTotal.WithLabelValues("played").Inc()
	s.publishResult(next, "played", started)
	return nil
}

func (s *Scheduler) play(ctx context.Context, v *models.Video) error {
	path, err := s.deps.Media.Resolve(ctx, v.Path)
	if err != nil {
		return fmt.Errorf("resolve media: %w", err)
	}
	return s.deps.Pusher.Push(ctx, path, v.DurationSeconds())
}

// identDue reports whether an ident slot has come up and stamps it. The stamp
// is taken even when no ident exists so a missing ident does not force a
// lookup on every iteration.
func (s *Scheduler) identDue() bool {
	interval := time.Duration(s.deps.Settings.Int(models.SettingIdentIntervalMinutes, DefaultIdentIntervalMinutes)) * time.Minute
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastIdent.IsZero() || now.Sub(s.lastIdent) >= interval {
		s.lastIdent = now
		return true
	}
	return false
}

func nowPlayingPayload(v *models.Video) events.Payload {
	return events.Payload{
		"video_id": v.ID,
		"title":    v.Title,
		"artist":   v.Artist,
		"year":     v.YearString(),
		"genre":    v.Genre,
		"is_ident": v.IsIdent,
		"duration": v.DurationSeconds(),
	}
}

func (s *Scheduler) publishResult(v *models.Video, result string, started time.Time) {
	s.deps.Events.Publish(events.EventPlayoutStats, events.Payload{
		"video_id":         v.ID,
		"result":           result,
		"duration_seconds": s.now().Sub(started).Seconds(),
	})
}

// StopAll pauses playout and kills the relay and the in-flight pusher.
func (s *Scheduler) StopAll() {
	s.logger.Info().Msg("stopping all ffmpeg processes")
	s.deps.Relay.Stop()
}

// StartMainManually clears the pause and starts the relay if needed.
func (s *Scheduler) StartMainManually() error {
	return s.deps.Relay.ManualStart()
}

// StartAll is Start under the facade name.
func (s *Scheduler) StartAll(ctx context.Context) error {
	return s.Start(ctx)
}

// IsRunning reports whether the relay is up.
func (s *Scheduler) IsRunning() bool {
	return s.deps.Relay.Running()
}

// Stats returns the relay's live progress stats.
func (s *Scheduler) Stats() encoder.Stats {
	return s.deps.Relay.Stats()
}

// Status is a point-in-time view for the ops listener.
type Status struct {
	Started bool          `json:"started"`
	Paused  bool          `json:"paused"`
	Running bool          `json:"running"`
	Stats   encoder.Stats `json:"stats"`
}

// Status reports the control state together with relay stats.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	return Status{
		Started: started,
		Paused:  s.deps.Relay.Paused(),
		Running: s.deps.Relay.Running(),
		Stats:   s.deps.Relay.Stats(),
	}
}
