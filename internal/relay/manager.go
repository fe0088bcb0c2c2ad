/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package relay supervises the long-lived ffmpeg process that republishes the
// local UDP feed as HLS (and optionally RTMP).
//
// The relay must never stay down unless an operator stopped it: every exit
// schedules a restart through the RetryPolicy. Restart callbacks carry the
// generation they were scheduled in and re-check the pause flag when they
// fire, so a Stop racing with a pending restart always wins.
package relay

import (
	"context"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/friendsincode/grimnir_tv/internal/encoder"
	"github.com/friendsincode/grimnir_tv/internal/events"
	"github.com/friendsincode/grimnir_tv/internal/logbuffer"
	"github.com/friendsincode/grimnir_tv/internal/models"
	"github.com/friendsincode/grimnir_tv/internal/process"
	"github.com/friendsincode/grimnir_tv/internal/telemetry"
	"github.com/rs/zerolog"
)

// Settings is the subset of the settings cache the relay reads.
type Settings interface {
	Get(key, fallback string) string
	Bool(key string) bool
}

// PusherKiller terminates the in-flight pusher, if any.
type PusherKiller interface {
	Kill()
}

// Config holds relay tunables.
type Config struct {
	FFmpegBin string
	HLSDir    string

	// Grace is the SIGTERM to SIGKILL window on Stop.
	Grace time.Duration
	// Exits sooner than StableAfter after start count as consecutive failures.
	StableAfter time.Duration
	// AlertThreshold consecutive failures raise an alert. Zero disables.
	AlertThreshold int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		FFmpegBin:      "ffmpeg",
		HLSDir:         "public/hls",
		Grace:          process.DefaultGrace,
		StableAfter:    30 * time.Second,
		AlertThreshold: 5,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithPolicy replaces the restart policy.
func WithPolicy(p RetryPolicy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithClock replaces the wall clock and timers.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithEvents publishes relay.state and relay.alert events.
func WithEvents(p events.Publisher) Option {
	return func(m *Manager) { m.events = p }
}

// WithLogBuffer captures ffmpeg stderr lines.
func WithLogBuffer(b *logbuffer.Buffer) Option {
	return func(m *Manager) { m.logs = b }
}

// WithStderr replaces the passthrough for ffmpeg stderr (os.Stderr).
func WithStderr(w io.Writer) Option {
	return func(m *Manager) { m.stderr = w }
}

// Manager owns the relay process.
type Manager struct {
	cfg      Config
	launcher process.Launcher
	settings Settings
	logger   zerolog.Logger
	policy   RetryPolicy
	clock    Clock
	events   events.Publisher
	logs     *logbuffer.Buffer
	stderr   io.Writer

	mu         sync.Mutex
	paused     bool
	handle     process.Handle
	generation uint64
	startedAt  time.Time
	failures   int
	restart    Timer
	restartSeq uint64
	stats      encoder.Stats
	pusher     PusherKiller
}

// New creates a stopped Manager.
func New(cfg Config, launcher process.Launcher, settings Settings, logger zerolog.Logger, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.FFmpegBin == "" {
		cfg.FFmpegBin = def.FFmpegBin
	}
	if cfg.HLSDir == "" {
		cfg.HLSDir = def.HLSDir
	}
	if cfg.Grace <= 0 {
		cfg.Grace = def.Grace
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = def.StableAfter
	}

	m := &Manager{
		cfg:      cfg,
		launcher: launcher,
		settings: settings,
		logger:   logger.With().Str("component", "relay").Logger(),
		policy:   DefaultPolicy(),
		clock:    realClock{},
		events:   events.Discard,
		stderr:   os.Stderr,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetPusher registers the pusher that Stop must also kill.
func (m *Manager) SetPusher(p PusherKiller) {
	m.mu.Lock()
	m.pusher = p
	m.mu.Unlock()
}

// Start launches the relay unless it is running or the manager is paused.
// A spawn failure is returned and also scheduled for retry.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked()
}

// ManualStart clears the pause flag and starts the relay.
func (m *Manager) ManualStart() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paused {
		m.logger.Info().Msg("relay resumed by operator")
	}
	m.paused = false
	m.failures = 0
	telemetry.RelayConsecutiveFailures.Set(0)
	return m.startLocked()
}

// Stop pauses the manager, cancels any pending restart and terminates the
// relay and the in-flight pusher. Safe to call repeatedly.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.paused = true
	m.generation++
	if m.restart != nil {
		m.restart.Stop()
		m.restart = nil
	}
	h := m.handle
	m.handle = nil
	m.stats.Running = false
	pusher := m.pusher
	m.mu.Unlock()

	if h != nil {
		m.logger.Info().Int("pid", h.PID()).Msg("stopping relay")
		h.Terminate(m.cfg.Grace)
		telemetry.RelayRunning.Set(0)
		m.events.Publish(events.EventRelayState, events.Payload{"running": false, "reason": "stopped"})
	}
	if pusher != nil {
		pusher.Kill()
	}
}

// Running reports whether a relay process is alive.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle != nil
}

// Paused reports whether an operator stop is in effect.
func (m *Manager) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Stats returns a copy of the live progress stats.
func (m *Manager) Stats() encoder.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats.Clone()
}

func (m *Manager) startLocked() error {
	if m.paused || m.handle != nil {
		return nil
	}

	opts := encoder.RelayOptions{HLSDir: m.cfg.HLSDir}
	if m.settings.Bool(models.SettingRTMPEnabled) {
		opts.RTMPURL = m.settings.Get(models.SettingOutputRTMPURL, "")
		if opts.RTMPURL == "" {
			m.logger.Warn().Msg("rtmp_enabled is set but output_rtmp_url is empty, HLS only")
		}
	}

	pr, pw := io.Pipe()
	h, err := m.launcher.Start(context.Background(), process.Spec{
		Name:   "relay",
		Path:   m.cfg.FFmpegBin,
		Args:   encoder.RelayArgs(opts),
		Stdout: pw,
		Stderr: logbuffer.NewLineWriter(m.logs, "relay", m.stderr),
	})
	if err != nil {
		pw.Close()
		m.failures++
		telemetry.RelayConsecutiveFailures.Set(float64(m.failures))
		m.logger.Error().Err(err).Int("failures", m.failures).Msg("relay failed to start")
		m.scheduleRestartLocked()
		return err
	}

	// a manual start supersedes any pending auto-restart
	if m.restart != nil {
		m.restart.Stop()
		m.restart = nil
	}
	m.generation++
	gen := m.generation
	m.handle = h
	m.startedAt = m.clock.Now()
	m.stats = encoder.Stats{Running: true}

	telemetry.RelayRunning.Set(1)
	m.logger.Info().Int("pid", h.PID()).Bool("rtmp", opts.RTMPURL != "").Msg("relay started")
	m.events.Publish(events.EventRelayState, events.Payload{"running": true, "pid": h.PID()})

	go m.consumeProgress(pr, gen)
	go m.watch(h, pw, gen)
	return nil
}

func (m *Manager) consumeProgress(r io.Reader, gen uint64) {
	err := encoder.ReadProgress(r, func(key, value string) {
		m.mu.Lock()
		if gen == m.generation {
			m.stats.Apply(key, value, m.clock.Now())
		}
		m.mu.Unlock()
		observeProgress(key, value)
	})
	if err != nil {
		m.logger.Debug().Err(err).Msg("relay progress stream ended")
	}
	// keep the writer side from blocking if the scanner gave up early
	_, _ = io.Copy(io.Discard, r)
}

func observeProgress(key, value string) {
	switch key {
	case "fps":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			telemetry.RelayFPS.Set(f)
		}
	case "speed":
		if f, err := strconv.ParseFloat(strings.TrimSuffix(value, "x"), 64); err == nil {
			telemetry.RelaySpeed.Set(f)
		}
	case "drop_frames":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			telemetry.RelayDropFrames.Set(f)
		}
	}
}

func (m *Manager) watch(h process.Handle, pw *io.PipeWriter, gen uint64) {
	exitErr := h.Wait()
	pw.Close()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Stop already cleared this handle, or a newer process replaced it.
	if gen != m.generation || m.handle != h {
		return
	}

	ran := m.clock.Now().Sub(m.startedAt)
	m.handle = nil
	m.stats.Running = false
	if ran < m.cfg.StableAfter {
		m.failures++
	} else {
		m.failures = 1
	}

	telemetry.RelayRunning.Set(0)
	telemetry.RelayConsecutiveFailures.Set(float64(m.failures))
	m.logger.Warn().Err(exitErr).
		Dur("uptime", ran).
		Int("failures", m.failures).
		Msg("relay exited")

	payload := events.Payload{"running": false, "failures": m.failures, "uptime_seconds": ran.Seconds()}
	if exitErr != nil {
		payload["exit"] = exitErr.Error()
	}
	m.events.Publish(events.EventRelayState, payload)

	if m.paused {
		return
	}
	m.scheduleRestartLocked()
}

func (m *Manager) scheduleRestartLocked() {
	if m.restart != nil {
		return
	}

	if m.cfg.AlertThreshold > 0 && m.failures > 0 && m.failures%m.cfg.AlertThreshold == 0 {
		telemetry.RelayAlertsTotal.Inc()
		m.logger.Error().Int("failures", m.failures).Msg("relay keeps failing shortly after start")
		m.events.Publish(events.EventRelayAlert, events.Payload{"failures": m.failures})
	}

	delay, ok := m.policy.Next(m.failures)
	if !ok {
		m.logger.Error().Int("failures", m.failures).Msg("relay retry policy exhausted, not restarting")
		m.events.Publish(events.EventRelayAlert, events.Payload{"failures": m.failures, "gave_up": true})
		return
	}

	telemetry.RelayRestartsTotal.Inc()
	gen := m.generation
	m.restartSeq++
	seq := m.restartSeq
	m.restart = m.clock.AfterFunc(delay, func() { m.fireRestart(gen, seq) })
	m.logger.Info().Dur("delay", delay).Msg("relay restart scheduled")
}

func (m *Manager) fireRestart(gen, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// only the timer that is still current may clear the slot
	if seq == m.restartSeq {
		m.restart = nil
	}
	if gen != m.generation {
		return
	}
	if m.paused || m.handle != nil {
		return
	}
	m.logger.Info().Msg("restarting relay")
	_ = m.startLocked()
}
