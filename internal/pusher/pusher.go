/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package pusher runs one ffmpeg process per track that burns in the overlay
// and streams MPEG-TS to the relay.
package pusher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/friendsincode/grimnir_tv/internal/encoder"
	"github.com/friendsincode/grimnir_tv/internal/logbuffer"
	"github.com/friendsincode/grimnir_tv/internal/process"
	"github.com/friendsincode/grimnir_tv/internal/telemetry"
	"github.com/rs/zerolog"
)

// ExitError is returned when ffmpeg exits non-zero. Code is -1 when it was
// killed by a signal.
type ExitError struct {
	Code   int
	Signal string
}

func (e *ExitError) Error() string {
	if e.Signal != "" {
		return fmt.Sprintf("pusher killed by %s", e.Signal)
	}
	return fmt.Sprintf("pusher exited with code %d", e.Code)
}

// Config holds the filesystem inputs of the filter graph.
type Config struct {
	FFmpegBin   string
	LogoPath    string
	OverlayDir  string
	FontBold    string
	FontRegular string
	// Target overrides the UDP relay input, used by tests.
	Target string
	Grace  time.Duration
}

// Option configures a Pusher.
type Option func(*Pusher)

// WithLogBuffer captures ffmpeg output lines under the "pusher" source.
func WithLogBuffer(b *logbuffer.Buffer) Option {
	return func(p *Pusher) { p.logs = b }
}

// WithOutput replaces the stdout/stderr passthrough (os.Stdout, os.Stderr).
func WithOutput(stdout, stderr io.Writer) Option {
	return func(p *Pusher) {
		p.stdout = stdout
		p.stderr = stderr
	}
}

// Pusher launches track pushes. One push runs at a time.
type Pusher struct {
	cfg      Config
	launcher process.Launcher
	settings encoder.Getter
	logger   zerolog.Logger
	logs     *logbuffer.Buffer
	stdout   io.Writer
	stderr   io.Writer

	mu      sync.Mutex
	current process.Handle
}

// New creates a Pusher.
func New(cfg Config, launcher process.Launcher, settings encoder.Getter, logger zerolog.Logger, opts ...Option) *Pusher {
	if cfg.FFmpegBin == "" {
		cfg.FFmpegBin = "ffmpeg"
	}
	if cfg.Grace <= 0 {
		cfg.Grace = process.DefaultGrace
	}
	p := &Pusher{
		cfg:      cfg,
		launcher: launcher,
		settings: settings,
		logger:   logger.With().Str("component", "pusher").Logger(),
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Push streams filePath to the relay and blocks until ffmpeg exits. The
// output profile is read from settings at call time. Cancelling ctx
// terminates the process.
func (p *Pusher) Push(ctx context.Context, filePath string, duration float64) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "pusher", "pusher.Push")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{"track.path": filePath, "track.duration": duration})

	start := time.Now()
	defer func() {
		result := "success"
		if err != nil {
			result = "failure"
			telemetry.RecordError(span, err)
		}
		telemetry.PusherRunsTotal.WithLabelValues(result).Inc()
		telemetry.PushDuration.Observe(time.Since(start).Seconds())
	}()

	profile := encoder.ProfileFromSettings(p.settings)
	args, err := encoder.PushArgs(encoder.PushOptions{
		Input:       filePath,
		Duration:    duration,
		LogoPath:    p.cfg.LogoPath,
		OverlayDir:  p.cfg.OverlayDir,
		FontBold:    p.cfg.FontBold,
		FontRegular: p.cfg.FontRegular,
		Profile:     profile,
		Target:      p.cfg.Target,
	})
	if err != nil {
		return fmt.Errorf("build pusher args: %w", err)
	}

	h, err := p.launcher.Start(ctx, process.Spec{
		Name:   "pusher",
		Path:   p.cfg.FFmpegBin,
		Args:   args,
		Stdout: logbuffer.NewLineWriter(p.logs, "pusher", p.stdout),
		Stderr: logbuffer.NewLineWriter(p.logs, "pusher", p.stderr),
	})
	if err != nil {
		return fmt.Errorf("start pusher: %w", err)
	}

	p.mu.Lock()
	p.current = h
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		if p.current == h {
			p.current = nil
		}
		p.mu.Unlock()
	}()

	p.logger.Info().
		Int("pid", h.PID()).
		Str("file", filePath).
		Float64("duration", duration).
		Str("encoder", profile.VideoEncoder).
		Msg("pusher started")

	select {
	case <-h.Done():
	case <-ctx.Done():
		h.Terminate(p.cfg.Grace)
	}
	return convertExit(h.Wait())
}

func convertExit(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *process.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Code: exitErr.Code, Signal: exitErr.Signal}
	}
	return fmt.Errorf("wait for pusher: %w", err)
}

// Kill terminates the in-flight push, if any.
func (p *Pusher) Kill() {
	p.mu.Lock()
	h := p.current
	p.mu.Unlock()
	if h == nil {
		return
	}
	p.logger.Info().Int("pid", h.PID()).Msg("killing pusher")
	h.Terminate(p.cfg.Grace)
}

// Running reports whether a push is in flight.
func (p *Pusher) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}
