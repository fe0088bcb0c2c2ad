/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_tv/internal/config"
	"github.com/friendsincode/grimnir_tv/internal/db"
	"github.com/friendsincode/grimnir_tv/internal/encoder"
	"github.com/friendsincode/grimnir_tv/internal/eventbus"
	"github.com/friendsincode/grimnir_tv/internal/leadership"
	"github.com/friendsincode/grimnir_tv/internal/logbuffer"
	"github.com/friendsincode/grimnir_tv/internal/logging"
	"github.com/friendsincode/grimnir_tv/internal/media"
	"github.com/friendsincode/grimnir_tv/internal/overlay"
	"github.com/friendsincode/grimnir_tv/internal/playout"
	"github.com/friendsincode/grimnir_tv/internal/process"
	"github.com/friendsincode/grimnir_tv/internal/pusher"
	"github.com/friendsincode/grimnir_tv/internal/relay"
	"github.com/friendsincode/grimnir_tv/internal/selector"
	"github.com/friendsincode/grimnir_tv/internal/server"
	"github.com/friendsincode/grimnir_tv/internal/settings"
	"github.com/friendsincode/grimnir_tv/internal/store"
	"github.com/friendsincode/grimnir_tv/internal/telemetry"
	"github.com/friendsincode/grimnir_tv/internal/version"
)

// logTailSize is how many lines the ops listener can show.
const logTailSize = 2000

var (
	logger zerolog.Logger
	cfg    *config.Config
	logs   *logbuffer.Buffer
)

var serveGenres []string

var rootCmd = &cobra.Command{
	Use:     "grimnirtv",
	Short:   "Grimnir TV - unattended music video playout",
	Long:    "Grimnir TV plays a catalog of music videos and station idents into a continuously running HLS/RTMP channel.",
	Version: version.String(),
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the playout channel and the ops listener",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringSliceVar(&serveGenres, "genre", nil, "Restrict regular tracks to these genres (repeatable)")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logs = logbuffer.New(logTailSize)
	logger = logging.SetupWithWriter(cfg.Environment, logbuffer.NewWriter(logs, nil))
	for _, warning := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warning)
	}
	return nil
}

// openStore connects and migrates the database.
func openStore() (*gorm.DB, *store.Store, error) {
	database, err := db.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.Migrate(database); err != nil {
		_ = db.Close(database)
		return nil, nil, err
	}
	return database, store.New(database), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("version", version.String()).Msg("Grimnir TV starting")

	tracerProvider, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    "grimnir-tv",
		ServiceVersion: version.Version,
		InstanceID:     cfg.InstanceID,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	database, st, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close(database)

	bus, err := eventbus.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize event bus: %w", err)
	}
	defer bus.Close()

	mediaSvc, err := media.NewServiceFromConfig(ctx, cfg, logger)
	if err != nil {
		return err
	}

	cache := settings.New(st, logger)
	launcher := process.Exec{}

	relayMgr := relay.New(relay.Config{
		FFmpegBin: cfg.FFmpegBin,
		HLSDir:    cfg.HLSDir,
	}, launcher, cache, logger,
		relay.WithEvents(bus),
		relay.WithLogBuffer(logs),
	)
	push := pusher.New(pusher.Config{
		FFmpegBin:   cfg.FFmpegBin,
		LogoPath:    cfg.LogoPath,
		OverlayDir:  cfg.OverlayDir,
		FontBold:    cfg.FontBold,
		FontRegular: cfg.FontRegular,
	}, launcher, cache, logger, pusher.WithLogBuffer(logs))
	relayMgr.SetPusher(push)

	sched := playout.New(playout.Deps{
		History:  st,
		Selector: selector.New(st, cache, logger),
		Settings: cache,
		Relay:    relayMgr,
		Pusher:   push,
		Overlay:  overlay.NewWriter(cfg.OverlayDir, time.Now),
		Media:    mediaSvc,
		Probe: func(ctx context.Context) (string, error) {
			return encoder.ProbeHost(ctx, cfg.FFmpegBin)
		},
		Events: bus,
	}, playout.Config{
		Dirs:             []string{cfg.EngineDir, cfg.OverlayDir, cfg.MediaRoot, cfg.HLSDir, cfg.MediaCacheDir},
		Genres:           serveGenres,
		SettingsInterval: settings.DefaultRefreshInterval,
	}, logger)

	ops := server.New(cfg, sched, st, logs, logger)

	var election *leadership.Election
	if cfg.LeaderElection {
		leases, err := leadership.NewRedisStore(ctx, leadership.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return fmt.Errorf("initialize leader election: %w", err)
		}
		defer leases.Close()
		election = leadership.New(leases, leadership.Config{Key: cfg.LeaderKey, InstanceID: cfg.InstanceID}, logger)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		db.ReportPoolStats(gctx, database, 15*time.Second)
		return nil
	})
	g.Go(ops.ListenAndServe)
	g.Go(func() error {
		if election != nil {
			if err := election.Campaign(gctx); err != nil {
				// cancelled while standing by
				return nil
			}
			g.Go(func() error { return election.Hold(gctx) })
		}
		if err := sched.Start(gctx); err != nil {
			return fmt.Errorf("start playout: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ops.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("ops listener shutdown failed")
		}
		return sched.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("Grimnir TV stopped")
	return nil
}
