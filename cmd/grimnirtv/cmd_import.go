/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/friendsincode/grimnir_tv/internal/db"
	"github.com/friendsincode/grimnir_tv/internal/eventbus"
	"github.com/friendsincode/grimnir_tv/internal/ingest"
	"github.com/friendsincode/grimnir_tv/internal/media"
	"github.com/friendsincode/grimnir_tv/internal/process"
	"github.com/friendsincode/grimnir_tv/internal/settings"
)

var importJSON bool

var importCmd = &cobra.Command{
	Use:   "import <url>",
	Short: "Download a video or playlist into the catalog",
	Long: `Download a single video or every entry of a playlist with yt-dlp, file it
under <media root>/<Artist>/<Track>.mp4 and add it to the catalog.

Examples:
  grimnirtv import https://www.youtube.com/watch?v=XXXXXXXXXXX
  grimnirtv import --json https://www.youtube.com/playlist?list=PLXXXX`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().BoolVar(&importJSON, "json", false, "Print events as JSON lines")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	cache := settings.New(st, logger)
	if err := cache.Refresh(ctx); err != nil {
		logger.Warn().Err(err).Msg("settings load failed, importing without cookies")
	}

	importer := ingest.New(cfg.YTDLPBin, process.Exec{}, st, cache, media.NewFilesystemStorage(cfg.MediaRoot), bus, logger)
	stream, err := importer.Import(ctx, args[0])
	if err != nil {
		return err
	}

	var summary *ingest.Summary
	for ev := range stream {
		if ev.Kind == ingest.KindDone {
			summary = ev.Summary
		}
		if err := printImportEvent(cmd.OutOrStdout(), ev, importJSON); err != nil {
			return err
		}
	}

	if summary != nil && summary.Imported == 0 && summary.Failed > 0 {
		return fmt.Errorf("import failed for all %d entries", summary.Failed)
	}
	return nil
}

func printImportEvent(w io.Writer, ev ingest.Event, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(ev)
	}

	var err error
	switch ev.Kind {
	case ingest.KindProgress:
		if ev.Progress != nil {
			_, err = fmt.Fprintf(w, "\r%5.1f%% %s %s", ev.Progress.Percent, ev.Progress.Speed, ev.Progress.ETA)
			if ev.Progress.Percent >= 100 {
				_, err = fmt.Fprintln(w)
			}
		}
	case ingest.KindLog:
		// raw yt-dlp chatter is only useful in JSON mode
	case ingest.KindMeta:
		if ev.Meta != nil {
			_, err = fmt.Fprintf(w, "[%d/%d] %s - %s\n", ev.Meta.Index, ev.Meta.Total, ev.Meta.Artist, ev.Meta.Track)
		}
	case ingest.KindPlaylist:
		if ev.Playlist != nil {
			_, err = fmt.Fprintf(w, "playlist %q: %d entries\n", ev.Playlist.Title, ev.Playlist.Count)
		}
	case ingest.KindVideoComplete:
		if ev.Video != nil {
			_, err = fmt.Fprintf(w, "imported #%d %s\n", ev.Video.ID, ev.Video.Path)
		}
	case ingest.KindError:
		_, err = fmt.Fprintf(os.Stderr, "error: %s\n", ev.Message)
	case ingest.KindDone:
		if ev.Summary != nil {
			_, err = fmt.Fprintf(w, "done: %d imported, %d failed\n", ev.Summary.Imported, ev.Summary.Failed)
		}
	default:
		if ev.Message != "" {
			_, err = fmt.Fprintln(w, ev.Message)
		}
	}
	return err
}
