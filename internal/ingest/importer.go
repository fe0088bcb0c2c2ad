/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package ingest downloads videos with yt-dlp into the media root and adds
// them to the catalog. Progress is reported as a typed event stream.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/friendsincode/grimnir_tv/internal/events"
	"github.com/friendsincode/grimnir_tv/internal/media"
	"github.com/friendsincode/grimnir_tv/internal/models"
	"github.com/friendsincode/grimnir_tv/internal/process"
	"github.com/friendsincode/grimnir_tv/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Arguments applied to every yt-dlp call to look less like a bot.
var hardenArgs = []string{
	"--user-agent",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"--sleep-interval", "1",
	"--max-sleep-interval", "5",
}

// DownloadFormat prefers H.264 MP4 so the pusher never has to deal with VP9.
const DownloadFormat = "bestvideo[ext=mp4][vcodec^=avc1]+bestaudio[ext=m4a]/best[ext=mp4][vcodec^=avc1]"

var playlistWord = regexp.MustCompile(`(?i)playlist`)

// VideoStore persists imported videos.
type VideoStore interface {
	InsertVideo(ctx context.Context, video *models.Video) error
}

// Settings provides the cookies path.
type Settings interface {
	Get(key, fallback string) string
}

// Importer runs imports. It is safe for concurrent use.
type Importer struct {
	bin      string
	launcher process.Launcher
	store    VideoStore
	settings Settings
	fs       *media.FilesystemStorage
	events   events.Publisher
	logger   zerolog.Logger
}

// New creates an Importer. pub may be nil.
func New(bin string, launcher process.Launcher, store VideoStore, settings Settings, fs *media.FilesystemStorage, pub events.Publisher, logger zerolog.Logger) *Importer {
	if bin == "" {
		bin = "yt-dlp"
	}
	if pub == nil {
		pub = events.Discard
	}
	return &Importer{
		bin:      bin,
		launcher: launcher,
		store:    store,
		settings: settings,
		fs:       fs,
		events:   pub,
		logger:   logger.With().Str("component", "ingest").Logger(),
	}
}

type ytEntry struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	WebpageURL string `json:"webpage_url"`
}

func (e ytEntry) ref() string {
	if e.URL != "" {
		return e.URL
	}
	return e.ID
}

type ytInfo struct {
	ytEntry
	Title   string    `json:"title"`
	Entries []ytEntry `json:"entries"`
}

type ytVideo struct {
	Title      string  `json:"title"`
	Artist     string  `json:"artist"`
	Track      string  `json:"track"`
	Channel    string  `json:"channel"`
	Uploader   string  `json:"uploader"`
	UploadDate string  `json:"upload_date"`
	Duration   float64 `json:"duration"`
	Thumbnails []struct {
		URL string `json:"url"`
	} `json:"thumbnails"`
}

// Import starts importing url and returns the event stream. The channel is
// closed after the final done or error event. Cancelling ctx aborts the
// import and stops yt-dlp.
func (im *Importer) Import(ctx context.Context, url string) (<-chan Event, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("import: empty url")
	}

	j := &job{
		im:  im,
		id:  uuid.NewString(),
		url: url,
		out: make(chan Event, 64),
	}
	go j.run(ctx)
	return j.out, nil
}

type job struct {
	im  *Importer
	id  string
	url string
	out chan Event
}

func (j *job) emit(ctx context.Context, ev Event) {
	ev.JobID = j.id
	select {
	case j.out <- ev:
	case <-ctx.Done():
	}
}

func (j *job) fail(ctx context.Context, err error) {
	j.im.logger.Error().Err(err).Str("job_id", j.id).Str("url", j.url).Msg("import failed")
	j.emit(ctx, Event{Kind: KindError, Message: err.Error()})
}

func (j *job) run(ctx context.Context) {
	defer close(j.out)
	logger := j.im.logger.With().Str("job_id", j.id).Logger()

	j.emit(ctx, Event{Kind: KindStatus, Message: "Inspecting URL"})

	raw, err := j.im.output(ctx, "-J", "--no-warnings", "--flat-playlist", j.url)
	if err != nil {
		j.fail(ctx, fmt.Errorf("inspect url: %w", err))
		return
	}
	var info ytInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		j.fail(ctx, fmt.Errorf("parse yt-dlp metadata: %w", err))
		return
	}

	isPlaylist := info.Entries != nil || playlistWord.MatchString(info.Title) || playlistWord.MatchString(j.url)
	entries := info.Entries
	if entries == nil {
		single := info.ytEntry
		if single.WebpageURL != "" {
			single.URL = single.WebpageURL
		} else {
			single.URL = j.url
		}
		entries = []ytEntry{single}
	}
	if isPlaylist && len(entries) > 1 {
		title := info.Title
		if title == "" {
			title = "Playlist"
		}
		j.emit(ctx, Event{Kind: KindPlaylist, Playlist: &Playlist{Title: title, Count: len(entries)}})
	}

	summary := Summary{}
	for i, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		video, err := j.importEntry(ctx, entry, i+1, len(entries))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			summary.Failed++
			telemetry.IngestVideosTotal.WithLabelValues("failed").Inc()
			j.im.events.Publish(events.EventIngestFailed, events.Payload{"job_id": j.id, "url": entry.ref(), "error": err.Error()})
			j.fail(ctx, err)
			continue
		}
		summary.Imported++
		telemetry.IngestVideosTotal.WithLabelValues("imported").Inc()
		j.im.events.Publish(events.EventIngestComplete, events.Payload{"job_id": j.id, "video_id": video.ID, "path": video.Path})
		j.emit(ctx, Event{Kind: KindVideoComplete, Video: video})
	}

	logger.Info().Int("imported", summary.Imported).Int("failed", summary.Failed).Msg("import finished")
	j.emit(ctx, Event{Kind: KindDone, Message: "All imports finished", Summary: &summary})
}

func (j *job) importEntry(ctx context.Context, entry ytEntry, index, total int) (*models.Video, error) {
	ref := entry.ref()
	j.emit(ctx, Event{Kind: KindProgress, Progress: &Progress{Percent: 0}})

	raw, err := j.im.output(ctx, "-J", "--no-warnings", ref)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata for %s: %w", ref, err)
	}
	var v ytVideo
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("parse metadata for %s: %w", ref, err)
	}

	artist, track := v.Artist, v.Track
	titleArtist, titleTrack := ParseArtistTrack(v.Title)
	if artist == "" {
		artist = firstNonEmpty(titleArtist, v.Channel, v.Uploader, "Unknown")
	}
	if track == "" {
		track = firstNonEmpty(titleTrack, v.Title, "Unknown")
	}

	meta := &Meta{
		Artist:   artist,
		Track:    track,
		Title:    artist + " - " + track,
		Duration: v.Duration,
		Index:    index,
		Total:    total,
	}
	if n := len(v.Thumbnails); n > 0 {
		meta.Thumbnail = v.Thumbnails[n-1].URL
	}
	j.emit(ctx, Event{Kind: KindMeta, Meta: meta})

	relPath := path.Join(SafeName(artist), SafeName(track)+".mp4")
	fullPath := j.im.fs.Path(relPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return nil, fmt.Errorf("create artist dir: %w", err)
	}

	j.emit(ctx, Event{Kind: KindLog, Message: fmt.Sprintf("Downloading (%d/%d): %s - %s", index, total, artist, track)})
	if err := j.download(ctx, ref, fullPath); err != nil {
		return nil, err
	}
	j.emit(ctx, Event{Kind: KindLog, Message: "Download complete"})

	video := &models.Video{
		Path:      relPath,
		Title:     track,
		Artist:    artist,
		Year:      uploadYear(v.UploadDate),
		SourceURL: ref,
	}
	if v.Duration > 0 {
		d := v.Duration
		video.Duration = &d
	}
	if err := j.im.store.InsertVideo(ctx, video); err != nil {
		return nil, fmt.Errorf("insert video: %w", err)
	}
	return video, nil
}

func (j *job) download(ctx context.Context, ref, fullPath string) error {
	onStdout := func(line string) {
		j.emit(ctx, Event{Kind: KindLog, Message: line})
	}
	onStderr := func(line string) {
		j.emit(ctx, Event{Kind: KindLog, Message: line})
		if p, ok := ParseProgress(line); ok {
			j.emit(ctx, Event{Kind: KindProgress, Progress: &p})
		}
	}

	err := j.im.run(ctx, []string{
		"--no-playlist",
		"-f", DownloadFormat,
		"-o", fullPath,
		"--no-warnings",
		ref,
	}, newLineWriter(onStdout), newLineWriter(onStderr))
	if err != nil {
		return fmt.Errorf("download %s: %w", ref, err)
	}
	j.emit(ctx, Event{Kind: KindProgress, Progress: &Progress{Percent: 100}})
	return nil
}

func (im *Importer) cookieArgs() []string {
	p := im.settings.Get(models.SettingCookiesPath, "")
	if p == "" {
		return nil
	}
	if _, err := os.Stat(p); err != nil {
		im.logger.Warn().Err(err).Str("path", p).Msg("yt-dlp cookies file not usable, continuing without")
		return nil
	}
	return []string{"--cookies", p}
}

func (im *Importer) run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	full := append(append(append([]string{}, hardenArgs...), im.cookieArgs()...), args...)
	h, err := im.launcher.Start(ctx, process.Spec{
		Name:   "yt-dlp",
		Path:   im.bin,
		Args:   full,
		Stdout: stdout,
		Stderr: stderr,
	})
	if err != nil {
		return err
	}
	select {
	case <-h.Done():
	case <-ctx.Done():
		h.Terminate(process.DefaultGrace)
	}
	return h.Wait()
}

func (im *Importer) output(ctx context.Context, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	if err := im.run(ctx, args, &stdout, &stderr); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("yt-dlp %w: %s", err, msg)
		}
		return nil, fmt.Errorf("yt-dlp %w", err)
	}
	return stdout.Bytes(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// lineWriter calls fn for every non-empty line. yt-dlp redraws progress with
// carriage returns, so both \r and \n end a line.
type lineWriter struct {
	fn      func(string)
	mu      sync.Mutex
	partial []byte
}

func newLineWriter(fn func(string)) *lineWriter {
	return &lineWriter{fn: fn}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.partial = append(w.partial, p...)
	for {
		idx := bytes.IndexAny(w.partial, "\r\n")
		if idx < 0 {
			break
		}
		line := strings.TrimSpace(string(w.partial[:idx]))
		w.partial = w.partial[idx+1:]
		if line != "" {
			w.fn(line)
		}
	}
	return len(p), nil
}
