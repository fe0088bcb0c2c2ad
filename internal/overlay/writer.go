/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package overlay writes the text files the pusher's drawtext filters read.
//
// The file names are a contract with the encoder filter graph. Each file is
// replaced through a rename so a reader with reload=1 never sees a partial
// write.
package overlay

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/friendsincode/grimnir_tv/internal/models"
)

// Overlay file names inside the overlay directory.
const (
	NowPlayingFile = "nowplaying.txt"
	ArtistFile     = "artist.txt"
	TitleFile      = "title.txt"
	IsNewFile      = "isnew.txt"
)

// NewBadge is written to IsNewFile for videos released this year.
const NewBadge = "NEW Music"

// Writer renders now-playing text into the overlay directory.
type Writer struct {
	dir string
	now func() time.Time
}

// NewWriter creates a Writer for dir. now may be nil.
func NewWriter(dir string, now func() time.Time) *Writer {
	if now == nil {
		now = time.Now
	}
	return &Writer{dir: dir, now: now}
}

// Dir returns the overlay directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Path returns the full path of one overlay file.
func (w *Writer) Path(name string) string {
	return filepath.Join(w.dir, name)
}

// Write replaces all four overlay files for v.
func (w *Writer) Write(v *models.Video) error {
	line := FormatLine(v.Artist, v.Title, v.YearString())
	artist, title := SplitLine(line)

	badge := ""
	if IsNew(v.YearString(), w.now()) {
		badge = NewBadge
	}

	files := []struct {
		name    string
		content string
	}{
		{NowPlayingFile, line},
		{ArtistFile, artist},
		{TitleFile, title},
		{IsNewFile, badge},
	}
	for _, f := range files {
		if err := replaceFile(w.Path(f.name), f.content); err != nil {
			return err
		}
	}
	return nil
}

// FormatLine builds "Artist - Title (Year)". The separator is dropped when
// artist is empty and the year suffix when year is empty.
func FormatLine(artist, title, year string) string {
	line := title
	if artist != "" {
		line = artist + " - " + title
	}
	if year != "" {
		line += " (" + year + ")"
	}
	return line
}

// SplitLine splits at the first " - ". Without a separator the whole line is
// the artist.
func SplitLine(line string) (artist, title string) {
	before, after, found := strings.Cut(line, " - ")
	if !found {
		return strings.TrimSpace(line), ""
	}
	return strings.TrimSpace(before), strings.TrimSpace(after)
}

// IsNew reports whether year is a prefix of now's calendar year.
func IsNew(year string, now time.Time) bool {
	if year == "" {
		return false
	}
	return strings.HasPrefix(strconv.Itoa(now.Year()), year)
}

func replaceFile(path, content string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
