/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package ingest

import (
	"regexp"
	"strconv"
	"strings"
)

// Bracketed suffixes stripped from video titles before splitting.
var junkPatterns = compileJunk(
	"official.*video", "official.*audio", "music.*video", "lyric.*video",
	"lyrics", "remaster", "4k", "8k", "hd", "live", "visualizer", "audio",
)

func compileJunk(words ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(words)*2)
	for _, w := range words {
		out = append(out,
			regexp.MustCompile(`(?i)\(.*`+w+`.*\)`),
			regexp.MustCompile(`(?i)\[.*`+w+`.*\]`),
		)
	}
	return out
}

var (
	emptyBrackets = regexp.MustCompile(`\[\s*\]$`)
	emptyParens   = regexp.MustCompile(`\(\s*\)$`)
	spaceRuns     = regexp.MustCompile(`\s{2,}`)

	progressLine = regexp.MustCompile(`(?i)\[download\]\s+([\d.]+)%.*?at\s+([^\s]+).*?ETA\s+([0-9:]+)`)
)

// CleanTitle removes "(Official Video)" style noise from a title.
func CleanTitle(raw string) string {
	if raw == "" {
		return raw
	}
	cleaned := raw
	for _, re := range junkPatterns {
		cleaned = strings.TrimSpace(re.ReplaceAllString(cleaned, ""))
	}
	cleaned = strings.TrimSpace(emptyBrackets.ReplaceAllString(cleaned, ""))
	cleaned = strings.TrimSpace(emptyParens.ReplaceAllString(cleaned, ""))
	cleaned = spaceRuns.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}

// ParseArtistTrack splits a cleaned "Artist - Track" title. Without a
// separator the whole title is the track and artist is empty.
func ParseArtistTrack(title string) (artist, track string) {
	title = CleanTitle(title)
	if title == "" {
		return "", ""
	}
	a, t, ok := strings.Cut(title, " - ")
	if !ok {
		return "", strings.TrimSpace(title)
	}
	return strings.TrimSpace(a), strings.TrimSpace(t)
}

// SafeName strips characters that are invalid in file names.
func SafeName(s string) string {
	out := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`/:*?"<>|`, r) {
			return -1
		}
		return r
	}, s)
	out = strings.TrimSpace(out)
	if out == "" {
		return "Unknown"
	}
	return out
}

// ParseProgress extracts percent, speed and ETA from a yt-dlp download line.
func ParseProgress(line string) (Progress, bool) {
	m := progressLine.FindStringSubmatch(line)
	if m == nil {
		return Progress{}, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Progress{}, false
	}
	if pct > 100 {
		pct = 100
	}
	return Progress{Percent: pct, Speed: m[2], ETA: m[3]}, true
}

// uploadYear reads the year from yt-dlp's YYYYMMDD upload_date.
func uploadYear(date string) *int {
	if len(date) < 4 {
		return nil
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil || y == 0 {
		return nil
	}
	return &y
}
