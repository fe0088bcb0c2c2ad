/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package ingest

import "github.com/friendsincode/grimnir_tv/internal/models"

// Kind identifies an import event.
type Kind string

const (
	KindStatus        Kind = "status"
	KindProgress      Kind = "progress"
	KindLog           Kind = "log"
	KindMeta          Kind = "meta"
	KindPlaylist      Kind = "playlist"
	KindVideoComplete Kind = "video_complete"
	KindError         Kind = "error"
	KindDone          Kind = "done"
)

// Event is one step of an import. Exactly one of the pointer fields is set
// for progress, meta, playlist and video_complete events.
type Event struct {
	Kind    Kind   `json:"type"`
	JobID   string `json:"job_id"`
	Message string `json:"message,omitempty"`

	Progress *Progress     `json:"progress,omitempty"`
	Meta     *Meta         `json:"meta,omitempty"`
	Playlist *Playlist     `json:"playlist,omitempty"`
	Video    *models.Video `json:"video,omitempty"`
	Summary  *Summary      `json:"summary,omitempty"`
}

// Progress is parsed from yt-dlp download lines. Speed and ETA are empty
// for the synthetic 0% and 100% events.
type Progress struct {
	Percent float64 `json:"percent"`
	Speed   string  `json:"speed,omitempty"`
	ETA     string  `json:"eta,omitempty"`
}

// Meta describes the entry about to be downloaded.
type Meta struct {
	Artist    string  `json:"artist"`
	Track     string  `json:"track"`
	Title     string  `json:"title"`
	Thumbnail string  `json:"thumbnail,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
	Index     int     `json:"index"`
	Total     int     `json:"total"`
}

// Playlist is emitted once when the URL expands to several entries.
type Playlist struct {
	Title string `json:"title"`
	Count int    `json:"count"`
}

// Summary closes the stream.
type Summary struct {
	Imported int `json:"imported"`
	Failed   int `json:"failed"`
}
