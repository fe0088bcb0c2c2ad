/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package encoder

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
	"time"
)

// Stats is the live view of the relay's progress stream. Values are kept as
// the raw strings ffmpeg reports.
type Stats struct {
	Running    bool
	Frame      string
	FPS        string
	Bitrate    string
	Speed      string
	DropFrames string
	OutTime    string
	// Extra holds every other progress key (total_size, dup_frames, ...).
	Extra      map[string]string
	LastUpdate time.Time
}

// Apply records one progress key and stamps LastUpdate.
func (s *Stats) Apply(key, value string, now time.Time) {
	switch key {
	case "frame":
		s.Frame = value
	case "fps":
		s.FPS = value
	case "bitrate":
		s.Bitrate = value
	case "speed":
		s.Speed = value
	case "drop_frames":
		s.DropFrames = value
	case "out_time":
		s.OutTime = value
	default:
		if s.Extra == nil {
			s.Extra = make(map[string]string)
		}
		s.Extra[key] = value
	}
	s.LastUpdate = now
}

// Clone returns a deep copy.
func (s Stats) Clone() Stats {
	if s.Extra != nil {
		extra := make(map[string]string, len(s.Extra))
		for k, v := range s.Extra {
			extra[k] = v
		}
		s.Extra = extra
	}
	return s
}

// MarshalJSON flattens the stats into a single object with lastUpdate in
// unix milliseconds, the shape dashboards poll.
func (s Stats) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+8)
	for k, v := range s.Extra {
		out[k] = v
	}
	out["running"] = s.Running
	out["frame"] = nullable(s.Frame)
	out["fps"] = nullable(s.FPS)
	out["bitrate"] = nullable(s.Bitrate)
	out["speed"] = nullable(s.Speed)
	out["drop_frames"] = nullable(s.DropFrames)
	out["out_time"] = nullable(s.OutTime)
	if s.LastUpdate.IsZero() {
		out["lastUpdate"] = nil
	} else {
		out["lastUpdate"] = s.LastUpdate.UnixMilli()
	}
	return json.Marshal(out)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// ParseProgressLine splits one "key=value" line. Lines without a key are
// rejected.
func ParseProgressLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", "", false
	}
	key, value, _ = strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(value), true
}

// ReadProgress scans r until EOF and calls fn for every key=value pair.
func ReadProgress(r io.Reader, fn func(key, value string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if key, value, ok := ParseProgressLine(scanner.Text()); ok {
			fn(key, value)
		}
	}
	return scanner.Err()
}
