/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package encoder owns the ffmpeg command-line contract shared by the relay
// and the per-track pusher: argument builders, the overlay fade curve, the
// progress stream parser and the hardware encoder probe.
package encoder

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/friendsincode/grimnir_tv/internal/models"
	"github.com/friendsincode/grimnir_tv/internal/overlay"
)

// Local transport between pusher and relay.
const (
	RelayInputURL = "udp://127.0.0.1:554?fifo_size=5000000&overrun_nonfatal=1&timeout=0"
	PushTargetURL = "udp://127.0.0.1:554?pkt_size=1316"
)

// SoftwareEncoder is used when no operator or probe override exists.
const SoftwareEncoder = "libx264"

// HLS output names inside the HLS directory.
const (
	HLSPlaylist       = "index.m3u8"
	HLSSegmentPattern = "segment_%03d.ts"
)

// Defaults for unset settings.
const (
	DefaultResolution   = "1280x720"
	DefaultFPS          = "30"
	DefaultVideoBitrate = "6000k"
	DefaultAudioBitrate = "160k"
)

// Getter reads string settings.
type Getter interface {
	Get(key, fallback string) string
}

// VideoEncoder resolves the encoder name from settings.
func VideoEncoder(s Getter) string {
	return s.Get(models.SettingGPUEncoder, SoftwareEncoder)
}

// Profile is the output format applied by the pusher.
type Profile struct {
	VideoEncoder string
	Resolution   string
	FPS          string
	VideoBitrate string
	AudioBitrate string
}

// ProfileFromSettings reads the current output profile.
func ProfileFromSettings(s Getter) Profile {
	return Profile{
		VideoEncoder: VideoEncoder(s),
		Resolution:   s.Get(models.SettingDefaultResolution, DefaultResolution),
		FPS:          s.Get(models.SettingDefaultFPS, DefaultFPS),
		VideoBitrate: s.Get(models.SettingBitrateVideo, DefaultVideoBitrate),
		AudioBitrate: s.Get(models.SettingBitrateAudio, DefaultAudioBitrate),
	}
}

// ParseResolution parses "WIDTHxHEIGHT".
func ParseResolution(res string) (width, height int, err error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(res)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("resolution %q: expected WIDTHxHEIGHT", res)
	}
	width, err = strconv.Atoi(w)
	if err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("resolution %q: bad width", res)
	}
	height, err = strconv.Atoi(h)
	if err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("resolution %q: bad height", res)
	}
	return width, height, nil
}

// RelayOptions configures the long-lived relay.
type RelayOptions struct {
	HLSDir string
	// RTMPURL adds an FLV push output when non-empty.
	RTMPURL string
}

// RelayArgs builds the relay command line: UDP MPEG-TS in, codec copy out to
// HLS and optionally RTMP, key=value progress on stdout.
func RelayArgs(opts RelayOptions) []string {
	args := []string{
		"-fflags", "+genpts+nobuffer",
		"-analyzeduration", "0",
		"-probesize", "32k",
		"-i", RelayInputURL,

		"-progress", "pipe:1",
		"-stats_period", "1",
	}

	if opts.RTMPURL != "" {
		args = append(args,
			"-c:v", "copy",
			"-c:a", "copy",
			"-f", "flv",
			opts.RTMPURL,
		)
	}

	return append(args,
		"-c:v", "copy",
		"-c:a", "copy",
		"-f", "hls",
		"-hls_time", "4",
		"-hls_list_size", "8",
		"-hls_flags", "delete_segments+append_list",
		"-hls_segment_filename", filepath.Join(opts.HLSDir, HLSSegmentPattern),
		filepath.Join(opts.HLSDir, HLSPlaylist),
	)
}

// PushOptions configures one pusher run.
type PushOptions struct {
	Input    string
	Duration float64

	LogoPath    string
	OverlayDir  string
	FontBold    string
	FontRegular string

	Profile Profile
	Target  string
}

// PushArgs builds the pusher command line. The filter graph scales and pads
// to the profile resolution, overlays the logo top right and draws the title,
// artist and new badge from the overlay files with reload=1.
func PushArgs(opts PushOptions) ([]string, error) {
	width, height, err := ParseResolution(opts.Profile.Resolution)
	if err != nil {
		return nil, err
	}
	target := opts.Target
	if target == "" {
		target = PushTargetURL
	}

	alpha := AlphaExpr(opts.Duration)
	text := func(file string) string {
		return filepath.ToSlash(filepath.Join(opts.OverlayDir, file))
	}

	graph := fmt.Sprintf("[0:v]scale=%d:%d:force_original_aspect_ratio=decrease,", width, height) +
		fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black,", width, height) +
		"fps=" + opts.Profile.FPS + ",format=yuv420p,setsar=1[vmain];" +
		"[1:v]scale=140:-1[logo];" +
		"[vmain][logo]overlay=x=W-w-20:y=20[with_logo];" +
		"[with_logo]drawtext=fontfile=" + opts.FontBold + ":" +
		"textfile=" + text(overlay.TitleFile) + ":reload=1:fontsize=42:fontcolor=white:" +
		"x=40:y=H-140:alpha='" + alpha + "'[t1];" +
		"[t1]drawtext=fontfile=" + opts.FontRegular + ":" +
		"textfile=" + text(overlay.ArtistFile) + ":reload=1:fontsize=30:fontcolor=white:" +
		"x=40:y=H-95:alpha='" + alpha + "'[t2];" +
		"[t2]drawtext=fontfile=" + opts.FontBold + ":" +
		"textfile=" + text(overlay.IsNewFile) + ":reload=1:fontsize=28:fontcolor=0xff3300ff:" +
		"x=W-tw-40:y=H-140:alpha='" + alpha + "'[outv]"

	return []string{
		"-y",
		"-re",
		"-i", opts.Input,
		"-i", opts.LogoPath,
		"-filter_complex", graph,
		"-map", "[outv]",
		"-map", "0:a",
		"-c:v", opts.Profile.VideoEncoder,
		"-s", opts.Profile.Resolution,
		"-preset", "veryfast",
		"-profile:v", "high",
		"-level", "4.1",
		"-pix_fmt", "yuv420p",
		"-maxrate", opts.Profile.VideoBitrate,
		"-bufsize", "10000k",
		"-ar", "48000",
		"-ac", "2",
		"-c:a", "aac",
		"-b:a", opts.Profile.AudioBitrate,
		"-f", "mpegts",
		target,
	}, nil
}

// shortAlpha shows the overlay for the first five seconds with 0.7s fades.
const shortAlpha = "if(lt(t,0.7),t/0.7, if(lt(t,5),1, if(lt(t,5.7),(5.7-t)/0.7,0)))"

// longFadeThreshold is the duration above which the overlay returns at the tail.
const longFadeThreshold = 12.0

// AlphaExpr returns the drawtext alpha expression for a track of the given
// duration in seconds. Tracks longer than 12s show the overlay again for the
// last five seconds.
func AlphaExpr(duration float64) string {
	if !(duration > longFadeThreshold) {
		return shortAlpha
	}
	d := formatSeconds(duration)
	d57 := formatSeconds(duration - 5.7)
	d5 := formatSeconds(duration - 5)
	d07 := formatSeconds(duration - 0.7)

	return "if(lt(t,0.7),t/0.7," +
		" if(lt(t,5),1," +
		" if(lt(t,5.7),(5.7-t)/0.7," +
		" if(lt(t," + d57 + "),0," +
		" if(lt(t," + d5 + "),(t-" + d57 + ")/0.7," +
		" if(lt(t," + d07 + "),1," +
		" if(lt(t," + d + "),(" + d + "-t)/0.7,0)" +
		" ))))))"
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
