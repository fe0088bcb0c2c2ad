/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package encoder

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// hardwareEncoders lists candidate encoders per GOOS in priority order.
var hardwareEncoders = map[string][]string{
	"darwin":  {"h264_videotoolbox"},
	"windows": {"h264_nvenc", "h264_amf", "h264_qsv"},
	"linux":   {"h264_nvenc", "h264_qsv", "h264_vaapi"},
}

// HardwareCandidates returns the probe priority list for goos.
func HardwareCandidates(goos string) []string {
	return append([]string(nil), hardwareEncoders[goos]...)
}

// EncoderLister returns ffmpeg's "-encoders" listing.
type EncoderLister func(ctx context.Context) (string, error)

// FFmpegEncoders runs "ffmpeg -hide_banner -encoders" with bin.
func FFmpegEncoders(bin string) EncoderLister {
	return func(ctx context.Context) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		out, err := exec.CommandContext(ctx, bin, "-hide_banner", "-encoders").Output()
		if err != nil {
			return "", fmt.Errorf("list encoders: %w", err)
		}
		return string(out), nil
	}
}

// ProbeHardware returns the first hardware encoder from the priority list for
// goos that appears in the ffmpeg listing, or "" when none does.
func ProbeHardware(ctx context.Context, goos string, list EncoderLister) (string, error) {
	candidates := hardwareEncoders[goos]
	if len(candidates) == 0 {
		return "", nil
	}
	listing, err := list(ctx)
	if err != nil {
		return "", err
	}
	for _, name := range candidates {
		if strings.Contains(listing, name) {
			return name, nil
		}
	}
	return "", nil
}

// ProbeHost probes for the running OS.
func ProbeHost(ctx context.Context, bin string) (string, error) {
	return ProbeHardware(ctx, runtime.GOOS, FFmpegEncoders(bin))
}
