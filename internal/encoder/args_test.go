package encoder

import (
	"strings"
	"testing"
)

type mapGetter map[string]string

func (m mapGetter) Get(key, fallback string) string {
	if v := m[key]; v != "" {
		return v
	}
	return fallback
}

func indexOf(args []string, v string) int {
	for i, a := range args {
		if a == v {
			return i
		}
	}
	return -1
}

func TestAlphaExprFadeBoundary(t *testing.T) {
	short := "if(lt(t,0.7),t/0.7, if(lt(t,5),1, if(lt(t,5.7),(5.7-t)/0.7,0)))"

	tests := []struct {
		name     string
		duration float64
		want     string
		contains []string
	}{
		{name: "10s uses short form", duration: 10, want: short},
		{name: "exactly 12s uses short form", duration: 12, want: short},
		{name: "unknown duration uses short form", duration: 0, want: short},
		{
			name:     "20s reappears at the tail",
			duration: 20,
			contains: []string{"if(lt(t,14.30),0,", "(t-14.30)/0.7", "if(lt(t,15.00),", "if(lt(t,19.30),1,", "(20.00-t)/0.7"},
		},
		{
			name:     "fractional duration is formatted with two decimals",
			duration: 187.456,
			contains: []string{"if(lt(t,181.76),0,", "if(lt(t,182.46),", "if(lt(t,186.76),1,", "(187.46-t)/0.7"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AlphaExpr(tt.duration)
			if tt.want != "" && got != tt.want {
				t.Fatalf("AlphaExpr(%v) = %q, want %q", tt.duration, got, tt.want)
			}
			for _, part := range tt.contains {
				if !strings.Contains(got, part) {
					t.Fatalf("AlphaExpr(%v) = %q, missing %q", tt.duration, got, part)
				}
			}
			if strings.Count(got, "(") != strings.Count(got, ")") {
				t.Fatalf("unbalanced parentheses in %q", got)
			}
		})
	}
}

func TestRelayArgs(t *testing.T) {
	args := RelayArgs(RelayOptions{HLSDir: "public/hls"})
	joined := strings.Join(args, " ")

	if args[indexOf(args, "-i")+1] != RelayInputURL {
		t.Fatalf("relay must read the local UDP feed: %v", args)
	}
	if !strings.Contains(joined, "-progress pipe:1 -stats_period 1") {
		t.Fatalf("missing progress flags: %s", joined)
	}
	if indexOf(args, "flv") != -1 {
		t.Fatalf("flv output must be absent without RTMP url: %s", joined)
	}
	if args[len(args)-1] != "public/hls/index.m3u8" {
		t.Fatalf("unexpected playlist path: %s", args[len(args)-1])
	}
	if args[indexOf(args, "-hls_segment_filename")+1] != "public/hls/segment_%03d.ts" {
		t.Fatalf("unexpected segment pattern: %s", joined)
	}

	args = RelayArgs(RelayOptions{HLSDir: "public/hls", RTMPURL: "rtmp://live.example/app/key"})
	flv := indexOf(args, "flv")
	if flv == -1 || args[flv+1] != "rtmp://live.example/app/key" {
		t.Fatalf("expected flv output to RTMP url: %v", args)
	}
	if indexOf(args, "hls") < flv {
		t.Fatalf("hls output should follow flv output: %v", args)
	}
}

func TestPushArgs(t *testing.T) {
	profile := ProfileFromSettings(mapGetter{
		"gpu_encoder":        "h264_nvenc",
		"default_resolution": "1920x1080",
		"bitrate_video":      "8000k",
	})
	args, err := PushArgs(PushOptions{
		Input:       "media/Artist/Track.mp4",
		Duration:    10,
		LogoPath:    "logo.png",
		OverlayDir:  "overlay",
		FontBold:    "/fonts/Bold.ttf",
		FontRegular: "/fonts/Regular.ttf",
		Profile:     profile,
	})
	if err != nil {
		t.Fatalf("PushArgs: %v", err)
	}

	checks := map[string]string{
		"-c:v":     "h264_nvenc",
		"-s":       "1920x1080",
		"-maxrate": "8000k",
		"-b:a":     DefaultAudioBitrate,
		"-f":       "mpegts",
	}
	for flag, want := range checks {
		i := indexOf(args, flag)
		if i == -1 || args[i+1] != want {
			t.Errorf("%s = %v, want %q", flag, args, want)
		}
	}
	if args[len(args)-1] != PushTargetURL {
		t.Fatalf("pusher must write to the relay input, got %q", args[len(args)-1])
	}
	if args[0] != "-y" || args[1] != "-re" {
		t.Fatalf("pusher must read in realtime: %v", args[:2])
	}

	graph := args[indexOf(args, "-filter_complex")+1]
	for _, part := range []string{
		"scale=1920:1080:force_original_aspect_ratio=decrease",
		"pad=1920:1080:",
		"fps=30,",
		"textfile=overlay/title.txt:reload=1",
		"textfile=overlay/artist.txt:reload=1",
		"textfile=overlay/isnew.txt:reload=1",
		"fontfile=/fonts/Regular.ttf",
		"alpha='" + AlphaExpr(10) + "'",
	} {
		if !strings.Contains(graph, part) {
			t.Errorf("filter graph missing %q:\n%s", part, graph)
		}
	}
}

func TestPushArgsRejectsBadResolution(t *testing.T) {
	_, err := PushArgs(PushOptions{Profile: Profile{Resolution: "720p"}})
	if err == nil {
		t.Fatal("expected resolution error")
	}
}

func TestVideoEncoderFallsBackToSoftware(t *testing.T) {
	if got := VideoEncoder(mapGetter{}); got != SoftwareEncoder {
		t.Fatalf("got %q, want %q", got, SoftwareEncoder)
	}
	if got := VideoEncoder(mapGetter{"gpu_encoder": "h264_qsv"}); got != "h264_qsv" {
		t.Fatalf("got %q", got)
	}
}
