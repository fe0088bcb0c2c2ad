package ingest

import "testing"

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Artist - Song (Official Music Video)", "Artist - Song"},
		{"Artist - Song [Official Video] (Remastered 2011)", "Artist - Song"},
		{"Artist - Song (Lyrics)", "Artist - Song"},
		{"Artist - Song [4K]", "Artist - Song"},
		{"Artist  -  Song", "Artist - Song"},
		{"Plain Title", "Plain Title"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CleanTitle(tt.in); got != tt.want {
			t.Errorf("CleanTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseArtistTrack(t *testing.T) {
	tests := []struct {
		in     string
		artist string
		track  string
	}{
		{"Daft Punk - Around the World (Official Video)", "Daft Punk", "Around the World"},
		{"A - B - C", "A", "B - C"},
		{"No Separator Here", "", "No Separator Here"},
		{"", "", ""},
	}
	for _, tt := range tests {
		artist, track := ParseArtistTrack(tt.in)
		if artist != tt.artist || track != tt.track {
			t.Errorf("ParseArtistTrack(%q) = %q, %q; want %q, %q", tt.in, artist, track, tt.artist, tt.track)
		}
	}
}

func TestSafeName(t *testing.T) {
	tests := map[string]string{
		`AC/DC`:            "ACDC",
		`What? "Now" <1>|`: "What Now 1",
		`  :*  `:           "Unknown",
		``:                 "Unknown",
	}
	for in, want := range tests {
		if got := SafeName(in); got != want {
			t.Errorf("SafeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseProgress(t *testing.T) {
	p, ok := ParseProgress("[download]  42.3% of ~ 120.55MiB at    3.21MiB/s ETA 00:21 (frag 3/40)")
	if !ok {
		t.Fatal("expected progress match")
	}
	if p.Percent != 42.3 || p.Speed != "3.21MiB/s" || p.ETA != "00:21" {
		t.Fatalf("unexpected progress %+v", p)
	}

	if _, ok := ParseProgress("[download] Destination: media/a.mp4"); ok {
		t.Fatal("destination line is not progress")
	}
}

func TestUploadYear(t *testing.T) {
	if y := uploadYear("20240131"); y == nil || *y != 2024 {
		t.Fatalf("unexpected year %v", y)
	}
	if uploadYear("") != nil || uploadYear("abcd0101") != nil {
		t.Fatal("expected nil year for bad dates")
	}
}
