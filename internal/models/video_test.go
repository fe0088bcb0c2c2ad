package models

import (
	"testing"
	"time"
)

func TestVideoYearString(t *testing.T) {
	zero, year := 0, 1999
	tests := []struct {
		name string
		year *int
		want string
	}{
		{name: "unknown", year: nil, want: ""},
		{name: "zero", year: &zero, want: ""},
		{name: "set", year: &year, want: "1999"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (Video{Year: tt.year}).YearString(); got != tt.want {
				t.Fatalf("YearString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVideoDurationSeconds(t *testing.T) {
	d := 212.5
	if got := (Video{}).DurationSeconds(); got != 0 {
		t.Fatalf("nil duration = %v", got)
	}
	if got := (Video{Duration: &d}).DurationSeconds(); got != 212.5 {
		t.Fatalf("duration = %v", got)
	}
}

func TestPlayoutLogOpen(t *testing.T) {
	ended := time.Now()
	if !(PlayoutLog{}).Open() {
		t.Fatal("entry without EndedAt should be open")
	}
	if (PlayoutLog{EndedAt: &ended}).Open() {
		t.Fatal("closed entry reported open")
	}
}
