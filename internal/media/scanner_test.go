package media

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/friendsincode/grimnir_tv/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestScanFindsOrphansAndMissingFiles(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&models.Video{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	root := t.TempDir()
	for _, rel := range []string{"Known/Track.mp4", "Stray/Other.mkv", "notes.txt"} {
		full := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	for _, v := range []models.Video{
		{Path: "Known/Track.mp4", Title: "Track"},
		{Path: "Gone/Deleted.mp4", Title: "Deleted"},
		{Path: "s3://videos/remote.mp4", Title: "Remote"},
	} {
		if err := db.Create(&v).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	result, err := NewScanner(db, NewFilesystemStorage(root), zerolog.Nop()).Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if result.TotalFiles != 2 {
		t.Fatalf("expected 2 video files, got %d", result.TotalFiles)
	}
	if len(result.Orphans) != 1 || result.Orphans[0] != "Stray/Other.mkv" {
		t.Fatalf("unexpected orphans: %v", result.Orphans)
	}
	if len(result.Missing) != 1 || result.Missing[0].Title != "Deleted" {
		t.Fatalf("unexpected missing: %+v", result.Missing)
	}
}
