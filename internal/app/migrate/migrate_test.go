package migrate

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestSourceFallsBackToEmbedded(t *testing.T) {
	src := Source(filepath.Join(t.TempDir(), "missing"))
	matches, err := fs.Glob(src, "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("expected embedded migrations")
	}
}

func TestSourcePrefersDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "00099_extra.sql"), []byte("-- +goose Up\n"), 0o600); err != nil {
		t.Fatalf("write migration: %v", err)
	}
	matches, err := fs.Glob(Source(dir), "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 1 || matches[0] != "00099_extra.sql" {
		t.Fatalf("unexpected migrations %v", matches)
	}
}

func TestNewRejectsEmptyDSN(t *testing.T) {
	if _, err := New("", Source(""), nil); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}
