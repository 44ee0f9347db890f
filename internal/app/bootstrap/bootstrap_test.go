package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/splax/creditledger/internal/repository/memory"
	"github.com/splax/creditledger/internal/repository/sqlite"
	"github.com/splax/creditledger/pkg/config"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenStoreSelectsDriver(t *testing.T) {
	ctx := context.Background()

	store, err := OpenStore(ctx, config.APIConfig{StoreDriver: "memory"}, discard())
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}

	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err = OpenStore(ctx, config.APIConfig{StoreDriver: config.StoreDriverSQLite, SQLitePath: path}, discard())
	if err != nil {
		t.Fatalf("sqlite store: %v", err)
	}
	defer store.Close(ctx)
	if _, ok := store.(*sqlite.Store); !ok {
		t.Fatalf("expected sqlite store, got %T", store)
	}
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	if _, err := OpenStore(context.Background(), config.APIConfig{StoreDriver: "cassandra"}, discard()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestNewProcessorRequiresKey(t *testing.T) {
	if _, err := NewProcessor(config.APIConfig{}, discard()); err == nil {
		t.Fatalf("expected error without stripe key")
	}
}
