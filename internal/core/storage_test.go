package core

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"fishlog/internal/blob"
	"fishlog/internal/infra/persistence/memory"
	"fishlog/internal/infra/persistence/sqlite"
)

func TestOpenLocalStoreDrivers(t *testing.T) {
	store, closer, err := OpenLocalStore(StorageConfig{LocalDriver: LocalMemory})
	if err != nil || closer != nil {
		t.Fatalf("memory store: %v closer=%v", err, closer)
	}
	if _, ok := store.(*memory.KV); !ok {
		t.Fatalf("expected memory KV, got %T", store)
	}

	path := filepath.Join(t.TempDir(), "fishlog.db")
	store, closer, err = OpenLocalStore(StorageConfig{SQLitePath: path})
	if err != nil {
		t.Fatalf("sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = closer.Close() })
	s, ok := store.(*sqlite.Store)
	if !ok || s.Path() != path {
		t.Fatalf("expected sqlite store at %s, got %T", path, store)
	}
	ctx := context.Background()
	if err := store.Set(ctx, keyHistory, []byte("[]")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, ok, _ := store.Get(ctx, keyHistory); !ok || string(v) != "[]" {
		t.Fatalf("unexpected value %q", v)
	}

	if _, _, err := OpenLocalStore(StorageConfig{LocalDriver: "leveldb"}); err == nil || !strings.Contains(err.Error(), "leveldb") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
}

func TestOpenRemoteStoreDrivers(t *testing.T) {
	store, closer, err := OpenRemoteStore(StorageConfig{RemoteDriver: RemoteMemory})
	if err != nil || closer != nil {
		t.Fatalf("memory remote: %v", err)
	}
	if _, ok := store.(*memory.Documents); !ok {
		t.Fatalf("expected memory documents, got %T", store)
	}
	if _, _, err := OpenRemoteStore(StorageConfig{RemoteDriver: "firestore"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestOpenStores(t *testing.T) {
	stores, err := OpenStores(context.Background(), StorageConfig{
		LocalDriver:  LocalSQLite,
		SQLitePath:   filepath.Join(t.TempDir(), "local.db"),
		RemoteDriver: RemoteMemory,
		Blob:         blob.Config{Driver: blob.DriverMemory},
	})
	if err != nil {
		t.Fatalf("open stores: %v", err)
	}
	if stores.Local == nil || stores.Remote == nil || stores.Photos == nil {
		t.Fatalf("expected all stores opened: %+v", stores)
	}
	if err := stores.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	_, err = OpenStores(context.Background(), StorageConfig{
		LocalDriver:  LocalMemory,
		RemoteDriver: RemoteMemory,
		Blob:         blob.Config{Driver: "ftp"},
	})
	if err == nil || !strings.Contains(err.Error(), "open photo store") {
		t.Fatalf("expected photo store error, got %v", err)
	}
}
