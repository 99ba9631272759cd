package localstore

import (
	"context"
	"path/filepath"
	"testing"
)

func TestStoreGetSetDelete(t *testing.T) {
	t.Parallel()

	store, err := Open(MemoryPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}

	if err := store.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, "k", "v2"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	value, ok, err := store.Get(ctx, "k")
	if err != nil || !ok || value != "v2" {
		t.Fatalf("unexpected get: %q %v %v", value, ok, err)
	}

	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatalf("expected key to be deleted")
	}
}

func TestStorePersistsAcrossOpen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "medivoice.sqlite")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Set(context.Background(), "gemini_api_key", "AIza"); err != nil {
		t.Fatalf("set: %v", err)
	}
	_ = store.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	value, ok, err := reopened.Get(context.Background(), "gemini_api_key")
	if err != nil || !ok || value != "AIza" {
		t.Fatalf("value not persisted: %q %v %v", value, ok, err)
	}
}

func TestDefaultPath(t *testing.T) {
	t.Parallel()

	if got := DefaultPath("/data"); got != filepath.Join("/data", "medivoice.sqlite") {
		t.Fatalf("unexpected path: %s", got)
	}
}
