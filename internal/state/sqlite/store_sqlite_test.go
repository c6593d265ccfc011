package sqlite

import (
	"context"
	"path/filepath"
	"testing"
)

func TestStoreRoundTrip(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}
	if err := store.Set(ctx, "order:abc", "sig-1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, ok, err := store.Get(ctx, "order:abc")
	if err != nil || !ok || val != "sig-1" {
		t.Fatalf("get: val=%q ok=%v err=%v", val, ok, err)
	}
	if err := store.Set(ctx, "order:abc", "sig-2"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	val, _, _ = store.Get(ctx, "order:abc")
	if val != "sig-2" {
		t.Fatalf("expected overwrite to sig-2, got %q", val)
	}
	if err := store.Delete(ctx, "order:abc"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "order:abc"); ok {
		t.Fatal("expected key deleted")
	}
}

func TestStoreList(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	pairs := map[string]string{
		"pos:mintA": "1",
		"pos:mintB": "2",
		"ops:audit": "3",
	}
	for k, v := range pairs {
		if err := store.Set(ctx, k, v); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	got, err := store.List(ctx, "pos:")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 pos keys, got %d", len(got))
	}
	if got["pos:mintA"] != "1" || got["pos:mintB"] != "2" {
		t.Fatalf("unexpected list contents: %v", got)
	}
}
