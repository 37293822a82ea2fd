package memory

import (
	"context"
	"testing"
)

func TestKVStoreSetGetClear(t *testing.T) {
	ctx := context.Background()
	store := NewKVStore()

	if _, ok, _ := store.Get(ctx, "sidebar:collapsed"); ok {
		t.Fatalf("expected missing key")
	}
	if err := store.Set(ctx, "sidebar:collapsed", "true"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, ok, _ := store.Get(ctx, "sidebar:collapsed"); !ok || v != "true" {
		t.Fatalf("expected stored value, got %q ok=%v", v, ok)
	}
	if err := store.Clear(ctx, "sidebar:collapsed"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "sidebar:collapsed"); ok {
		t.Fatalf("expected key cleared")
	}
}
