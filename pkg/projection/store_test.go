package projection

import (
	"context"
	"path/filepath"
	"testing"
)

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := OpenSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "state.db"), "tenant-1")
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStoreGetPutDelete(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, ok, err := store.Get(ctx, "c1", KeyHidden); err != nil || ok {
				t.Fatalf("Get on empty store = %v, %v", ok, err)
			}
			if err := store.Put(ctx, "c1", KeyHidden, "yes"); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := store.Put(ctx, "c1", KeyHidden, "again"); err != nil {
				t.Fatalf("Put overwrite: %v", err)
			}
			if v, ok, err := store.Get(ctx, "c1", KeyHidden); err != nil || !ok || v != "again" {
				t.Fatalf("Get = %q, %v, %v", v, ok, err)
			}
			if err := store.Delete(ctx, "c1", KeyHidden); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, ok, _ := store.Get(ctx, "c1", KeyHidden); ok {
				t.Fatal("value survived Delete")
			}
		})
	}
}

func TestStoreScanAndRename(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			must := func(err error) {
				t.Helper()
				if err != nil {
					t.Fatal(err)
				}
			}
			must(store.Put(ctx, "virtual-1@lid", KeyReadMarker, "old-marker"))
			must(store.Put(ctx, "virtual-1@lid", KeyHidden, "1"))
			must(store.Put(ctx, "contact-1", KeyReadMarker, "kept-marker"))
			must(store.Put(ctx, "contact-2", KeyHidden, "1"))

			hidden, err := store.Scan(ctx, KeyHidden)
			must(err)
			if len(hidden) != 2 || hidden["contact-2"] != "1" {
				t.Fatalf("Scan = %v", hidden)
			}

			must(store.Rename(ctx, "virtual-1@lid", "contact-1"))
			if v, _, _ := store.Get(ctx, "contact-1", KeyReadMarker); v != "kept-marker" {
				t.Errorf("existing key overwritten: %q", v)
			}
			if _, ok, _ := store.Get(ctx, "contact-1", KeyHidden); !ok {
				t.Error("hidden flag not moved")
			}
			if _, ok, _ := store.Get(ctx, "virtual-1@lid", KeyReadMarker); ok {
				t.Error("old id still holds state")
			}
		})
	}
}

func TestSQLiteStoreIsolatesTenants(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()
	a, err := OpenSQLiteStore(ctx, path, "tenant-a")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := OpenSQLiteStore(ctx, path, "tenant-b")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if err = a.Put(ctx, "c1", KeyHidden, "1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := b.Get(ctx, "c1", KeyHidden); ok {
		t.Fatal("tenant b sees tenant a state")
	}
}
