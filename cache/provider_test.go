package cache

import (
	"bytes"
	"context"
	"path/filepath"
	"reflect"
	"testing"
)

// embedded providers under test; the redis provider has its own tests
func providers(t *testing.T) map[string]Provider {
	t.Helper()
	sqlite, err := NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	badger, err := NewBadgerCache("")
	if err != nil {
		t.Fatal(err)
	}
	all := map[string]Provider{
		"memory": NewMemCache(),
		"sqlite": sqlite,
		"badger": badger,
	}
	t.Cleanup(func() {
		for _, p := range all {
			p.Close()
		}
	})
	return all
}

func TestPutGet(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			if err := p.Put("v1", "/", []byte("shell")); err != nil {
				t.Fatal(err)
			}
			bts, ok, err := p.Get("v1", "/")
			if err != nil {
				t.Fatal(err)
			}
			if !ok || !bytes.Equal(bts, []byte("shell")) {
				t.Fatalf("Got %q (ok %v)", bts, ok)
			}
			// overwrite
			if err := p.Put("v1", "/", []byte("shell2")); err != nil {
				t.Fatal(err)
			}
			bts, _, _ = p.Get("v1", "/")
			if !bytes.Equal(bts, []byte("shell2")) {
				t.Fatalf("Got %q after overwrite", bts)
			}
		})
	}
}

func TestGetMissing(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := p.Get("v1", "/nope")
			if err != nil {
				t.Fatal(err)
			}
			if ok {
				t.Fatal("Missing entry reported as present")
			}
		})
	}
}

func TestStoresAreIsolated(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			p.Put("v1", "/", []byte("one"))
			p.Put("v2", "/", []byte("two"))
			bts, _, _ := p.Get("v1", "/")
			if !bytes.Equal(bts, []byte("one")) {
				t.Fatalf("v1 entry is %q", bts)
			}
			bts, _, _ = p.Get("v2", "/")
			if !bytes.Equal(bts, []byte("two")) {
				t.Fatalf("v2 entry is %q", bts)
			}
		})
	}
}

func TestDelete(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			p.Put("v1", "/", []byte("shell"))
			if err := p.Delete("v1", "/"); err != nil {
				t.Fatal(err)
			}
			if _, ok, _ := p.Get("v1", "/"); ok {
				t.Fatal("Entry still present after delete")
			}
			// a store with no entries is gone
			stores, err := p.Stores()
			if err != nil {
				t.Fatal(err)
			}
			if len(stores) != 0 {
				t.Fatalf("Stores are %v", stores)
			}
			// deleting again is fine
			if err := p.Delete("v1", "/"); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestKeysSortedAndCount(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			p.Put("v1", "/manifest.json", []byte("m"))
			p.Put("v1", "/", []byte("i"))
			p.Put("v1", "/js/app.js", []byte("a"))
			p.Put("other", "/x", []byte("x"))

			keys := make([]string, 0)
			if err := p.Keys("v1", func(key string) {
				keys = append(keys, key)
			}); err != nil {
				t.Fatal(err)
			}
			want := []string{"/", "/js/app.js", "/manifest.json"}
			if !reflect.DeepEqual(keys, want) {
				t.Fatalf("Keys are %v", keys)
			}

			count, err := p.Count("v1")
			if err != nil {
				t.Fatal(err)
			}
			if count != 3 {
				t.Fatalf("Count is %d", count)
			}
		})
	}
}

func TestStoresAndDropStore(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			p.Put("v2", "/", []byte("new"))
			p.Put("v1", "/", []byte("old"))
			p.Put("v1", "/manifest.json", []byte("old"))

			stores, err := p.Stores()
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(stores, []string{"v1", "v2"}) {
				t.Fatalf("Stores are %v", stores)
			}

			if err := p.DropStore("v1"); err != nil {
				t.Fatal(err)
			}
			stores, _ = p.Stores()
			if !reflect.DeepEqual(stores, []string{"v2"}) {
				t.Fatalf("Stores after drop are %v", stores)
			}
			if _, ok, _ := p.Get("v1", "/"); ok {
				t.Fatal("Dropped entry still present")
			}
			if bts, ok, _ := p.Get("v2", "/"); !ok || !bytes.Equal(bts, []byte("new")) {
				t.Fatalf("Kept store damaged: %q ok %v", bts, ok)
			}
		})
	}
}

func TestPing(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			if err := p.Ping(context.Background()); err != nil {
				t.Fatal(err)
			}
		})
	}
}
