package shellcache

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func writeManifestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDaemonReloadInstallsNewVersion(t *testing.T) {
	counts := map[string]int{}
	origin := httptest.NewServer(shellOrigin(counts))
	defer origin.Close()
	s := newTestCache(t, origin)

	path := filepath.Join(t.TempDir(), "shell-manifest.yaml")
	writeManifestFile(t, path, "version: sar-checkin-cache-v1\nassets: ['./']\n")

	d := &Daemon{Cache: s, ManifestPath: path}
	d.reload(context.Background())
	if v := s.ActiveVersion(); v != "sar-checkin-cache-v1" {
		t.Fatalf("Active version is %q", v)
	}

	// a version bump prunes the old store after install
	writeManifestFile(t, path, "version: sar-checkin-cache-v2\nassets: ['./', './manifest.json']\n")
	d.reload(context.Background())
	if v := s.ActiveVersion(); v != "sar-checkin-cache-v2" {
		t.Fatalf("Active version is %q", v)
	}
	stores, err := s.cache.Stores()
	if err != nil {
		t.Fatal(err)
	}
	if len(stores) != 1 || stores[0] != "sar-checkin-cache-v2" {
		t.Fatalf("Stores are %v", stores)
	}
}

func TestDaemonReloadKeepsPreviousOnInvalidManifest(t *testing.T) {
	counts := map[string]int{}
	origin := httptest.NewServer(shellOrigin(counts))
	defer origin.Close()
	s := newTestCache(t, origin)

	path := filepath.Join(t.TempDir(), "shell-manifest.yaml")
	writeManifestFile(t, path, "version: sar-checkin-cache-v1\nassets: ['./']\n")

	d := &Daemon{Cache: s, ManifestPath: path}
	d.reload(context.Background())

	writeManifestFile(t, path, "{{{{ not yaml")
	d.reload(context.Background())

	if v := s.ActiveVersion(); v != "sar-checkin-cache-v1" {
		t.Fatalf("Active version is %q", v)
	}
	if m, ok := s.Manifest(); !ok || m.Version != "sar-checkin-cache-v1" {
		t.Fatalf("Manifest is %+v", m)
	}
}
