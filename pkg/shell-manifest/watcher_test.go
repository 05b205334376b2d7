package shellmanifest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWatchTriggersAfterWrite(t *testing.T) {
	path := writeManifest(t, "version: v1\nassets: ['./']\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 1)
	go func() {
		Watch(ctx, path, zerolog.Nop(), func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
	}()

	// give the watcher a moment to attach before writing
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("version: v2\nassets: ['./']\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("Change not detected")
	}
}

func TestWatchMissingFile(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := Watch(ctx, "/nonexistent/shell-manifest.yaml", zerolog.Nop(), func() {})
	if err == nil {
		t.Fatal("No error for missing file")
	}
}
