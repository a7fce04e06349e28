package server

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Banner is the welcome text sent to every new connection. The file is
// read on first use and cached; a missing file yields an empty banner.
type Banner struct {
	path string

	mu     sync.Mutex
	loaded bool
	text   string
}

// NewBanner returns a banner backed by path. Nothing is read yet.
func NewBanner(path string) *Banner {
	return &Banner{path: path}
}

// Text returns the cached banner, loading it on the first call.
func (b *Banner) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loaded {
		b.text = loadBanner(b.path)
		b.loaded = true
	}
	return b.text
}

// Invalidate drops the cached text so the next Text call rereads the file.
func (b *Banner) Invalidate() {
	b.mu.Lock()
	b.loaded = false
	b.mu.Unlock()
}

func loadBanner(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("WARNING: welcome banner %s: %v", path, err)
		return ""
	}
	log.Printf("Loaded welcome banner from %s (%d bytes)", path, len(data))
	return string(data)
}

// Watch invalidates the cache whenever the banner file is written or
// recreated. It returns once the watcher is running; the watcher stops
// when ctx is cancelled.
func (b *Banner) Watch(ctx context.Context) error {
	if b.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("banner watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are seen.
	if err := watcher.Add(filepath.Dir(b.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("banner watcher: %w", err)
	}
	name := filepath.Base(b.path)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				if filepath.Base(event.Name) != name {
					continue
				}
				log.Printf("Text file changed: %s", event.Name)
				b.Invalidate()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("Text file watcher error: %v", err)
			}
		}
	}()
	return nil
}
