package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/vinayprograms/reviewd/internal/report"
	"github.com/vinayprograms/reviewd/internal/router"
)

// watchManifest configures directory watching, loaded from .reviewd.yaml in
// the watched directory.
type watchManifest struct {
	Submitter  string   `yaml:"submitter"`
	Extensions []string `yaml:"extensions"`
	DebounceMs int      `yaml:"debounce_ms"`
}

func defaultManifest() *watchManifest {
	return &watchManifest{
		Extensions: []string{".py"},
		DebounceMs: 500,
	}
}

// loadManifest reads the watch manifest, returning defaults when none exists.
func loadManifest(path string) (*watchManifest, error) {
	m := defaultManifest()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	if len(m.Extensions) == 0 {
		m.Extensions = defaultManifest().Extensions
	}
	if m.DebounceMs <= 0 {
		m.DebounceMs = defaultManifest().DebounceMs
	}
	return m, nil
}

func (m *watchManifest) matches(path string) bool {
	ext := filepath.Ext(path)
	for _, want := range m.Extensions {
		if ext == want {
			return true
		}
	}
	return false
}

// Run watches the directory and submits files for review as they change.
// Each file keeps its own session, so a save after feedback resubmits into
// the same review conversation.
func (c *WatchCmd) Run() error {
	manifest, err := loadManifest(filepath.Join(c.Dir, c.Manifest))
	if err != nil {
		return err
	}

	submitter := c.Submitter
	if submitter == "" {
		submitter = manifest.Submitter
	}
	if submitter == "" {
		return fmt.Errorf("no submitter: pass --submitter or set one in %s", c.Manifest)
	}

	rt, err := newRuntime(c.Config, c.Offline, false)
	if err != nil {
		return err
	}
	defer rt.cleanup()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(c.Dir); err != nil {
		return fmt.Errorf("watching %s: %w", c.Dir, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "watching %s for %v (submitter: %s)\n", c.Dir, manifest.Extensions, submitter)
	return c.loop(ctx, rt, watcher, manifest, submitter)
}

// loop debounces change bursts per file and reviews serially: editors fire
// several events per save, and one review at a time keeps output readable.
func (c *WatchCmd) loop(ctx context.Context, rt *runtime, watcher *fsnotify.Watcher, manifest *watchManifest, submitter string) error {
	debounce := time.Duration(manifest.DebounceMs) * time.Millisecond
	pending := make(chan string, 16)

	var mu sync.Mutex
	timers := make(map[string]*time.Timer)
	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[path]; ok {
			t.Reset(debounce)
			return
		}
		timers[path] = time.AfterFunc(debounce, func() {
			mu.Lock()
			delete(timers, path)
			mu.Unlock()
			select {
			case pending <- path:
			default:
			}
		})
	}

	sessions := make(map[string]string) // file -> session ID

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "\nstopping")
			return nil

		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !manifest.matches(evt.Name) {
				continue
			}
			schedule(evt.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)

		case path := <-pending:
			c.reviewFile(ctx, rt, submitter, path, sessions)
		}
	}
}

// reviewFile submits one changed file, reusing its session on resubmission.
// Failures are reported and watching continues.
func (c *WatchCmd) reviewFile(ctx context.Context, rt *runtime, submitter, path string, sessions map[string]string) {
	code, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading %s: %v\n", path, err)
		return
	}

	fmt.Fprintf(os.Stderr, "── %s ──\n", filepath.Base(path))
	outcome, err := rt.router.Submit(ctx, router.Submission{
		Submitter: submitter,
		SessionID: sessions[path],
		Code:      string(code),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "review failed: %v\n", err)
		return
	}
	sessions[path] = outcome.SessionID
	fmt.Println(report.Review(outcome))
}
