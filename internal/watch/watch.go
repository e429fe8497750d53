// Package watch re-syncs the vault as its notes change.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conorfennell/recall/internal/deck"
)

// DefaultDebounce is the window used to batch bursts of changes.
const DefaultDebounce = 500 * time.Millisecond

// Vault resolves watched files to note paths.
type Vault interface {
	Root() string
	Rel(abs string) (string, error)
	IsNote(p string) bool
	InMemoryDir(p string) bool
}

// Syncer runs a sync pass.
type Syncer interface {
	Sync(ctx context.Context) (deck.SyncReport, error)
}

// Tracker schedules newly created notes.
type Tracker interface {
	AutoTrack(ctx context.Context, path string, now time.Time) (bool, error)
}

type Options struct {
	Debounce time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

// Watcher batches note changes and runs one sync per batch. Notes created
// during a batch are offered to the Tracker first.
type Watcher struct {
	vault   Vault
	syncer  Syncer
	tracker Tracker
	opts    Options
	logger  *slog.Logger
	ready   chan struct{}
}

// New builds a Watcher. tracker may be nil.
func New(v Vault, syncer Syncer, tracker Tracker, opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Watcher{
		vault:   v,
		syncer:  syncer,
		tracker: tracker,
		opts:    opts,
		logger:  logger,
		ready:   make(chan struct{}),
	}
}

// Ready is closed once every directory is being watched.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := w.addWatchDirs(watcher, w.vault.Root()); err != nil {
		return fmt.Errorf("add watch dirs: %w", err)
	}
	close(w.ready)
	w.logger.Info("Watching vault for changes", "root", w.vault.Root(), "debounce", w.opts.Debounce)

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false
	created := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) && w.isWatchableDir(event.Name) {
				if err := w.addWatchDirs(watcher, event.Name); err != nil {
					w.logger.Warn("Failed to watch new directory", "path", event.Name, "error", err)
				}
				continue
			}
			rel, ok := w.noteFor(event)
			if !ok {
				continue
			}
			if event.Has(fsnotify.Create) {
				created[rel] = true
			}
			if !pending {
				timer.Reset(w.opts.Debounce)
				pending = true
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watch error", "error", err)
		case <-timer.C:
			pending = false
			w.flush(ctx, created)
			clear(created)
		}
	}
}

func (w *Watcher) flush(ctx context.Context, created map[string]bool) {
	if w.tracker != nil && len(created) > 0 {
		paths := make([]string, 0, len(created))
		for p := range created {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			tracked, err := w.tracker.AutoTrack(ctx, p, w.opts.Now())
			if err != nil {
				w.logger.Warn("Failed to track new note", "path", p, "error", err)
				continue
			}
			if tracked {
				w.logger.Info("Tracked new note", "path", p)
			}
		}
	}

	report, err := w.syncer.Sync(ctx)
	if err != nil {
		w.logger.Error("Sync failed", "error", err)
		return
	}
	w.logger.Debug("Sync after change", "created", report.Created, "updated", report.Updated, "hidden", report.Hidden)
}

// noteFor maps an event to the note it touches. Events on anything but a
// note, and events under the memory folder, are dropped.
func (w *Watcher) noteFor(event fsnotify.Event) (string, bool) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return "", false
	}
	rel, err := w.vault.Rel(event.Name)
	if err != nil || !w.vault.IsNote(rel) {
		return "", false
	}
	return rel, true
}

func (w *Watcher) isWatchableDir(abs string) bool {
	rel, err := w.vault.Rel(abs)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && info.IsDir() && !w.skipDir(rel)
}

func (w *Watcher) skipDir(rel string) bool {
	if rel == "." {
		return false
	}
	if w.vault.InMemoryDir(rel) {
		return true
	}
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

func (w *Watcher) addWatchDirs(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(abs string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, err := w.vault.Rel(abs)
		if err != nil {
			return err
		}
		if w.skipDir(rel) {
			return filepath.SkipDir
		}
		return watcher.Add(abs)
	})
}
