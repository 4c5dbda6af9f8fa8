package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/streamrec/internal/logfields"
)

// Watcher reloads the rules file into a Set when it changes on disk.
type Watcher struct {
	rulesPath    string
	set          *Set
	watcher      *fsnotify.Watcher
	mu           sync.Mutex
	stopOnce     sync.Once
	stopChan     chan struct{}
	reloadChan   chan struct{}
	debounceTime time.Duration
	onReload     func([]Rule)
}

// NewWatcher creates a watcher for rulesPath feeding set.
func NewWatcher(rulesPath string, set *Set) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Resolve absolute path for consistent watching
	absPath, err := filepath.Abs(rulesPath)
	if err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to resolve rules path: %w", err)
	}

	return &Watcher{
		rulesPath:    absPath,
		set:          set,
		watcher:      fw,
		stopChan:     make(chan struct{}),
		reloadChan:   make(chan struct{}, 1),
		debounceTime: 500 * time.Millisecond,
	}, nil
}

// SetDebounce overrides the reload debounce interval.
func (w *Watcher) SetDebounce(d time.Duration) { w.debounceTime = d }

// OnReload registers a callback invoked after each successful reload.
func (w *Watcher) OnReload(fn func([]Rule)) { w.onReload = fn }

// Start begins monitoring the rules file.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Watch the directory: editors replace files rather than writing in place.
	dir := filepath.Dir(w.rulesPath)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch rules directory %s: %w", dir, err)
	}

	slog.Info("Starting schedule rules watcher", logfields.Path(w.rulesPath))

	go w.watchLoop(ctx)
	go w.reloadLoop(ctx)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopChan)
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) watchLoop(ctx context.Context) {
	name := filepath.Base(w.rulesPath)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			switch {
			case event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0:
				slog.Debug("Schedule rules change detected", logfields.Path(event.Name), slog.String("op", event.Op.String()))
				w.triggerReload()
			case event.Op&fsnotify.Remove != 0:
				slog.Warn("Schedule rules file removed; keeping previous rules", logfields.Path(event.Name))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Schedule rules watcher error", logfields.Error(err))
		}
	}
}

func (w *Watcher) reloadLoop(ctx context.Context) {
	var timer *time.Timer
	stop := func() {
		if timer != nil {
			timer.Stop()
		}
	}
	for {
		select {
		case <-ctx.Done():
			stop()
			return
		case <-w.stopChan:
			stop()
			return
		case <-w.reloadChan:
			stop()
			timer = time.AfterFunc(w.debounceTime, func() {
				if err := w.Reload(); err != nil {
					slog.Error("Failed to reload schedule rules; keeping previous rules", logfields.Error(err))
				}
			})
		}
	}
}

func (w *Watcher) triggerReload() {
	select {
	case w.reloadChan <- struct{}{}:
	default:
	}
}

// Reload reads the rules file now. Invalid files leave the set untouched.
func (w *Watcher) Reload() error {
	if _, err := os.Stat(w.rulesPath); os.IsNotExist(err) {
		slog.Warn("Schedule rules file missing; keeping previous rules", logfields.Path(w.rulesPath))
		return nil
	}
	rules, err := LoadRules(w.rulesPath)
	if err != nil {
		return err
	}
	w.set.Replace(rules)
	slog.Info("Schedule rules reloaded", logfields.Path(w.rulesPath), slog.Int("rules", len(rules)))
	if w.onReload != nil {
		w.onReload(rules)
	}
	return nil
}
