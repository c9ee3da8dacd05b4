// Package daemon watches mirror directories and drives sync passes when
// their records change. It exists only behind the `tm watch` command;
// the core store and sync engine stay free of timers and background
// work.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	stdsync "sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/taskmesh/taskmesh/internal/sync"
)

// Config holds daemon tuning knobs.
type Config struct {
	// DebounceInterval batches rapid file updates before syncing.
	DebounceInterval time.Duration
	// Preference is the conflict preference for triggered syncs.
	Preference sync.Preference
	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 250 * time.Millisecond,
		Preference:       sync.PreferRemote,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Notify receives the result of each completed sync run.
type Notify func(mirrorName string, result *sync.Result)

// Mirror pairs a sync engine with the directory it watches.
type Mirror struct {
	Name   string
	Dir    string
	Engine *sync.Engine
}

// Daemon watches mirror directories and triggers debounced sync runs.
type Daemon struct {
	mirrors []Mirror
	config  *Config
	notify  Notify

	watcher *fsnotify.Watcher
	dirty   map[string]time.Time // mirror name -> last event
	dirtyMu stdsync.Mutex

	cancel context.CancelFunc
	wg     stdsync.WaitGroup
}

// New creates a daemon for the given mirrors. notify may be nil.
func New(mirrors []Mirror, config *Config, notify Notify) (*Daemon, error) {
	if len(mirrors) == 0 {
		return nil, fmt.Errorf("no mirrors to watch")
	}
	if config == nil {
		config = DefaultConfig()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Daemon{
		mirrors: mirrors,
		config:  config,
		notify:  notify,
		watcher: watcher,
		dirty:   make(map[string]time.Time),
	}, nil
}

// Start runs an initial full sync for every mirror, then watches their
// directories, debouncing file events into sync runs. Blocks until ctx
// is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting watch daemon")

	ctx, d.cancel = context.WithCancel(ctx)

	for _, m := range d.mirrors {
		if err := os.MkdirAll(m.Dir, 0755); err != nil {
			return fmt.Errorf("failed to create mirror directory %s: %w", m.Dir, err)
		}
		d.runSync(ctx, m)
		if err := d.watcher.Add(m.Dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", m.Dir, err)
		}
		d.config.Logger.Printf("Watching mirror %s: %s", m.Name, m.Dir)
	}

	d.wg.Add(2)
	go d.watchFileEvents(ctx)
	go d.processDirty(ctx)

	<-ctx.Done()
	return d.Stop()
}

// Stop shuts the daemon down and waits for its goroutines.
func (d *Daemon) Stop() error {
	if d.cancel != nil {
		d.cancel()
	}
	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}
	d.wg.Wait()
	d.config.Logger.Println("Watch daemon stopped")
	return nil
}

func (d *Daemon) watchFileEvents(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			if m := d.mirrorForPath(event.Name); m != nil {
				d.dirtyMu.Lock()
				d.dirty[m.Name] = time.Now()
				d.dirtyMu.Unlock()
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) processDirty(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-d.config.DebounceInterval)
			var due []string
			d.dirtyMu.Lock()
			for name, at := range d.dirty {
				if at.Before(cutoff) {
					due = append(due, name)
					delete(d.dirty, name)
				}
			}
			d.dirtyMu.Unlock()

			for _, name := range due {
				for _, m := range d.mirrors {
					if m.Name == name {
						d.runSync(ctx, m)
					}
				}
			}
		}
	}
}

func (d *Daemon) runSync(ctx context.Context, m Mirror) {
	result, err := m.Engine.Sync(ctx, sync.DirectionBoth, d.config.Preference)
	if err != nil {
		d.config.Logger.Printf("Sync failed for mirror %s: %v", m.Name, err)
		return
	}
	if result.Pushed > 0 || result.Pulled > 0 || len(result.Errors) > 0 {
		d.config.Logger.Printf("Mirror %s: pushed=%d pulled=%d errors=%d",
			m.Name, result.Pushed, result.Pulled, len(result.Errors))
	}
	if d.notify != nil {
		d.notify(m.Name, result)
	}
}

func (d *Daemon) mirrorForPath(path string) *Mirror {
	dir := filepath.Dir(path)
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil
	}
	for i := range d.mirrors {
		absMirror, err := filepath.Abs(d.mirrors[i].Dir)
		if err != nil {
			continue
		}
		if absDir == absMirror {
			return &d.mirrors[i]
		}
	}
	return nil
}
