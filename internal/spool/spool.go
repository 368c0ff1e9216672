// Package spool provides the pull daemon: it watches a spool directory
// for snapshot manifest files and downloads each snapshot as its manifest
// arrives.
//
// The daemon:
//  1. Pulls every manifest already present in the spool on startup
//  2. Watches the spool directory for new or rewritten manifests
//  3. Debounces rapid rewrites and pulls snapshots one at a time
//  4. Handles graceful shutdown
//
// Deciding when to sync stays out of the engine; the spool is the
// caller-side policy layer on top of it.
package spool

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/audiolift/audiolift/internal/manifest"
	"github.com/audiolift/audiolift/internal/snapshot"
)

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long to wait before pulling a changed
	// manifest, so half-written drops are batched together.
	DebounceInterval time.Duration

	// Download tunes the snapshot engine for each pull.
	Download *snapshot.Config

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 200 * time.Millisecond,
		Download:         snapshot.DefaultConfig(),
		Logger:           log.New(os.Stderr, "[spool] ", log.LstdFlags),
	}
}

// Daemon watches the spool directory and runs pulls.
type Daemon struct {
	store       snapshot.Store
	fetcher     snapshot.Fetcher
	decoder     snapshot.Decoder
	spoolDir    string
	projectsDir string
	config      *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon instance.
//
// Manifests are read from spoolDir; local project files are created under
// projectsDir, one per project id. Use Start() to begin watching.
func New(store snapshot.Store, fetcher snapshot.Fetcher, decoder snapshot.Decoder, spoolDir, projectsDir string, config *Config) (*Daemon, error) {
	if store == nil || fetcher == nil || decoder == nil {
		return nil, fmt.Errorf("store, fetcher and decoder are required")
	}
	if spoolDir == "" {
		return nil, fmt.Errorf("spoolDir cannot be empty")
	}
	if projectsDir == "" {
		return nil, fmt.Errorf("projectsDir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		store:       store,
		fetcher:     fetcher,
		decoder:     decoder,
		spoolDir:    spoolDir,
		projectsDir: projectsDir,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's operation: an initial sweep of the spool,
// then event-driven pulls. Blocks until ctx is cancelled or Stop is
// called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting spool daemon")

	if err := os.MkdirAll(d.projectsDir, 0755); err != nil {
		return fmt.Errorf("failed to create projects directory: %w", err)
	}

	if err := d.sweep(); err != nil {
		return fmt.Errorf("initial spool sweep failed: %w", err)
	}

	if err := d.watcher.Add(d.spoolDir); err != nil {
		return fmt.Errorf("failed to watch spool directory: %w", err)
	}

	d.config.Logger.Printf("Watching: %s", d.spoolDir)

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping spool daemon")

	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()

	d.config.Logger.Println("Spool daemon stopped")
	return nil
}

// sweep pulls every manifest already sitting in the spool. Individual
// manifest failures are logged and don't stop the sweep.
func (d *Daemon) sweep() error {
	entries, err := os.ReadDir(d.spoolDir)
	if err != nil {
		return fmt.Errorf("failed to read spool directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(d.spoolDir, entry.Name())
		if err := d.pull(path); err != nil {
			d.config.Logger.Printf("Warning: failed to pull %s: %v", entry.Name(), err)
		}
	}

	return nil
}

// watchFileEvents monitors filesystem events and queues manifest changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			if filepath.Ext(event.Name) != ".json" {
				continue
			}

			d.config.Logger.Printf("Manifest event: %s %s", event.Op, event.Name)
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a manifest to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue pulls queued manifests once they have settled.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges pulls manifests that have been queued for long
// enough. Pulls run sequentially; a slow snapshot delays later manifests
// rather than racing them against the shared database connection.
func (d *Daemon) processPendingChanges() {
	now := time.Now()

	d.changeQueueMu.Lock()
	var ready []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	for _, path := range ready {
		if err := d.pull(path); err != nil {
			d.config.Logger.Printf("Error pulling %s: %v", path, err)
		}
	}
}

// pull downloads one snapshot described by the manifest at path and
// blocks until the sync reaches a terminal state.
func (d *Daemon) pull(path string) error {
	m, err := manifest.ReadFile(path)
	if err != nil {
		return err
	}

	localPath := filepath.Join(d.projectsDir, m.Project.ID+".audiolift")
	d.config.Logger.Printf("Pulling snapshot %s of project %s into %s", m.Snapshot.ID, m.Project.ID, localPath)

	// The terminal callback is delivered exactly once; a buffered channel
	// hands it back to the pull without racing the engine goroutines.
	term := make(chan snapshot.Progress, 1)
	sn, err := snapshot.Start(d.store, d.fetcher, d.decoder, d.config.Download,
		m.Project, m.Snapshot, localPath, func(p snapshot.Progress) {
			if p.Completed || p.Cancelled || p.Error != "" {
				term <- p
			}
		})
	if err != nil {
		return err
	}

	// Propagate daemon shutdown into the running sync.
	stop := make(chan struct{})
	go func() {
		select {
		case <-d.ctx.Done():
			sn.Cancel()
		case <-stop:
		}
	}()

	result := <-term
	close(stop)

	if cerr := sn.Close(); cerr != nil {
		d.config.Logger.Printf("Warning: failed to release snapshot handle: %v", cerr)
	}

	if result.Cancelled {
		return fmt.Errorf("pull cancelled")
	}
	if !result.Successful && result.Error != "" {
		return fmt.Errorf("pull failed: %s", result.Error)
	}

	d.config.Logger.Printf("Pulled snapshot %s of project %s (%d blocks)", m.Snapshot.ID, m.Project.ID, result.BlocksDownloaded)
	return nil
}
