package snapshot

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/audiolift/audiolift/internal/codec"
	"github.com/audiolift/audiolift/internal/manifest"
	"github.com/audiolift/audiolift/internal/projectdb"
)

// Store is the local persistence collaborator. *projectdb.DB implements it.
//
// Every write method must be transactional: on error nothing is partially
// visible. The engine serializes all write calls, so implementations never
// see concurrent writers from the same sync.
type Store interface {
	AttachSnapshot(ctx context.Context, projectID, path string) error
	DetachSnapshot(ctx context.Context, projectID string) error
	KnownBlocks(ctx context.Context, projectID string, remoteHashes []string) (map[string]struct{}, error)
	Project(ctx context.Context, projectID string) (*projectdb.ProjectRecord, error)
	SaveProject(ctx context.Context, rec *projectdb.ProjectRecord) error
	WriteProjectBlob(ctx context.Context, projectID string, dict, doc []byte) error
	WriteBlock(ctx context.Context, projectID, hash string, block *codec.Block) error
}

// Fetcher is the transport collaborator. Fetch must honor ctx cancellation
// and classify failures the way netclient does: cancelled contexts satisfy
// netclient.IsCancelled, HTTP status failures are *netclient.StatusError.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Decoder is the block codec collaborator.
type Decoder interface {
	DecodeBlock(data []byte) (*codec.Block, error)
}

// Config tunes one sync attempt.
type Config struct {
	// MaxConcurrent bounds simultaneous in-flight requests.
	MaxConcurrent int
	// MaxRetries is the per-job retry budget for transient failures.
	MaxRetries int
	// PacingDelay is the fixed delay between dispatches, to avoid
	// saturating the remote endpoint.
	PacingDelay time.Duration
	// Logger for engine activity. Nil means a default stderr logger.
	Logger *log.Logger
}

// DefaultConfig returns the defaults: 6 concurrent requests, 3 retries,
// 50ms pacing.
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrent: 6,
		MaxRetries:    3,
		PacingDelay:   50 * time.Millisecond,
		Logger:        log.New(os.Stderr, "[snapshot] ", log.LstdFlags),
	}
}

type syncState int

const (
	stateDownloading syncState = iota
	stateSynced
	stateFailed
	stateCancelled
)

// job is one unit of download work. The metadata blob job has an empty
// hash; block jobs carry the normalized block hash.
type job struct {
	url  string
	hash string
}

// Sync is one snapshot download attempt. Create with Start; the instance
// owns its work list and background goroutines and must be released with
// Close, which blocks until all background work has stopped.
type Sync struct {
	cfg       *Config
	store     Store
	fetcher   Fetcher
	decoder   Decoder
	project   manifest.ProjectInfo
	snap      manifest.SnapshotInfo
	localPath string
	callback  ProgressFunc
	logger    *log.Logger

	// ctx is cancelled to abort every in-flight request.
	ctx   context.Context
	abort context.CancelFunc

	jobs    []job
	missing int

	mu         sync.Mutex
	state      syncState
	blocksDone int
	blobDone   bool

	// dbMu serializes the write path. The final status row and the
	// Completed callback are emitted under it, so no observer of the
	// callback can see a stale project record.
	dbMu sync.Mutex

	// cbMu orders callbacks and makes the terminal one final.
	cbMu         sync.Mutex
	terminalSent bool

	stopOnce sync.Once
	stopc    chan struct{}

	// done is closed when the dispatcher and every started job have
	// stopped.
	done chan struct{}
}

// Start begins syncing a remote snapshot into the project file at
// localPath.
//
// If the local store cannot attach the project file, Start emits exactly
// one failure callback and returns an error. Otherwise it returns a live
// handle; when the snapshot is already fully synced the handle is created
// in its terminal state and the success callback has already fired.
func Start(store Store, fetcher Fetcher, decoder Decoder, cfg *Config, project manifest.ProjectInfo, snap manifest.SnapshotInfo, localPath string, callback ProgressFunc) (*Sync, error) {
	if store == nil || fetcher == nil || decoder == nil {
		return nil, fmt.Errorf("store, fetcher and decoder are required")
	}
	if callback == nil {
		return nil, fmt.Errorf("progress callback is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	defaults := DefaultConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaults.MaxConcurrent
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.PacingDelay < 0 {
		cfg.PacingDelay = defaults.PacingDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = defaults.Logger
	}

	ctx, abort := context.WithCancel(context.Background())

	s := &Sync{
		cfg:       cfg,
		store:     store,
		fetcher:   fetcher,
		decoder:   decoder,
		project:   project,
		snap:      snap,
		localPath: localPath,
		callback:  callback,
		logger:    logger,
		ctx:       ctx,
		abort:     abort,
		stopc:     make(chan struct{}),
		done:      make(chan struct{}),
	}

	if err := store.AttachSnapshot(ctx, project.ID, localPath); err != nil {
		abort()
		close(s.done)
		callback(Progress{Error: "failed to attach the cloud project database"})
		return nil, fmt.Errorf("failed to attach project file: %w", err)
	}

	remote := make([]string, 0, len(snap.Blocks))
	for _, block := range snap.Blocks {
		remote = append(remote, manifest.NormalizeHash(block.Hash))
	}

	known, err := store.KnownBlocks(ctx, project.ID, remote)
	if err != nil {
		// A failed reconciliation degrades to a full re-download.
		logger.Printf("reconciliation failed for project %s, assuming no local blocks: %v", project.ID, err)
		known = nil
	}

	if len(known) == len(snap.Blocks) {
		rec, err := store.Project(ctx, project.ID)
		if err != nil {
			logger.Printf("failed to read sync record for project %s: %v", project.ID, err)
		}
		if rec != nil && rec.SnapshotID == snap.ID && rec.SyncStatus == projectdb.StatusSynced {
			s.mu.Lock()
			s.state = stateSynced
			s.mu.Unlock()
			close(s.done)
			s.emit(Progress{
				ProjectBlobDownloaded: true,
				Completed:             true,
				Successful:            true,
			}, true)
			return s, nil
		}
	}

	s.dbMu.Lock()
	if err := s.markProject(projectdb.StatusDownloading); err != nil {
		logger.Printf("failed to mark project %s downloading: %v", project.ID, err)
	}
	s.dbMu.Unlock()

	s.jobs = append(s.jobs, job{url: snap.FileURL})
	for _, block := range snap.Blocks {
		hash := manifest.NormalizeHash(block.Hash)
		if _, ok := known[hash]; ok {
			continue
		}
		s.jobs = append(s.jobs, job{url: block.URL, hash: hash})
	}
	s.missing = len(s.jobs) - 1

	logger.Printf("syncing snapshot %s of project %s: %d of %d blocks missing",
		snap.ID, project.ID, s.missing, len(snap.Blocks))

	go s.dispatch()

	return s, nil
}

// Cancel requests cooperative cancellation: no new jobs are dispatched,
// every in-flight request is aborted, and one terminal callback with
// Cancelled=true is emitted. Cancelling an attempt that already reached a
// terminal state is a no-op.
func (s *Sync) Cancel() {
	s.halt()
	s.abort()

	s.mu.Lock()
	if s.state != stateDownloading {
		s.mu.Unlock()
		return
	}
	s.state = stateCancelled
	p := Progress{
		BlocksDownloaded:      s.blocksDone,
		BlocksTotal:           s.missing,
		ProjectBlobDownloaded: s.blobDone,
		Cancelled:             true,
	}
	s.mu.Unlock()

	s.logger.Printf("sync of snapshot %s cancelled after %d/%d blocks", s.snap.ID, p.BlocksDownloaded, p.BlocksTotal)
	s.emit(p, true)
}

// Close stops all background work, waits for it to finish, and detaches
// the project file. It emits no callback. The handle must not be used
// afterwards.
func (s *Sync) Close() error {
	s.halt()
	s.abort()
	<-s.done

	// The engine context is cancelled by now; detach on a fresh one.
	return s.store.DetachSnapshot(context.Background(), s.project.ID)
}

// Done returns a channel closed once all background work has stopped.
func (s *Sync) Done() <-chan struct{} {
	return s.done
}

// halt stops the dispatcher from starting new jobs. In-flight jobs are
// left to finish or abort on their own.
func (s *Sync) halt() {
	s.stopOnce.Do(func() {
		close(s.stopc)
	})
}

func (s *Sync) stopped() bool {
	select {
	case <-s.stopc:
		return true
	default:
		return false
	}
}

// emit delivers a callback, preserving two guarantees: the terminal
// callback is delivered at most once, and nothing is delivered after it.
func (s *Sync) emit(p Progress, terminal bool) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()

	if s.terminalSent {
		return
	}
	if terminal {
		s.terminalSent = true
	}
	s.callback(p)
}

// markProject upserts the sync record for this attempt's project and
// snapshot. Callers hold dbMu.
func (s *Sync) markProject(status projectdb.SyncStatus) error {
	return s.store.SaveProject(context.Background(), &projectdb.ProjectRecord{
		ProjectID:  s.project.ID,
		SnapshotID: s.snap.ID,
		SyncStatus: status,
		LastRead:   time.Now().Unix(),
		LocalPath:  s.localPath,
	})
}
