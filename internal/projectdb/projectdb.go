// Package projectdb provides the local cloud-projects database for
// audiolift.
//
// The main database tracks per-project sync state and the hash index of
// locally cached sample blocks. The project file being synced is itself a
// SQLite database; it is attached as an auxiliary schema for the duration
// of one sync so that metadata and sample blocks can be written with
// ordinary transactional statements.
//
// The database runs embedded (ncruces/go-sqlite3 with the bundled wasm
// build) with WAL mode for concurrent readers.
package projectdb

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ncruces/go-sqlite3"
	"github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/audiolift/audiolift/internal/codec"
)

// SyncStatus is the persisted download state of a project.
type SyncStatus int

const (
	// StatusDownloading marks a project whose snapshot transfer has started
	// but not completed.
	StatusDownloading SyncStatus = iota
	// StatusSynced marks a project whose snapshot is fully persisted.
	StatusSynced
)

// String returns a human-readable representation of the sync status.
func (s SyncStatus) String() string {
	switch s {
	case StatusDownloading:
		return "downloading"
	case StatusSynced:
		return "synced"
	default:
		return "unknown"
	}
}

// ProjectRecord is one row of the projects table: the local sync state of
// a cloud project. Status transitions are read-modify-write.
type ProjectRecord struct {
	ProjectID  string
	SnapshotID string
	SyncStatus SyncStatus
	LastRead   int64
	LocalPath  string
}

// DB wraps the cloud-projects database connection.
//
// The pool is pinned to a single connection because attached snapshot
// schemas and the in_remote_blocks function state are per-connection.
type DB struct {
	conn *sql.DB
	path string

	mu           sync.RWMutex
	remoteHashes map[string]struct{}
}

// Open creates or opens the cloud-projects database at path.
//
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db := &DB{path: path}

	conn, err := driver.Open("file:"+path, db.registerFunctions)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.conn = conn

	// Attached schemas live on the connection, not the pool.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// registerFunctions installs the in_remote_blocks scalar predicate on every
// new connection. The predicate tests membership in the hash set installed
// by KnownBlocks, so reconciliation is a single query instead of one point
// lookup per manifest entry.
func (db *DB) registerFunctions(conn *sqlite3.Conn) error {
	return conn.CreateFunction("in_remote_blocks", 1, 0,
		func(ctx sqlite3.Context, arg ...sqlite3.Value) {
			hash := arg[0].Text()
			db.mu.RLock()
			_, ok := db.remoteHashes[hash]
			db.mu.RUnlock()
			ctx.ResultBool(ok)
		})
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection after a final WAL checkpoint.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the main tables if they don't exist. Idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the main schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		project_id TEXT PRIMARY KEY,
		snapshot_id TEXT NOT NULL,
		sync_status INTEGER NOT NULL DEFAULT 0,
		last_read INTEGER NOT NULL DEFAULT 0,
		local_path TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS block_hashes (
		project_id TEXT NOT NULL,
		block_id INTEGER NOT NULL,
		hash TEXT NOT NULL,
		PRIMARY KEY (project_id, block_id)
	);

	CREATE INDEX IF NOT EXISTS idx_block_hashes_hash ON block_hashes(hash);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// snapshotSchema returns the attached-schema name for a project. Project
// ids come from the remote service, so the name is hex-derived rather than
// interpolating the id into SQL identifiers.
func snapshotSchema(projectID string) string {
	return "snap_" + hex.EncodeToString([]byte(projectID))
}

// AttachSnapshot attaches the local project file at path as the snapshot
// schema for projectID and ensures the snapshot tables exist.
func (db *DB) AttachSnapshot(ctx context.Context, projectID, path string) error {
	name := snapshotSchema(projectID)

	if _, err := db.conn.ExecContext(ctx, "ATTACH DATABASE ? AS ?", path, name); err != nil {
		return fmt.Errorf("failed to attach project file %s: %w", path, err)
	}

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s.project (
		id INTEGER PRIMARY KEY,
		dict BLOB,
		doc BLOB
	);

	CREATE TABLE IF NOT EXISTS %[1]s.autosave (
		id INTEGER PRIMARY KEY,
		dict BLOB,
		doc BLOB
	);

	CREATE TABLE IF NOT EXISTS %[1]s.sampleblocks (
		blockid INTEGER PRIMARY KEY,
		sampleformat INTEGER,
		summin REAL,
		summax REAL,
		sumrms REAL,
		summary256 BLOB,
		summary64k BLOB,
		samples BLOB
	);
	`, name)

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		_, _ = db.conn.ExecContext(ctx, "DETACH DATABASE ?", name)
		return fmt.Errorf("failed to initialize project file schema: %w", err)
	}

	return nil
}

// DetachSnapshot detaches the snapshot schema for projectID.
func (db *DB) DetachSnapshot(ctx context.Context, projectID string) error {
	if _, err := db.conn.ExecContext(ctx, "DETACH DATABASE ?", snapshotSchema(projectID)); err != nil {
		return fmt.Errorf("failed to detach project file: %w", err)
	}
	return nil
}

// KnownBlocks returns the subset of remoteHashes already cached for
// projectID: hashes recorded in the block index whose blocks are
// physically present in the attached project file. Hashes must be
// normalized (upper-case) by the caller; the result uses the same form.
func (db *DB) KnownBlocks(ctx context.Context, projectID string, remoteHashes []string) (map[string]struct{}, error) {
	set := make(map[string]struct{}, len(remoteHashes))
	for _, h := range remoteHashes {
		set[h] = struct{}{}
	}

	db.mu.Lock()
	db.remoteHashes = set
	db.mu.Unlock()
	defer func() {
		db.mu.Lock()
		db.remoteHashes = nil
		db.mu.Unlock()
	}()

	query := fmt.Sprintf(`
	SELECT hash FROM block_hashes
	WHERE project_id = ? AND in_remote_blocks(hash)
	  AND block_id IN (SELECT blockid FROM %s.sampleblocks)`,
		snapshotSchema(projectID))

	rows, err := db.conn.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query known blocks: %w", err)
	}
	defer rows.Close()

	known := make(map[string]struct{})
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("failed to scan block hash: %w", err)
		}
		known[hash] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating known blocks: %w", err)
	}

	return known, nil
}

// Project retrieves the sync record for projectID.
// Returns (nil, nil) if the project has never been recorded.
func (db *DB) Project(ctx context.Context, projectID string) (*ProjectRecord, error) {
	query := `
	SELECT project_id, snapshot_id, sync_status, last_read, local_path
	FROM projects
	WHERE project_id = ?
	`

	var rec ProjectRecord
	err := db.conn.QueryRowContext(ctx, query, projectID).Scan(
		&rec.ProjectID,
		&rec.SnapshotID,
		&rec.SyncStatus,
		&rec.LastRead,
		&rec.LocalPath,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query project %s: %w", projectID, err)
	}

	return &rec, nil
}

// SaveProject upserts the sync record for a project.
func (db *DB) SaveProject(ctx context.Context, rec *ProjectRecord) error {
	query := `
	INSERT INTO projects (project_id, snapshot_id, sync_status, last_read, local_path)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(project_id) DO UPDATE SET
		snapshot_id = excluded.snapshot_id,
		sync_status = excluded.sync_status,
		last_read = excluded.last_read,
		local_path = excluded.local_path
	`

	_, err := db.conn.ExecContext(ctx, query,
		rec.ProjectID,
		rec.SnapshotID,
		rec.SyncStatus,
		rec.LastRead,
		rec.LocalPath,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert project %s: %w", rec.ProjectID, err)
	}

	return nil
}

// ListProjects returns every recorded project ordered by last read time,
// most recent first.
func (db *DB) ListProjects(ctx context.Context) ([]*ProjectRecord, error) {
	query := `
	SELECT project_id, snapshot_id, sync_status, last_read, local_path
	FROM projects
	ORDER BY last_read DESC
	`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var recs []*ProjectRecord
	for rows.Next() {
		var rec ProjectRecord
		if err := rows.Scan(&rec.ProjectID, &rec.SnapshotID, &rec.SyncStatus, &rec.LastRead, &rec.LocalPath); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		recs = append(recs, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}

	return recs, nil
}

// WriteProjectBlob upserts the metadata dictionary and document segments
// into the attached project file and clears any stale autosave record.
// The whole write is one transaction; nothing is visible on failure.
func (db *DB) WriteProjectBlob(ctx context.Context, projectID string, dict, doc []byte) error {
	name := snapshotSchema(projectID)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	upsert := fmt.Sprintf(`
	INSERT INTO %s.project (id, dict, doc) VALUES (1, ?1, ?2)
	ON CONFLICT(id) DO UPDATE SET dict = ?1, doc = ?2`, name)

	if _, err := tx.ExecContext(ctx, upsert, dict, doc); err != nil {
		return fmt.Errorf("failed to update project metadata: %w", err)
	}

	clearAutosave := fmt.Sprintf("DELETE FROM %s.autosave WHERE id = 1", name)
	if _, err := tx.ExecContext(ctx, clearAutosave); err != nil {
		return fmt.Errorf("failed to clear autosave record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit project metadata: %w", err)
	}

	return nil
}

// WriteBlock records a downloaded block: the (project, block) hash index
// row and the full sample payload in the attached project file. Both
// writes share one transaction, and both use upsert semantics so retried
// writes are idempotent.
func (db *DB) WriteBlock(ctx context.Context, projectID, hash string, block *codec.Block) error {
	name := snapshotSchema(projectID)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	hashUpsert := `
	INSERT INTO block_hashes (project_id, block_id, hash) VALUES (?1, ?2, ?3)
	ON CONFLICT(project_id, block_id) DO UPDATE SET hash = ?3
	`
	if _, err := tx.ExecContext(ctx, hashUpsert, projectID, block.BlockID, hash); err != nil {
		return fmt.Errorf("failed to update block hash index: %w", err)
	}

	blockUpsert := fmt.Sprintf(`
	INSERT INTO %s.sampleblocks
		(blockid, sampleformat, summin, summax, sumrms, summary256, summary64k, samples)
	VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8)
	ON CONFLICT(blockid) DO UPDATE SET
		sampleformat = ?2, summin = ?3, summax = ?4, sumrms = ?5,
		summary256 = ?6, summary64k = ?7, samples = ?8`, name)

	_, err = tx.ExecContext(ctx, blockUpsert,
		block.BlockID,
		int64(block.Format),
		block.MinMaxRMS.Min,
		block.MinMaxRMS.Max,
		block.MinMaxRMS.RMS,
		codec.MarshalTriples(block.Summary256),
		codec.MarshalTriples(block.Summary64k),
		block.Samples,
	)
	if err != nil {
		return fmt.Errorf("failed to update sample block %d: %w", block.BlockID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit block %d: %w", block.BlockID, err)
	}

	return nil
}

// BlockHash returns the recorded hash for (projectID, blockID), or "" if
// the index has no such row.
func (db *DB) BlockHash(ctx context.Context, projectID string, blockID int64) (string, error) {
	var hash string
	err := db.conn.QueryRowContext(ctx,
		"SELECT hash FROM block_hashes WHERE project_id = ? AND block_id = ?",
		projectID, blockID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query block hash: %w", err)
	}
	return hash, nil
}

// HasSampleBlock reports whether the attached project file holds the
// sample payload for blockID.
func (db *DB) HasSampleBlock(ctx context.Context, projectID string, blockID int64) (bool, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s.sampleblocks WHERE blockid = ?",
		snapshotSchema(projectID))

	var count int
	if err := db.conn.QueryRowContext(ctx, query, blockID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to query sample block: %w", err)
	}
	return count > 0, nil
}

// ProjectBlob returns the metadata dictionary and document segments stored
// in the attached project file. Returns (nil, nil, nil) when no metadata
// row exists yet.
func (db *DB) ProjectBlob(ctx context.Context, projectID string) (dict, doc []byte, err error) {
	query := fmt.Sprintf("SELECT dict, doc FROM %s.project WHERE id = 1",
		snapshotSchema(projectID))

	err = db.conn.QueryRowContext(ctx, query).Scan(&dict, &doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query project metadata: %w", err)
	}
	return dict, doc, nil
}

// WriteAutosave stores an autosave record in the attached project file.
// A successful metadata write clears it.
func (db *DB) WriteAutosave(ctx context.Context, projectID string, dict, doc []byte) error {
	query := fmt.Sprintf(`
	INSERT INTO %s.autosave (id, dict, doc) VALUES (1, ?1, ?2)
	ON CONFLICT(id) DO UPDATE SET dict = ?1, doc = ?2`, snapshotSchema(projectID))

	if _, err := db.conn.ExecContext(ctx, query, dict, doc); err != nil {
		return fmt.Errorf("failed to write autosave record: %w", err)
	}
	return nil
}

// HasAutosave reports whether the attached project file has an autosave
// record.
func (db *DB) HasAutosave(ctx context.Context, projectID string) (bool, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s.autosave WHERE id = 1",
		snapshotSchema(projectID))

	var count int
	if err := db.conn.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to query autosave record: %w", err)
	}
	return count > 0, nil
}

// Touch updates the last read timestamp for a project without altering its
// sync status.
func (db *DB) Touch(ctx context.Context, projectID string) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE projects SET last_read = ? WHERE project_id = ?",
		time.Now().Unix(), projectID)
	if err != nil {
		return fmt.Errorf("failed to touch project %s: %w", projectID, err)
	}
	return nil
}
