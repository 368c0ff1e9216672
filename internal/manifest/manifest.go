// Package manifest provides the data structures describing a cloud-hosted
// project snapshot: the project identity, the snapshot metadata blob URL,
// and the content-addressed block list. Manifests are exchanged as JSON
// files between the audio.com-style backend, the CLI and the spool daemon.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ProjectInfo identifies a project on the remote service.
// It is owned by the caller and immutable once handed to the engine.
type ProjectInfo struct {
	ID string `json:"id"`
}

// BlockInfo identifies one content-addressed sample-data block.
// Hashes are compared case-insensitively; the canonical form is upper-case.
type BlockInfo struct {
	Hash string `json:"hash"`
	URL  string `json:"url"`
}

// SnapshotInfo is the manifest of one immutable project snapshot: the URL
// of the metadata blob plus the ordered block list. It must not change for
// the lifetime of one sync.
type SnapshotInfo struct {
	ID      string      `json:"id"`
	FileURL string      `json:"file_url"`
	Blocks  []BlockInfo `json:"blocks"`
}

// Manifest is the on-disk JSON form consumed by the CLI and spool daemon.
type Manifest struct {
	Project  ProjectInfo  `json:"project"`
	Snapshot SnapshotInfo `json:"snapshot"`
}

// NormalizeHash returns the canonical (upper-case) form of a block hash.
func NormalizeHash(hash string) string {
	return strings.ToUpper(hash)
}

// Validate checks that the manifest is complete and internally consistent.
// Block hashes must be unique within the snapshot (case-insensitive).
func (m *Manifest) Validate() error {
	if m.Project.ID == "" {
		return fmt.Errorf("project id is required")
	}
	if m.Snapshot.ID == "" {
		return fmt.Errorf("snapshot id is required")
	}
	if m.Snapshot.FileURL == "" {
		return fmt.Errorf("snapshot file_url is required")
	}

	seen := make(map[string]struct{}, len(m.Snapshot.Blocks))
	for i, block := range m.Snapshot.Blocks {
		if block.Hash == "" {
			return fmt.Errorf("block %d: hash is required", i)
		}
		if block.URL == "" {
			return fmt.Errorf("block %d: url is required", i)
		}
		hash := NormalizeHash(block.Hash)
		if _, dup := seen[hash]; dup {
			return fmt.Errorf("block %d: duplicate hash %s", i, hash)
		}
		seen[hash] = struct{}{}
	}

	return nil
}

// Filename returns the canonical filename for this manifest:
// {projectID}--{snapshotID}.json
func (m *Manifest) Filename() string {
	return fmt.Sprintf("%s--%s.json", m.Project.ID, m.Snapshot.ID)
}

// ReadFile reads and validates a manifest JSON file from the given path.
func ReadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}

	return &m, nil
}

// WriteFile writes the manifest to dir using its canonical filename.
// The write goes through a temp file and rename so watchers never observe
// a partially written manifest.
func WriteFile(dir string, m *Manifest) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	path := filepath.Join(dir, m.Filename())
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename manifest %s: %w", path, err)
	}

	return nil
}
