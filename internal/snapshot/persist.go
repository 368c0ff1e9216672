package snapshot

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/audiolift/audiolift/internal/projectdb"
)

// splitProjectBlob parses the metadata blob wire format: an 8-byte
// little-endian dictionary length, the dictionary segment, then the
// document segment. Anything shorter than declared is a format error.
func splitProjectBlob(data []byte) (dict, doc []byte, err error) {
	if len(data) < 8 {
		return nil, nil, fmt.Errorf("project blob is %d bytes, need at least 8", len(data))
	}

	dictSize := binary.LittleEndian.Uint64(data)
	if uint64(len(data)-8) < dictSize {
		return nil, nil, fmt.Errorf("project blob declares %d dictionary bytes, only %d available", dictSize, len(data)-8)
	}

	return data[8 : 8+dictSize], data[8+dictSize:], nil
}

// persistProjectBlob writes the metadata blob under the write lock and
// reports progress. Persistence uses a background context: a write that
// has entered its critical section is never interrupted, so the store
// stays structurally consistent even under cancellation.
func (s *Sync) persistProjectBlob(data []byte) error {
	dict, doc, err := splitProjectBlob(data)
	if err != nil {
		return fmt.Errorf("failed to download the cloud project: %v", err)
	}

	s.dbMu.Lock()
	err = s.store.WriteProjectBlob(context.Background(), s.project.ID, dict, doc)
	s.dbMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to update the cloud project: %v", err)
	}

	s.noteProgress(true)
	return nil
}

// persistBlock decodes a downloaded block and writes it under the write
// lock, then reports progress.
func (s *Sync) persistBlock(hash string, data []byte) error {
	block, err := s.decoder.DecodeBlock(data)
	if err != nil {
		return fmt.Errorf("failed to decompress the cloud project block: %v", err)
	}

	s.dbMu.Lock()
	err = s.store.WriteBlock(context.Background(), s.project.ID, hash, block)
	s.dbMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to update the cloud project block: %v", err)
	}

	s.noteProgress(false)
	return nil
}

// noteProgress updates the counters after a successful persist and emits
// the matching callback. When the last piece lands it marks the project
// synced first, still under the write lock, and only then emits the
// Completed callback, so observers never see a stale record.
func (s *Sync) noteProgress(blob bool) {
	s.mu.Lock()
	if blob {
		s.blobDone = true
	} else {
		s.blocksDone++
	}
	if s.state != stateDownloading {
		s.mu.Unlock()
		return
	}
	done := s.blocksDone
	blobDone := s.blobDone
	completed := blobDone && done == s.missing
	if completed {
		s.state = stateSynced
	}
	s.mu.Unlock()

	if !completed {
		s.emit(Progress{
			BlocksDownloaded:      done,
			BlocksTotal:           s.missing,
			ProjectBlobDownloaded: blobDone,
		}, false)
		return
	}

	s.halt()

	s.dbMu.Lock()
	err := s.markProject(projectdb.StatusSynced)
	if err == nil {
		s.logger.Printf("snapshot %s of project %s synced (%d blocks)", s.snap.ID, s.project.ID, done)
		s.emit(Progress{
			BlocksDownloaded:      done,
			BlocksTotal:           s.missing,
			ProjectBlobDownloaded: true,
			Completed:             true,
			Successful:            true,
		}, true)
		s.dbMu.Unlock()
		return
	}
	s.dbMu.Unlock()

	s.mu.Lock()
	s.state = stateFailed
	s.mu.Unlock()

	msg := fmt.Sprintf("failed to record the synced project: %v", err)
	s.logger.Printf("sync of snapshot %s failed: %s", s.snap.ID, msg)
	s.emit(Progress{
		BlocksDownloaded:      done,
		BlocksTotal:           s.missing,
		Error:                 msg,
		ProjectBlobDownloaded: true,
	}, true)
}
