package snapshot

// Progress is an immutable snapshot of the sync state, emitted at every
// observable milestone.
//
// For one sync attempt the callback receives zero or more intermediate
// Progress values followed by exactly one terminal value: Completed,
// Cancelled, or Successful=false with Error set. After a terminal value
// no further callbacks occur, and the terminal value is always the last
// one delivered.
type Progress struct {
	// BlocksDownloaded is the number of missing blocks persisted so far.
	// It never exceeds BlocksTotal.
	BlocksDownloaded int
	// BlocksTotal is the number of blocks that were missing locally when
	// the sync started, not the full manifest size.
	BlocksTotal int
	// Error carries a human-readable message when Successful is false.
	Error string
	// ProjectBlobDownloaded reports whether the metadata blob has been
	// persisted.
	ProjectBlobDownloaded bool
	// Completed is true exactly once, after the metadata blob and every
	// missing block are durably persisted and the project is marked synced.
	Completed bool
	// Successful is true only on the Completed callback.
	Successful bool
	// Cancelled is true on the terminal callback of a cancelled attempt.
	Cancelled bool
}

// ProgressFunc receives progress updates. It is invoked from the engine's
// worker goroutines and must return promptly; implementations must not
// call methods on the Sync handle from inside the callback (dispatch to
// another goroutine instead).
type ProgressFunc func(Progress)
