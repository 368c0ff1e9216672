// Package snapshot downloads a remote project snapshot into the local
// cloud-projects database.
//
// Given a manifest (one metadata blob URL plus a list of content-addressed
// block URLs), the engine reconciles the manifest against locally cached
// blocks, fetches only what is missing with a bounded number of concurrent
// requests, decodes each block, and persists everything transactionally.
// Progress is reported through a callback; the caller can cancel at any
// time and the engine guarantees exactly one terminal callback per sync
// attempt.
//
// Collaborators are injected: the Store (projectdb), the Fetcher
// (netclient) and the block Decoder (codec). Each sync attempt owns its
// own Sync instance; nothing is shared between attempts.
package snapshot
