package snapshot

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/audiolift/audiolift/internal/netclient"
)

// dispatch is the scheduler loop. It runs on its own goroutine, claims
// jobs in order with a single-pass index, and never lets more than
// MaxConcurrent requests run at once. It stops dispatching as soon as a
// stop condition fires; jobs already started finish or abort on their own.
func (s *Sync) dispatch() {
	defer close(s.done)

	sem := make(chan struct{}, s.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	defer wg.Wait()

	for _, jb := range s.jobs {
		// Block until capacity frees up or a stop condition fires.
		select {
		case sem <- struct{}{}:
		case <-s.stopc:
			return
		}

		if s.stopped() {
			return
		}

		wg.Add(1)
		go func(jb job) {
			defer wg.Done()
			defer func() { <-sem }()
			s.runJob(jb)
		}(jb)

		select {
		case <-time.After(s.cfg.PacingDelay):
		case <-s.stopc:
			return
		}
	}
}

// runJob fetches one URL and hands the payload to the persistence path.
//
// Retry policy, per attempt:
//   - an aborted request (cancellation) is terminal and silent
//   - 5xx retries against the same URL until the budget is spent
//   - 4xx is fatal immediately
//   - any other transport error consumes a retry, then is fatal
//
// Persistence and decode errors are fatal immediately; retrying an upsert
// that failed structurally cannot change the outcome.
func (s *Sync) runJob(jb job) {
	retries := s.cfg.MaxRetries

	for {
		data, err := s.fetcher.Fetch(s.ctx, jb.url)
		if err == nil {
			var perr error
			if jb.hash == "" {
				perr = s.persistProjectBlob(data)
			} else {
				perr = s.persistBlock(jb.hash, data)
			}
			if perr != nil {
				s.fail(perr.Error())
			}
			return
		}

		if netclient.IsCancelled(err) {
			// Aborted by an in-progress cancellation; expected, not an error.
			return
		}

		var se *netclient.StatusError
		if errors.As(err, &se) {
			if se.Code >= 500 && retries > 0 {
				retries--
				s.logger.Printf("retrying %s after http %d (%d retries left)", jb.url, se.Code, retries)
				continue
			}
			s.fail(fmt.Sprintf("failed to download the cloud project: %v", err))
			return
		}

		if retries > 0 {
			retries--
			s.logger.Printf("retrying %s after %v (%d retries left)", jb.url, err, retries)
			continue
		}

		s.fail(fmt.Sprintf("failed to download the cloud project: %v", err))
		return
	}
}

// fail records the first fatal failure, stops the dispatcher, and emits
// the terminal failure callback. Later failures from jobs still in flight
// are dropped.
func (s *Sync) fail(msg string) {
	s.halt()

	s.mu.Lock()
	if s.state != stateDownloading {
		s.mu.Unlock()
		return
	}
	s.state = stateFailed
	p := Progress{
		BlocksDownloaded:      s.blocksDone,
		BlocksTotal:           s.missing,
		Error:                 msg,
		ProjectBlobDownloaded: s.blobDone,
	}
	s.mu.Unlock()

	s.logger.Printf("sync of snapshot %s failed: %s", s.snap.ID, msg)
	s.emit(p, true)
}
