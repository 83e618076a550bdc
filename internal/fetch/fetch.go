// (C) 2025 GoodData Corporation

// Package fetch implements the mode-switching Fetch facade (design note:
// "global fetch-mode switching") and the Origin Fetcher itself. Grounded on
// original_source/httpclient.py's RealHttpFetch/RecordHttpArchiveFetch/
// ReplayHttpArchiveFetch/ControllableHttpArchiveFetch, reworked as a Go
// interface with two implementations behind a read/write-lock-guarded
// setter instead of a runtime method-pointer swap.
package fetch

import (
	"context"
	"net"
	"sync"

	"github.com/gooddata/wpr-go/internal/archive"
	"github.com/rs/zerolog"
)

// Fetcher answers one archived request, either from the network (record
// mode) or from the archive (replay mode). Implementations must not mutate
// req.
type Fetcher interface {
	Fetch(ctx context.Context, req archive.Request) (archive.Response, bool)
}

// MissRecorder is notified of every cache hit/miss while fetching, the
// cache_misses bookkeeping the original threads through both fetch modes.
// Nil is a valid MissRecorder (no-op).
type MissRecorder interface {
	RecordHit(req archive.Request, wasRecording bool)
	RecordMiss(req archive.Request, wasRecording bool)
}

// CountingMissRecorder is a simple MissRecorder usable in tests and for
// startup diagnostics.
type CountingMissRecorder struct {
	mu    sync.Mutex
	Hits  int
	Misses int
}

func (c *CountingMissRecorder) RecordHit(archive.Request, bool) {
	c.mu.Lock()
	c.Hits++
	c.mu.Unlock()
}

func (c *CountingMissRecorder) RecordMiss(archive.Request, bool) {
	c.mu.Lock()
	c.Misses++
	c.mu.Unlock()
}

// isLoopbackHost reports whether host (possibly "host:port") is a loopback
// address. Ported from ReplayHttpArchiveFetch's special case: requests to
// 127.0.0.1 are a local control plane and must always hit the real network,
// never the archive.
func isLoopbackHost(host string) bool {
	h := host
	if hh, _, err := net.SplitHostPort(host); err == nil {
		h = hh
	}
	return h == "127.0.0.1" || h == "localhost" || h == "::1"
}

// Controllable is a mode-switching Fetch facade: Record and Replay fetchers
// are held behind a RWMutex-guarded pointer, so a live server can flip
// between recording and replaying without a restart.
type Controllable struct {
	mu      sync.RWMutex
	active  Fetcher
	record  *RecordFetch
	replay  *ReplayFetch
	logger  zerolog.Logger
}

// NewControllable builds a Controllable starting in the mode given by
// startRecording.
func NewControllable(store *archive.Store, origin Fetcher, mutate Mutator, recorder MissRecorder, startRecording bool, logger zerolog.Logger) *Controllable {
	rec := &RecordFetch{store: store, origin: origin, mutate: mutate, recorder: recorder}
	rep := &ReplayFetch{store: store, origin: origin, mutate: mutate, recorder: recorder, logger: logger}
	c := &Controllable{record: rec, replay: rep, logger: logger}
	if startRecording {
		c.active = rec
	} else {
		c.active = rep
	}
	return c
}

// SetRecordMode switches to recording; subsequent Fetch calls hit the
// network and populate the archive.
func (c *Controllable) SetRecordMode() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = c.record
	c.logger.Info().Msg("switched to record mode")
}

// SetReplayMode switches to replaying from the archive.
func (c *Controllable) SetReplayMode() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = c.replay
	c.logger.Info().Msg("switched to replay mode")
}

// Fetch dispatches to whichever fetcher is currently active.
func (c *Controllable) Fetch(ctx context.Context, req archive.Request) (archive.Response, bool) {
	c.mu.RLock()
	active := c.active
	c.mu.RUnlock()
	return active.Fetch(ctx, req)
}

// ReplayFetcher exposes the replay-mode fetcher so callers can set
// replay-only options (UseClosestMatch, UseDiff) after construction.
func (c *Controllable) ReplayFetcher() *ReplayFetch {
	return c.replay
}

// Mutator applies replay-time response mutations; satisfied by
// internal/mutate.Mutator. Declared here (rather than imported) to avoid a
// dependency cycle between fetch and mutate.
type Mutator interface {
	Mutate(req archive.Request, resp archive.Response) archive.Response
}
