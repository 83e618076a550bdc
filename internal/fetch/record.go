// (C) 2025 GoodData Corporation
package fetch

import (
	"context"

	"github.com/gooddata/wpr-go/internal/archive"
)

// RecordFetch answers requests by hitting the real origin and storing the
// result, except: (a) a request identical to one already recorded this
// session is served back from the store instead of re-fetching (ported
// from RecordHttpArchiveFetch's "already recorded this run" branch, so a
// page that issues the same request twice during one recording doesn't
// clobber the first capture with a second, possibly different, one), and
// (b) loopback requests always go straight to the origin.
type RecordFetch struct {
	store    *archive.Store
	origin   Fetcher
	mutate   Mutator
	recorder MissRecorder
}

func (f *RecordFetch) Fetch(ctx context.Context, req archive.Request) (archive.Response, bool) {
	if !isLoopbackHost(req.Host) {
		if resp, ok := f.store.Get(req); ok {
			f.notify(req, true, true)
			return f.mutate.Mutate(req, resp), true
		}
	}

	resp, ok := f.origin.Fetch(ctx, req)
	if !ok {
		f.notify(req, false, true)
		return archive.Response{}, false
	}

	if !isLoopbackHost(req.Host) {
		f.store.Put(req, resp)
	}
	f.notify(req, false, true)
	return f.mutate.Mutate(req, resp), true
}

func (f *RecordFetch) notify(req archive.Request, hit, recording bool) {
	if f.recorder == nil {
		return
	}
	if hit {
		f.recorder.RecordHit(req, recording)
	} else {
		f.recorder.RecordMiss(req, recording)
	}
}
