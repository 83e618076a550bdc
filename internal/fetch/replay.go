// (C) 2025 GoodData Corporation
package fetch

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/gooddata/wpr-go/internal/archive"
)

// ReplayFetch answers requests from the archive. Ported from
// ReplayHttpArchiveFetch: loopback requests bypass the archive entirely;
// on an exact miss a diff against the nearest archived request is logged
// when UseDiff is set, and the nearest normalized host+path match, query
// string ignored, is served when UseClosestMatch is set.
type ReplayFetch struct {
	store           *archive.Store
	origin          Fetcher // used only for loopback passthrough
	mutate          Mutator
	recorder        MissRecorder
	logger          zerolog.Logger
	UseClosestMatch bool
	UseDiff         bool
}

func (f *ReplayFetch) Fetch(ctx context.Context, req archive.Request) (archive.Response, bool) {
	if isLoopbackHost(req.Host) && f.origin != nil {
		return f.origin.Fetch(ctx, req)
	}

	if resp, ok := f.store.Get(req); ok {
		f.notify(req, true)
		return f.mutate.Mutate(req, resp), true
	}

	f.notify(req, false)

	if f.UseDiff {
		if diff, ok := f.store.Diff(req); ok {
			f.logger.Warn().Str("host", req.Host).Str("path", req.NormalizedPath).Str("diff", diff).Msg("replay miss, nearest archived request differs")
		}
	}

	if f.UseClosestMatch {
		if near, ok := f.store.Closest(req); ok {
			if resp, ok := f.store.Get(near); ok {
				f.logger.Info().Str("host", req.Host).Str("path", req.NormalizedPath).Msg("replay miss, serving closest match")
				return f.mutate.Mutate(req, resp), true
			}
		}
	}

	return archive.Response{}, false
}

func (f *ReplayFetch) notify(req archive.Request, hit bool) {
	if f.recorder == nil {
		return
	}
	if hit {
		f.recorder.RecordHit(req, false)
	} else {
		f.recorder.RecordMiss(req, false)
	}
}
