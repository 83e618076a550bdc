// (C) 2025 GoodData Corporation

// Package respwriter serializes an archive.Response back onto the client
// connection: framing (chunked vs. fixed vs. synthesized content-length),
// header rewriting, and timing replay. Grounded on
// original_source/httpproxy.py's send_archived_http_response and the
// teacher's fasthttp-based response handling in main.go.
package respwriter

import (
	"bufio"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/gooddata/wpr-go/internal/archive"
)

// Clock abstracts time.Now/time.Sleep so tests can run without real
// pacing delays.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time      { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// RealClock is the production Clock.
var RealClock Clock = realClock{}

// Options controls replay-time pacing.
type Options struct {
	UseDelays      bool
	PropagationMS  int
	ServerName     string // default "Server:" header value, e.g. "WebPageReplay"
	Clock          Clock
}

// Write serializes resp onto ctx following §4.6's framing decision table,
// applying header rewrites and (optionally) per-chunk pacing delays.
func Write(ctx *fasthttp.RequestCtx, resp archive.Response, opts Options) {
	if opts.Clock == nil {
		opts.Clock = RealClock
	}

	if opts.PropagationMS > 0 {
		opts.Clock.Sleep(time.Duration(opts.PropagationMS) * time.Millisecond)
	}

	ctx.SetStatusCode(resp.Status)

	writeHeaders(ctx, resp, opts)

	chunked := resp.Chunked
	if !chunked {
		if _, ok := resp.Header("Content-Length"); !ok {
			ctx.Response.Header.SetContentLength(resp.ContentLength())
		}
	}

	if opts.UseDelays && resp.Delays.HeadersMS > 0 {
		opts.Clock.Sleep(time.Duration(resp.Delays.HeadersMS) * time.Millisecond)
	}

	if !chunked {
		ctx.SetBody(resp.Body())
		return
	}

	writeChunked(ctx, resp, opts)
}

// writeHeaders copies archived headers onto the response, skipping date
// and server (the writer supplies its own) and shifting last-modified /
// expires forward by the time elapsed since resp.RecordedAt.
func writeHeaders(ctx *fasthttp.RequestCtx, resp archive.Response, opts Options) {
	serverName := opts.ServerName
	if serverName == "" {
		serverName = "WebPageReplay"
	}
	ctx.Response.Header.Set("Server", serverName)

	now := opts.Clock.Now().Unix()
	shift := now - resp.RecordedAt

	for _, h := range resp.Headers {
		lower := strings.ToLower(h.Name)
		switch lower {
		case "date", "server":
			continue
		case "last-modified", "expires":
			ctx.Response.Header.Add(h.Name, shiftDate(h.Value, shift))
		case "content-length":
			if resp.Chunked {
				continue
			}
			ctx.Response.Header.Add(h.Name, h.Value)
		case "transfer-encoding":
			continue
		default:
			ctx.Response.Header.Add(h.Name, h.Value)
		}
	}

	if resp.Chunked {
		ctx.Response.Header.Set("Transfer-Encoding", "chunked")
	}
}

// shiftDate re-anchors an HTTP-date header value by shiftSeconds relative
// to the replay clock, so relative freshness (e.g. expires 1h after
// last-modified) survives the gap between recording and replay time.
func shiftDate(value string, shiftSeconds int64) string {
	t, err := time.Parse(time.RFC1123, value)
	if err != nil {
		return value
	}
	return t.Add(time.Duration(shiftSeconds) * time.Second).Format(time.RFC1123)
}

// writeChunked streams resp's chunks through fasthttp's body stream writer,
// sleeping each chunk's recorded first-byte delay before writing it so the
// client observes the same cadence as the original recording (invariant 4).
// Flushing before the delay ensures the wait is actually visible on the
// wire rather than buffered client-side.
func writeChunked(ctx *fasthttp.RequestCtx, resp archive.Response, opts Options) {
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		for i, chunk := range resp.ResponseData {
			if opts.UseDelays && i < len(resp.Delays.DataMS) && resp.Delays.DataMS[i] > 0 {
				if err := w.Flush(); err != nil {
					return
				}
				opts.Clock.Sleep(time.Duration(resp.Delays.DataMS[i]) * time.Millisecond)
			}
			if _, err := w.Write(chunk); err != nil {
				return
			}
		}
		w.Flush()
	})
}
