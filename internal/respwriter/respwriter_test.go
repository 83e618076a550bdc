// (C) 2025 GoodData Corporation
package respwriter

import (
	"bufio"
	"bytes"
	"testing"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/gooddata/wpr-go/internal/archive"
)

type fakeClock struct {
	now    time.Time
	slept  []time.Duration
}

func (f *fakeClock) Now() time.Time { return f.now }
func (f *fakeClock) Sleep(d time.Duration) { f.slept = append(f.slept, d) }

func TestWriteFixedLength(t *testing.T) {
	var ctx fasthttp.RequestCtx
	resp := archive.Response{
		Status:       200,
		ResponseData: [][]byte{[]byte("hello world")},
	}

	Write(&ctx, resp, Options{Clock: &fakeClock{now: time.Unix(1000, 0)}})

	if ctx.Response.StatusCode() != 200 {
		t.Fatalf("got status %d", ctx.Response.StatusCode())
	}
	if string(ctx.Response.Body()) != "hello world" {
		t.Fatalf("got body %q", ctx.Response.Body())
	}
	if ctx.Response.Header.ContentLength() != len("hello world") {
		t.Fatalf("got content-length %d", ctx.Response.Header.ContentLength())
	}
}

func TestWriteSkipsDateAndServerFromArchive(t *testing.T) {
	var ctx fasthttp.RequestCtx
	resp := archive.Response{
		Status: 200,
		Headers: []archive.Header{
			{Name: "Date", Value: "Mon, 01 Jan 2024 00:00:00 GMT"},
			{Name: "Server", Value: "nginx"},
			{Name: "X-Custom", Value: "value"},
		},
		ResponseData: [][]byte{[]byte("x")},
	}

	Write(&ctx, resp, Options{Clock: &fakeClock{now: time.Unix(1000, 0)}})

	if v := string(ctx.Response.Header.Peek("Server")); v != "WebPageReplay" {
		t.Fatalf("got Server header %q, want WebPageReplay", v)
	}
	if v := string(ctx.Response.Header.Peek("X-Custom")); v != "value" {
		t.Fatalf("got X-Custom %q", v)
	}
}

func TestWritePacesChunkDelays(t *testing.T) {
	var ctx fasthttp.RequestCtx
	resp := archive.Response{
		Status:       200,
		Chunked:      true,
		ResponseData: [][]byte{[]byte("AB"), []byte("CDEF")},
		Delays:       archive.Delays{DataMS: []int{0, 50}},
	}
	clock := &fakeClock{now: time.Unix(1000, 0)}

	Write(&ctx, resp, Options{UseDelays: true, Clock: clock})

	// SetBodyStreamWriter defers execution; force it to run by serializing
	// the response the way fasthttp's server loop would.
	if !ctx.IsBodyStream() {
		t.Fatalf("expected a streamed body for chunked response")
	}
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	if err := ctx.Response.Write(bw); err != nil {
		t.Fatalf("write response: %v", err)
	}
	if err := bw.Flush(); err != nil {
		t.Fatalf("flush response: %v", err)
	}
	// Only the second chunk carries a non-zero delay.
	if len(clock.slept) != 1 || clock.slept[0] != 50*time.Millisecond {
		t.Fatalf("got sleeps %v, want [50ms]", clock.slept)
	}
}

func TestShiftDate(t *testing.T) {
	got := shiftDate("Mon, 01 Jan 2024 00:00:00 GMT", 3600)
	want := "Mon, 01 Jan 2024 01:00:00 GMT"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestShiftDateInvalidPassesThrough(t *testing.T) {
	got := shiftDate("not-a-date", 3600)
	if got != "not-a-date" {
		t.Fatalf("got %q", got)
	}
}
