// (C) 2025 GoodData Corporation
package fetch

import (
	"bufio"
	"strings"
	"testing"
	"time"
)

func TestReadStatusAndHeadersJoinsContinuations(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\n" +
		"Content-Type: text/plain\r\n" +
		"X-Long: part-one\r\n" +
		" part-two\r\n" +
		"\r\n"
	br := bufio.NewReader(strings.NewReader(raw))

	status, reason, version, headers, err := readStatusAndHeaders(br)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != 200 || reason != "OK" || version != 11 {
		t.Fatalf("got status=%d reason=%q version=%d", status, reason, version)
	}
	want := "part-one\n part-two"
	found := false
	for _, h := range headers {
		if strings.EqualFold(h.Name, "X-Long") {
			found = true
			if h.Value != want {
				t.Fatalf("got %q, want %q", h.Value, want)
			}
		}
	}
	if !found {
		t.Fatalf("X-Long header not found")
	}
}

func TestReadStatusAndHeadersHTTP10(t *testing.T) {
	raw := "HTTP/1.0 404 Not Found\r\n\r\n"
	br := bufio.NewReader(strings.NewReader(raw))
	_, _, version, _, err := readStatusAndHeaders(br)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != 10 {
		t.Fatalf("got version %d, want 10", version)
	}
}

func TestReadChunkedStripsExtensionsAndRecordsDelays(t *testing.T) {
	raw := "2;foo=bar\r\nAB\r\n4\r\nCDEF\r\n0\r\n\r\n"
	br := bufio.NewReader(strings.NewReader(raw))
	prev := time.Now()

	data, delays, err := readChunked(br, &prev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data) != 2 {
		t.Fatalf("got %d chunks, want 2", len(data))
	}
	if string(data[0]) != "AB" || string(data[1]) != "CDEF" {
		t.Fatalf("got chunks %q %q", data[0], data[1])
	}
	if len(delays) != 2 {
		t.Fatalf("got %d delays, want 2", len(delays))
	}
	for _, d := range delays {
		if d < 0 {
			t.Fatalf("negative delay %d", d)
		}
	}
}

func TestReadChunkedWithTrailers(t *testing.T) {
	raw := "3\r\nfoo\r\n0\r\nX-Trailer: val\r\n\r\n"
	br := bufio.NewReader(strings.NewReader(raw))
	prev := time.Now()

	data, _, err := readChunked(br, &prev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data) != 1 || string(data[0]) != "foo" {
		t.Fatalf("got %v", data)
	}
}
