// (C) 2025 GoodData Corporation

// Package archive holds the WPR data model: the fingerprint key derived from
// an incoming request, the materialized response that gets replayed for it,
// and the in-memory store mapping one to the other. Grounded on the
// teacher's types.go (struct layout and field-tag conventions) but the
// fields themselves come from the WPR request/response fingerprint model
// rather than a WireMock stub.
package archive

import (
	"sort"
	"strings"
)

// Header is a single ordered name/value pair. Kept as a slice of pairs
// rather than a map so duplicate header names and wire order survive, the
// same reasoning the teacher's proxy package gives for parsing raw header
// bytes instead of trusting a collapsing map.
type Header struct {
	Name  string
	Value string
}

// Request is the fingerprint key an archived response is stored and looked
// up under.
type Request struct {
	Method         string
	Host           string
	FullPath       string
	NormalizedPath string
	Body           []byte
	Headers        []Header
	IsSSL          bool
}

// headerProjection returns the canonicalized header list used for equality:
// lower-cased names, stable-sorted by (name, value).
func (r Request) headerProjection() []Header {
	out := make([]Header, len(r.Headers))
	for i, h := range r.Headers {
		out[i] = Header{Name: strings.ToLower(h.Name), Value: h.Value}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// Fingerprint is the equality/hash key: (method, normalized_path, is_ssl,
// body, canonicalized headers). NormalizedPath is host+path with any
// removeGroupsFromURL spans already erased, so it — not Host — is what
// distinguishes one origin from another; two requests whose erased
// host+path forms collapse to the same string (invariant 7, scenario E)
// must produce the same Fingerprint even if their raw Host differed.
func (r Request) Fingerprint() string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte('\x00')
	b.WriteString(r.NormalizedPath)
	b.WriteByte('\x00')
	if r.IsSSL {
		b.WriteByte('1')
	} else {
		b.WriteByte('0')
	}
	b.WriteByte('\x00')
	b.Write(r.Body)
	b.WriteByte('\x00')
	for _, h := range r.headerProjection() {
		b.WriteString(h.Name)
		b.WriteByte('=')
		b.WriteString(h.Value)
		b.WriteByte(';')
	}
	return b.String()
}

// matchKey is the closest-match lookup key: normalized host+path with the
// query string and fragment stripped, deliberately ignoring method, body,
// headers and query — the original's find_closest_request(use_path=True).
// NormalizedPath already carries the host (see Fingerprint), so this is the
// only place the host needs to be named.
func (r Request) matchKey() string {
	return stripQuery(r.NormalizedPath)
}

// sortKey orders requests lexicographically over (method, normalized_path),
// the deterministic tie-break this implementation chose for closest-match
// (open question b).
func (r Request) sortKey() string {
	return r.Method + "\x00" + r.NormalizedPath
}

// stripQuery cuts s at its first '?' or '#', used to ignore the query
// string and fragment when computing the closest-match key.
func stripQuery(s string) string {
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		return s[:i]
	}
	return s
}

// PathOnly returns FullPath with any query string and fragment stripped,
// used by the response mutator's ignorePath check.
func (r Request) PathOnly() string {
	p := r.FullPath
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return p
}

// Delays holds the connect and headers delays and the per-chunk
// first-byte-arrival delays recorded during a real fetch, replayed back at
// the same cadence.
type Delays struct {
	ConnectMS int
	HeadersMS int
	DataMS    []int
}

// Response is a fully materialized archived response: everything the
// response writer needs to reproduce the original wire bytes and timing.
type Response struct {
	HTTPVersion  int // 10 or 11
	Status       int
	Reason       string
	Headers      []Header
	Chunked      bool
	ResponseData [][]byte
	Delays       Delays
	RecordedAt   int64 // unix seconds, used to re-anchor last-modified/expires
}

// ContentLength returns the sum of all chunk lengths, used to synthesize a
// content-length header when neither chunked framing nor an explicit
// content-length is present in the archive (invariant 1).
func (r Response) ContentLength() int {
	n := 0
	for _, c := range r.ResponseData {
		n += len(c)
	}
	return n
}

// Body concatenates all chunks into a single byte slice.
func (r Response) Body() []byte {
	out := make([]byte, 0, r.ContentLength())
	for _, c := range r.ResponseData {
		out = append(out, c...)
	}
	return out
}

// Clone deep-copies a Response so mutators never modify an archived entry
// in place (design note: deep copying on mutation).
func (r Response) Clone() Response {
	headers := make([]Header, len(r.Headers))
	copy(headers, r.Headers)
	data := make([][]byte, len(r.ResponseData))
	for i, c := range r.ResponseData {
		cc := make([]byte, len(c))
		copy(cc, c)
		data[i] = cc
	}
	delays := Delays{ConnectMS: r.Delays.ConnectMS, HeadersMS: r.Delays.HeadersMS}
	delays.DataMS = make([]int, len(r.Delays.DataMS))
	copy(delays.DataMS, r.Delays.DataMS)
	return Response{
		HTTPVersion:  r.HTTPVersion,
		Status:       r.Status,
		Reason:       r.Reason,
		Headers:      headers,
		Chunked:      r.Chunked,
		ResponseData: data,
		Delays:       delays,
		RecordedAt:   r.RecordedAt,
	}
}

// Header looks up the first header matching name, case-insensitively.
func (r Response) Header(name string) (string, bool) {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}
