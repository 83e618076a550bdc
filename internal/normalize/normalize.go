// (C) 2025 GoodData Corporation

// Package normalize builds the archive fingerprint key from a parsed wire
// request: Host-header validation, full_path reconstruction, URL capture
// group erasure and header exclusion. Grounded on
// original_source/httpproxy.py's get_archived_http_request (the exact
// removeGroupsFromURL span algorithm) and the teacher's header-handling
// conventions in internal/proxy.
package normalize

import (
	"regexp"
	"strings"

	"github.com/gooddata/wpr-go/internal/archive"
	"github.com/gooddata/wpr-go/internal/rules"
)

// ErrMissingHost is returned when a request carries no Host header; the
// caller maps this to a 500-class short-circuit response.
type ErrMissingHost struct{}

func (ErrMissingHost) Error() string { return "request has no Host header" }

// RawRequest is the wire-level input the connection server hands to
// Normalize: already read off the socket, not yet fingerprinted.
type RawRequest struct {
	Method   string
	Host     string // from the Host header; empty means absent
	FullPath string // path + query + fragment, as received on the wire
	Body     []byte
	Headers  []archive.Header
	IsSSL    bool
}

// Normalize builds an archive.Request fingerprint from raw, applying the
// compiled rule set's URL group erasure and header exclusion.
func Normalize(raw RawRequest, compiled *rules.Compiled) (archive.Request, error) {
	if raw.Host == "" {
		return archive.Request{}, ErrMissingHost{}
	}

	hostAndPath := raw.Host + raw.FullPath
	// NormalizedPath keeps the host folded in: a removeGroupsFromURL rule can
	// erase a span that straddles the host/path boundary (e.g. the
	// subdomain in "abc.foo.com/bart"), and the fingerprint needs the
	// erased form, not the raw host, to tell requests apart (invariant 7).
	normalizedPath := RemoveGroups(hostAndPath, compiled.EditRegexes())

	excluded := compiled.ExcludedHeaders(hostAndPath)
	headers := filterHeaders(raw.Headers, excluded)

	return archive.Request{
		Method:         raw.Method,
		Host:           raw.Host,
		FullPath:       raw.FullPath,
		NormalizedPath: normalizedPath,
		Body:           raw.Body,
		Headers:        headers,
		IsSSL:          raw.IsSSL,
	}, nil
}

// RemoveGroups applies the first matching regex's capture-group spans,
// erasing each one from s and returning the result. This is a direct port
// of get_archived_http_request's span-removal loop: walk the capture
// groups left to right, append the text before each group, skip past it,
// then append whatever remains after the last group.
func RemoveGroups(s string, regexes []*regexp.Regexp) string {
	for _, re := range regexes {
		loc := re.FindStringSubmatchIndex(s)
		if loc == nil {
			continue
		}
		var b strings.Builder
		prevEnd := 0
		// loc is pairs of (start, end) for the whole match then each group,
		// i.e. loc[0:2] is the full match, loc[2:4] is group 1, etc.
		for g := 1; g*2+1 < len(loc); g++ {
			gs, ge := loc[g*2], loc[g*2+1]
			if gs < 0 {
				continue
			}
			b.WriteString(s[prevEnd:gs])
			prevEnd = ge
		}
		b.WriteString(s[prevEnd:])
		return b.String()
	}
	return s
}

func filterHeaders(headers []archive.Header, excluded []string) []archive.Header {
	if len(excluded) == 0 {
		return headers
	}
	ex := make(map[string]struct{}, len(excluded))
	for _, name := range excluded {
		ex[strings.ToLower(name)] = struct{}{}
	}
	out := make([]archive.Header, 0, len(headers))
	for _, h := range headers {
		if _, skip := ex[strings.ToLower(h.Name)]; skip {
			continue
		}
		out = append(out, h)
	}
	return out
}
