// (C) 2025 GoodData Corporation
package normalize

import (
	"regexp"
	"testing"

	"github.com/gooddata/wpr-go/internal/archive"
	"github.com/gooddata/wpr-go/internal/rules"
)

func compile(t *testing.T, rs []rules.Rule) *rules.Compiled {
	t.Helper()
	c, err := rules.Compile(rs)
	if err != nil {
		t.Fatalf("compile rules: %v", err)
	}
	return c
}

func TestNormalizeMissingHost(t *testing.T) {
	c := compile(t, nil)
	_, err := Normalize(RawRequest{Method: "GET", FullPath: "/x"}, c)
	if _, ok := err.(ErrMissingHost); !ok {
		t.Fatalf("expected ErrMissingHost, got %v", err)
	}
}

func TestNormalizeGroupErasureFingerprintMatch(t *testing.T) {
	c := compile(t, []rules.Rule{
		{Predicate: rules.PredicateURLMatches, PredicateArgs: []string{`(.*\.)?foo\.com/bart.*(qux=1&).*`}, Action: rules.ActionRemoveGroupsFromURL},
	})

	r1, err := Normalize(RawRequest{Method: "GET", Host: "abc.foo.com", FullPath: "/bart?qux=1&z"}, c)
	if err != nil {
		t.Fatalf("normalize r1: %v", err)
	}
	r2, err := Normalize(RawRequest{Method: "GET", Host: "xyz.foo.com", FullPath: "/bart?qux=1&z"}, c)
	if err != nil {
		t.Fatalf("normalize r2: %v", err)
	}

	if r1.NormalizedPath != r2.NormalizedPath {
		t.Fatalf("normalized paths differ: %q vs %q", r1.NormalizedPath, r2.NormalizedPath)
	}
	// The real requirement: two requests whose group-erased host+path
	// collapse to the same string must archive-match each other, i.e. their
	// Fingerprint must agree even though their raw Host differed.
	if r1.Fingerprint() != r2.Fingerprint() {
		t.Fatalf("fingerprints differ despite identical normalized path: %q vs %q", r1.Fingerprint(), r2.Fingerprint())
	}
}

func TestNormalizeExcludesHeaders(t *testing.T) {
	c := compile(t, []rules.Rule{
		{Predicate: rules.PredicateURLMatches, PredicateArgs: []string{`example\.com/.*`}, Action: rules.ActionRemoveHeader, ActionArgs: []string{"X-Request-Id"}},
	})

	req, err := Normalize(RawRequest{
		Method:   "GET",
		Host:     "example.com",
		FullPath: "/p",
		Headers: []archive.Header{
			{Name: "X-Request-Id", Value: "123"},
			{Name: "Accept", Value: "*/*"},
		},
	}, c)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	for _, h := range req.Headers {
		if h.Name == "X-Request-Id" {
			t.Fatalf("expected X-Request-Id to be excluded")
		}
	}
	if len(req.Headers) != 1 {
		t.Fatalf("expected 1 remaining header, got %d", len(req.Headers))
	}
}

func TestRemoveGroups(t *testing.T) {
	tests := []struct {
		name  string
		input string
		re    string
		want  string
	}{
		{
			name:  "no match returns input unchanged",
			input: "foo.com/bar",
			re:    `baz\.com/.*`,
			want:  "foo.com/bar",
		},
		{
			name:  "two groups erased",
			input: "abc.foo.com/bart?qux=1&z",
			re:    `(.*\.)?foo\.com/bart.*(qux=1&).*`,
			want:  "foo.com/bart?z",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			re := regexp.MustCompile(tt.re)
			got := RemoveGroups(tt.input, []*regexp.Regexp{re})
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}
