// (C) 2025 GoodData Corporation
package archive

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/gooddata/wpr-go/internal/jsonutil"
)

// Store is the in-memory Archive: a mapping from request fingerprint to
// response, plus a query-ignoring normalized-host-path index for
// closest-match lookup. Guarded by a single RWMutex, the same discipline
// the teacher's Server uses for its mappings slice: frequent reads,
// occasional writes in record mode.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	byMatch map[string][]string // matchKey -> fingerprints, for closest()
	rootCA  []byte
}

type entry struct {
	req  Request
	resp Response
}

// NewStore returns an empty Archive.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]entry),
		byMatch: make(map[string][]string),
	}
}

// Contains reports whether req has an exact archived match.
func (s *Store) Contains(req Request) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[req.Fingerprint()]
	return ok
}

// Get returns the archived response for req, if any.
func (s *Store) Get(req Request) (Response, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[req.Fingerprint()]
	if !ok {
		return Response{}, false
	}
	return e.resp, true
}

// Put records req/resp. A put is visible to any subsequent Get for the same
// fingerprint (invariant 2).
func (s *Store) Put(req Request, resp Response) {
	fp := req.Fingerprint()
	mk := req.matchKey()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[fp]; !exists {
		s.byMatch[mk] = append(s.byMatch[mk], fp)
	}
	s.entries[fp] = entry{req: req, resp: resp}
}

// Closest returns the archived request nearest to req, matching on
// normalized host+path with the query string ignored — the original's
// find_closest_request(use_path=True). When more than one candidate exists
// the lexicographically smallest (method, normalized_path) wins, a fixed
// tie-break chosen for reproducibility (design note, open question b).
func (s *Store) Closest(req Request) (Request, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fps := s.byMatch[req.matchKey()]
	if len(fps) == 0 {
		return Request{}, false
	}
	candidates := make([]Request, 0, len(fps))
	for _, fp := range fps {
		candidates = append(candidates, s.entries[fp].req)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].sortKey() < candidates[j].sortKey()
	})
	return candidates[0], true
}

// Diff renders a unified diff between a replay-miss request and its nearest
// archived peer (by normalized host+path, ignoring query/SSL/method), for
// operator diagnostics when use_diff_on_unknown_requests is set. JSON
// bodies are pretty-printed with sorted arrays first so diffs are not noisy
// from a non-deterministic upstream array ordering.
func (s *Store) Diff(req Request) (string, bool) {
	near, ok := s.Closest(req)
	if !ok {
		return "", false
	}

	a := renderRequestForDiff(near)
	b := renderRequestForDiff(req)

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: "archived",
		ToFile:   "incoming",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", false
	}
	return text, true
}

func renderRequestForDiff(r Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s%s (ssl=%v)\n", r.Method, r.Host, r.FullPath, r.IsSSL)
	headers := r.headerProjection()
	for _, h := range headers {
		fmt.Fprintf(&b, "%s: %s\n", h.Name, h.Value)
	}
	b.WriteString("\n")
	b.WriteString(prettyBody(r.Body))
	return b.String()
}

// prettyBody returns a stable textual rendering of a request body: JSON
// bodies are re-marshaled with array members sorted for determinism,
// anything else is passed through as-is.
func prettyBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}
	sorted := jsonutil.SortArrays(v)
	out, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return string(body)
	}
	return string(out)
}

// SetRootCert stores the PEM-encoded root certificate bytes used by the TLS
// MITM listener, exposed through the Archive per the external-interfaces
// contract (root cert travels alongside the archive handle).
func (s *Store) SetRootCert(pem []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rootCA = pem
}

// RootCert returns the previously stored root certificate, if any.
func (s *Store) RootCert() ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.rootCA == nil {
		return nil, false
	}
	return s.rootCA, true
}
