// (C) 2025 GoodData Corporation
package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePutGet(t *testing.T) {
	s := NewStore()
	req := newNormalized("GET", "example.com", "/a")
	resp := Response{Status: 200, ResponseData: [][]byte{[]byte("hello")}}

	assert.False(t, s.Contains(req), "expected empty store to not contain request")

	s.Put(req, resp)

	assert.True(t, s.Contains(req), "expected store to contain request after Put")
	got, ok := s.Get(req)
	require.True(t, ok, "expected Get to succeed")
	assert.Equal(t, "hello", string(got.Body()))
}

// newNormalized builds a Request the way normalize.Normalize actually
// would for a rule-less request: NormalizedPath is host+path with the
// query string still attached (no removeGroupsFromURL rule erases
// anything here).
func newNormalized(method, host, fullPath string) Request {
	return Request{Method: method, Host: host, FullPath: fullPath, NormalizedPath: host + fullPath}
}

func TestStoreClosestDeterministicTieBreak(t *testing.T) {
	s := NewStore()
	r1 := newNormalized("GET", "example.com", "/a?v=1")
	r2 := newNormalized("POST", "example.com", "/a?v=9")
	s.Put(r1, Response{Status: 200, ResponseData: [][]byte{[]byte("get")}})
	s.Put(r2, Response{Status: 200, ResponseData: [][]byte{[]byte("post")}})

	miss := newNormalized("PUT", "example.com", "/a?v=2")
	got, ok := s.Closest(miss)
	require.True(t, ok, "expected closest match")
	// "GET" < "POST" lexicographically, so r1 wins the tie-break.
	assert.Equal(t, "GET", got.Method)
}

// TestStoreClosestIgnoresQuery covers scenario C: a replay miss whose query
// string differs from anything archived must still match on host+path,
// exactly as find_closest_request(use_path=True) does in the original.
func TestStoreClosestIgnoresQuery(t *testing.T) {
	s := NewStore()
	archived := newNormalized("GET", "example.com", "/a?v=1")
	s.Put(archived, Response{Status: 200, ResponseData: [][]byte{[]byte("body")}})

	miss := newNormalized("GET", "example.com", "/a?v=2")
	got, ok := s.Closest(miss)
	require.True(t, ok, "expected a closest match ignoring the differing query string")
	assert.Equal(t, "/a?v=1", got.FullPath)
}

func TestStoreDiffOnMiss(t *testing.T) {
	s := NewStore()
	archived := newNormalized("GET", "example.com", "/a")
	archived.Body = []byte(`{"x":1}`)
	s.Put(archived, Response{Status: 200})

	miss := newNormalized("GET", "example.com", "/a")
	miss.Body = []byte(`{"x":2}`)
	diff, ok := s.Diff(miss)
	require.True(t, ok, "expected a diff to be rendered")
	assert.NotEmpty(t, diff)
}

func TestRootCert(t *testing.T) {
	s := NewStore()
	_, ok := s.RootCert()
	assert.False(t, ok, "expected no root cert initially")

	s.SetRootCert([]byte("pem-bytes"))
	got, ok := s.RootCert()
	require.True(t, ok)
	assert.Equal(t, "pem-bytes", string(got))
}
