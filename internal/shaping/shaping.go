// (C) 2025 GoodData Corporation

// Package shaping wraps a net.Listener's accepted connections in
// bandwidth-limited readers/writers. The token-bucket primitive itself
// (golang.org/x/time/rate) is the external collaborator the spec says the
// core consumes rather than reimplements; this package is the thin
// adaptation layer plugging it into net.Conn, grounded on
// original_source/httpproxy.py's setup(), which wraps rfile/wfile in
// RateLimitedFile when traffic shaping is configured.
package shaping

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// ParseBitsPerSecond parses strings like "1Mbit/s", "512Kbit/s", or "0"
// (unlimited) into a bits-per-second integer.
func ParseBitsPerSecond(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	m := bpsPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("shaping: invalid bandwidth %q", s)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("shaping: invalid bandwidth %q: %w", s, err)
	}
	mult := float64(1)
	switch strings.ToLower(m[2]) {
	case "", "bit":
		mult = 1
	case "k":
		mult = 1e3
	case "m":
		mult = 1e6
	case "g":
		mult = 1e9
	}
	return int64(value * mult), nil
}

var bpsPattern = regexp.MustCompile(`(?i)^([0-9.]+)\s*([kmg]?)bit/s$`)

// ActiveCount is the live active-request-count reference the limiter
// divides bandwidth by, mirroring get_active_request_count in the
// original. It is a plain atomic counter; the connection server increments
// it when handling begins and decrements it in a deferred release.
type ActiveCount struct {
	n int64
}

func (a *ActiveCount) Inc() int64  { return atomic.AddInt64(&a.n, 1) }
func (a *ActiveCount) Dec() int64  { return atomic.AddInt64(&a.n, -1) }
func (a *ActiveCount) Load() int64 { return atomic.LoadInt64(&a.n) }

// Listener wraps a net.Listener, handing back connections whose Read/Write
// are limited to the given bits-per-second, divided fairly across whatever
// active points at. A zero rate means unlimited in that direction.
//
// Callers that also terminate TLS must wrap the *tls.Listener* with this
// Listener, not the raw TCP listener underneath it — shaping has to sit on
// the plaintext side so the limiter paces application bytes, not encrypted
// wire bytes (design note: "wrap at the plaintext layer").
type Listener struct {
	net.Listener
	downBPS int64
	upBPS   int64
	active  *ActiveCount
}

// NewListener wraps ln with the given bandwidth caps (bits per second).
// active is consulted on every Read/Write to divide the cap across however
// many requests are concurrently in flight; nil means never divide.
func NewListener(ln net.Listener, downBPS, upBPS int64, active *ActiveCount) *Listener {
	return &Listener{Listener: ln, downBPS: downBPS, upBPS: upBPS, active: active}
}

// Accept returns the next connection wrapped in bandwidth limiters.
func (l *Listener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if l.downBPS == 0 && l.upBPS == 0 {
		return conn, nil
	}
	return &shapedConn{
		Conn:         conn,
		downBPS:      l.downBPS,
		upBPS:        l.upBPS,
		active:       l.active,
		readLimiter:  newLimiter(l.downBPS),
		writeLimiter: newLimiter(l.upBPS),
	}, nil
}

func newLimiter(bps int64) *rate.Limiter {
	if bps <= 0 {
		return nil
	}
	// Burst is sized to one second of the full, undivided rate so a single
	// request that temporarily has the connection to itself isn't
	// needlessly delayed; the steady-state rate is what Limit divides.
	bytesPerSec := bps / 8
	if bytesPerSec < 1 {
		bytesPerSec = 1
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), int(bytesPerSec))
}

// shapedConn wraps a net.Conn, throttling Read/Write through a byte-budget
// token bucket whose rate is divided by the live active-request count
// before every wait, so total egress/ingress across all connections stays
// bounded at the configured cap instead of scaling linearly with the
// number of concurrent requests (design note §4.7).
type shapedConn struct {
	net.Conn
	downBPS      int64
	upBPS        int64
	active       *ActiveCount
	readLimiter  *rate.Limiter
	writeLimiter *rate.Limiter
}

// share returns the per-connection Limit for a bps budget: the full rate
// divided by the number of currently active requests (at least one).
func (c *shapedConn) share(bps int64) rate.Limit {
	bytesPerSec := bps / 8
	if bytesPerSec < 1 {
		bytesPerSec = 1
	}
	n := int64(1)
	if c.active != nil {
		if live := c.active.Load(); live > 1 {
			n = live
		}
	}
	share := bytesPerSec / n
	if share < 1 {
		share = 1
	}
	return rate.Limit(share)
}

func (c *shapedConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 && c.readLimiter != nil {
		c.readLimiter.SetLimit(c.share(c.downBPS))
		_ = c.readLimiter.WaitN(context.Background(), n)
	}
	return n, err
}

func (c *shapedConn) Write(p []byte) (int, error) {
	if c.writeLimiter != nil {
		c.writeLimiter.SetLimit(c.share(c.upBPS))
		_ = c.writeLimiter.WaitN(context.Background(), len(p))
	}
	return c.Conn.Write(p)
}
