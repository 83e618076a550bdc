// (C) 2025 GoodData Corporation

// Package connserver is the Connection Server: it accepts TCP (plain or
// TLS) connections, runs the fasthttp HTTP/1.1 engine over them, and wires
// every other component (rule engine, normalizer, fetcher, mutator,
// response writer) into a single per-request handler. Grounded on the
// teacher's main.go server construction (build a listener, hand it to
// fasthttp) and on original_source/httpproxy.py's HttpProxyServer /
// HttpsProxyServer / HttpToHttpsProxyServer class hierarchy, which this
// package reproduces as four listener constructors sharing one handler.
package connserver

import (
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/gooddata/wpr-go/internal/archive"
	"github.com/gooddata/wpr-go/internal/certmint"
	"github.com/gooddata/wpr-go/internal/fetch"
	"github.com/gooddata/wpr-go/internal/metrics"
	"github.com/gooddata/wpr-go/internal/normalize"
	"github.com/gooddata/wpr-go/internal/respwriter"
	"github.com/gooddata/wpr-go/internal/rules"
	"github.com/gooddata/wpr-go/internal/shaping"
)

// maxRequestLineBytes mirrors the original's 65536-byte request-line cap;
// fasthttp enforces its own limit via Server.ReadBufferSize, set to match.
// The limit covers the request line and header block together, and an
// oversized request gets fasthttp's default error response; no 414 status
// is produced here.
const maxRequestLineBytes = 65536

// Server bundles everything the per-connection handler needs.
type Server struct {
	Rules    *rules.Compiled
	Fetcher  *fetch.Controllable
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
	Active   shaping.ActiveCount

	UseDelays     bool
	PropagationMS int
	ServerName    string
}

// handle is the fasthttp.RequestHandler shared by all listener variants.
// It implements §4.7's per-request flow and §7's error taxonomy.
func (s *Server) handle(ctx *fasthttp.RequestCtx, isSSL bool) {
	start := time.Now()
	s.Active.Inc()
	if s.Metrics != nil {
		s.Metrics.ActiveRequests.Set(float64(s.Active.Load()))
	}
	defer func() {
		s.Active.Dec()
		if s.Metrics != nil {
			s.Metrics.ActiveRequests.Set(float64(s.Active.Load()))
			s.Metrics.TotalRequestTime.Observe(time.Since(start).Seconds())
		}
	}()

	connID := uuid.NewString()
	logger := s.Logger.With().Str("conn_id", connID).Logger()

	raw := normalize.RawRequest{
		Method:   string(ctx.Method()),
		Host:     string(ctx.Host()),
		FullPath: string(ctx.RequestURI()),
		Body:     ctx.PostBody(),
		IsSSL:    isSSL,
	}
	ctx.Request.Header.VisitAll(func(k, v []byte) {
		// The host is already folded into NormalizedPath (after any group
		// erasure), so the Host header is kept out of the fingerprint headers.
		if strings.EqualFold(string(k), "Host") {
			return
		}
		raw.Headers = append(raw.Headers, archive.Header{Name: string(k), Value: string(v)})
	})

	req, err := normalize.Normalize(raw, s.Rules)
	if err != nil {
		logger.Warn().Err(err).Msg("malformed request")
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}

	if status, ok := s.Rules.MatchError(req.Host + req.FullPath); ok {
		logger.Debug().Int("status", status).Str("host", req.Host).Msg("rule short-circuit")
		ctx.SetStatusCode(status)
		return
	}

	resp, ok := s.Fetcher.Fetch(ctx, req)
	if !ok {
		if s.Metrics != nil {
			s.Metrics.ArchiveMisses.Inc()
		}
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	if s.Metrics != nil {
		s.Metrics.ArchiveHits.Inc()
	}

	respwriter.Write(ctx, resp, respwriter.Options{
		UseDelays:     s.UseDelays,
		PropagationMS: s.PropagationMS,
		ServerName:    s.ServerName,
	})
}

func (s *Server) plainHandler(ctx *fasthttp.RequestCtx) {
	s.handle(ctx, false)
}

func (s *Server) sslHandler(ctx *fasthttp.RequestCtx) {
	s.handle(ctx, true)
}

// fasthttpServer returns a configured *fasthttp.Server for the given
// handler, capping request line plus header size at maxRequestLineBytes.
func (s *Server) fasthttpServer(handler fasthttp.RequestHandler) *fasthttp.Server {
	return &fasthttp.Server{
		Handler:            handler,
		ReadBufferSize:     maxRequestLineBytes,
		MaxRequestBodySize: 0, // no request-body cap beyond content-length
		Concurrency:        256 * 1024,
	}
}

// ListenPlainHTTP serves plain HTTP on addr, no TLS. Grounded on
// HttpProxyServer.
func (s *Server) ListenPlainHTTP(addr string, downBPS, upBPS int64) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("connserver: bind %s: %w", addr, err)
	}
	shaped := shaping.NewListener(ln, downBPS, upBPS, &s.Active)
	s.Logger.Info().Msgf("HTTP server started on %s", addr)
	return s.fasthttpServer(s.plainHandler).Serve(shaped)
}

// ListenSingleCertHTTPS serves TLS on addr using one fixed server
// certificate for every hostname. Grounded on SingleCertHttpsProxyServer.
// Shaping wraps the TLS listener, not the raw TCP listener, so the limiter
// paces decrypted application bytes rather than ciphertext.
func (s *Server) ListenSingleCertHTTPS(addr string, cert tls.Certificate, downBPS, upBPS int64) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("connserver: bind %s: %w", addr, err)
	}
	tlsLn := tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{cert}})
	shaped := shaping.NewListener(tlsLn, downBPS, upBPS, &s.Active)
	s.Logger.Info().Msgf("HTTPS server started on %s", addr)
	return s.fasthttpServer(s.sslHandler).Serve(shaped)
}

// ListenMITMHTTPS serves TLS on addr, minting a leaf certificate per SNI
// hostname via cache. Grounded on HttpsProxyServer. Shaping wraps the TLS
// listener for the same plaintext-layer reason as ListenSingleCertHTTPS.
func (s *Server) ListenMITMHTTPS(addr string, cache *certmint.CertCache, downBPS, upBPS int64) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("connserver: bind %s: %w", addr, err)
	}
	tlsLn := tls.NewListener(ln, &tls.Config{GetCertificate: cache.GetCertificate})
	shaped := shaping.NewListener(tlsLn, downBPS, upBPS, &s.Active)
	s.Logger.Info().Msgf("HTTPS server started on %s", addr)
	return s.fasthttpServer(s.sslHandler).Serve(shaped)
}

// ListenHTTPToHTTPS accepts plain HTTP from the client but forces every
// origin fetch to use HTTPS upstream regardless of what the client
// requested. Grounded on HttpToHttpsProxyServer — whose original
// implementation never actually applied the upgrade (design note, open
// question c); this port applies it by rewriting IsSSL before the
// fingerprint and fetch happen.
func (s *Server) ListenHTTPToHTTPS(addr string, downBPS, upBPS int64) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("connserver: bind %s: %w", addr, err)
	}
	shaped := shaping.NewListener(ln, downBPS, upBPS, &s.Active)
	s.Logger.Info().Msgf("HTTP-to-HTTPS server started on %s", addr)
	return s.fasthttpServer(func(ctx *fasthttp.RequestCtx) {
		s.handle(ctx, true) // force is_ssl=true regardless of inbound scheme
	}).Serve(shaped)
}

