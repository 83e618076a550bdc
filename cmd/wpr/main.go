// (C) 2025 GoodData Corporation

// Command wpr runs the Web Page Replay proxy: records real HTTP(S)
// traffic into an in-memory archive, then replays it deterministically.
// Grounded on the teacher's main.go entrypoint (flag parsing, env-var
// fallback, startup banner, single blocking Serve call).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gooddata/wpr-go/internal/archive"
	"github.com/gooddata/wpr-go/internal/certmint"
	"github.com/gooddata/wpr-go/internal/config"
	"github.com/gooddata/wpr-go/internal/connserver"
	"github.com/gooddata/wpr-go/internal/fetch"
	"github.com/gooddata/wpr-go/internal/metrics"
	"github.com/gooddata/wpr-go/internal/mutate"
	"github.com/gooddata/wpr-go/internal/rules"
	"github.com/gooddata/wpr-go/internal/shaping"
	"github.com/gooddata/wpr-go/internal/wprlog"
)

const banner = `
 _       ______  ______
| |     / / __ \/ ____/
| | /| / / /_/ / /_
| |/ |/ / ____/ __/
|__/|__/_/   /_/   record/replay proxy
`

func main() {
	configFile := flag.String("config", "", "path to a viper-compatible config file (optional)")
	rulesFile := flag.String("rules", "", "path to a JSON rule list (optional)")
	rootCertPath := flag.String("root-cert", "", "PEM root CA certificate for MITM TLS")
	rootKeyPath := flag.String("root-key", "", "PEM root CA private key for MITM TLS")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *rootCertPath != "" {
		cfg.HTTPSRootCACertPath = *rootCertPath
	}
	if *rootKeyPath != "" {
		cfg.HTTPSRootCACertKey = *rootKeyPath
	}

	logger := wprlog.New(cfg.Verbose)
	if cfg.Verbose {
		fmt.Fprintln(os.Stdout, banner)
	}

	compiled, err := loadRules(*rulesFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("loading rules")
	}

	store := archive.NewStore()
	mutator := mutate.New(compiled, []byte(cfg.InjectScript), cfg.ScrambleImages)
	origin := fetch.NewOrigin(logger)
	origin.UseSystemProxy = true

	var recorder fetch.MissRecorder = &fetch.CountingMissRecorder{}
	controllable := fetch.NewControllable(store, origin, mutator, recorder, cfg.UseRecordMode, logger)
	if repFetch, ok := anyControllableReplay(controllable); ok {
		repFetch.UseClosestMatch = cfg.UseClosestMatch
		repFetch.UseDiff = cfg.UseDiffOnUnknownRequests
	}

	m := metrics.New()

	srv := &connserver.Server{
		Rules:         compiled,
		Fetcher:       controllable,
		Logger:        logger,
		Metrics:       m,
		UseDelays:     cfg.UseDelays,
		PropagationMS: cfg.DelayMS,
		ServerName:    "WebPageReplay",
	}

	downBPS, err := shaping.ParseBitsPerSecond(cfg.DownBandwidth)
	if err != nil {
		logger.Fatal().Err(err).Msg("parsing down_bandwidth")
	}
	upBPS, err := shaping.ParseBitsPerSecond(cfg.UpBandwidth)
	if err != nil {
		logger.Fatal().Err(err).Msg("parsing up_bandwidth")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	if !cfg.IsSSL {
		if cfg.HTTPToHTTPSUpstream {
			err = srv.ListenHTTPToHTTPS(addr, downBPS, upBPS)
		} else {
			err = srv.ListenPlainHTTP(addr, downBPS, upBPS)
		}
	} else if cfg.SingleCertMode {
		cert, loadErr := loadSingleCert(cfg)
		if loadErr != nil {
			logger.Fatal().Err(loadErr).Msg("loading single TLS certificate")
		}
		err = srv.ListenSingleCertHTTPS(addr, cert, downBPS, upBPS)
	} else {
		certPEM, keyPEM, rootErr := readRootCA(cfg)
		if rootErr != nil {
			logger.Fatal().Err(rootErr).Msg("loading root CA")
		}
		cache, cacheErr := certmint.NewCertCache(certPEM, keyPEM)
		if cacheErr != nil {
			logger.Fatal().Err(cacheErr).Msg("building cert cache")
		}
		store.SetRootCert(certPEM)
		err = srv.ListenMITMHTTPS(addr, cache, downBPS, upBPS)
	}

	if err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

func loadRules(path string) (*rules.Compiled, error) {
	if path == "" {
		return rules.Compile(nil)
	}
	return rules.LoadFile(path)
}

// anyControllableReplay reaches into the Controllable's replay fetcher to
// set options that only apply in replay mode. fetch.Controllable keeps its
// replay fetcher private, so this goes through the small accessor it
// exposes for exactly this purpose.
func anyControllableReplay(c *fetch.Controllable) (*fetch.ReplayFetch, bool) {
	rep := c.ReplayFetcher()
	return rep, rep != nil
}
