// (C) 2025 GoodData Corporation
package main

import (
	"crypto/tls"
	"fmt"
	"os"

	"github.com/gooddata/wpr-go/internal/config"
)

// readRootCA loads the PEM-encoded root CA certificate and key from the
// paths configured for MITM TLS.
func readRootCA(cfg *config.Config) (certPEM, keyPEM []byte, err error) {
	certPEM, err = os.ReadFile(cfg.HTTPSRootCACertPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading root cert: %w", err)
	}
	keyPEM, err = os.ReadFile(cfg.HTTPSRootCACertKey)
	if err != nil {
		return nil, nil, fmt.Errorf("reading root key: %w", err)
	}
	return certPEM, keyPEM, nil
}

// loadSingleCert loads a fixed server certificate/key pair used for every
// hostname in single-cert mode.
func loadSingleCert(cfg *config.Config) (tls.Certificate, error) {
	return tls.LoadX509KeyPair(cfg.HTTPSRootCACertPath, cfg.HTTPSRootCACertKey)
}
