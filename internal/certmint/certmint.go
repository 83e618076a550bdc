// (C) 2025 GoodData Corporation

// Package certmint mints per-hostname leaf TLS certificates on demand,
// signed by a configured root CA, for the MITM listener's
// tls.Config.GetCertificate hook. There is no suitable third-party
// ad-hoc-CA-signing library among the example repos (the pack's only TLS
// library, caddy's certmagic/acmez, is built around ACME issuance from a
// real CA, not an offline root keypair minting throwaway leaves per SNI),
// so this package is built directly on crypto/x509, crypto/rsa and
// crypto/tls, same as the root-cert-signing case the original's sslproxy
// module performs in principle.
package certmint

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// CertCache mints and caches per-hostname leaf certificates. Safe for
// concurrent use; at most one certificate is generated per hostname even
// under concurrent handshakes (invariant 5), via double-checked insertion.
type CertCache struct {
	mu    sync.RWMutex
	certs map[string]*tls.Certificate

	rootCert *x509.Certificate
	rootKey  *rsa.PrivateKey
}

// NewCertCache builds a CertCache that signs leaves with the given
// PEM-encoded root certificate and key.
func NewCertCache(rootCertPEM, rootKeyPEM []byte) (*CertCache, error) {
	rootCert, rootKey, err := parseRootCA(rootCertPEM, rootKeyPEM)
	if err != nil {
		return nil, err
	}
	return &CertCache{
		certs:    make(map[string]*tls.Certificate),
		rootCert: rootCert,
		rootKey:  rootKey,
	}, nil
}

// GetCertificate implements the signature tls.Config.GetCertificate wants,
// minting (and caching) a leaf certificate for the SNI hostname on first
// use.
func (c *CertCache) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	hostname := hello.ServerName
	if hostname == "" {
		return nil, fmt.Errorf("certmint: client hello carries no SNI server name")
	}

	c.mu.RLock()
	if cert, ok := c.certs[hostname]; ok {
		c.mu.RUnlock()
		return cert, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if cert, ok := c.certs[hostname]; ok { // double-checked: another handshake won the race
		return cert, nil
	}

	cert, err := c.mint(hostname)
	if err != nil {
		return nil, err
	}
	c.certs[hostname] = cert
	return cert, nil
}

func (c *CertCache) mint(hostname string) (*tls.Certificate, error) {
	leafKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("certmint: generating leaf key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return nil, fmt.Errorf("certmint: generating serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: hostname},
		DNSNames:     []string{hostname},
		NotBefore:    now.Add(-1 * time.Hour),
		NotAfter:     now.AddDate(1, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, c.rootCert, &leafKey.PublicKey, c.rootKey)
	if err != nil {
		return nil, fmt.Errorf("certmint: signing leaf for %s: %w", hostname, err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{der, c.rootCert.Raw},
		PrivateKey:  leafKey,
	}, nil
}

// Count returns the number of distinct hostnames with a cached leaf, used
// by tests asserting at-most-once minting under concurrency.
func (c *CertCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.certs)
}
