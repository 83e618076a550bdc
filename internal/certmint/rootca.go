// (C) 2025 GoodData Corporation
package certmint

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// parseRootCA decodes a PEM-encoded certificate and RSA private key pair
// loaded from the configured https_root_ca_cert_path. Generating a throwaway
// root CA is explicitly out of scope for this module (a test-only dummy-CA
// generator is a separate, excluded concern); the root is always supplied
// by the embedding application.
func parseRootCA(certPEM, keyPEM []byte) (*x509.Certificate, *rsa.PrivateKey, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, nil, fmt.Errorf("certmint: no PEM certificate block found")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("certmint: parsing root certificate: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, nil, fmt.Errorf("certmint: no PEM key block found")
	}

	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		parsed, err2 := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
		if err2 != nil {
			return nil, nil, fmt.Errorf("certmint: parsing root key: %w", err)
		}
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, nil, fmt.Errorf("certmint: root key is not RSA")
		}
		key = rsaKey
	}

	return cert, key, nil
}
