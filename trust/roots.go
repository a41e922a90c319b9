package trust

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// NewRootStore builds a pool from DER certificates.
func NewRootStore(certs ...[]byte) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	for i, der := range certs {
		c, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("parse root %d: %w", i, err)
		}
		pool.AddCert(c)
	}
	return pool, nil
}

// RootsFromPEM builds a pool from every CERTIFICATE block in data. Data with
// no certificate at all is an error.
func RootsFromPEM(data []byte) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	n := 0
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse root %d: %w", n, err)
		}
		pool.AddCert(c)
		n++
	}
	if n == 0 {
		return nil, errors.New("no certificates in PEM data")
	}
	return pool, nil
}

// LoadRootsFile reads a PEM bundle from path.
func LoadRootsFile(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roots: %w", err)
	}
	pool, err := RootsFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pool, nil
}

// SystemRoots returns the host's root store.
func SystemRoots() (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil {
		return nil, fmt.Errorf("system roots: %w", err)
	}
	return pool, nil
}
