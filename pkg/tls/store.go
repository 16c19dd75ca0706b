package tls

import (
	"crypto/ecdsa"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// SaveFiles writes c to PEM files. The key file is only readable by the owner.
func SaveFiles(c *Certificate, certPath, keyPath string) error {
	if c == nil {
		return errors.New("certificate cannot be nil")
	}
	for _, dir := range []string{filepath.Dir(certPath), filepath.Dir(keyPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(certPath, c.CertPEM, 0o644); err != nil {
		return fmt.Errorf("failed to write certificate file: %w", err)
	}
	if err := os.WriteFile(keyPath, c.KeyPEM, 0o600); err != nil {
		_ = os.Remove(certPath)
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// LoadFiles reads a PEM certificate and key pair.
func LoadFiles(certPath, keyPath string) (*Certificate, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	pair, err := (&Certificate{CertPEM: certPEM, KeyPEM: keyPEM}).TLSCertificate()
	if err != nil {
		return nil, err
	}
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	c := &Certificate{Leaf: leaf, CertPEM: certPEM, KeyPEM: keyPEM}
	if key, ok := pair.PrivateKey.(*ecdsa.PrivateKey); ok {
		c.Key = key
	}
	return c, nil
}

// EnsureFiles loads the pair at certPath and keyPath, generating and saving
// a self-signed one when either file is missing.
func EnsureFiles(cfg SelfSignedConfig, certPath, keyPath string) (*Certificate, error) {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	if certErr == nil && keyErr == nil {
		return LoadFiles(certPath, keyPath)
	}

	c, err := GenerateSelfSigned(cfg)
	if err != nil {
		return nil, err
	}
	if err := SaveFiles(c, certPath, keyPath); err != nil {
		return nil, err
	}
	return c, nil
}
