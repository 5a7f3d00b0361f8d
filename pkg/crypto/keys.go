package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// organizationKeySize is the RSA modulus size for an organization's
// long-lived private key: a long-lived key gets the larger modulus,
// rather than a size sized for short-lived certificates.
const organizationKeySize = 4096

// LoadOrGenerateKey loads a PEM-encoded RSA private key from path, or
// generates and persists a new one if path does not exist.
func LoadOrGenerateKey(path string) (*rsa.PrivateKey, error) {
	key, err := loadKey(path)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	key, err = rsa.GenerateKey(rand.Reader, organizationKeySize)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	if err := saveKey(path, key); err != nil {
		return nil, err
	}
	return key, nil
}

func loadKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("crypto: %s contains no PEM block", path)
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse private key %s: %w", path, err)
	}
	return key, nil
}

func saveKey(path string, key *rsa.PrivateKey) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("crypto: create key directory: %w", err)
		}
	}
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return fmt.Errorf("crypto: write private key %s: %w", path, err)
	}
	return nil
}
