package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"io"
	"strings"

	vterrors "github.com/vantage6/vantage6-sub004/pkg/errors"
)

const (
	aesKeySize = 32 // AES-256
	ivSize = 16
	frameSep = "$"
)

// Cryptor performs hybrid RSA/AES encryption for a single node's private
// key. When Disabled is true it degrades to identity-over-bytes, still
// base64-framed for transport.
type Cryptor struct {
	PrivateKey *rsa.PrivateKey
	Disabled bool
}

// New wraps an already-loaded private key. Use Disabled to construct a
// Cryptor for an unencrypted collaboration.
func New(key *rsa.PrivateKey) *Cryptor {
	return &Cryptor{PrivateKey: key}
}

// NewDisabled returns a Cryptor that performs no encryption, for
// collaborations with encrypted=false.
func NewDisabled() *Cryptor {
	return &Cryptor{Disabled: true}
}

// PublicKeyBase64 returns this node's own public key, PEM-encoded and
// base64-framed for transport.
func (c *Cryptor) PublicKeyBase64() (string, error) {
	if c.PrivateKey == nil {
		return "", fmt.Errorf("cryptor: no private key loaded")
	}
	der, err := x509.MarshalPKIXPublicKey(&c.PrivateKey.PublicKey)
	if err != nil {
		return "", fmt.Errorf("cryptor: marshal public key: %w", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return base64.StdEncoding.EncodeToString(pem.EncodeToMemory(block)), nil
}

// Verify reports whether peerPubKeyB64 decodes to exactly this node's own
// serialized public key. Used at boot to detect desynchronization with the
// coordinator's cached copy.
func (c *Cryptor) Verify(peerPubKeyB64 string) (bool, error) {
	own, err := c.PublicKeyBase64()
	if err != nil {
		return false, err
	}
	return own == peerPubKeyB64, nil
}

// parsePublicKey decodes a base64-framed PEM public key into an *rsa.PublicKey.
func parsePublicKey(peerPubKeyB64 string) (*rsa.PublicKey, error) {
	pemBytes, err := base64.StdEncoding.DecodeString(peerPubKeyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vterrors.ErrBadPeerKey, err)
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", vterrors.ErrBadPeerKey)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vterrors.ErrBadPeerKey, err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", vterrors.ErrBadPeerKey)
	}
	return rsaPub, nil
}

// EncryptFor encrypts plaintext for a peer whose public key is supplied
// base64-framed, :
//
// 1. draw a fresh AES-256 key and IV
// 2. ciphertext = AES-CTR(key, iv, plaintext)
// 3. enc_key = RSA-PKCS1v15(peer_pubkey).Encrypt(key)
// 4. emit base64(enc_key) $ base64(iv) $ base64(ciphertext)
func (c *Cryptor) EncryptFor(plaintext []byte, peerPubKeyB64 string) (string, error) {
	if c.Disabled {
		return base64.StdEncoding.EncodeToString(plaintext), nil
	}

	peerPub, err := parsePublicKey(peerPubKeyB64)
	if err != nil {
		return "", err
	}

	sharedKey := make([]byte, aesKeySize)
	if _, err := io.ReadFull(rand.Reader, sharedKey); err != nil {
		return "", fmt.Errorf("cryptor: generate shared key: %w", err)
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("cryptor: generate iv: %w", err)
	}

	block, err := aes.NewCipher(sharedKey)
	if err != nil {
		return "", fmt.Errorf("cryptor: new AES cipher: %w", err)
	}
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv).XORKeyStream(ciphertext, plaintext)

	encKey, err := rsa.EncryptPKCS1v15(rand.Reader, peerPub, sharedKey)
	if err != nil {
		return "", fmt.Errorf("cryptor: rsa encrypt shared key: %w", err)
	}

	return strings.Join([]string{
		base64.StdEncoding.EncodeToString(encKey),
		base64.StdEncoding.EncodeToString(iv),
		base64.StdEncoding.EncodeToString(ciphertext),
	}, frameSep), nil
}

// Decrypt reverses EncryptFor using the local private key.
func (c *Cryptor) Decrypt(framed string) ([]byte, error) {
	if c.Disabled {
		return base64.StdEncoding.DecodeString(framed)
	}
	if c.PrivateKey == nil {
		return nil, fmt.Errorf("cryptor: no private key loaded")
	}

	parts := strings.SplitN(framed, frameSep, 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("cryptor: malformed payload framing")
	}

	encKey, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("cryptor: decode enc_key: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("cryptor: decode iv: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("cryptor: decode ciphertext: %w", err)
	}

	sharedKey, err := rsa.DecryptPKCS1v15(rand.Reader, c.PrivateKey, encKey)
	if err != nil {
		return nil, fmt.Errorf("cryptor: rsa decrypt shared key: %w", err)
	}

	block, err := aes.NewCipher(sharedKey)
	if err != nil {
		return nil, fmt.Errorf("cryptor: new AES cipher: %w", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(block, iv).XORKeyStream(plaintext, ciphertext)

	return plaintext, nil
}

// EncodeUnencrypted frames plaintext the way a collaboration with
// encrypted=false does: base64(plaintext) alone, with no RSA/AES envelope.
func EncodeUnencrypted(plaintext []byte) string {
	return base64.StdEncoding.EncodeToString(plaintext)
}

// looksFramed reports whether s has the three-part $-separated shape of an
// encrypted payload, as opposed to a bare base64 plaintext frame.
func looksFramed(s string) bool {
	return bytes.Count([]byte(s), []byte(frameSep)) == 2
}

// LooksFramed is the exported form of looksFramed, used by the
// coordinator to reject a submission whose ciphertext framing disagrees
// with its collaboration's encrypted flag.
func LooksFramed(s string) bool {
	return looksFramed(s)
}
