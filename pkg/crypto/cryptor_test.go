package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := generateTestKey(t)
	c := New(key)

	pub, err := c.PublicKeyBase64()
	require.NoError(t, err)

	cases := [][]byte{
		[]byte(""),
		[]byte("a"),
		[]byte("hello, vantage6"),
		make([]byte, 10000),
	}

	for _, plaintext := range cases {
		framed, err := c.EncryptFor(plaintext, pub)
		require.NoError(t, err)

		got, err := c.Decrypt(framed)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	sender := New(generateTestKey(t))
	receiver := New(generateTestKey(t))
	wrongReceiver := New(generateTestKey(t))

	pub, err := receiver.PublicKeyBase64()
	require.NoError(t, err)

	framed, err := sender.EncryptFor([]byte("secret"), pub)
	require.NoError(t, err)

	_, err = wrongReceiver.Decrypt(framed)
	assert.Error(t, err)
}

func TestVerifyDetectsMismatch(t *testing.T) {
	c := New(generateTestKey(t))
	other := New(generateTestKey(t))

	otherPub, err := other.PublicKeyBase64()
	require.NoError(t, err)

	ok, err := c.Verify(otherPub)
	require.NoError(t, err)
	assert.False(t, ok)

	ownPub, err := c.PublicKeyBase64()
	require.NoError(t, err)
	ok, err = c.Verify(ownPub)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDisabledCryptorIsIdentity(t *testing.T) {
	c := NewDisabled()
	plaintext := []byte("plaintext over an unencrypted collaboration")

	framed, err := c.EncryptFor(plaintext, "")
	require.NoError(t, err)

	got, err := c.Decrypt(framed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestMalformedFrameRejected(t *testing.T) {
	c := New(generateTestKey(t))
	_, err := c.Decrypt("not-a-valid-frame")
	assert.Error(t, err)
}
