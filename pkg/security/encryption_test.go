package security

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestEncryptDecrypt(t *testing.T) {
	enc, err := NewEncryptor(testKey())
	require.NoError(t, err)

	plaintext := []byte(`{"allergies":["penicillin"]}`)
	ciphertext, err := enc.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotContains(t, string(ciphertext), "penicillin")

	got, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	enc, err := NewEncryptor(testKey())
	require.NoError(t, err)

	a, _ := enc.Encrypt([]byte("same"))
	b, _ := enc.Encrypt([]byte("same"))
	assert.NotEqual(t, a, b)
}

func TestDecryptTampered(t *testing.T) {
	enc, err := NewEncryptor(testKey())
	require.NoError(t, err)

	ciphertext, err := enc.Encrypt([]byte("history"))
	require.NoError(t, err)
	ciphertext[len(ciphertext)-1] ^= 0xff

	_, err = enc.Decrypt(ciphertext)
	assert.ErrorIs(t, err, ErrDecryption)

	_, err = enc.Decrypt([]byte("short"))
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestInvalidKey(t *testing.T) {
	_, err := NewEncryptor([]byte("too-short"))
	assert.ErrorIs(t, err, ErrInvalidKeySize)

	_, err = NewEncryptorFromBase64("%%%")
	assert.ErrorIs(t, err, ErrInvalidKeySize)

	_, err = NewEncryptorFromBase64(base64.StdEncoding.EncodeToString(testKey()))
	assert.NoError(t, err)
}
