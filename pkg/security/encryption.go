package security

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrInvalidKeySize = errors.New("invalid key size")
	ErrEncryption     = errors.New("encryption failed")
	ErrDecryption     = errors.New("decryption failed")
)

// Encryptor provides a generic interface for encryption/decryption
type Encryptor interface {
	Encrypt(data []byte) ([]byte, error)
	Decrypt(data []byte) ([]byte, error)
}

// NewEncryptor creates an XChaCha20-Poly1305 encryptor from a 32 byte key
func NewEncryptor(key []byte) (Encryptor, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, ErrInvalidKeySize
	}
	return &xchachaEncryptor{aead: aead}, nil
}

// NewEncryptorFromBase64 decodes a standard base64 key, as carried in the environment
func NewEncryptorFromBase64(encoded string) (Encryptor, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidKeySize
	}
	return NewEncryptor(key)
}

type xchachaEncryptor struct {
	aead cipher.AEAD
}

// Encrypt returns nonce || ciphertext
func (x *xchachaEncryptor) Encrypt(data []byte) ([]byte, error) {
	nonce := make([]byte, x.aead.NonceSize(), x.aead.NonceSize()+len(data)+x.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, ErrEncryption
	}
	return x.aead.Seal(nonce, nonce, data, nil), nil
}

func (x *xchachaEncryptor) Decrypt(data []byte) ([]byte, error) {
	nonceSize := x.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, ErrDecryption
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := x.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}
