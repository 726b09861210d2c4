package identity

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher seals site passwords at rest.
type Cipher struct{ aead cipher.AEAD }

func NewCipher(key []byte) (*Cipher, error) {
	a, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("identity cipher: %w", err)
	}
	return &Cipher{aead: a}, nil
}

func (c *Cipher) EncryptToString(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawStdEncoding.EncodeToString(sealed), nil
}

func (c *Cipher) DecryptString(encoded string) (string, error) {
	buf, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	ns := c.aead.NonceSize()
	if len(buf) < ns {
		return "", fmt.Errorf("ciphertext too short")
	}
	pt, err := c.aead.Open(nil, buf[:ns], buf[ns:], nil)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
