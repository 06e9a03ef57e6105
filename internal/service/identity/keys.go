package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

const dkimKeyBits = 2048

// KeyCipher seals DKIM private keys with AES-256-GCM. The nonce is prepended
// to the ciphertext and the result is base64 encoded for storage.
type KeyCipher struct {
	key []byte
}

// NewKeyCipher accepts a 32-byte key as 64 hex characters or standard base64.
func NewKeyCipher(encoded string) (*KeyCipher, error) {
	encoded = strings.TrimSpace(encoded)
	var key []byte
	if b, err := hex.DecodeString(encoded); err == nil {
		key = b
	} else if b, err := base64.StdEncoding.DecodeString(encoded); err == nil {
		key = b
	}
	if len(key) != 32 {
		return nil, errors.New("dkim encryption key must decode to 32 bytes")
	}
	return &KeyCipher{key: key}, nil
}

func (c *KeyCipher) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext.
func (c *KeyCipher) Encrypt(plaintext []byte) (string, error) {
	gcm, err := c.gcm()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, plaintext, nil)), nil
}

// Decrypt opens a value produced by Encrypt.
func (c *KeyCipher) Decrypt(sealed string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("decode sealed key: %w", err)
	}
	gcm, err := c.gcm()
	if err != nil {
		return nil, err
	}
	if len(raw) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, body := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}

// dkimKeyPair is freshly generated signing material.
type dkimKeyPair struct {
	Selector      string
	PublicKey     string // single-line base64 DER, as published in p=
	PrivateKeyPEM []byte
}

func generateDKIM(now time.Time) (*dkimKeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, dkimKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	selector, err := newSelector(now)
	if err != nil {
		return nil, err
	}
	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	return &dkimKeyPair{
		Selector:      selector,
		PublicKey:     base64.StdEncoding.EncodeToString(pubDER),
		PrivateKeyPEM: privPEM,
	}, nil
}

// newSelector returns s<yyyymm><6 hex>, unique per generation.
func newSelector(now time.Time) (string, error) {
	suffix, err := randomHex(3)
	if err != nil {
		return "", err
	}
	return "s" + now.UTC().Format("200601") + suffix, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// normalizePublicKey strips PEM armor and whitespace so keys compare as one line.
func normalizePublicKey(key string) string {
	key = strings.TrimSpace(key)
	key = strings.TrimPrefix(key, "-----BEGIN PUBLIC KEY-----")
	key = strings.TrimSuffix(key, "-----END PUBLIC KEY-----")
	return strings.Join(strings.Fields(key), "")
}
