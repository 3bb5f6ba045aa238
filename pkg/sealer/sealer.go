// Package sealer encrypts small secrets at rest with AES-256-GCM.
package sealer

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	envelopeVersion = 1
	keyInfo         = "backoffice/vault/v1"
)

var (
	ErrMissingSecret = errors.New("missing_vault_secret")
	// ErrDecryption covers every way an envelope can fail to open.
	ErrDecryption = errors.New("decryption_failed")
)

type envelope struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

type Sealer struct {
	aead cipher.AEAD
}

// New derives the data key from secret with HKDF-SHA256.
func New(secret string) (*Sealer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal returns a JSON envelope. aad binds the ciphertext to its owner and must
// be passed unchanged to Open.
func (s *Sealer) Seal(plaintext, aad []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out, err := json.Marshal(envelope{
		Version:    envelopeVersion,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(s.aead.Seal(nil, nonce, plaintext, aad)),
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (s *Sealer) Open(sealed string, aad []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal([]byte(sealed), &env); err != nil {
		return nil, ErrDecryption
	}
	if env.Version != envelopeVersion {
		return nil, ErrDecryption
	}
	nonce, err := base64.RawStdEncoding.DecodeString(env.Nonce)
	if err != nil || len(nonce) != s.aead.NonceSize() {
		return nil, ErrDecryption
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, ErrDecryption
	}
	plain, err := s.aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecryption
	}
	return plain, nil
}
