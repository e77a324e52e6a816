// Package sealer compresses and encrypts byte payloads.
//
// Sealed blobs are gzip-compressed, encrypted with XChaCha20-Poly1305 under a
// key derived from a secret with argon2id, prefixed with a format marker and
// the nonce, and finally base64 encoded so they can be stored as text.
package sealer

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/neogan74/quickkv/internal/kverrors"
)

// Magic prefixes every sealed blob and is bound to the ciphertext as associated data
const Magic = "QKV1"

const (
	argonTime    = 2
	argonMemory  = 19 * 1024
	argonThreads = 1
)

// defaultSalt is fixed so the same secret always opens the same files
var defaultSalt = []byte("quickkv/sealer/v1")

var encoding = base64.StdEncoding

// ErrEmptySecret is returned by New for an empty secret
var ErrEmptySecret = errors.New("sealer: secret must not be empty")

// Sealer seals and opens payloads with one derived key. It is safe for concurrent use.
type Sealer struct {
	aead cipher.AEAD
}

// New derives a key from secret and returns a Sealer
func New(secret string) (*Sealer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	key := argon2.IDKey([]byte(secret), defaultSalt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
	return NewWithKey(key)
}

// NewWithKey returns a Sealer for a raw 32-byte key
func NewWithKey(key []byte) (*Sealer, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("sealer: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal compresses and encrypts plain. Each call uses a fresh nonce.
func (s *Sealer) Seal(plain []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(plain); err != nil {
		return nil, fmt.Errorf("sealer: compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("sealer: compress: %w", err)
	}

	raw, err := s.encrypt(buf.Bytes())
	if err != nil {
		return nil, err
	}

	out := make([]byte, encoding.EncodedLen(len(raw)))
	encoding.Encode(out, raw)
	return out, nil
}

// Open reverses Seal. Every failure matches kverrors.ErrCrypto.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	raw := make([]byte, encoding.DecodedLen(len(sealed)))
	n, err := encoding.Decode(raw, bytes.TrimSpace(sealed))
	if err != nil {
		return nil, cryptoErr("decode", err)
	}

	compressed, err := s.decrypt(raw[:n])
	if err != nil {
		return nil, err
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, cryptoErr("decompress", err)
	}
	defer zr.Close()

	plain, err := io.ReadAll(zr)
	if err != nil {
		return nil, cryptoErr("decompress", err)
	}
	return plain, nil
}

// EncryptString encrypts a short value without compressing it
func (s *Sealer) EncryptString(plain string) (string, error) {
	raw, err := s.encrypt([]byte(plain))
	if err != nil {
		return "", err
	}
	return encoding.EncodeToString(raw), nil
}

// DecryptString reverses EncryptString. Every failure matches kverrors.ErrCrypto.
func (s *Sealer) DecryptString(sealed string) (string, error) {
	raw, err := encoding.DecodeString(sealed)
	if err != nil {
		return "", cryptoErr("decode", err)
	}
	plain, err := s.decrypt(raw)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func (s *Sealer) encrypt(plain []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), len(Magic)+s.aead.NonceSize()+len(plain)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("sealer: nonce: %w", err)
	}

	out := append([]byte(Magic), nonce...)
	return s.aead.Seal(out, nonce, plain, []byte(Magic)), nil
}

func (s *Sealer) decrypt(raw []byte) ([]byte, error) {
	header := len(Magic) + s.aead.NonceSize()
	if len(raw) < header+s.aead.Overhead() {
		return nil, cryptoErr("decrypt", errors.New("payload too short"))
	}
	if string(raw[:len(Magic)]) != Magic {
		return nil, cryptoErr("decrypt", errors.New("unknown format marker"))
	}

	nonce := raw[len(Magic):header]
	plain, err := s.aead.Open(nil, nonce, raw[header:], []byte(Magic))
	if err != nil {
		return nil, cryptoErr("decrypt", err)
	}
	return plain, nil
}

func cryptoErr(stage string, err error) error {
	return fmt.Errorf("%w: %s: %v", kverrors.ErrCrypto, stage, err)
}
