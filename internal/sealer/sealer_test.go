package sealer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neogan74/quickkv/internal/kverrors"
)

func newSealer(t *testing.T, secret string) *Sealer {
	t.Helper()
	s, err := New(secret)
	require.NoError(t, err)
	return s
}

func TestSealOpen(t *testing.T) {
	s := newSealer(t, "correct horse battery staple")
	plain := []byte(`{"alice":{"value":"{\"age\":30}","type":"object","ttl":null}}`)

	sealed, err := s.Seal(plain)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "alice")

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, plain, opened)
}

func TestSeal_FreshNonce(t *testing.T) {
	s := newSealer(t, "secret")
	plain := []byte("same payload")

	a, err := s.Seal(plain)
	require.NoError(t, err)
	b, err := s.Seal(plain)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestSeal_Compresses(t *testing.T) {
	s := newSealer(t, "secret")
	plain := bytes.Repeat([]byte("quickkv "), 4096)

	sealed, err := s.Seal(plain)
	require.NoError(t, err)
	assert.Less(t, len(sealed), len(plain)/10)
}

func TestOpen_WrongSecret(t *testing.T) {
	sealed, err := newSealer(t, "right").Seal([]byte("payload"))
	require.NoError(t, err)

	_, err = newSealer(t, "wrong").Open(sealed)
	require.Error(t, err)
	assert.ErrorIs(t, err, kverrors.ErrCrypto)
}

func TestOpen_Corrupted(t *testing.T) {
	s := newSealer(t, "secret")
	sealed, err := s.Seal([]byte("payload"))
	require.NoError(t, err)

	tests := map[string][]byte{
		"not base64": []byte("%%%not base64%%%"),
		"too short":  []byte("UUtWMQ=="),
		"truncated":  sealed[:len(sealed)/2],
		"plain text": []byte(strings.Repeat("A", 200)),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := s.Open(data)
			assert.ErrorIs(t, err, kverrors.ErrCrypto)
		})
	}

	flipped := append([]byte(nil), sealed...)
	flipped[len(flipped)/2] ^= 0x01
	_, err = s.Open(flipped)
	assert.ErrorIs(t, err, kverrors.ErrCrypto)
}

func TestEncryptString(t *testing.T) {
	s := newSealer(t, "secret")

	enc, err := s.EncryptString(`"hello"`)
	require.NoError(t, err)
	assert.NotContains(t, enc, "hello")

	dec, err := s.DecryptString(enc)
	require.NoError(t, err)
	assert.Equal(t, `"hello"`, dec)

	_, err = newSealer(t, "other").DecryptString(enc)
	assert.ErrorIs(t, err, kverrors.ErrCrypto)

	_, err = s.DecryptString(`"hello"`)
	assert.ErrorIs(t, err, kverrors.ErrCrypto)
}

func TestNew_EmptySecret(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, ErrEmptySecret)

	_, err = NewWithKey([]byte("short"))
	assert.Error(t, err)
}
