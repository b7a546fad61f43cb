package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptor_Disabled(t *testing.T) {
	enc, err := encryptorFromEnv()
	require.NoError(t, err)
	assert.False(t, enc.enabled())

	out, err := enc.Encrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)

	out, err = enc.Decrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)
}

func TestEncryptor_RoundTrip(t *testing.T) {
	enc, err := newEncryptor(testSecret)
	require.NoError(t, err)

	a, err := enc.Encrypt("hello")
	require.NoError(t, err)
	b, err := enc.Encrypt("hello")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "random nonce must differ")

	plain, err := enc.Decrypt(a)
	require.NoError(t, err)
	assert.Equal(t, "hello", plain)
}

func TestEncryptor_LookupIsDeterministic(t *testing.T) {
	enc, err := newEncryptor(testSecret)
	require.NoError(t, err)

	a, err := enc.EncryptForLookup("conv-1")
	require.NoError(t, err)
	b, err := enc.EncryptForLookup("conv-1")
	require.NoError(t, err)
	c, err := enc.EncryptForLookup("conv-2")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	plain, err := enc.Decrypt(a)
	require.NoError(t, err)
	assert.Equal(t, "conv-1", plain)
}

func TestEncryptor_Errors(t *testing.T) {
	_, err := newEncryptor("")
	assert.Error(t, err)

	enc, err := newEncryptor(testSecret)
	require.NoError(t, err)

	_, err = enc.Decrypt("!!not-base64!!")
	assert.ErrorContains(t, err, "base64")

	_, err = enc.Decrypt("YWJj")
	assert.ErrorContains(t, err, "too short")

	other, err := newEncryptor("ffffffffffffffffffffffffffffffff")
	require.NoError(t, err)
	sealed, err := other.Encrypt("x")
	require.NoError(t, err)
	_, err = enc.Decrypt(sealed)
	assert.ErrorContains(t, err, "failed to decrypt")
}
