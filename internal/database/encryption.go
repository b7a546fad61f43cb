package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"

	"waconsole/internal/constants"

	"golang.org/x/crypto/pbkdf2"
)

const (
	envEnableEncryption = "WACONSOLE_ENABLE_ENCRYPTION"
	envEncryptionSecret = "WACONSOLE_ENCRYPTION_SECRET"
	minSecretLength     = 32
)

// encryptor seals journal columns with AES-GCM. A nil gcm means encryption is off
// and every method passes values through unchanged.
type encryptor struct {
	gcm cipher.AEAD
}

// encryptorFromEnv enables encryption when WACONSOLE_ENABLE_ENCRYPTION=true.
func encryptorFromEnv() (*encryptor, error) {
	if os.Getenv(envEnableEncryption) != "true" {
		return &encryptor{}, nil
	}
	return newEncryptor(os.Getenv(envEncryptionSecret))
}

func newEncryptor(secret string) (*encryptor, error) {
	if secret == "" {
		return nil, fmt.Errorf("%s is required when encryption is enabled", envEncryptionSecret)
	}
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("encryption secret must be at least %d characters long", minSecretLength)
	}

	key := pbkdf2.Key([]byte(secret), []byte(constants.EncryptionSalt), constants.EncryptionIterations, constants.EncryptionKeySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &encryptor{gcm: gcm}, nil
}

func (e *encryptor) enabled() bool {
	return e.gcm != nil
}

// Encrypt uses a random nonce; the nonce is prepended to the ciphertext.
func (e *encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" || !e.enabled() {
		return plaintext, nil
	}

	nonce := make([]byte, constants.EncryptionNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return e.seal(nonce, plaintext), nil
}

// EncryptForLookup derives the nonce from the plaintext so equal inputs produce
// equal ciphertexts and the column stays usable in WHERE clauses.
// #nosec G407 - deterministic nonce required for lookups
func (e *encryptor) EncryptForLookup(plaintext string) (string, error) {
	if plaintext == "" || !e.enabled() {
		return plaintext, nil
	}
	hash := sha256.Sum256([]byte(plaintext + constants.EncryptionLookupSalt))
	return e.seal(hash[:constants.EncryptionNonceSize], plaintext), nil
}

func (e *encryptor) seal(nonce []byte, plaintext string) string {
	out := make([]byte, 0, len(nonce)+len(plaintext)+e.gcm.Overhead())
	out = append(out, nonce...)
	out = e.gcm.Seal(out, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out)
}

func (e *encryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" || !e.enabled() {
		return ciphertext, nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}
	if len(data) < constants.EncryptionNonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := data[:constants.EncryptionNonceSize], data[constants.EncryptionNonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}
