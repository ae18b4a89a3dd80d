// Package crypto provides AES-256-GCM authenticated encryption for audit
// snapshots stored at rest. A sealed snapshot is persisted as a JSON string
// "enc:v1:<base64>" in place of the snapshot document, so the audit_log
// column stays valid JSON whether or not encryption is configured.
package crypto

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

	"golang.org/x/crypto/pbkdf2"
)

// SealedPrefix marks an encrypted snapshot.
const SealedPrefix = "enc:v1:"

var (
	// ErrKeyLengthInvalid is returned when a master key is not exactly 32 bytes (required for AES-256).
	ErrKeyLengthInvalid = errors.New("crypto: key must be exactly 32 bytes for AES-256")
	// ErrCiphertextCorrupted is returned when the ciphertext fails base64 decoding or is too short to contain a valid nonce.
	ErrCiphertextCorrupted = errors.New("crypto: ciphertext is corrupted or tampered")
	// ErrDecryptionFailed is returned when AES-GCM authentication or decryption fails, indicating tampering or a wrong key.
	ErrDecryptionFailed = errors.New("crypto: decryption operation failed")
	// ErrSaltTooShort is returned when the provided salt is fewer than 16 bytes.
	ErrSaltTooShort = errors.New("crypto: salt must be at least 16 bytes")
)

// SnapshotCipher encrypts and decrypts audit snapshots.
type SnapshotCipher struct {
	aead cipher.AEAD
}

// NewSnapshotCipher creates a cipher with a 32-byte master key
func NewSnapshotCipher(masterKey []byte) (*SnapshotCipher, error) {
	if len(masterKey) != 32 {
		return nil, ErrKeyLengthInvalid
	}
	// aes.NewCipher expands the key into its own schedule; masterKey is not retained.
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &SnapshotCipher{aead: aead}, nil
}

// DeriveSnapshotCipher creates a cipher by deriving a key from a passphrase
func DeriveSnapshotCipher(passphrase string, salt []byte, iterations int) (*SnapshotCipher, error) {
	if len(salt) < 16 {
		return nil, ErrSaltTooShort
	}
	if iterations < 10000 {
		iterations = 100000
	}
	derivedKey := pbkdf2.Key([]byte(passphrase), salt, iterations, 32, sha256.New)
	return NewSnapshotCipher(derivedKey)
}

// Seal encrypts plaintext and returns SealedPrefix followed by base64 of nonce||ciphertext.
func (c *SnapshotCipher) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return SealedPrefix + base64.URLEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (c *SnapshotCipher) Open(sealed string) ([]byte, error) {
	encoded, ok := strings.CutPrefix(sealed, SealedPrefix)
	if !ok {
		return nil, ErrCiphertextCorrupted
	}
	ciphertext, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrCiphertextCorrupted
	}

	nonceLen := c.aead.NonceSize()
	if len(ciphertext) < nonceLen {
		return nil, ErrCiphertextCorrupted
	}

	plaintext, err := c.aead.Open(nil, ciphertext[:nonceLen], ciphertext[nonceLen:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// SealJSON encrypts a JSON document into a JSON string literal.
func (c *SnapshotCipher) SealJSON(doc json.RawMessage) (json.RawMessage, error) {
	sealed, err := c.Seal(doc)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sealed)
}

// OpenJSON decrypts a document produced by SealJSON. Any other JSON value
// is returned unchanged, so entries written before encryption was enabled
// still read back.
func (c *SnapshotCipher) OpenJSON(stored json.RawMessage) (json.RawMessage, error) {
	sealed, ok := SealedString(stored)
	if !ok {
		return stored, nil
	}
	return c.Open(sealed)
}

// SealedString reports whether stored is a sealed snapshot and returns its text.
func SealedString(stored json.RawMessage) (string, bool) {
	if len(stored) == 0 || stored[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(stored, &s); err != nil {
		return "", false
	}
	if !strings.HasPrefix(s, SealedPrefix) {
		return "", false
	}
	return s, true
}

// GenerateKey creates a cryptographically secure random 32-byte key
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
