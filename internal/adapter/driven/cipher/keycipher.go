// Package cipher implements the SecretCipher port with AES-256-GCM.
package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/ericfisherdev/opscenter/internal/domain/model"
	"github.com/ericfisherdev/opscenter/internal/domain/port/driven"
)

const (
	// MasterKeySize is the required master key length in bytes.
	MasterKeySize = 32

	// RedactedMask is returned by Mask for secrets too short to preview.
	RedactedMask = "****"

	// DefaultVisible is the number of leading and trailing runes Mask shows.
	DefaultVisible = 4

	tokenPrefix = "v1."
	versionByte = byte(1)

	encryptionInfo = "opscenter credential encryption v1"
	auditChainInfo = "opscenter audit chain v1"
)

// tokenEncoding rejects non-canonical trailing bits so that every character of
// a token contributes to the decoded bytes.
var tokenEncoding = base64.RawURLEncoding.Strict()

// Compile-time interface satisfaction check.
var _ driven.SecretCipher = (*KeyCipher)(nil)

// KeyCipher encrypts credential secrets with a subkey derived from the master
// key. Tokens have the form "v1." + base64url(nonce || ciphertext || tag) so
// no nonce bookkeeping is needed outside the token itself.
type KeyCipher struct {
	aead     stdcipher.AEAD
	auditKey []byte
}

// New derives the encryption and audit-chain subkeys from masterKey with
// HKDF-SHA256. masterKey must be exactly 32 bytes.
func New(masterKey []byte) (*KeyCipher, error) {
	if len(masterKey) != MasterKeySize {
		return nil, &model.CryptoError{
			Op:  model.ErrEncryption,
			Err: fmt.Errorf("master key must be %d bytes, got %d", MasterKeySize, len(masterKey)),
		}
	}

	encKey, err := deriveKey(masterKey, encryptionInfo)
	if err != nil {
		return nil, err
	}
	auditKey, err := deriveKey(masterKey, auditChainInfo)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, &model.CryptoError{Op: model.ErrEncryption, Err: fmt.Errorf("aes.NewCipher: %w", err)}
	}
	gcm, err := stdcipher.NewGCM(block)
	if err != nil {
		return nil, &model.CryptoError{Op: model.ErrEncryption, Err: fmt.Errorf("cipher.NewGCM: %w", err)}
	}

	return &KeyCipher{aead: gcm, auditKey: auditKey}, nil
}

func deriveKey(masterKey []byte, info string) ([]byte, error) {
	key := make([]byte, MasterKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte(info)), key); err != nil {
		return nil, &model.CryptoError{Op: model.ErrEncryption, Err: fmt.Errorf("derive %q subkey: %w", info, err)}
	}
	return key, nil
}

// Encrypt seals plaintext with a fresh random nonce. The version byte is bound
// as additional data so a token cannot be replayed under another format.
func (c *KeyCipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", &model.CryptoError{Op: model.ErrEncryption, Err: errors.New("empty plaintext")}
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", &model.CryptoError{Op: model.ErrEncryption, Err: fmt.Errorf("rand nonce: %w", err)}
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), []byte{versionByte})
	return tokenPrefix + tokenEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a token produced by Encrypt. Malformed input, a foreign key or
// any modification fails authentication and yields a CryptoError.
func (c *KeyCipher) Decrypt(token string) (string, error) {
	encoded, ok := strings.CutPrefix(token, tokenPrefix)
	if !ok {
		return "", &model.CryptoError{Op: model.ErrDecryption, Err: errors.New("unknown token version")}
	}

	data, err := tokenEncoding.DecodeString(encoded)
	if err != nil {
		return "", &model.CryptoError{Op: model.ErrDecryption, Err: errors.New("malformed token encoding")}
	}

	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize+c.aead.Overhead() {
		return "", &model.CryptoError{Op: model.ErrDecryption, Err: errors.New("token too short")}
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, []byte{versionByte})
	if err != nil {
		return "", &model.CryptoError{Op: model.ErrDecryption, Err: errors.New("authentication failed")}
	}

	return string(plaintext), nil
}

// Mask renders a display-safe preview of plaintext.
func (c *KeyCipher) Mask(plaintext string, visible int) string {
	return Mask(plaintext, visible)
}

// AuditKey returns the HMAC key for the audit hash chain.
func (c *KeyCipher) AuditKey() []byte {
	return c.auditKey
}

// Mask returns the first and last visible runes of plaintext joined by "...",
// or RedactedMask when plaintext is shorter than 2*visible runes.
func Mask(plaintext string, visible int) string {
	runes := []rune(plaintext)
	if visible <= 0 || len(runes) < 2*visible {
		return RedactedMask
	}
	return string(runes[:visible]) + "..." + string(runes[len(runes)-visible:])
}
