package driven

// SecretCipher encrypts, decrypts and masks credential secrets with the
// process-wide master key. It is read-only after construction and safe for
// concurrent use.
type SecretCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
	Mask(plaintext string, visible int) string

	// AuditKey returns the subkey used to chain audit entry hashes.
	AuditKey() []byte
}
