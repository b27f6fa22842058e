package consent

import (
	"log"

	"finlink/internal/infrastructure/crypto"
)

// Vault encrypts and decrypts OAuth token material at rest. Decryption of a
// corrupt ciphertext degrades to an empty result instead of an error so that
// a bad row forces re-authorization rather than crashing a sweep.
type Vault struct {
	encryptor *crypto.Encryptor
}

// NewVault creates a token vault keyed by a process-wide secret.
func NewVault(encryptor *crypto.Encryptor) *Vault {
	return &Vault{encryptor: encryptor}
}

// Encrypt returns the ciphertext for a plaintext token.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	return v.encryptor.Encrypt(plaintext)
}

// Decrypt returns the plaintext token, or "" when the ciphertext is
// malformed or fails authentication. The failure is logged without any
// token material.
func (v *Vault) Decrypt(ciphertext string) string {
	plaintext, err := v.encryptor.Decrypt(ciphertext)
	if err != nil {
		log.Printf("Token vault: decryption failed (%d bytes of ciphertext): %v", len(ciphertext), err)
		return ""
	}
	return plaintext
}
