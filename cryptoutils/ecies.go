package cryptoutils

import (
	"crypto/rand"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto/ecies"
)

// SealToPublicKey encrypts data so that only the holder of the private key
// matching publicKeyPEM can read it. The ciphertext is standard ECIES
// (ephemeral key, NIST SP 800-56 concatenation KDF, AES-128-CTR,
// HMAC-SHA256 tag) with the P-256 parameters.
func SealToPublicKey(publicKeyPEM []byte, data []byte) ([]byte, error) {
	pub, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return nil, err
	}
	recipient := ecies.ImportECDSAPublic(pub)
	if recipient.Params == nil {
		return nil, fmt.Errorf("unsupported curve %s", pub.Curve.Params().Name)
	}

	sealed, err := ecies.Encrypt(rand.Reader, recipient, data, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to seal: %w", err)
	}
	return sealed, nil
}

// OpenWithPrivateKey decrypts data produced by SealToPublicKey.
func OpenWithPrivateKey(privateKeyPEM []byte, sealed []byte) ([]byte, error) {
	key, err := ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}

	plaintext, err := ecies.ImportECDSA(key).Decrypt(sealed, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}
