package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrInvalidSignature = errors.New("invalid signature")

// SignedFields are the parts of an HTTP request covered by its signature.
// Timestamp is the decimal unix time the client sent in the request.
type SignedFields struct {
	Method    string
	Path      string
	Timestamp string
	Body      []byte
}

// RequestDigest is the value signed for an authenticated request. Every
// field is length prefixed.
func RequestDigest(f SignedFields) [32]byte {
	h := sha256.New()
	for _, part := range [][]byte{[]byte(f.Method), []byte(f.Path), []byte(f.Timestamp), f.Body} {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(part)))
		h.Write(n[:])
		h.Write(part)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}

// SignMessage signs f and returns the base64 ASN.1 signature.
func SignMessage(privateKey *ecdsa.PrivateKey, f SignedFields) (string, error) {
	digest := RequestDigest(f)
	sig, err := ecdsa.SignASN1(rand.Reader, privateKey, digest[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign request: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifyMessage checks a signature produced by SignMessage against a PEM
// public key.
func VerifyMessage(publicKeyPEM []byte, f SignedFields, signature string) error {
	pub, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return err
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: encoding", ErrInvalidSignature)
	}

	digest := RequestDigest(f)
	if !ecdsa.VerifyASN1(pub, digest[:], sig) {
		return ErrInvalidSignature
	}
	return nil
}
