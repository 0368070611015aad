package cryptoutils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestSealOpen tests the SealToPublicKey and OpenWithPrivateKey functions
func TestSealOpen(t *testing.T) {
	publicKeyPEM, privateKeyPEM, err := GenerateKeyPair()
	require.NoError(t, err)

	testCases := []struct {
		name string
		data []byte
	}{
		{name: "Simple string", data: []byte("share bytes for an agent")},
		{name: "Binary data", data: []byte{0x00, 0x01, 0x02, 0x03, 0xFF, 0xFE, 0xFD}},
		{name: "Long data", data: make([]byte, 1024)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sealed, err := SealToPublicKey(publicKeyPEM, tc.data)
			require.NoError(t, err)
			require.Greater(t, len(sealed), len(tc.data))

			opened, err := OpenWithPrivateKey(privateKeyPEM, sealed)
			require.NoError(t, err)
			require.Equal(t, tc.data, opened)
		})
	}
}

func TestOpenWithWrongKey(t *testing.T) {
	publicKeyPEM, _, err := GenerateKeyPair()
	require.NoError(t, err)
	_, otherPrivateKeyPEM, err := GenerateKeyPair()
	require.NoError(t, err)

	sealed, err := SealToPublicKey(publicKeyPEM, []byte("Top secret data"))
	require.NoError(t, err)

	_, err = OpenWithPrivateKey(otherPrivateKeyPEM, sealed)
	require.Error(t, err)
}

func TestSealedSharesAreAuthenticated(t *testing.T) {
	publicKeyPEM, privateKeyPEM, err := GenerateKeyPair()
	require.NoError(t, err)

	a, err := SealToPublicKey(publicKeyPEM, []byte("share"))
	require.NoError(t, err)
	b, err := SealToPublicKey(publicKeyPEM, []byte("share"))
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	a[len(a)-40] ^= 0x01
	_, err = OpenWithPrivateKey(privateKeyPEM, a)
	require.Error(t, err)
}

func TestInvalidKeyFormats(t *testing.T) {
	_, err := SealToPublicKey([]byte("not a valid PEM"), []byte("test"))
	require.Error(t, err)

	_, err = OpenWithPrivateKey([]byte("not a valid PEM"), []byte("test"))
	require.Error(t, err)

	_, privateKeyPEM, err := GenerateKeyPair()
	require.NoError(t, err)

	_, err = OpenWithPrivateKey(privateKeyPEM, []byte{0x01})
	require.Error(t, err)

	_, err = OpenWithPrivateKey(privateKeyPEM, make([]byte, 100))
	require.Error(t, err)
}

func TestArgon2Hasher(t *testing.T) {
	h := &Argon2Hasher{Params: Argon2Params{Time: 1, Memory: 1024, Threads: 1, SaltLen: 16, KeyLen: 32}}

	stored, err := h.Hash([]byte("client-side-hash"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(stored, "$argon2id$v=19$m=1024,t=1,p=1$"))

	again, err := h.Hash([]byte("client-side-hash"))
	require.NoError(t, err)
	require.NotEqual(t, stored, again, "salt must differ between hashes")

	ok, err := h.Verify([]byte("client-side-hash"), stored)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = h.Verify([]byte("wrong"), stored)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = h.Verify([]byte("client-side-hash"), "$2b$10$notargon")
	require.ErrorIs(t, err, ErrMalformedHash)

	_, err = h.Hash(nil)
	require.Error(t, err)
}

func TestSignVerifyMessage(t *testing.T) {
	publicKeyPEM, privateKeyPEM, err := GenerateKeyPair()
	require.NoError(t, err)
	key, err := ParsePrivateKey(privateKeyPEM)
	require.NoError(t, err)

	fields := SignedFields{Method: "POST", Path: "/api/trust", Timestamp: "1700000000", Body: []byte(`{"agent":"bob"}`)}
	sig, err := SignMessage(key, fields)
	require.NoError(t, err)
	require.NoError(t, VerifyMessage(publicKeyPEM, fields, sig))

	altered := []func(f *SignedFields){
		func(f *SignedFields) { f.Body = []byte(`{"agent":"eve"}`) },
		func(f *SignedFields) { f.Path = "/api/other" },
		func(f *SignedFields) { f.Method = "DELETE" },
		func(f *SignedFields) { f.Timestamp = "1700000001" },
		func(f *SignedFields) { f.Path, f.Timestamp = "/api/trust1", "700000000" },
	}
	for _, alter := range altered {
		f := fields
		alter(&f)
		require.ErrorIs(t, VerifyMessage(publicKeyPEM, f, sig), ErrInvalidSignature)
	}
	require.ErrorIs(t, VerifyMessage(publicKeyPEM, fields, "%%%"), ErrInvalidSignature)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]byte("b1"))
	require.Len(t, a, 32)
	require.True(t, SameFingerprint(a, Fingerprint([]byte("b1"))))
	require.False(t, SameFingerprint(a, Fingerprint([]byte("c1"))))
	require.False(t, SameFingerprint(a, a[:16]))
}
