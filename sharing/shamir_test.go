package sharing

import (
	"crypto/rand"
	"testing"

	"github.com/ruteri/share-recovery-backend/cryptoutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSecret(t *testing.T) []byte {
	t.Helper()
	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)
	return secret
}

func TestSplitCombine(t *testing.T) {
	secret := newSecret(t)

	shares, err := Split(secret, 3, 2)
	require.NoError(t, err)
	require.Len(t, shares, 3)

	for _, pair := range [][2]int{{0, 1}, {0, 2}, {1, 2}} {
		got, err := Combine([][]byte{shares[pair[0]], shares[pair[1]]})
		require.NoError(t, err)
		assert.Equal(t, secret, got)
	}

	_, err = Split(secret, 3, 1)
	assert.Error(t, err, "threshold < 2")
	_, err = Split(secret, 2, 3)
	assert.Error(t, err, "threshold > parts")
	_, err = Split(secret[:8], 3, 2)
	assert.Error(t, err, "short secret")
	_, err = Combine(shares[:1])
	assert.Error(t, err)
}

func TestSplitAndSealRecoverer(t *testing.T) {
	secret := newSecret(t)

	var pubs, privs [][]byte
	for range 3 {
		pub, priv, err := cryptoutils.GenerateKeyPair()
		require.NoError(t, err)
		pubs = append(pubs, pub)
		privs = append(privs, priv)
	}

	sealed, err := SplitAndSeal(secret, pubs, 2)
	require.NoError(t, err)
	require.Len(t, sealed, 3)

	_, err = cryptoutils.OpenWithPrivateKey(privs[1], sealed[0])
	require.Error(t, err, "a share opens only with its holder's key")

	r := NewRecoverer(2)
	done, err := r.AddSealed(privs[2], sealed[2])
	require.NoError(t, err)
	assert.False(t, done)

	done, err = r.AddSealed(privs[2], sealed[2])
	require.NoError(t, err)
	assert.False(t, done, "the same share counts once")
	assert.Nil(t, r.Secret())

	done, err = r.AddSealed(privs[0], sealed[0])
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, secret, r.Secret())
}

func TestRecovererDiscardsShareThatBreaksCombine(t *testing.T) {
	secret := newSecret(t)
	shares, err := Split(secret, 3, 2)
	require.NoError(t, err)

	other, err := Split(append(newSecret(t), 0xff), 3, 2)
	require.NoError(t, err)

	r := NewRecoverer(2)
	done, err := r.Add(shares[0])
	require.NoError(t, err)
	require.False(t, done)

	done, err = r.Add(other[1])
	require.Error(t, err, "shares of different lengths do not combine")
	assert.False(t, done)
	assert.Nil(t, r.Secret())

	done, err = r.Add(shares[1])
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, secret, r.Secret())
}
