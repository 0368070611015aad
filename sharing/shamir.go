// Package sharing is the client side of share custody: it splits a vault
// master secret into threshold shares, seals each share to its holder's
// public key, and reconstructs the secret from opened shares.
//
// The server never runs this code. It only ever sees the sealed output.
package sharing

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/shamir"
	"github.com/ruteri/share-recovery-backend/cryptoutils"
)

// MinSecretLen is the shortest master secret accepted by Split.
const MinSecretLen = 16

// Split divides secret into parts shares, any threshold of which
// reconstruct it.
func Split(secret []byte, parts, threshold int) ([][]byte, error) {
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("secret must be at least %d bytes", MinSecretLen)
	}
	if threshold < 2 {
		return nil, errors.New("threshold must be at least 2")
	}
	if parts < threshold {
		return nil, errors.New("total shares must be at least equal to threshold")
	}

	shares, err := shamir.Split(secret, parts, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split secret: %w", err)
	}
	return shares, nil
}

// SplitAndSeal splits secret into one share per holder key and seals each
// share to its holder. The result is index-aligned with holderKeys.
func SplitAndSeal(secret []byte, holderKeys [][]byte, threshold int) ([][]byte, error) {
	shares, err := Split(secret, len(holderKeys), threshold)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, share := range shares {
			wipeBytes(share)
		}
	}()

	sealed := make([][]byte, len(shares))
	for i, share := range shares {
		sealed[i], err = cryptoutils.SealToPublicKey(holderKeys[i], share)
		if err != nil {
			return nil, fmt.Errorf("failed to seal share %d: %w", i, err)
		}
	}
	return sealed, nil
}

// Combine reconstructs the secret from at least threshold shares.
func Combine(shares [][]byte) ([]byte, error) {
	if len(shares) < 2 {
		return nil, errors.New("at least two shares are required")
	}
	secret, err := shamir.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct secret: %w", err)
	}
	return secret, nil
}

// Recoverer collects opened shares until threshold distinct shares are
// present and then reconstructs the secret. Shares are wiped from memory
// once the secret is rebuilt.
type Recoverer struct {
	mu        sync.Mutex
	threshold int
	shares    map[string][]byte
	secret    []byte
}

func NewRecoverer(threshold int) *Recoverer {
	return &Recoverer{threshold: max(threshold, 2), shares: make(map[string][]byte)}
}

// Add records a share. done reports whether the secret is now available.
// Adding the same share twice counts once. A share that makes
// reconstruction fail is discarded.
func (r *Recoverer) Add(share []byte) (done bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.secret != nil {
		return true, nil
	}
	if len(share) < 2 {
		return false, errors.New("share too short")
	}
	key := string(share)
	if _, seen := r.shares[key]; !seen {
		r.shares[key] = append([]byte(nil), share...)
	}

	if len(r.shares) < r.threshold {
		return false, nil
	}

	collected := make([][]byte, 0, len(r.shares))
	for _, s := range r.shares {
		collected = append(collected, s)
	}
	secret, err := Combine(collected)
	if err != nil {
		// Drop the share that completed the set so a bad one cannot
		// block later attempts.
		wipeBytes(r.shares[key])
		delete(r.shares, key)
		return false, err
	}

	r.secret = secret
	for k, s := range r.shares {
		wipeBytes(s)
		delete(r.shares, k)
	}
	return true, nil
}

// AddSealed opens share with privateKeyPEM and adds it.
func (r *Recoverer) AddSealed(privateKeyPEM, sealed []byte) (bool, error) {
	share, err := cryptoutils.OpenWithPrivateKey(privateKeyPEM, sealed)
	if err != nil {
		return false, err
	}
	defer wipeBytes(share)
	return r.Add(share)
}

// Secret returns the reconstructed secret, or nil.
func (r *Recoverer) Secret() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.secret
}

func wipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
