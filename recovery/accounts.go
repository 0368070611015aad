package recovery

import (
	"context"
	"strings"

	"github.com/ruteri/share-recovery-backend/cryptoutils"
	"github.com/ruteri/share-recovery-backend/interfaces"
	"github.com/ruteri/share-recovery-backend/sqlstore"
)

// Registration is a new account as submitted by a client. CredentialHash
// is the client-side hash of the user's password; it is hashed again
// before storage. Shares are the self-custody backup shares, sealed by the
// client.
type Registration struct {
	Username       string   `json:"username"`
	Email          string   `json:"email"`
	CredentialHash string   `json:"credential_hash"`
	PublicKey      string   `json:"public_key"`
	PrivateKeyBlob []byte   `json:"private_key_blob"`
	Shares         [][]byte `json:"shares"`
}

// CreateAccount registers an account together with exactly
// DefaultShareCount self-custody backup shares.
func (s *Service) CreateAccount(ctx context.Context, reg Registration) (acct *interfaces.Account, err error) {
	const op = "create_account"
	defer func() { err = s.done(op, err) }()

	reg.Username = strings.TrimSpace(reg.Username)
	reg.Email = strings.TrimSpace(reg.Email)
	switch {
	case reg.Username == "" || strings.Contains(reg.Username, "@"):
		return nil, interfaces.E(interfaces.Invalid, op, "a username without '@' is required")
	case !strings.Contains(reg.Email, "@"):
		return nil, interfaces.E(interfaces.Invalid, op, "a valid email is required")
	case reg.CredentialHash == "":
		return nil, interfaces.E(interfaces.Invalid, op, "credential hash is required")
	case len(reg.PrivateKeyBlob) == 0:
		return nil, interfaces.E(interfaces.Invalid, op, "encrypted private key is required")
	case len(reg.Shares) != interfaces.DefaultShareCount:
		return nil, interfaces.E(interfaces.Invalid, op, "exactly two backup shares are required")
	}
	for _, share := range reg.Shares {
		if len(share) == 0 {
			return nil, interfaces.E(interfaces.Invalid, op, "share value is empty")
		}
	}
	if _, perr := cryptoutils.ParsePublicKey([]byte(reg.PublicKey)); perr != nil {
		return nil, interfaces.E(interfaces.Invalid, op, "public key must be a PEM encoded ECDSA key")
	}

	hash, err := s.hasher.Hash([]byte(reg.CredentialHash))
	if err != nil {
		return nil, err
	}

	acct, err = s.store.CreateAccount(ctx, sqlstore.NewAccount{
		Username:       reg.Username,
		Email:          reg.Email,
		CredentialHash: hash,
		PublicKey:      []byte(reg.PublicKey),
		PrivateKeyBlob: reg.PrivateKeyBlob,
		ShareCount:     interfaces.DefaultShareCount,
	}, reg.Shares)
	if err != nil {
		return nil, err
	}

	s.log.Info("account created", "account", acct.ID)
	return acct, nil
}

// GetPublicKey returns the public identity of the account named by
// identifier, so a principal can seal a share for a prospective agent.
func (s *Service) GetPublicKey(ctx context.Context, identifier string) (id *interfaces.PublicIdentity, err error) {
	defer func() { err = s.done("get_public_key", err) }()

	acct, err := s.identities.FindByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}
	pub := acct.Identity()
	return &pub, nil
}

// Authenticate checks a request signature made with the account's key.
// It answers whether the caller currently controls accountID.
func (s *Service) Authenticate(ctx context.Context, accountID interfaces.AccountID, fields cryptoutils.SignedFields, signature string) (acct *interfaces.Account, err error) {
	const op = "authenticate"
	defer func() { err = s.done(op, err) }()

	acct, err = s.store.GetAccount(ctx, accountID)
	if interfaces.KindOf(err) == interfaces.NotFound {
		return nil, interfaces.E(interfaces.Forbidden, op, "unknown signer")
	}
	if err != nil {
		return nil, err
	}
	if verr := cryptoutils.VerifyMessage(acct.PublicKey, fields, signature); verr != nil {
		return nil, interfaces.E(interfaces.Forbidden, op, "invalid signature")
	}
	return acct, nil
}
