package interfaces

import (
	"strconv"
	"time"
)

// AccountID identifies an account. It is the store's row id.
type AccountID int64

// String returns the decimal representation.
func (id AccountID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseAccountID parses a decimal account id.
func ParseAccountID(s string) (AccountID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return AccountID(v), nil
}

// DefaultShareCount is the number of self-custody backup shares an account
// is provisioned with.
const DefaultShareCount = 2

// Account is a vault owner.
type Account struct {
	ID             AccountID `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	CredentialHash string    `json:"-"`
	PublicKey      []byte    `json:"public_key"`
	PrivateKeyBlob []byte    `json:"private_key_blob,omitempty"`
	ShareCount     int       `json:"share_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// PublicIdentity is the part of an account shown to counterparties.
type PublicIdentity struct {
	ID        AccountID `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	PublicKey []byte    `json:"public_key"`
}

// Identity returns the public projection of the account.
func (a *Account) Identity() PublicIdentity {
	return PublicIdentity{ID: a.ID, Username: a.Username, Email: a.Email, PublicKey: a.PublicKey}
}

// TrustEdge is a directed trust relationship from a principal to an agent.
type TrustEdge struct {
	ID        int64     `json:"id"`
	From      AccountID `json:"from"`
	To        AccountID `json:"to"`
	Accepted  bool      `json:"accepted"`
	CreatedAt time.Time `json:"created_at"`
}

// TrustEdgeView is an edge joined with the counterpart's public identity.
type TrustEdgeView struct {
	TrustEdge
	Counterpart PublicIdentity `json:"counterpart"`
}

// ShareKind distinguishes steady-state shares from in-flight ones.
type ShareKind int

const (
	BackupShare ShareKind = iota
	ReplacementShare
)

func (k ShareKind) String() string {
	switch k {
	case BackupShare:
		return "backup"
	case ReplacementShare:
		return "replacement"
	default:
		return "unknown"
	}
}

// ShareRecord is an opaque share blob held for Owner by Holder.
type ShareRecord struct {
	ID        int64     `json:"id"`
	Owner     AccountID `json:"owner_id"`
	Holder    AccountID `json:"holder_id"`
	Payload   []byte    `json:"payload"`
	Kind      ShareKind `json:"kind"`
	SessionID string    `json:"session_id,omitempty"`
	Digest    []byte    `json:"digest,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RecoverySession is an open attempt to recover AccountToRecover.
type RecoverySession struct {
	ID                     string    `json:"id"`
	AccountToRecover       AccountID `json:"account_to_recover"`
	ProposedPublicKey      []byte    `json:"proposed_public_key"`
	ProposedPrivateKeyBlob []byte    `json:"proposed_private_key_blob"`
	ProposedCredentialHash string    `json:"-"`
	CreatedAt              time.Time `json:"created_at"`
}

// Submission is a replacement share given by an agent for a recovery.
type Submission struct {
	RecoveryUserID AccountID `json:"recovery_user_id"`
	SessionID      string    `json:"session_id"`
	GivenBy        AccountID `json:"given_by"`
	Payload        []byte    `json:"payload"`
	Digest         []byte    `json:"digest"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// EligibleRecovery is a recovery an agent may contribute to. Replacement
// shares are sealed to ProposedPublicKey.
type EligibleRecovery struct {
	SessionID         string    `json:"session_id"`
	AccountToRecover  AccountID `json:"account_to_recover"`
	Username          string    `json:"username"`
	Email             string    `json:"email"`
	CreatedAt         time.Time `json:"created_at"`
	ProposedPublicKey []byte    `json:"proposed_public_key"`
	AlreadySubmitted  bool      `json:"already_submitted"`
}
