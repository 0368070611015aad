package sqlstore

import (
	"context"
	"fmt"

	"github.com/ruteri/share-recovery-backend/cryptoutils"
	"github.com/ruteri/share-recovery-backend/interfaces"
	"zombiezen.com/go/sqlite/sqlitex"
)

// CommitPlanner inspects a session and its submissions inside the commit
// transaction and returns the payloads to install as the account's new
// backup shares. Returning an error aborts the commit before any write.
type CommitPlanner func(sess *interfaces.RecoverySession, account *interfaces.Account, subs []interfaces.Submission) ([][]byte, error)

// CommitResult describes a completed commit.
type CommitResult struct {
	Session     *interfaces.RecoverySession
	Account     *interfaces.Account
	Installed   []interfaces.ShareRecord
	Submissions []interfaces.Submission
	Ack         Ack
}

// CommitRecovery moves the session's account into its recovered state in
// one IMMEDIATE transaction:
//
//  1. install the proposed credential hash and key pair
//  2. delete the self-custody backup shares
//  3. insert the planned payloads as self-custody backup shares
//  4. delete the session and its submissions
//
// Any failure rolls back every step.
func (s *Store) CommitRecovery(ctx context.Context, sessionID string, plan CommitPlanner) (res *CommitResult, err error) {
	const op = "commit recovery"

	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, fmt.Errorf("%s: begin: %w", op, err)
	}
	defer endFn(&err)

	sess, err := getSession(conn, sessionID)
	if err != nil {
		return nil, err
	}
	account, err := getAccount(conn, sess.AccountToRecover)
	if err != nil {
		return nil, err
	}
	subs, err := submissionsFor(conn, `session_id = ?`, sess.ID)
	if err != nil {
		return nil, err
	}

	chosen, err := plan(sess, account, subs)
	if err != nil {
		return nil, err
	}

	res = &CommitResult{Session: sess, Submissions: subs}

	err = sqlitex.Execute(conn,
		`UPDATE accounts SET credential_hash = ?, public_key = ?, private_key_blob = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{
			sess.ProposedCredentialHash, sess.ProposedPublicKey, sess.ProposedPrivateKeyBlob, int64(account.ID),
		}})
	if err != nil {
		return nil, fmt.Errorf("%s: credentials: %w", op, err)
	}
	res.Ack.Affected += conn.Changes()

	if err = purgeSelfCustody(conn, account.ID); err != nil {
		return nil, fmt.Errorf("%s: purge shares: %w", op, err)
	}
	res.Ack.Affected += conn.Changes()

	now := s.timestamp()
	for _, payload := range chosen {
		if err = insertBackup(conn, account.ID, account.ID, payload, now); err != nil {
			return nil, fmt.Errorf("%s: install shares: %w", op, err)
		}
		res.Ack.Affected += conn.Changes()
		res.Ack.InsertedID = conn.LastInsertRowID()
		res.Installed = append(res.Installed, interfaces.ShareRecord{
			ID:        conn.LastInsertRowID(),
			Owner:     account.ID,
			Holder:    account.ID,
			Payload:   payload,
			Digest:    cryptoutils.Fingerprint(payload),
			Kind:      interfaces.BackupShare,
			CreatedAt: unixTime(now),
		})
	}

	if err = deleteSession(conn, sess); err != nil {
		return nil, fmt.Errorf("%s: purge session: %w", op, err)
	}
	res.Ack.Affected += conn.Changes()

	account.CredentialHash = sess.ProposedCredentialHash
	account.PublicKey = sess.ProposedPublicKey
	account.PrivateKeyBlob = sess.ProposedPrivateKeyBlob
	res.Account = account
	return res, nil
}
