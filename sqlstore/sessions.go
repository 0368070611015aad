package sqlstore

import (
	"context"
	"fmt"

	"github.com/ruteri/share-recovery-backend/cryptoutils"
	"github.com/ruteri/share-recovery-backend/interfaces"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const sessionColumns = `id, account_to_recover, proposed_public_key, proposed_private_key_blob, proposed_credential_hash, created_at`

// OpenSession inserts sess, replacing any live session for the same
// account together with its submissions. superseded is the id of the
// replaced session, if any.
func (s *Store) OpenSession(ctx context.Context, sess *interfaces.RecoverySession) (superseded string, err error) {
	const op = "open recovery"

	conn, err := s.take(ctx)
	if err != nil {
		return "", err
	}
	defer s.pool.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return "", fmt.Errorf("%s: begin: %w", op, err)
	}
	defer endFn(&err)

	if _, err = getAccount(conn, sess.AccountToRecover); err != nil {
		return "", err
	}

	prev, err := sessionForAccount(conn, sess.AccountToRecover)
	switch {
	case err == nil:
		if err = deleteSession(conn, prev); err != nil {
			return "", fmt.Errorf("%s: supersede: %w", op, err)
		}
		superseded = prev.ID
	case interfaces.KindOf(err) != interfaces.NotFound:
		return "", err
	}

	now := s.timestamp()
	err = sqlitex.Execute(conn,
		`INSERT INTO recovery_sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			sess.ID, int64(sess.AccountToRecover), sess.ProposedPublicKey,
			sess.ProposedPrivateKeyBlob, sess.ProposedCredentialHash, now,
		}})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	sess.CreatedAt = unixTime(now)
	return superseded, nil
}

// GetSession returns the session with id.
func (s *Store) GetSession(ctx context.Context, id string) (*interfaces.RecoverySession, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)
	return getSession(conn, id)
}

// DeleteSession removes the session and its submissions.
func (s *Store) DeleteSession(ctx context.Context, id string) (sess *interfaces.RecoverySession, err error) {
	const op = "abandon recovery"

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

	sess, err = getSession(conn, id)
	if err != nil {
		return nil, err
	}
	if err = deleteSession(conn, sess); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sess, nil
}

// EligibleFor lists live sessions for accounts that hold an accepted edge
// to agent.
func (s *Store) EligibleFor(ctx context.Context, agent interfaces.AccountID) ([]interfaces.EligibleRecovery, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	out := []interfaces.EligibleRecovery{}
	err = sqlitex.Execute(conn, `
		SELECT s.id, s.account_to_recover, a.username, a.email, s.created_at, s.proposed_public_key,
			EXISTS (SELECT 1 FROM replacement_shares r WHERE r.session_id = s.id AND r.given_by = e.to_id)
		FROM recovery_sessions s
		JOIN trust_edges e ON e.from_id = s.account_to_recover AND e.accepted = 1
		JOIN accounts a ON a.id = s.account_to_recover
		WHERE e.to_id = ?
		ORDER BY s.created_at, s.id`,
		&sqlitex.ExecOptions{
			Args: []any{int64(agent)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = append(out, interfaces.EligibleRecovery{
					SessionID:         stmt.ColumnText(0),
					AccountToRecover:  interfaces.AccountID(stmt.ColumnInt64(1)),
					Username:          stmt.ColumnText(2),
					Email:             stmt.ColumnText(3),
					CreatedAt:         columnTime(stmt, 4),
					ProposedPublicKey: columnBlob(stmt, 5),
					AlreadySubmitted:  stmt.ColumnInt64(6) != 0,
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("eligible recoveries: %w", err)
	}
	return out, nil
}

// UpsertSubmission records sub.GivenBy's replacement share for the live
// session of sub.RecoveryUserID, replacing any earlier one from the same
// agent. The agent must hold an accepted edge from the account; this is
// checked before the session. When sub.SessionID is set it must name the
// live session.
func (s *Store) UpsertSubmission(ctx context.Context, sub interfaces.Submission) (ack Ack, err error) {
	const op = "submit replacement share"

	conn, err := s.take(ctx)
	if err != nil {
		return Ack{}, err
	}
	defer s.pool.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return Ack{}, fmt.Errorf("%s: begin: %w", op, err)
	}
	defer endFn(&err)

	trusted, err := hasAcceptedEdge(conn, sub.RecoveryUserID, sub.GivenBy)
	if err != nil {
		return Ack{}, err
	}
	if !trusted {
		return Ack{}, interfaces.E(interfaces.Forbidden, op, "not an accepted recovery agent for this account")
	}

	sess, err := sessionForAccount(conn, sub.RecoveryUserID)
	if err != nil {
		return Ack{}, err
	}
	if sub.SessionID != "" && sub.SessionID != sess.ID {
		return Ack{}, notFound(op, "recovery session")
	}

	err = sqlitex.Execute(conn, `
		INSERT INTO replacement_shares (recovery_user_id, session_id, given_by, payload, digest, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (recovery_user_id, given_by) DO UPDATE SET
			session_id = excluded.session_id,
			payload = excluded.payload,
			digest = excluded.digest,
			submitted_at = excluded.submitted_at`,
		&sqlitex.ExecOptions{Args: []any{
			int64(sub.RecoveryUserID), sess.ID, int64(sub.GivenBy),
			sub.Payload, cryptoutils.Fingerprint(sub.Payload), s.timestamp(),
		}})
	if err != nil {
		return Ack{}, fmt.Errorf("%s: %w", op, err)
	}
	return Ack{Affected: conn.Changes()}, nil
}

// Submissions returns the replacement shares collected for the account,
// one per agent, oldest first.
func (s *Store) Submissions(ctx context.Context, recoveryUserID interfaces.AccountID) ([]interfaces.Submission, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)
	return submissionsFor(conn, `recovery_user_id = ?`, int64(recoveryUserID))
}

// SubmissionCount returns the number of distinct agents that submitted a
// replacement share for the account.
func (s *Store) SubmissionCount(ctx context.Context, recoveryUserID interfaces.AccountID) (int, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	var count int
	err = sqlitex.Execute(conn,
		`SELECT COUNT(DISTINCT given_by) FROM replacement_shares WHERE recovery_user_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{int64(recoveryUserID)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("count submissions: %w", err)
	}
	return count, nil
}

func submissionsFor(conn *sqlite.Conn, where string, args ...any) ([]interfaces.Submission, error) {
	subs := []interfaces.Submission{}
	err := sqlitex.Execute(conn, `
		SELECT recovery_user_id, session_id, given_by, payload, digest, submitted_at
		FROM replacement_shares WHERE `+where+` ORDER BY submitted_at, given_by`,
		&sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				subs = append(subs, interfaces.Submission{
					RecoveryUserID: interfaces.AccountID(stmt.ColumnInt64(0)),
					SessionID:      stmt.ColumnText(1),
					GivenBy:        interfaces.AccountID(stmt.ColumnInt64(2)),
					Payload:        columnBlob(stmt, 3),
					Digest:         columnBlob(stmt, 4),
					SubmittedAt:    columnTime(stmt, 5),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return subs, nil
}

func getSession(conn *sqlite.Conn, id string) (*interfaces.RecoverySession, error) {
	return querySession(conn, `SELECT `+sessionColumns+` FROM recovery_sessions WHERE id = ?`, id)
}

func sessionForAccount(conn *sqlite.Conn, account interfaces.AccountID) (*interfaces.RecoverySession, error) {
	return querySession(conn, `SELECT `+sessionColumns+` FROM recovery_sessions WHERE account_to_recover = ?`, int64(account))
}

func querySession(conn *sqlite.Conn, query string, arg any) (*interfaces.RecoverySession, error) {
	var sess *interfaces.RecoverySession
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: []any{arg},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			sess = &interfaces.RecoverySession{
				ID:                     stmt.ColumnText(0),
				AccountToRecover:       interfaces.AccountID(stmt.ColumnInt64(1)),
				ProposedPublicKey:      columnBlob(stmt, 2),
				ProposedPrivateKeyBlob: columnBlob(stmt, 3),
				ProposedCredentialHash: stmt.ColumnText(4),
				CreatedAt:              columnTime(stmt, 5),
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get recovery session: %w", err)
	}
	if sess == nil {
		return nil, notFound("get recovery session", "recovery session")
	}
	return sess, nil
}

// deleteSession removes submissions before the session row so the
// result does not depend on foreign key enforcement.
func deleteSession(conn *sqlite.Conn, sess *interfaces.RecoverySession) error {
	if err := sqlitex.Execute(conn, `DELETE FROM replacement_shares WHERE recovery_user_id = ? OR session_id = ?`,
		&sqlitex.ExecOptions{Args: []any{int64(sess.AccountToRecover), sess.ID}}); err != nil {
		return err
	}
	return sqlitex.Execute(conn, `DELETE FROM recovery_sessions WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{sess.ID}})
}
