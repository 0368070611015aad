package sqlstore

import (
	"context"
	"fmt"

	"github.com/ruteri/share-recovery-backend/interfaces"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// InsertBackup stores a steady-state backup share.
func (s *Store) InsertBackup(ctx context.Context, owner, holder interfaces.AccountID, payload []byte) (Ack, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return Ack{}, err
	}
	defer s.pool.Put(conn)

	err = insertBackup(conn, owner, holder, payload, s.timestamp())
	if isConstraint(err, sqlite.ResultConstraintForeignKey) {
		return Ack{}, notFound("deposit share", "account")
	}
	if err != nil {
		return Ack{}, fmt.Errorf("deposit share: %w", err)
	}
	return Ack{Affected: conn.Changes(), InsertedID: conn.LastInsertRowID()}, nil
}

// CountFor returns the number of backup shares owner has deposited with
// holder.
func (s *Store) CountFor(ctx context.Context, owner, holder interfaces.AccountID) (int, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	var count int
	err = sqlitex.Execute(conn, `SELECT COUNT(*) FROM shares WHERE owner_id = ? AND holder_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{int64(owner), int64(holder)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("count shares: %w", err)
	}
	return count, nil
}

// BackupShare returns the most recent backup share owner deposited with
// holder.
func (s *Store) BackupShare(ctx context.Context, owner, holder interfaces.AccountID) (*interfaces.ShareRecord, error) {
	shares, err := s.listBackups(ctx,
		`WHERE owner_id = ? AND holder_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		int64(owner), int64(holder))
	if err != nil {
		return nil, err
	}
	if len(shares) == 0 {
		return nil, notFound("get backup share", "backup share")
	}
	return &shares[0], nil
}

// BackupShares returns every backup share of owner, whoever holds it.
func (s *Store) BackupShares(ctx context.Context, owner interfaces.AccountID) ([]interfaces.ShareRecord, error) {
	return s.listBackups(ctx, `WHERE owner_id = ? ORDER BY id`, int64(owner))
}

// PurgeSteadyState deletes the self-custody backup shares of owner.
// Shares held by agents are kept.
func (s *Store) PurgeSteadyState(ctx context.Context, owner interfaces.AccountID) (Ack, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return Ack{}, err
	}
	defer s.pool.Put(conn)

	if err := purgeSelfCustody(conn, owner); err != nil {
		return Ack{}, fmt.Errorf("purge shares: %w", err)
	}
	return Ack{Affected: conn.Changes()}, nil
}

func (s *Store) listBackups(ctx context.Context, where string, args ...any) ([]interfaces.ShareRecord, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	shares := []interfaces.ShareRecord{}
	err = sqlitex.Execute(conn,
		`SELECT id, owner_id, holder_id, payload, digest, created_at FROM shares `+where,
		&sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				shares = append(shares, interfaces.ShareRecord{
					ID:        stmt.ColumnInt64(0),
					Owner:     interfaces.AccountID(stmt.ColumnInt64(1)),
					Holder:    interfaces.AccountID(stmt.ColumnInt64(2)),
					Payload:   columnBlob(stmt, 3),
					Digest:    columnBlob(stmt, 4),
					Kind:      interfaces.BackupShare,
					CreatedAt: columnTime(stmt, 5),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	return shares, nil
}

func purgeSelfCustody(conn *sqlite.Conn, owner interfaces.AccountID) error {
	return sqlitex.Execute(conn, `DELETE FROM shares WHERE owner_id = ? AND holder_id = ?`,
		&sqlitex.ExecOptions{Args: []any{int64(owner), int64(owner)}})
}
