package sqlstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ruteri/share-recovery-backend/cryptoutils"
	"github.com/ruteri/share-recovery-backend/interfaces"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const accountColumns = `id, username, email, credential_hash, public_key, private_key_blob, share_count, created_at`

// NewAccount is the input to CreateAccount. CredentialHash must already be
// hashed for storage.
type NewAccount struct {
	Username       string
	Email          string
	CredentialHash string
	PublicKey      []byte
	PrivateKeyBlob []byte
	ShareCount     int
}

// CreateAccount inserts the account and its self-custody backup shares in
// one transaction.
func (s *Store) CreateAccount(ctx context.Context, in NewAccount, backups [][]byte) (acct *interfaces.Account, err error) {
	const op = "create account"

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

	shareCount := in.ShareCount
	if shareCount <= 0 {
		shareCount = interfaces.DefaultShareCount
	}
	now := s.timestamp()

	err = sqlitex.Execute(conn,
		`INSERT INTO accounts (username, email, credential_hash, public_key, private_key_blob, share_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{in.Username, in.Email, in.CredentialHash, in.PublicKey, in.PrivateKeyBlob, int64(shareCount), now}})
	if isConstraint(err, sqlite.ResultConstraintUnique) {
		return nil, interfaces.E(interfaces.AlreadyExists, op, "username or email already registered")
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	id := interfaces.AccountID(conn.LastInsertRowID())

	for _, payload := range backups {
		if err = insertBackup(conn, id, id, payload, now); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	return &interfaces.Account{
		ID:             id,
		Username:       in.Username,
		Email:          in.Email,
		CredentialHash: in.CredentialHash,
		PublicKey:      in.PublicKey,
		PrivateKeyBlob: in.PrivateKeyBlob,
		ShareCount:     shareCount,
		CreatedAt:      unixTime(now),
	}, nil
}

// GetAccount returns the account with id.
func (s *Store) GetAccount(ctx context.Context, id interfaces.AccountID) (*interfaces.Account, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)
	return getAccount(conn, id)
}

// FindByIdentifier resolves a numeric id, an email (anything containing
// "@") or a username.
func (s *Store) FindByIdentifier(ctx context.Context, identifier string) (*interfaces.Account, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, interfaces.E(interfaces.Invalid, "find account", "identifier is required")
	}

	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	if id, perr := strconv.ParseInt(identifier, 10, 64); perr == nil {
		return getAccount(conn, interfaces.AccountID(id))
	}

	column := "username"
	if strings.Contains(identifier, "@") {
		column = "email"
	}
	return queryAccount(conn, `SELECT `+accountColumns+` FROM accounts WHERE `+column+` = ?`, identifier)
}

func getAccount(conn *sqlite.Conn, id interfaces.AccountID) (*interfaces.Account, error) {
	return queryAccount(conn, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, int64(id))
}

func queryAccount(conn *sqlite.Conn, query string, args ...any) (*interfaces.Account, error) {
	var acct *interfaces.Account
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			acct = scanAccount(stmt)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	if acct == nil {
		return nil, notFound("find account", "account")
	}
	return acct, nil
}

func scanAccount(stmt *sqlite.Stmt) *interfaces.Account {
	return &interfaces.Account{
		ID:             interfaces.AccountID(stmt.ColumnInt64(0)),
		Username:       stmt.ColumnText(1),
		Email:          stmt.ColumnText(2),
		CredentialHash: stmt.ColumnText(3),
		PublicKey:      columnBlob(stmt, 4),
		PrivateKeyBlob: columnBlob(stmt, 5),
		ShareCount:     stmt.ColumnInt(6),
		CreatedAt:      columnTime(stmt, 7),
	}
}

func insertBackup(conn *sqlite.Conn, owner, holder interfaces.AccountID, payload []byte, now int64) error {
	return sqlitex.Execute(conn,
		`INSERT INTO shares (owner_id, holder_id, payload, digest, created_at) VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{int64(owner), int64(holder), payload, cryptoutils.Fingerprint(payload), now}})
}
