package sqlstore

import (
	"context"
	"fmt"

	"github.com/ruteri/share-recovery-backend/interfaces"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// InsertEdge creates a pending edge from -> to. A non-empty backup payload
// is deposited as the agent's backup share of from in the same
// transaction.
func (s *Store) InsertEdge(ctx context.Context, from, to interfaces.AccountID, backup []byte) (edge *interfaces.TrustEdge, err error) {
	const op = "request trust"

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

	now := s.timestamp()
	err = sqlitex.Execute(conn,
		`INSERT INTO trust_edges (from_id, to_id, accepted, created_at) VALUES (?, ?, 0, ?)`,
		&sqlitex.ExecOptions{Args: []any{int64(from), int64(to), now}})
	switch {
	case isConstraint(err, sqlite.ResultConstraintUnique):
		return nil, interfaces.E(interfaces.AlreadyExists, op, "trust relationship already exists")
	case isConstraint(err, sqlite.ResultConstraintCheck):
		return nil, interfaces.E(interfaces.Invalid, op, "cannot trust yourself")
	case isConstraint(err, sqlite.ResultConstraintForeignKey):
		return nil, notFound(op, "account")
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	id := conn.LastInsertRowID()

	if len(backup) > 0 {
		if err = insertBackup(conn, from, to, backup, now); err != nil {
			return nil, fmt.Errorf("%s: backup share: %w", op, err)
		}
	}

	return &interfaces.TrustEdge{ID: id, From: from, To: to, CreatedAt: unixTime(now)}, nil
}

// GetEdge returns the edge with id.
func (s *Store) GetEdge(ctx context.Context, id int64) (*interfaces.TrustEdge, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)
	return getEdge(conn, id)
}

// AcceptEdge flips accepted to true if acting is the edge's agent.
// changed reports whether this call performed the flip.
func (s *Store) AcceptEdge(ctx context.Context, id int64, acting interfaces.AccountID) (edge *interfaces.TrustEdge, changed bool, err error) {
	const op = "accept trust"

	conn, err := s.take(ctx)
	if err != nil {
		return nil, false, err
	}
	defer s.pool.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, false, fmt.Errorf("%s: begin: %w", op, err)
	}
	defer endFn(&err)

	edge, err = getEdge(conn, id)
	if err != nil {
		return nil, false, err
	}
	if edge.To != acting {
		return nil, false, interfaces.E(interfaces.Forbidden, op, "only the invited agent may accept")
	}
	if edge.Accepted {
		return edge, false, nil
	}

	err = sqlitex.Execute(conn, `UPDATE trust_edges SET accepted = 1 WHERE id = ? AND to_id = ?`,
		&sqlitex.ExecOptions{Args: []any{id, int64(acting)}})
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	edge.Accepted = true
	return edge, conn.Changes() > 0, nil
}

// DeleteEdge removes the edge if acting is either party. The agent's
// backup share of the principal is removed with it.
func (s *Store) DeleteEdge(ctx context.Context, id int64, acting interfaces.AccountID) (edge *interfaces.TrustEdge, err error) {
	const op = "revoke trust"

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

	edge, err = getEdge(conn, id)
	if err != nil {
		return nil, err
	}
	if edge.From != acting && edge.To != acting {
		return nil, interfaces.E(interfaces.Forbidden, op, "not a party to this trust relationship")
	}

	if err = sqlitex.Execute(conn, `DELETE FROM trust_edges WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{id}}); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = sqlitex.Execute(conn, `DELETE FROM shares WHERE owner_id = ? AND holder_id = ?`,
		&sqlitex.ExecOptions{Args: []any{int64(edge.From), int64(edge.To)}}); err != nil {
		return nil, fmt.Errorf("%s: shares: %w", op, err)
	}
	return edge, nil
}

// HasAcceptedEdge reports whether an accepted edge from -> to exists.
func (s *Store) HasAcceptedEdge(ctx context.Context, from, to interfaces.AccountID) (bool, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)
	return hasAcceptedEdge(conn, from, to)
}

// ListOutgoing returns the edges where principal is the truster, joined
// with each agent's identity.
func (s *Store) ListOutgoing(ctx context.Context, principal interfaces.AccountID) ([]interfaces.TrustEdgeView, error) {
	return s.listEdges(ctx, `
		SELECT e.id, e.from_id, e.to_id, e.accepted, e.created_at, a.id, a.username, a.email, a.public_key
		FROM trust_edges e JOIN accounts a ON a.id = e.to_id
		WHERE e.from_id = ? ORDER BY e.created_at, e.id`, principal)
}

// ListIncoming returns the edges where principal is the agent, joined with
// each truster's identity.
func (s *Store) ListIncoming(ctx context.Context, principal interfaces.AccountID) ([]interfaces.TrustEdgeView, error) {
	return s.listEdges(ctx, `
		SELECT e.id, e.from_id, e.to_id, e.accepted, e.created_at, a.id, a.username, a.email, a.public_key
		FROM trust_edges e JOIN accounts a ON a.id = e.from_id
		WHERE e.to_id = ? ORDER BY e.created_at, e.id`, principal)
}

// AcceptedAgents returns the accounts holding an accepted edge from
// principal.
func (s *Store) AcceptedAgents(ctx context.Context, principal interfaces.AccountID) ([]interfaces.Account, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var agents []interfaces.Account
	err = sqlitex.Execute(conn, `
		SELECT a.id, a.username, a.email, a.credential_hash, a.public_key, a.private_key_blob, a.share_count, a.created_at
		FROM trust_edges e JOIN accounts a ON a.id = e.to_id
		WHERE e.from_id = ? AND e.accepted = 1 ORDER BY a.id`,
		&sqlitex.ExecOptions{
			Args: []any{int64(principal)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				agents = append(agents, *scanAccount(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("accepted agents: %w", err)
	}
	return agents, nil
}

func (s *Store) listEdges(ctx context.Context, query string, principal interfaces.AccountID) ([]interfaces.TrustEdgeView, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	views := []interfaces.TrustEdgeView{}
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: []any{int64(principal)},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			views = append(views, interfaces.TrustEdgeView{
				TrustEdge: scanEdge(stmt),
				Counterpart: interfaces.PublicIdentity{
					ID:        interfaces.AccountID(stmt.ColumnInt64(5)),
					Username:  stmt.ColumnText(6),
					Email:     stmt.ColumnText(7),
					PublicKey: columnBlob(stmt, 8),
				},
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("list trust edges: %w", err)
	}
	return views, nil
}

func getEdge(conn *sqlite.Conn, id int64) (*interfaces.TrustEdge, error) {
	var edge *interfaces.TrustEdge
	err := sqlitex.Execute(conn,
		`SELECT id, from_id, to_id, accepted, created_at FROM trust_edges WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				e := scanEdge(stmt)
				edge = &e
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("get trust edge: %w", err)
	}
	if edge == nil {
		return nil, notFound("get trust edge", "trust relationship")
	}
	return edge, nil
}

func scanEdge(stmt *sqlite.Stmt) interfaces.TrustEdge {
	return interfaces.TrustEdge{
		ID:        stmt.ColumnInt64(0),
		From:      interfaces.AccountID(stmt.ColumnInt64(1)),
		To:        interfaces.AccountID(stmt.ColumnInt64(2)),
		Accepted:  stmt.ColumnInt64(3) != 0,
		CreatedAt: columnTime(stmt, 4),
	}
}

func hasAcceptedEdge(conn *sqlite.Conn, from, to interfaces.AccountID) (bool, error) {
	found := false
	err := sqlitex.Execute(conn,
		`SELECT 1 FROM trust_edges WHERE from_id = ? AND to_id = ? AND accepted = 1`,
		&sqlitex.ExecOptions{
			Args: []any{int64(from), int64(to)},
			ResultFunc: func(*sqlite.Stmt) error {
				found = true
				return nil
			},
		})
	if err != nil {
		return false, fmt.Errorf("check trust edge: %w", err)
	}
	return found, nil
}
