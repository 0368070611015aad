package sqlstore

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/ruteri/share-recovery-backend/interfaces"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Config holds the parameters for opening a Store.
type Config struct {
	// Path is the SQLite database file. It is created if missing.
	Path string

	// PoolSize defaults to max(runtime.NumCPU(), 4).
	PoolSize int

	Logger *slog.Logger

	// Now overrides the clock used for created_at columns.
	Now func() time.Time
}

// Store is the persistent state of the recovery system. All recovery
// state lives here; nothing is cached in memory between calls, so a
// single Store may serve any number of concurrent request handlers.
type Store struct {
	pool *sqlitex.Pool
	log  *slog.Logger
	now  func() time.Time
	path string
}

// Ack is the result of a write.
type Ack struct {
	Affected   int
	InsertedID int64
}

// Open creates the connection pool and applies the schema to every
// connection on first use.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlstore: Path is required")
	}

	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = max(runtime.NumCPU(), 4)
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: opening %s: %w", cfg.Path, err)
	}

	log.Info("sqlite store opened", "path", cfg.Path, "poolSize", poolSize)

	return &Store{pool: pool, log: log, now: now, path: cfg.Path}, nil
}

// Close closes all connections. It blocks until borrowed connections are
// returned.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("sqlstore: closing %s: %w", s.path, err)
	}
	s.log.Info("sqlite store closed", "path", s.path)
	return nil
}

// Ping checks that a connection can be taken and used.
func (s *Store) Ping(ctx context.Context) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	return sqlitex.ExecuteTransient(conn, "SELECT 1", nil)
}

func (s *Store) take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: take: %w", err)
	}
	return conn, nil
}

func (s *Store) timestamp() int64 {
	return s.now().UnixNano()
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlstore: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("sqlstore: applying schema: %w", err)
	}
	return nil
}

func columnBlob(stmt *sqlite.Stmt, col int) []byte {
	if stmt.ColumnIsNull(col) {
		return nil
	}
	buf := make([]byte, stmt.ColumnLen(col))
	stmt.ColumnBytes(col, buf)
	return buf
}

func columnTime(stmt *sqlite.Stmt, col int) time.Time {
	return time.Unix(0, stmt.ColumnInt64(col)).UTC()
}

func isConstraint(err error, codes ...sqlite.ResultCode) bool {
	code := sqlite.ErrCode(err)
	for _, c := range codes {
		if code == c {
			return true
		}
	}
	return false
}

func notFound(op, what string) error {
	return interfaces.E(interfaces.NotFound, op, what+" not found")
}

func unixTime(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
