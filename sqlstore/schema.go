package sqlstore

// Timestamps are unix nanoseconds. Backup shares live in shares;
// replacement shares live in replacement_shares, keyed by
// (recovery_user_id, given_by) so an agent holds at most one vote.
const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	username         TEXT NOT NULL UNIQUE,
	email            TEXT NOT NULL UNIQUE COLLATE NOCASE,
	credential_hash  TEXT NOT NULL,
	public_key       BLOB NOT NULL,
	private_key_blob BLOB,
	share_count      INTEGER NOT NULL DEFAULT 2,
	created_at       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trust_edges (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	from_id    INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	to_id      INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	accepted   INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	UNIQUE (from_id, to_id),
	CHECK (from_id <> to_id)
);
CREATE INDEX IF NOT EXISTS idx_trust_edges_to ON trust_edges(to_id);

CREATE TABLE IF NOT EXISTS shares (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	owner_id   INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	holder_id  INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	payload    BLOB NOT NULL,
	digest     BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_shares_owner_holder ON shares(owner_id, holder_id);

CREATE TABLE IF NOT EXISTS recovery_sessions (
	id                        TEXT PRIMARY KEY,
	account_to_recover        INTEGER NOT NULL UNIQUE REFERENCES accounts(id) ON DELETE CASCADE,
	proposed_public_key       BLOB NOT NULL,
	proposed_private_key_blob BLOB NOT NULL,
	proposed_credential_hash  TEXT NOT NULL,
	created_at                INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS replacement_shares (
	recovery_user_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	session_id       TEXT NOT NULL REFERENCES recovery_sessions(id) ON DELETE CASCADE,
	given_by         INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	payload          BLOB NOT NULL,
	digest           BLOB NOT NULL,
	submitted_at     INTEGER NOT NULL,
	PRIMARY KEY (recovery_user_id, given_by)
);
CREATE INDEX IF NOT EXISTS idx_replacement_shares_session ON replacement_shares(session_id);
`
