package sqlstore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/ruteri/share-recovery-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zombiezen.com/go/sqlite/sqlitex"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tick := 0
	s, err := Open(Config{
		Path:     filepath.Join(t.TempDir(), "recovery.db"),
		PoolSize: 2,
		Now: func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Second)
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createAccount(t *testing.T, s *Store, name string, backups ...[]byte) *interfaces.Account {
	t.Helper()
	acct, err := s.CreateAccount(context.Background(), NewAccount{
		Username:       name,
		Email:          name + "@example.com",
		CredentialHash: "hash-" + name,
		PublicKey:      []byte("pub-" + name),
		PrivateKeyBlob: []byte("priv-" + name),
	}, backups)
	require.NoError(t, err)
	return acct
}

func trust(t *testing.T, s *Store, from, to interfaces.AccountID) *interfaces.TrustEdge {
	t.Helper()
	ctx := context.Background()
	edge, err := s.InsertEdge(ctx, from, to, nil)
	require.NoError(t, err)
	_, _, err = s.AcceptEdge(ctx, edge.ID, to)
	require.NoError(t, err)
	return edge
}

func TestAccountLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := createAccount(t, s, "alice", []byte("a1"), []byte("a2"))

	for _, ident := range []string{alice.ID.String(), "alice", "ALICE@example.com", " alice "} {
		t.Run(ident, func(t *testing.T) {
			got, err := s.FindByIdentifier(ctx, ident)
			require.NoError(t, err)
			assert.Equal(t, alice.ID, got.ID)
			assert.Equal(t, interfaces.DefaultShareCount, got.ShareCount)
		})
	}

	_, err := s.FindByIdentifier(ctx, "nobody")
	assert.Equal(t, interfaces.NotFound, interfaces.KindOf(err))

	_, err = s.CreateAccount(ctx, NewAccount{Username: "alice", Email: "other@example.com", CredentialHash: "h", PublicKey: []byte("p")}, nil)
	assert.Equal(t, interfaces.AlreadyExists, interfaces.KindOf(err))

	n, err := s.CountFor(ctx, alice.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestTrustEdges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := createAccount(t, s, "alice")
	bob := createAccount(t, s, "bob")
	carol := createAccount(t, s, "carol")

	edge, err := s.InsertEdge(ctx, alice.ID, bob.ID, []byte("bob-holds-this"))
	require.NoError(t, err)
	assert.False(t, edge.Accepted)

	_, err = s.InsertEdge(ctx, alice.ID, bob.ID, nil)
	assert.Equal(t, interfaces.AlreadyExists, interfaces.KindOf(err))

	_, err = s.InsertEdge(ctx, alice.ID, alice.ID, nil)
	assert.Equal(t, interfaces.Invalid, interfaces.KindOf(err))

	_, _, err = s.AcceptEdge(ctx, edge.ID, alice.ID)
	assert.Equal(t, interfaces.Forbidden, interfaces.KindOf(err))

	_, changed, err := s.AcceptEdge(ctx, edge.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	accepted, changed, err := s.AcceptEdge(ctx, edge.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.True(t, accepted.Accepted)

	out, err := s.ListOutgoing(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "bob", out[0].Counterpart.Username)

	in, err := s.ListIncoming(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, "alice", in[0].Counterpart.Username)

	_, err = s.DeleteEdge(ctx, edge.ID, carol.ID)
	assert.Equal(t, interfaces.Forbidden, interfaces.KindOf(err))

	_, err = s.DeleteEdge(ctx, edge.ID, alice.ID)
	require.NoError(t, err)

	n, err := s.CountFor(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Zero(t, n, "agent backup share goes with the edge")

	_, err = s.GetEdge(ctx, edge.ID)
	assert.Equal(t, interfaces.NotFound, interfaces.KindOf(err))
}

func TestSubmissionsUpsertPerAgent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := createAccount(t, s, "alice")
	bob := createAccount(t, s, "bob")
	trust(t, s, alice.ID, bob.ID)

	_, err := s.UpsertSubmission(ctx, interfaces.Submission{RecoveryUserID: alice.ID, GivenBy: bob.ID, Payload: []byte("b0")})
	assert.Equal(t, interfaces.NotFound, interfaces.KindOf(err), "no live session")

	sess := &interfaces.RecoverySession{ID: "s1", AccountToRecover: alice.ID, ProposedPublicKey: []byte("pk"), ProposedPrivateKeyBlob: []byte("sk"), ProposedCredentialHash: "H"}
	_, err = s.OpenSession(ctx, sess)
	require.NoError(t, err)

	for _, payload := range []string{"b1", "b1-retry"} {
		_, err = s.UpsertSubmission(ctx, interfaces.Submission{RecoveryUserID: alice.ID, GivenBy: bob.ID, Payload: []byte(payload)})
		require.NoError(t, err)
	}

	count, err := s.SubmissionCount(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	subs, err := s.Submissions(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, []byte("b1-retry"), subs[0].Payload)
	assert.Equal(t, "s1", subs[0].SessionID)

	_, err = s.UpsertSubmission(ctx, interfaces.Submission{RecoveryUserID: alice.ID, SessionID: "stale", GivenBy: bob.ID, Payload: []byte("b2")})
	assert.Equal(t, interfaces.NotFound, interfaces.KindOf(err))
}

func TestOpenSessionSupersedes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := createAccount(t, s, "alice")
	bob := createAccount(t, s, "bob")
	trust(t, s, alice.ID, bob.ID)

	first := &interfaces.RecoverySession{ID: "first", AccountToRecover: alice.ID, ProposedPublicKey: []byte("pk"), ProposedPrivateKeyBlob: []byte("sk"), ProposedCredentialHash: "H1"}
	superseded, err := s.OpenSession(ctx, first)
	require.NoError(t, err)
	assert.Empty(t, superseded)

	_, err = s.UpsertSubmission(ctx, interfaces.Submission{RecoveryUserID: alice.ID, GivenBy: bob.ID, Payload: []byte("b1")})
	require.NoError(t, err)

	second := &interfaces.RecoverySession{ID: "second", AccountToRecover: alice.ID, ProposedPublicKey: []byte("pk2"), ProposedPrivateKeyBlob: []byte("sk2"), ProposedCredentialHash: "H2"}
	superseded, err = s.OpenSession(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "first", superseded)

	_, err = s.GetSession(ctx, "first")
	assert.Equal(t, interfaces.NotFound, interfaces.KindOf(err))

	count, err := s.SubmissionCount(ctx, alice.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	eligible, err := s.EligibleFor(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, "second", eligible[0].SessionID)
	assert.False(t, eligible[0].AlreadySubmitted)
	assert.Equal(t, []byte("pk2"), eligible[0].ProposedPublicKey)
}

func TestCommitRecovery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := createAccount(t, s, "alice", []byte("old1"), []byte("old2"))
	bob := createAccount(t, s, "bob")
	_, err := s.InsertEdge(ctx, alice.ID, bob.ID, []byte("held-by-bob"))
	require.NoError(t, err)

	sess := &interfaces.RecoverySession{ID: "s1", AccountToRecover: alice.ID, ProposedPublicKey: []byte("newpk"), ProposedPrivateKeyBlob: []byte("newsk"), ProposedCredentialHash: "H"}
	_, err = s.OpenSession(ctx, sess)
	require.NoError(t, err)

	res, err := s.CommitRecovery(ctx, "s1", func(_ *interfaces.RecoverySession, _ *interfaces.Account, _ []interfaces.Submission) ([][]byte, error) {
		return [][]byte{[]byte("b1"), []byte("c1")}, nil
	})
	require.NoError(t, err)
	assert.Len(t, res.Installed, 2)

	got, err := s.GetAccount(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "H", got.CredentialHash)
	assert.Equal(t, []byte("newpk"), got.PublicKey)

	self, err := s.listBackups(ctx, `WHERE owner_id = ? AND holder_id = ? ORDER BY id`, int64(alice.ID), int64(alice.ID))
	require.NoError(t, err)
	require.Len(t, self, 2)
	assert.Equal(t, []byte("b1"), self[0].Payload)
	assert.Equal(t, []byte("c1"), self[1].Payload)

	n, err := s.CountFor(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "agent-held backups survive a commit")

	_, err = s.GetSession(ctx, "s1")
	assert.Equal(t, interfaces.NotFound, interfaces.KindOf(err))
}

func TestCommitRecoveryRollsBackOnFault(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := createAccount(t, s, "alice", []byte("old1"), []byte("old2"))

	sess := &interfaces.RecoverySession{ID: "s1", AccountToRecover: alice.ID, ProposedPublicKey: []byte("newpk"), ProposedPrivateKeyBlob: []byte("newsk"), ProposedCredentialHash: "H"}
	_, err := s.OpenSession(ctx, sess)
	require.NoError(t, err)

	// Fail the third step, after the credential swap and the purge.
	conn, err := s.pool.Take(ctx)
	require.NoError(t, err)
	err = sqlitex.ExecuteScript(conn, `
		CREATE TRIGGER fail_backup_insert BEFORE INSERT ON shares
		BEGIN SELECT RAISE(ABORT, 'injected fault'); END;`, nil)
	s.pool.Put(conn)
	require.NoError(t, err)

	_, err = s.CommitRecovery(ctx, "s1", func(_ *interfaces.RecoverySession, _ *interfaces.Account, _ []interfaces.Submission) ([][]byte, error) {
		return [][]byte{[]byte("b1"), []byte("c1")}, nil
	})
	require.Error(t, err)
	assert.Equal(t, interfaces.KindUnknown, interfaces.KindOf(err))

	got, err := s.GetAccount(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "hash-alice", got.CredentialHash)
	assert.Equal(t, []byte("pub-alice"), got.PublicKey)

	shares, err := s.BackupShares(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, shares, 2)
	assert.Equal(t, []byte("old1"), shares[0].Payload)
	assert.Equal(t, []byte("old2"), shares[1].Payload)

	_, err = s.GetSession(ctx, "s1")
	require.NoError(t, err, "session survives a failed commit")
}

func TestCommitPlannerErrorAborts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := createAccount(t, s, "alice", []byte("old1"))

	_, err := s.OpenSession(ctx, &interfaces.RecoverySession{ID: "s1", AccountToRecover: alice.ID, ProposedPublicKey: []byte("pk"), ProposedPrivateKeyBlob: []byte("sk"), ProposedCredentialHash: "H"})
	require.NoError(t, err)

	planErr := interfaces.E(interfaces.InsufficientShares, "commit", "need 2 shares")
	_, err = s.CommitRecovery(ctx, "s1", func(*interfaces.RecoverySession, *interfaces.Account, []interfaces.Submission) ([][]byte, error) {
		return nil, planErr
	})
	assert.ErrorIs(t, err, interfaces.ErrInsufficientShares)

	_, err = s.CommitRecovery(ctx, "missing", func(*interfaces.RecoverySession, *interfaces.Account, []interfaces.Submission) ([][]byte, error) {
		return nil, fmt.Errorf("not reached")
	})
	assert.Equal(t, interfaces.NotFound, interfaces.KindOf(err))
}
