// Package recovery implements the share recovery protocol: trust between a
// principal and its recovery agents, custody of opaque share blobs, the
// recovery session state machine, quorum evaluation and the atomic account
// commit.
//
// Service holds no recovery state of its own. Every operation is a short
// request against the injected Store, so any number of callers may use one
// Service concurrently.
package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/share-recovery-backend/cryptoutils"
	"github.com/ruteri/share-recovery-backend/interfaces"
	"github.com/ruteri/share-recovery-backend/metrics"
	"github.com/ruteri/share-recovery-backend/sqlstore"
)

// Store is the persistence the service needs. *sqlstore.Store implements
// it.
type Store interface {
	interfaces.IdentityLookup

	CreateAccount(ctx context.Context, in sqlstore.NewAccount, backups [][]byte) (*interfaces.Account, error)
	GetAccount(ctx context.Context, id interfaces.AccountID) (*interfaces.Account, error)

	InsertEdge(ctx context.Context, from, to interfaces.AccountID, backup []byte) (*interfaces.TrustEdge, error)
	AcceptEdge(ctx context.Context, id int64, acting interfaces.AccountID) (*interfaces.TrustEdge, bool, error)
	DeleteEdge(ctx context.Context, id int64, acting interfaces.AccountID) (*interfaces.TrustEdge, error)
	HasAcceptedEdge(ctx context.Context, from, to interfaces.AccountID) (bool, error)
	ListOutgoing(ctx context.Context, principal interfaces.AccountID) ([]interfaces.TrustEdgeView, error)
	ListIncoming(ctx context.Context, principal interfaces.AccountID) ([]interfaces.TrustEdgeView, error)
	AcceptedAgents(ctx context.Context, principal interfaces.AccountID) ([]interfaces.Account, error)

	InsertBackup(ctx context.Context, owner, holder interfaces.AccountID, payload []byte) (sqlstore.Ack, error)
	CountFor(ctx context.Context, owner, holder interfaces.AccountID) (int, error)
	BackupShare(ctx context.Context, owner, holder interfaces.AccountID) (*interfaces.ShareRecord, error)
	PurgeSteadyState(ctx context.Context, owner interfaces.AccountID) (sqlstore.Ack, error)

	OpenSession(ctx context.Context, sess *interfaces.RecoverySession) (string, error)
	GetSession(ctx context.Context, id string) (*interfaces.RecoverySession, error)
	DeleteSession(ctx context.Context, id string) (*interfaces.RecoverySession, error)
	EligibleFor(ctx context.Context, agent interfaces.AccountID) ([]interfaces.EligibleRecovery, error)
	UpsertSubmission(ctx context.Context, sub interfaces.Submission) (sqlstore.Ack, error)
	Submissions(ctx context.Context, recoveryUserID interfaces.AccountID) ([]interfaces.Submission, error)
	SubmissionCount(ctx context.Context, recoveryUserID interfaces.AccountID) (int, error)

	CommitRecovery(ctx context.Context, sessionID string, plan sqlstore.CommitPlanner) (*sqlstore.CommitResult, error)
}

// Config wires a Service. Only Store is required; Hasher defaults to
// argon2id with DefaultArgon2Params.
type Config struct {
	Store Store

	// Identities resolves agent identifiers. Defaults to Store.
	Identities interfaces.IdentityLookup

	Hasher interfaces.CredentialHasher

	// Notifier is optional; notifications are best effort.
	Notifier interfaces.Notifier

	// Archiver is optional; commit receipts are archived best effort.
	Archiver interfaces.Archiver

	Metrics *metrics.Recorder
	Log     *slog.Logger

	// Now and NewID override the clock and session id generator.
	Now   func() time.Time
	NewID func() string
}

type Service struct {
	store      Store
	identities interfaces.IdentityLookup
	hasher     interfaces.CredentialHasher
	notifier   interfaces.Notifier
	archiver   interfaces.Archiver
	metrics    *metrics.Recorder
	log        *slog.Logger
	now        func() time.Time
	newID      func() string
}

func NewService(cfg Config) *Service {
	s := &Service{
		store:      cfg.Store,
		identities: cfg.Identities,
		hasher:     cfg.Hasher,
		notifier:   cfg.Notifier,
		archiver:   cfg.Archiver,
		metrics:    cfg.Metrics,
		log:        cfg.Log,
		now:        cfg.Now,
		newID:      cfg.NewID,
	}
	if s.identities == nil {
		s.identities = cfg.Store
	}
	if s.hasher == nil {
		s.hasher = cryptoutils.NewArgon2Hasher()
	}
	if s.log == nil {
		s.log = slog.New(slog.DiscardHandler)
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.NewString() }
	}
	return s
}

// done maps err to the error returned across the service boundary and
// records the outcome. Untyped errors come from the store; they are logged
// here and replaced by a StoreFailure that does not carry their text.
func (s *Service) done(op string, err error) error {
	if err == nil {
		s.metrics.Operation(op, "ok")
		return nil
	}

	kind := interfaces.KindOf(err)
	if kind == interfaces.KindUnknown {
		s.log.Error("store failure", "op", op, "err", err)
		err = interfaces.Wrap(interfaces.StoreFailure, op, "storage failure", err)
		kind = interfaces.StoreFailure
	}
	s.metrics.Operation(op, kind.String())
	return err
}

func (s *Service) notify(ctx context.Context, address, template string, data map[string]any) {
	if s.notifier == nil || address == "" {
		return
	}
	delivered := s.notifier.Notify(ctx, address, template, data)
	s.metrics.Notification(template, delivered)
	if !delivered {
		s.log.Warn("notification not delivered", "template", template)
	}
}
