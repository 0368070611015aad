package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/ruteri/share-recovery-backend/cryptoutils"
	"github.com/ruteri/share-recovery-backend/interfaces"
	"github.com/ruteri/share-recovery-backend/sqlstore"
)

// Receipt is the archived record of a committed recovery.
type Receipt struct {
	SessionID    string                 `cbor:"1,keyasint" json:"session_id"`
	Account      interfaces.AccountID   `cbor:"2,keyasint" json:"account"`
	Agents       []interfaces.AccountID `cbor:"3,keyasint" json:"agents"`
	ShareDigests [][]byte               `cbor:"4,keyasint" json:"share_digests"`
	OpenedAt     time.Time              `cbor:"5,keyasint" json:"opened_at"`
	CommittedAt  time.Time              `cbor:"6,keyasint" json:"committed_at"`

	// ArchiveID is the content id the receipt was archived under, empty
	// when no archive is configured or archiving failed.
	ArchiveID string `cbor:"-" json:"archive_id,omitempty"`
}

// CommitRecovery installs the session's proposed credentials and makes
// chosen the account's new self-custody backup shares. chosen must hold
// exactly threshold payloads, each submitted to the session by a
// different agent. Every effect happens in one transaction.
func (s *Service) CommitRecovery(ctx context.Context, sessionID string, chosen [][]byte) (receipt *Receipt, err error) {
	const op = "commit_recovery"
	defer func() { err = s.done(op, err) }()

	var agents []interfaces.AccountID
	started := s.now()
	res, err := s.store.CommitRecovery(ctx, sessionID, func(_ *interfaces.RecoverySession, acct *interfaces.Account, subs []interfaces.Submission) ([][]byte, error) {
		matched, err := matchSubmissions(op, chosen, subs, ThresholdFor(acct.ShareCount))
		if err != nil {
			return nil, err
		}
		for _, sub := range matched {
			agents = append(agents, sub.GivenBy)
		}
		return chosen, nil
	})
	s.metrics.ObserveCommit(s.now().Sub(started))
	if err != nil {
		return nil, err
	}

	receipt = &Receipt{
		SessionID:   res.Session.ID,
		Account:     res.Account.ID,
		Agents:      agents,
		OpenedAt:    res.Session.CreatedAt,
		CommittedAt: s.now().UTC(),
	}
	for _, rec := range res.Installed {
		receipt.ShareDigests = append(receipt.ShareDigests, rec.Digest)
	}

	s.log.Info("recovery committed", "sessionID", res.Session.ID, "account", res.Account.ID, "rowsAffected", res.Ack.Affected)
	s.notify(ctx, res.Account.Email, "recovery-complete", map[string]any{
		"Principal": res.Account.Username,
		"SessionID": res.Session.ID,
	})
	s.archive(ctx, receipt)
	return receipt, nil
}

// matchSubmissions pairs each chosen payload with a distinct-agent
// submission carrying the same digest.
func matchSubmissions(op string, chosen [][]byte, subs []interfaces.Submission, threshold int) ([]interfaces.Submission, error) {
	if len(chosen) != threshold {
		return nil, interfaces.E(interfaces.InsufficientShares, op,
			fmt.Sprintf("exactly %d replacement shares are required, got %d", threshold, len(chosen)))
	}

	used := make(map[interfaces.AccountID]bool, len(chosen))
	matched := make([]interfaces.Submission, 0, len(chosen))
	for _, payload := range chosen {
		digest := cryptoutils.Fingerprint(payload)
		found := false
		for _, sub := range subs {
			if used[sub.GivenBy] || !cryptoutils.SameFingerprint(digest, sub.Digest) {
				continue
			}
			used[sub.GivenBy] = true
			matched = append(matched, sub)
			found = true
			break
		}
		if !found {
			return nil, interfaces.E(interfaces.InsufficientShares, op,
				"chosen shares must be submissions of this session from distinct agents")
		}
	}

	if q := Evaluate(matched, threshold); !q.Met() {
		return nil, interfaces.E(interfaces.InsufficientShares, op, "quorum not met")
	}
	return matched, nil
}

func (s *Service) archive(ctx context.Context, receipt *Receipt) {
	if s.archiver == nil {
		return
	}
	id, err := s.archiver.Archive(ctx, interfaces.ReceiptType, receipt)
	s.metrics.Archived(interfaces.ReceiptType.String(), err)
	if err != nil {
		s.log.Warn("commit receipt not archived", "sessionID", receipt.SessionID, "err", err)
		return
	}
	receipt.ArchiveID = id.String()
	s.log.Info("commit receipt archived", "sessionID", receipt.SessionID, "contentID", receipt.ArchiveID)
}

var _ Store = (*sqlstore.Store)(nil)
