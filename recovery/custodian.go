package recovery

import (
	"context"

	"github.com/ruteri/share-recovery-backend/interfaces"
)

// Deposit stores an opaque share blob. Backup shares held by their owner
// are capped at the owner's share count. Replacement shares must name the
// live session of rec.Owner and replace any earlier share from the same
// holder.
func (s *Service) Deposit(ctx context.Context, rec interfaces.ShareRecord) (err error) {
	const op = "deposit_share"
	defer func() { err = s.done(op, err) }()

	if len(rec.Payload) == 0 {
		return interfaces.E(interfaces.Invalid, op, "share value is empty")
	}

	switch rec.Kind {
	case interfaces.BackupShare:
		if rec.Owner == rec.Holder {
			owner, err := s.store.GetAccount(ctx, rec.Owner)
			if err != nil {
				return err
			}
			n, err := s.store.CountFor(ctx, rec.Owner, rec.Holder)
			if err != nil {
				return err
			}
			if n >= owner.ShareCount {
				return interfaces.E(interfaces.Invalid, op, "backup shares already provisioned")
			}
		}
		_, err = s.store.InsertBackup(ctx, rec.Owner, rec.Holder, rec.Payload)
		return err

	case interfaces.ReplacementShare:
		if rec.SessionID == "" {
			return interfaces.E(interfaces.Invalid, op, "replacement shares require a session")
		}
		_, err = s.store.UpsertSubmission(ctx, interfaces.Submission{
			RecoveryUserID: rec.Owner,
			SessionID:      rec.SessionID,
			GivenBy:        rec.Holder,
			Payload:        rec.Payload,
		})
		return err

	default:
		return interfaces.E(interfaces.Invalid, op, "unknown share kind")
	}
}

// CountFor returns how many backup shares owner has deposited with holder.
func (s *Service) CountFor(ctx context.Context, owner, holder interfaces.AccountID) (n int, err error) {
	defer func() { err = s.done("count_shares", err) }()
	return s.store.CountFor(ctx, owner, holder)
}

// ListSessionSubmissions returns the replacement shares for the account's
// live recovery, one per agent.
func (s *Service) ListSessionSubmissions(ctx context.Context, recoveryUserID interfaces.AccountID) (subs []interfaces.Submission, err error) {
	defer func() { err = s.done("list_submissions", err) }()
	return s.store.Submissions(ctx, recoveryUserID)
}

// PurgeSteadyState deletes the owner's self-custody backup shares.
func (s *Service) PurgeSteadyState(ctx context.Context, owner interfaces.AccountID) (err error) {
	defer func() { err = s.done("purge_shares", err) }()
	_, err = s.store.PurgeSteadyState(ctx, owner)
	return err
}

// PurgeSession deletes a session and its replacement shares.
func (s *Service) PurgeSession(ctx context.Context, sessionID string) (err error) {
	defer func() { err = s.done("purge_session", err) }()
	_, err = s.store.DeleteSession(ctx, sessionID)
	return err
}
