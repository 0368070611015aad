package recovery

import (
	"context"

	"github.com/ruteri/share-recovery-backend/interfaces"
)

// OpenRequest describes the state a recovered account will move to.
// CredentialHash is the client-side hash of the new password.
type OpenRequest struct {
	Account        string `json:"account"`
	PublicKey      string `json:"public_key"`
	PrivateKeyBlob []byte `json:"private_key_blob"`
	CredentialHash string `json:"credential_hash"`
}

// OpenRecovery starts recovering the account named by req.Account and
// returns the new session. A live session for the same account is
// abandoned in the same transaction.
func (s *Service) OpenRecovery(ctx context.Context, req OpenRequest) (sess *interfaces.RecoverySession, err error) {
	const op = "open_recovery"
	defer func() { err = s.done(op, err) }()

	acct, err := s.identities.FindByIdentifier(ctx, req.Account)
	if err != nil {
		return nil, err
	}
	switch {
	case req.PublicKey == "":
		return nil, interfaces.E(interfaces.Invalid, op, "proposed public key is required")
	case len(req.PrivateKeyBlob) == 0:
		return nil, interfaces.E(interfaces.Invalid, op, "proposed private key is required")
	case req.CredentialHash == "":
		return nil, interfaces.E(interfaces.Invalid, op, "proposed credential hash is required")
	}

	hash, err := s.hasher.Hash([]byte(req.CredentialHash))
	if err != nil {
		return nil, err
	}

	sess = &interfaces.RecoverySession{
		ID:                     s.newID(),
		AccountToRecover:       acct.ID,
		ProposedPublicKey:      []byte(req.PublicKey),
		ProposedPrivateKeyBlob: req.PrivateKeyBlob,
		ProposedCredentialHash: hash,
	}
	superseded, err := s.store.OpenSession(ctx, sess)
	if err != nil {
		return nil, err
	}
	if superseded != "" {
		s.log.Info("recovery session superseded", "sessionID", superseded, "account", acct.ID)
	}
	s.log.Info("recovery opened", "sessionID", sess.ID, "account", acct.ID)

	agents, aerr := s.store.AcceptedAgents(ctx, acct.ID)
	if aerr != nil {
		s.log.Warn("could not list agents to notify", "account", acct.ID, "err", aerr)
	}
	for _, agent := range agents {
		s.notify(ctx, agent.Email, "recovery-opened", map[string]any{
			"Agent":     agent.Username,
			"Principal": acct.Username,
			"SessionID": sess.ID,
		})
	}
	return sess, nil
}

// AbandonRecovery deletes the session and its replacement shares. It
// fails with NotFound once the session has been committed.
func (s *Service) AbandonRecovery(ctx context.Context, sessionID string) (err error) {
	defer func() { err = s.done("abandon_recovery", err) }()

	sess, err := s.store.DeleteSession(ctx, sessionID)
	if err != nil {
		return err
	}
	s.log.Info("recovery abandoned", "sessionID", sess.ID, "account", sess.AccountToRecover)
	return nil
}

// GetEligibleRecoveries lists live recoveries of accounts that trust
// agent.
func (s *Service) GetEligibleRecoveries(ctx context.Context, agent interfaces.AccountID) (out []interfaces.EligibleRecovery, err error) {
	defer func() { err = s.done("eligible_recoveries", err) }()
	return s.store.EligibleFor(ctx, agent)
}

// GetBackupShareFor returns the backup share owner deposited with
// requester. The requester must be the owner or an accepted agent.
func (s *Service) GetBackupShareFor(ctx context.Context, requester, owner interfaces.AccountID) (rec *interfaces.ShareRecord, err error) {
	const op = "get_backup_share"
	defer func() { err = s.done(op, err) }()

	if requester != owner {
		trusted, err := s.store.HasAcceptedEdge(ctx, owner, requester)
		if err != nil {
			return nil, err
		}
		if !trusted {
			return nil, interfaces.E(interfaces.Forbidden, op, "not an accepted recovery agent for this account")
		}
	}
	return s.store.BackupShare(ctx, owner, requester)
}

// SubmitReplacementShare records givenBy's replacement share for the live
// recovery of recoveryUserID. A later submission from the same agent
// replaces the earlier one. Quorum is not evaluated here.
func (s *Service) SubmitReplacementShare(ctx context.Context, recoveryUserID interfaces.AccountID, payload []byte, givenBy interfaces.AccountID) error {
	return s.submit(ctx, recoveryUserID, "", payload, givenBy, false)
}

// SubmitShareForSession is SubmitReplacementShare bound to sessionID. It
// fails with NotFound when sessionID is not the account's live session.
func (s *Service) SubmitShareForSession(ctx context.Context, recoveryUserID interfaces.AccountID, sessionID string, payload []byte, givenBy interfaces.AccountID) error {
	return s.submit(ctx, recoveryUserID, sessionID, payload, givenBy, true)
}

func (s *Service) submit(ctx context.Context, recoveryUserID interfaces.AccountID, sessionID string, payload []byte, givenBy interfaces.AccountID, bound bool) (err error) {
	const op = "submit_replacement_share"
	defer func() { err = s.done(op, err) }()

	trusted, err := s.store.HasAcceptedEdge(ctx, recoveryUserID, givenBy)
	if err != nil {
		return err
	}
	if !trusted {
		return interfaces.E(interfaces.Forbidden, op, "not an accepted recovery agent for this account")
	}
	if len(payload) == 0 {
		return interfaces.E(interfaces.Invalid, op, "share value is empty")
	}
	if bound && sessionID == "" {
		return interfaces.E(interfaces.Invalid, op, "session id is required")
	}

	if _, err = s.store.UpsertSubmission(ctx, interfaces.Submission{
		RecoveryUserID: recoveryUserID,
		SessionID:      sessionID,
		GivenBy:        givenBy,
		Payload:        payload,
	}); err != nil {
		return err
	}
	s.log.Info("replacement share submitted", "account", recoveryUserID, "agent", givenBy)
	return nil
}

// GetSubmissionCount returns the number of distinct agents that submitted
// a replacement share. Unknown accounts fail with NotFound.
func (s *Service) GetSubmissionCount(ctx context.Context, recoveryUserID interfaces.AccountID) (n int, err error) {
	defer func() { err = s.done("submission_count", err) }()
	if _, err = s.store.GetAccount(ctx, recoveryUserID); err != nil {
		return 0, err
	}
	return s.store.SubmissionCount(ctx, recoveryUserID)
}

// ListSubmissionsForCombination returns the collected replacement shares
// so the requester can combine them client-side.
func (s *Service) ListSubmissionsForCombination(ctx context.Context, recoveryUserID interfaces.AccountID) ([]interfaces.Submission, error) {
	if _, err := s.store.GetAccount(ctx, recoveryUserID); err != nil {
		return nil, s.done("list_submissions", err)
	}
	return s.ListSessionSubmissions(ctx, recoveryUserID)
}

// CheckQuorum evaluates the live recovery of recoveryUserID against the
// account's threshold.
func (s *Service) CheckQuorum(ctx context.Context, recoveryUserID interfaces.AccountID) (q Quorum, err error) {
	defer func() { err = s.done("check_quorum", err) }()

	acct, err := s.store.GetAccount(ctx, recoveryUserID)
	if err != nil {
		return Quorum{}, err
	}
	subs, err := s.store.Submissions(ctx, recoveryUserID)
	if err != nil {
		return Quorum{}, err
	}
	return Evaluate(subs, ThresholdFor(acct.ShareCount)), nil
}
