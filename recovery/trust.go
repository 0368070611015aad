package recovery

import (
	"context"

	"github.com/ruteri/share-recovery-backend/interfaces"
)

// RequestTrust asks the account named by agentIdentifier to become a
// recovery agent of from. backupShare, when present, is the share sealed
// to the agent's key and is stored with the pending edge.
func (s *Service) RequestTrust(ctx context.Context, from interfaces.AccountID, agentIdentifier string, backupShare []byte) (edge *interfaces.TrustEdge, err error) {
	const op = "request_trust"
	defer func() { err = s.done(op, err) }()

	agent, err := s.identities.FindByIdentifier(ctx, agentIdentifier)
	if err != nil {
		return nil, err
	}
	if agent.ID == from {
		return nil, interfaces.E(interfaces.Invalid, op, "cannot trust yourself")
	}
	principal, err := s.store.GetAccount(ctx, from)
	if err != nil {
		return nil, err
	}

	edge, err = s.store.InsertEdge(ctx, from, agent.ID, backupShare)
	if err != nil {
		return nil, err
	}

	s.log.Info("trust requested", "edgeID", edge.ID, "from", from, "to", agent.ID)
	s.notify(ctx, agent.Email, "trust-request", map[string]any{
		"Agent":     agent.Username,
		"Principal": principal.Username,
		"EdgeID":    edge.ID,
	})
	return edge, nil
}

// AcceptTrust marks the edge accepted. Only the edge's agent may accept;
// accepting an accepted edge succeeds and changes nothing.
func (s *Service) AcceptTrust(ctx context.Context, edgeID int64, acting interfaces.AccountID) (edge *interfaces.TrustEdge, err error) {
	defer func() { err = s.done("accept_trust", err) }()

	edge, changed, err := s.store.AcceptEdge(ctx, edgeID, acting)
	if err != nil {
		return nil, err
	}
	if !changed {
		return edge, nil
	}

	s.log.Info("trust accepted", "edgeID", edge.ID, "agent", acting)
	if principal, perr := s.store.GetAccount(ctx, edge.From); perr == nil {
		agent, _ := s.store.GetAccount(ctx, acting)
		data := map[string]any{"Principal": principal.Username}
		if agent != nil {
			data["Agent"] = agent.Username
		}
		s.notify(ctx, principal.Email, "trust-accepted", data)
	}
	return edge, nil
}

// RevokeTrust deletes the edge. Either party may do so.
func (s *Service) RevokeTrust(ctx context.Context, edgeID int64, acting interfaces.AccountID) (err error) {
	defer func() { err = s.done("revoke_trust", err) }()

	edge, err := s.store.DeleteEdge(ctx, edgeID, acting)
	if err != nil {
		return err
	}
	s.log.Info("trust revoked", "edgeID", edge.ID, "by", acting)
	return nil
}

func (s *Service) ListOutgoingTrust(ctx context.Context, principal interfaces.AccountID) (views []interfaces.TrustEdgeView, err error) {
	defer func() { err = s.done("list_outgoing_trust", err) }()
	return s.store.ListOutgoing(ctx, principal)
}

func (s *Service) ListIncomingTrust(ctx context.Context, principal interfaces.AccountID) (views []interfaces.TrustEdgeView, err error) {
	defer func() { err = s.done("list_incoming_trust", err) }()
	return s.store.ListIncoming(ctx, principal)
}
