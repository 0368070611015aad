package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/share-recovery-backend/interfaces"
	"github.com/ruteri/share-recovery-backend/recovery"
)

// TrustRequest is the body of POST /api/trust.
type TrustRequest struct {
	Agent       string `json:"agent"`
	BackupShare []byte `json:"backup_share,omitempty"`
}

// ShareSubmission is the body of POST /api/recovery/{account}/shares.
// SessionID must name the account's live recovery session.
type ShareSubmission struct {
	SessionID string `json:"session_id"`
	Share     []byte `json:"share"`
}

// CommitRequest is the body of POST /api/recovery/{session_id}/commit.
type CommitRequest struct {
	Shares [][]byte `json:"shares"`
}

// CountResponse carries a submission count.
type CountResponse struct {
	Count int `json:"count"`
}

// Handler serves the account, trust and recovery API.
type Handler struct {
	svc *recovery.Service
	log *slog.Logger
}

func NewHandler(svc *recovery.Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	signed := RequireSignature(h.svc)

	r.Post("/api/accounts", h.HandleCreateAccount)
	r.Get("/api/accounts/{identifier}/publickey", h.HandleGetPublicKey)

	r.With(signed).Post("/api/trust", h.HandleRequestTrust)
	r.With(signed).Post("/api/trust/{edge_id}/accept", h.HandleAcceptTrust)
	r.With(signed).Delete("/api/trust/{edge_id}", h.HandleRevokeTrust)
	r.With(signed).Get("/api/trust/outgoing", h.HandleListOutgoing)
	r.With(signed).Get("/api/trust/incoming", h.HandleListIncoming)

	r.Post("/api/recovery", h.HandleOpenRecovery)
	r.Delete("/api/recovery/{session_id}", h.HandleAbandonRecovery)
	r.Post("/api/recovery/{session_id}/commit", h.HandleCommit)
	r.With(signed).Get("/api/recovery/eligible", h.HandleEligible)
	r.With(signed).Get("/api/recovery/backup/{owner}", h.HandleBackupShare)
	r.With(signed).Post("/api/recovery/{account}/shares", h.HandleSubmitShare)
	r.Get("/api/recovery/{account}/shares/count", h.HandleSubmissionCount)
	r.Get("/api/recovery/{account}/shares", h.HandleListSubmissions)
	r.Get("/api/recovery/{account}/quorum", h.HandleQuorum)
}

// HandleCreateAccount registers an account with its two self-custody
// backup shares.
func (h *Handler) HandleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var reg recovery.Registration
	if !decodeBody(w, r, &reg) {
		return
	}
	acct, err := h.svc.CreateAccount(r.Context(), reg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, h.log, http.StatusCreated, "account created", acct.Identity())
}

func (h *Handler) HandleGetPublicKey(w http.ResponseWriter, r *http.Request) {
	pub, err := h.svc.GetPublicKey(r.Context(), chi.URLParam(r, "identifier"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, "public key found", pub)
}

// HandleRequestTrust asks Agent (username, email or id) to become a
// recovery agent of the caller. BackupShare, when given, is held for the
// caller by the agent.
func (h *Handler) HandleRequestTrust(w http.ResponseWriter, r *http.Request) {
	caller, _ := Caller(r.Context())
	var req TrustRequest
	if !decodeBody(w, r, &req) {
		return
	}
	edge, err := h.svc.RequestTrust(r.Context(), caller, req.Agent, req.BackupShare)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, h.log, http.StatusCreated, "trust requested", edge)
}

func (h *Handler) HandleAcceptTrust(w http.ResponseWriter, r *http.Request) {
	caller, _ := Caller(r.Context())
	edgeID, ok := edgeParam(w, r)
	if !ok {
		return
	}
	edge, err := h.svc.AcceptTrust(r.Context(), edgeID, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, "trust accepted", edge)
}

func (h *Handler) HandleRevokeTrust(w http.ResponseWriter, r *http.Request) {
	caller, _ := Caller(r.Context())
	edgeID, ok := edgeParam(w, r)
	if !ok {
		return
	}
	if err := h.svc.RevokeTrust(r.Context(), edgeID, caller); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, "trust revoked", nil)
}

func (h *Handler) HandleListOutgoing(w http.ResponseWriter, r *http.Request) {
	caller, _ := Caller(r.Context())
	views, err := h.svc.ListOutgoingTrust(r.Context(), caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, "outgoing trust listed", nonNil(views))
}

func (h *Handler) HandleListIncoming(w http.ResponseWriter, r *http.Request) {
	caller, _ := Caller(r.Context())
	views, err := h.svc.ListIncomingTrust(r.Context(), caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, "incoming trust listed", nonNil(views))
}

// HandleOpenRecovery starts a recovery. The returned session id is the
// requester's only credential until commit.
func (h *Handler) HandleOpenRecovery(w http.ResponseWriter, r *http.Request) {
	var req recovery.OpenRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sess, err := h.svc.OpenRecovery(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, h.log, http.StatusCreated, "recovery opened", sess)
}

func (h *Handler) HandleAbandonRecovery(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.AbandonRecovery(r.Context(), chi.URLParam(r, "session_id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, "recovery abandoned", nil)
}

func (h *Handler) HandleEligible(w http.ResponseWriter, r *http.Request) {
	caller, _ := Caller(r.Context())
	out, err := h.svc.GetEligibleRecoveries(r.Context(), caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, "eligible recoveries listed", nonNil(out))
}

// HandleBackupShare returns the backup share {owner} deposited with the
// caller.
func (h *Handler) HandleBackupShare(w http.ResponseWriter, r *http.Request) {
	caller, _ := Caller(r.Context())
	owner, ok := accountParam(w, r, "owner")
	if !ok {
		return
	}
	rec, err := h.svc.GetBackupShareFor(r.Context(), caller, owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, "backup share found", rec)
}

func (h *Handler) HandleSubmitShare(w http.ResponseWriter, r *http.Request) {
	caller, _ := Caller(r.Context())
	account, ok := accountParam(w, r, "account")
	if !ok {
		return
	}
	var req ShareSubmission
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.svc.SubmitShareForSession(r.Context(), account, req.SessionID, req.Share, caller); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, "share submitted", nil)
}

func (h *Handler) HandleSubmissionCount(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r, "account")
	if !ok {
		return
	}
	n, err := h.svc.GetSubmissionCount(r.Context(), account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, "submissions counted", CountResponse{Count: n})
}

func (h *Handler) HandleListSubmissions(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r, "account")
	if !ok {
		return
	}
	subs, err := h.svc.ListSubmissionsForCombination(r.Context(), account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, "submissions listed", nonNil(subs))
}

func (h *Handler) HandleQuorum(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r, "account")
	if !ok {
		return
	}
	q, err := h.svc.CheckQuorum(r.Context(), account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, "quorum evaluated", q)
}

// HandleCommit finishes a recovery with exactly threshold replacement
// shares chosen from the session's submissions.
func (h *Handler) HandleCommit(w http.ResponseWriter, r *http.Request) {
	var req CommitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	receipt, err := h.svc.CommitRecovery(r.Context(), chi.URLParam(r, "session_id"), req.Shares)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, "recovery committed", receipt)
}

func edgeParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "edge_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		badRequest(w, "invalid edge id %q", raw)
		return 0, false
	}
	return id, true
}

func accountParam(w http.ResponseWriter, r *http.Request, name string) (interfaces.AccountID, bool) {
	raw := chi.URLParam(r, name)
	id, err := interfaces.ParseAccountID(raw)
	if err != nil {
		badRequest(w, "invalid account id %q", raw)
		return 0, false
	}
	return id, true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
