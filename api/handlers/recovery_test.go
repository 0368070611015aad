package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/share-recovery-backend/cryptoutils"
	"github.com/ruteri/share-recovery-backend/interfaces"
	"github.com/ruteri/share-recovery-backend/recovery"
	"github.com/ruteri/share-recovery-backend/sqlstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testUser struct {
	id      interfaces.AccountID
	name    string
	privPEM []byte
}

type testAPI struct {
	t      *testing.T
	router http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := sqlstore.Open(sqlstore.Config{Path: filepath.Join(t.TempDir(), "api.db"), PoolSize: 2})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := recovery.NewService(recovery.Config{
		Store:  store,
		Hasher: &cryptoutils.Argon2Hasher{Params: cryptoutils.Argon2Params{Time: 1, Memory: 1024, Threads: 1, SaltLen: 16, KeyLen: 32}},
		Log:    logger,
	})

	r := chi.NewRouter()
	NewHandler(svc, logger).RegisterRoutes(r)
	return &testAPI{t: t, router: r}
}

func (a *testAPI) do(method, path string, body any, signer *testUser) (int, Envelope) {
	a.t.Helper()
	return a.send(a.request(method, path, body, signer, time.Now()))
}

// request builds a request signed by signer at signedAt. An unsigned
// request is built when signer is nil.
func (a *testAPI) request(method, path string, body any, signer *testUser, signedAt time.Time) *http.Request {
	a.t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(a.t, err)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if signer != nil {
		key, err := cryptoutils.ParsePrivateKey(signer.privPEM)
		require.NoError(a.t, err)
		timestamp := strconv.FormatInt(signedAt.Unix(), 10)
		sig, err := cryptoutils.SignMessage(key, cryptoutils.SignedFields{
			Method:    method,
			Path:      req.URL.Path,
			Timestamp: timestamp,
			Body:      raw,
		})
		require.NoError(a.t, err)
		req.Header.Set(HeaderAccountID, signer.id.String())
		req.Header.Set(HeaderRequestTimestamp, timestamp)
		req.Header.Set(HeaderAccountSignature, sig)
	}
	return req
}

func (a *testAPI) send(req *http.Request) (int, Envelope) {
	a.t.Helper()
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	var env Envelope
	require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

// replay copies a captured request so it can be sent again.
func replay(t *testing.T, req *http.Request, body []byte) *http.Request {
	t.Helper()
	cp := httptest.NewRequest(req.Method, req.URL.Path, bytes.NewReader(body))
	cp.Header = req.Header.Clone()
	return cp
}

func decodeData[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func (a *testAPI) register(name string) *testUser {
	a.t.Helper()
	pub, priv, err := cryptoutils.GenerateKeyPair()
	require.NoError(a.t, err)

	code, env := a.do(http.MethodPost, "/api/accounts", recovery.Registration{
		Username:       name,
		Email:          name + "@example.com",
		CredentialHash: "pw-" + name,
		PublicKey:      string(pub),
		PrivateKeyBlob: []byte("sealed-" + name),
		Shares:         [][]byte{[]byte(name + "-1"), []byte(name + "-2")},
	}, nil)
	require.Equal(a.t, http.StatusCreated, code, env.Message)
	require.True(a.t, env.Success)

	ident := decodeData[interfaces.PublicIdentity](a.t, env)
	return &testUser{id: ident.ID, name: name, privPEM: priv}
}

func (a *testAPI) trust(principal, agent *testUser) int64 {
	a.t.Helper()
	code, env := a.do(http.MethodPost, "/api/trust", TrustRequest{Agent: agent.name, BackupShare: []byte("held-" + agent.name)}, principal)
	require.Equal(a.t, http.StatusCreated, code, env.Message)
	edge := decodeData[interfaces.TrustEdge](a.t, env)

	code, env = a.do(http.MethodPost, fmt.Sprintf("/api/trust/%d/accept", edge.ID), nil, agent)
	require.Equal(a.t, http.StatusOK, code, env.Message)
	return edge.ID
}

func TestAccountsAPI(t *testing.T) {
	api := newTestAPI(t)
	alice := api.register("alice")

	code, env := api.do(http.MethodGet, "/api/accounts/alice@example.com/publickey", nil, nil)
	require.Equal(t, http.StatusOK, code)
	ident := decodeData[interfaces.PublicIdentity](t, env)
	assert.Equal(t, alice.id, ident.ID)
	assert.Contains(t, string(ident.PublicKey), "PUBLIC KEY")

	code, env = api.do(http.MethodGet, "/api/accounts/nobody/publickey", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, env.Success)

	pub, _, err := cryptoutils.GenerateKeyPair()
	require.NoError(t, err)
	code, _ = api.do(http.MethodPost, "/api/accounts", recovery.Registration{
		Username:       "alice",
		Email:          "other@example.com",
		CredentialHash: "pw",
		PublicKey:      string(pub),
		PrivateKeyBlob: []byte("k"),
		Shares:         [][]byte{[]byte("a"), []byte("b")},
	}, nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = api.do(http.MethodPost, "/api/accounts", map[string]any{"username": "x", "bogus": true}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSignedRequests(t *testing.T) {
	api := newTestAPI(t)
	alice := api.register("alice")
	bob := api.register("bob")

	code, env := api.do(http.MethodGet, "/api/trust/outgoing", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, env.Success)

	impostor := &testUser{id: alice.id, name: "alice", privPEM: bob.privPEM}
	code, _ = api.do(http.MethodGet, "/api/trust/outgoing", nil, impostor)
	assert.Equal(t, http.StatusForbidden, code)

	ghost := &testUser{id: 999, privPEM: bob.privPEM}
	code, _ = api.do(http.MethodGet, "/api/trust/outgoing", nil, ghost)
	assert.Equal(t, http.StatusForbidden, code)

	code, env = api.do(http.MethodGet, "/api/trust/outgoing", nil, alice)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(env.Data))

	stale := api.request(http.MethodGet, "/api/trust/outgoing", nil, alice, time.Now().Add(-2*MaxClockSkew))
	code, _ = api.send(stale)
	assert.Equal(t, http.StatusUnauthorized, code)

	future := api.request(http.MethodGet, "/api/trust/outgoing", nil, alice, time.Now().Add(2*MaxClockSkew))
	code, _ = api.send(future)
	assert.Equal(t, http.StatusUnauthorized, code)

	noTimestamp := api.request(http.MethodGet, "/api/trust/outgoing", nil, alice, time.Now())
	noTimestamp.Header.Del(HeaderRequestTimestamp)
	code, _ = api.send(noTimestamp)
	assert.Equal(t, http.StatusUnauthorized, code)

	shifted := api.request(http.MethodGet, "/api/trust/outgoing", nil, alice, time.Now())
	shifted.Header.Set(HeaderRequestTimestamp, strconv.FormatInt(time.Now().Unix()+1, 10))
	code, _ = api.send(shifted)
	assert.Equal(t, http.StatusForbidden, code)

	// A signature made for one method does not authorize another.
	edgeID := api.trust(alice, bob)
	revoke := api.request(http.MethodPost, fmt.Sprintf("/api/trust/%d", edgeID), nil, alice, time.Now())
	revoke.Method = http.MethodDelete
	code, _ = api.send(revoke)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestSubmissionReplayAcrossSessions(t *testing.T) {
	api := newTestAPI(t)
	alice := api.register("alice")
	bob := api.register("bob")
	api.trust(alice, bob)

	open := func() interfaces.RecoverySession {
		pub, _, err := cryptoutils.GenerateKeyPair()
		require.NoError(t, err)
		code, env := api.do(http.MethodPost, "/api/recovery", recovery.OpenRequest{
			Account:        "alice",
			PublicKey:      string(pub),
			PrivateKeyBlob: []byte("k"),
			CredentialHash: "pw",
		}, nil)
		require.Equal(t, http.StatusCreated, code, env.Message)
		return decodeData[interfaces.RecoverySession](t, env)
	}

	sharesPath := fmt.Sprintf("/api/recovery/%d/shares", alice.id)
	first := open()
	body := ShareSubmission{SessionID: first.ID, Share: []byte("sealed-for-first")}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	captured := api.request(http.MethodPost, sharesPath, body, bob, time.Now())
	code, env := api.send(replay(t, captured, raw))
	require.Equal(t, http.StatusOK, code, env.Message)

	second := open()
	code, env = api.do(http.MethodPost, sharesPath, ShareSubmission{SessionID: second.ID, Share: []byte("sealed-for-second")}, bob)
	require.Equal(t, http.StatusOK, code, env.Message)

	code, _ = api.send(replay(t, captured, raw))
	assert.Equal(t, http.StatusNotFound, code)

	code, env = api.do(http.MethodGet, sharesPath, nil, nil)
	require.Equal(t, http.StatusOK, code)
	subs := decodeData[[]interfaces.Submission](t, env)
	require.Len(t, subs, 1)
	assert.Equal(t, []byte("sealed-for-second"), subs[0].Payload)
	assert.Equal(t, second.ID, subs[0].SessionID)
}

func TestTrustAPI(t *testing.T) {
	api := newTestAPI(t)
	alice := api.register("alice")
	bob := api.register("bob")
	carol := api.register("carol")

	edgeID := api.trust(alice, bob)

	code, _ := api.do(http.MethodPost, "/api/trust", TrustRequest{Agent: "bob"}, alice)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = api.do(http.MethodPost, "/api/trust", TrustRequest{Agent: "alice"}, alice)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = api.do(http.MethodPost, fmt.Sprintf("/api/trust/%d/accept", edgeID), nil, carol)
	assert.Equal(t, http.StatusForbidden, code)

	code, env := api.do(http.MethodGet, "/api/trust/incoming", nil, bob)
	require.Equal(t, http.StatusOK, code)
	views := decodeData[[]interfaces.TrustEdgeView](t, env)
	require.Len(t, views, 1)
	assert.Equal(t, alice.id, views[0].Counterpart.ID)
	assert.True(t, views[0].Accepted)

	code, env = api.do(http.MethodGet, fmt.Sprintf("/api/recovery/backup/%d", alice.id), nil, bob)
	require.Equal(t, http.StatusOK, code)
	held := decodeData[interfaces.ShareRecord](t, env)
	assert.Equal(t, []byte("held-bob"), held.Payload)

	code, _ = api.do(http.MethodGet, fmt.Sprintf("/api/recovery/backup/%d", alice.id), nil, carol)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = api.do(http.MethodDelete, fmt.Sprintf("/api/trust/%d", edgeID), nil, bob)
	require.Equal(t, http.StatusOK, code)
	code, _ = api.do(http.MethodDelete, fmt.Sprintf("/api/trust/%d", edgeID), nil, bob)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = api.do(http.MethodDelete, "/api/trust/abc", nil, bob)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRecoveryAPI(t *testing.T) {
	api := newTestAPI(t)
	alice := api.register("alice")
	bob := api.register("bob")
	carol := api.register("carol")
	dave := api.register("dave")
	api.trust(alice, bob)
	api.trust(alice, carol)

	newPub, _, err := cryptoutils.GenerateKeyPair()
	require.NoError(t, err)
	code, env := api.do(http.MethodPost, "/api/recovery", recovery.OpenRequest{
		Account:        "alice@example.com",
		PublicKey:      string(newPub),
		PrivateKeyBlob: []byte("new-sealed"),
		CredentialHash: "new-pw",
	}, nil)
	require.Equal(t, http.StatusCreated, code, env.Message)
	sess := decodeData[interfaces.RecoverySession](t, env)
	require.NotEmpty(t, sess.ID)

	code, env = api.do(http.MethodGet, "/api/recovery/eligible", nil, bob)
	require.Equal(t, http.StatusOK, code)
	eligible := decodeData[[]interfaces.EligibleRecovery](t, env)
	require.Len(t, eligible, 1)
	assert.Equal(t, sess.ID, eligible[0].SessionID)
	assert.False(t, eligible[0].AlreadySubmitted)

	sharesPath := fmt.Sprintf("/api/recovery/%d/shares", alice.id)
	code, _ = api.do(http.MethodPost, sharesPath, ShareSubmission{SessionID: sess.ID, Share: []byte("from-dave")}, dave)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = api.do(http.MethodPost, sharesPath, ShareSubmission{Share: []byte("from-bob")}, bob)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = api.do(http.MethodPost, sharesPath, ShareSubmission{SessionID: sess.ID, Share: []byte("from-bob")}, bob)
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Equal(t, "share submitted", env.Message)

	code, env = api.do(http.MethodGet, fmt.Sprintf("/api/recovery/%d/quorum", alice.id), nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, fmt.Sprintf(`{"status":"insufficient","count":1,"threshold":2,"agents":[%d]}`, bob.id), string(env.Data))

	code, _ = api.do(http.MethodPost, "/api/recovery/"+sess.ID+"/commit", CommitRequest{Shares: [][]byte{[]byte("from-bob")}}, nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = api.do(http.MethodPost, sharesPath, ShareSubmission{SessionID: sess.ID, Share: []byte("from-carol")}, carol)
	require.Equal(t, http.StatusOK, code)

	code, env = api.do(http.MethodGet, sharesPath+"/count", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, decodeData[CountResponse](t, env).Count)

	code, env = api.do(http.MethodGet, sharesPath, nil, nil)
	require.Equal(t, http.StatusOK, code)
	subs := decodeData[[]interfaces.Submission](t, env)
	require.Len(t, subs, 2)

	code, env = api.do(http.MethodPost, "/api/recovery/"+sess.ID+"/commit", CommitRequest{
		Shares: [][]byte{subs[0].Payload, subs[1].Payload},
	}, nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	receipt := decodeData[recovery.Receipt](t, env)
	assert.Equal(t, sess.ID, receipt.SessionID)
	assert.ElementsMatch(t, []interfaces.AccountID{bob.id, carol.id}, receipt.Agents)

	code, _ = api.do(http.MethodPost, "/api/recovery/"+sess.ID+"/commit", CommitRequest{
		Shares: [][]byte{subs[0].Payload, subs[1].Payload},
	}, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, env = api.do(http.MethodGet, "/api/accounts/alice/publickey", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, newPub, decodeData[interfaces.PublicIdentity](t, env).PublicKey)
}

func TestAbandonRecoveryAPI(t *testing.T) {
	api := newTestAPI(t)
	api.register("alice")
	pub, _, err := cryptoutils.GenerateKeyPair()
	require.NoError(t, err)

	code, env := api.do(http.MethodPost, "/api/recovery", recovery.OpenRequest{
		Account:        "alice",
		PublicKey:      string(pub),
		PrivateKeyBlob: []byte("k"),
		CredentialHash: "pw",
	}, nil)
	require.Equal(t, http.StatusCreated, code, env.Message)
	sess := decodeData[interfaces.RecoverySession](t, env)

	code, _ = api.do(http.MethodDelete, "/api/recovery/"+sess.ID, nil, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = api.do(http.MethodDelete, "/api/recovery/"+sess.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStatusFor(t *testing.T) {
	cases := map[interfaces.Kind]int{
		interfaces.NotFound:           http.StatusNotFound,
		interfaces.Forbidden:          http.StatusForbidden,
		interfaces.AlreadyExists:      http.StatusConflict,
		interfaces.InsufficientShares: http.StatusConflict,
		interfaces.Invalid:            http.StatusBadRequest,
		interfaces.StoreFailure:       http.StatusInternalServerError,
	}
	for kind, status := range cases {
		assert.Equal(t, status, StatusFor(interfaces.E(kind, "op", "msg")), kind.String())
	}
	assert.Equal(t, http.StatusInternalServerError, StatusFor(context.Canceled))
}
