package clients

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ruteri/share-recovery-backend/api/handlers"
	"github.com/ruteri/share-recovery-backend/cryptoutils"
	"github.com/ruteri/share-recovery-backend/interfaces"
	"github.com/ruteri/share-recovery-backend/recovery"
)

// APIError is a failed response. Message is the server's envelope message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with code %d: %s", e.Status, e.Message)
}

type RecoveryClient struct {
	baseURL    string
	accountID  interfaces.AccountID
	privateKey *ecdsa.PrivateKey
	httpClient *http.Client
}

// NewRecoveryClient creates a client for baseURL. privateKey may be nil
// for unsigned operations.
func NewRecoveryClient(baseURL string, accountID interfaces.AccountID, privateKey *ecdsa.PrivateKey, timeout ...time.Duration) *RecoveryClient {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &RecoveryClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		accountID:  accountID,
		privateKey: privateKey,
		httpClient: &http.Client{Timeout: clientTimeout},
	}
}

// WithAccount returns a copy of the client that signs as accountID.
func (c *RecoveryClient) WithAccount(accountID interfaces.AccountID, privateKey *ecdsa.PrivateKey) *RecoveryClient {
	cp := *c
	cp.accountID = accountID
	cp.privateKey = privateKey
	return &cp
}

func (c *RecoveryClient) CreateAccount(ctx context.Context, reg recovery.Registration) (*interfaces.PublicIdentity, error) {
	var out interfaces.PublicIdentity
	if err := c.call(ctx, http.MethodPost, "/api/accounts", reg, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RecoveryClient) PublicKey(ctx context.Context, identifier string) (*interfaces.PublicIdentity, error) {
	var out interfaces.PublicIdentity
	if err := c.call(ctx, http.MethodGet, "/api/accounts/"+url.PathEscape(identifier)+"/publickey", nil, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RecoveryClient) RequestTrust(ctx context.Context, agent string, backupShare []byte) (*interfaces.TrustEdge, error) {
	var out interfaces.TrustEdge
	req := handlers.TrustRequest{Agent: agent, BackupShare: backupShare}
	if err := c.call(ctx, http.MethodPost, "/api/trust", req, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RecoveryClient) AcceptTrust(ctx context.Context, edgeID int64) (*interfaces.TrustEdge, error) {
	var out interfaces.TrustEdge
	if err := c.call(ctx, http.MethodPost, fmt.Sprintf("/api/trust/%d/accept", edgeID), nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RecoveryClient) RevokeTrust(ctx context.Context, edgeID int64) error {
	return c.call(ctx, http.MethodDelete, fmt.Sprintf("/api/trust/%d", edgeID), nil, true, nil)
}

func (c *RecoveryClient) OutgoingTrust(ctx context.Context) ([]interfaces.TrustEdgeView, error) {
	var out []interfaces.TrustEdgeView
	err := c.call(ctx, http.MethodGet, "/api/trust/outgoing", nil, true, &out)
	return out, err
}

func (c *RecoveryClient) IncomingTrust(ctx context.Context) ([]interfaces.TrustEdgeView, error) {
	var out []interfaces.TrustEdgeView
	err := c.call(ctx, http.MethodGet, "/api/trust/incoming", nil, true, &out)
	return out, err
}

func (c *RecoveryClient) OpenRecovery(ctx context.Context, req recovery.OpenRequest) (*interfaces.RecoverySession, error) {
	var out interfaces.RecoverySession
	if err := c.call(ctx, http.MethodPost, "/api/recovery", req, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RecoveryClient) AbandonRecovery(ctx context.Context, sessionID string) error {
	return c.call(ctx, http.MethodDelete, "/api/recovery/"+url.PathEscape(sessionID), nil, false, nil)
}

func (c *RecoveryClient) EligibleRecoveries(ctx context.Context) ([]interfaces.EligibleRecovery, error) {
	var out []interfaces.EligibleRecovery
	err := c.call(ctx, http.MethodGet, "/api/recovery/eligible", nil, true, &out)
	return out, err
}

// BackupShare fetches the share owner deposited with this client's account.
func (c *RecoveryClient) BackupShare(ctx context.Context, owner interfaces.AccountID) (*interfaces.ShareRecord, error) {
	var out interfaces.ShareRecord
	if err := c.call(ctx, http.MethodGet, "/api/recovery/backup/"+owner.String(), nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitShare submits share for the recovery session sessionID of account.
func (c *RecoveryClient) SubmitShare(ctx context.Context, account interfaces.AccountID, sessionID string, share []byte) error {
	return c.call(ctx, http.MethodPost, "/api/recovery/"+account.String()+"/shares", handlers.ShareSubmission{SessionID: sessionID, Share: share}, true, nil)
}

func (c *RecoveryClient) SubmissionCount(ctx context.Context, account interfaces.AccountID) (int, error) {
	var out handlers.CountResponse
	err := c.call(ctx, http.MethodGet, "/api/recovery/"+account.String()+"/shares/count", nil, false, &out)
	return out.Count, err
}

func (c *RecoveryClient) Submissions(ctx context.Context, account interfaces.AccountID) ([]interfaces.Submission, error) {
	var out []interfaces.Submission
	err := c.call(ctx, http.MethodGet, "/api/recovery/"+account.String()+"/shares", nil, false, &out)
	return out, err
}

func (c *RecoveryClient) Quorum(ctx context.Context, account interfaces.AccountID) (*recovery.Quorum, error) {
	var out recovery.Quorum
	if err := c.call(ctx, http.MethodGet, "/api/recovery/"+account.String()+"/quorum", nil, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RecoveryClient) Commit(ctx context.Context, sessionID string, shares [][]byte) (*recovery.Receipt, error) {
	var out recovery.Receipt
	path := "/api/recovery/" + url.PathEscape(sessionID) + "/commit"
	if err := c.call(ctx, http.MethodPost, path, handlers.CommitRequest{Shares: shares}, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RecoveryClient) call(ctx context.Context, method, path string, in any, signed bool, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	var (
		req *http.Request
		err error
	)
	if signed {
		if c.privateKey == nil {
			return fmt.Errorf("%s %s requires a signing key", method, path)
		}
		req, err = SignedRequest(ctx, method, c.baseURL+path, body, c.accountID, c.privateKey)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err == nil && body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env handlers.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	if !env.Success {
		return &APIError{Status: resp.StatusCode, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// SignedRequest builds a request carrying the account id, timestamp and
// signature headers. The signature covers the method, URL path, timestamp
// and body.
func SignedRequest(ctx context.Context, method, reqURL string, body []byte, accountID interfaces.AccountID, privateKey *ecdsa.PrivateKey) (*http.Request, error) {
	parsedURL, err := url.Parse(reqURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	signature, err := cryptoutils.SignMessage(privateKey, cryptoutils.SignedFields{
		Method:    method,
		Path:      parsedURL.Path,
		Timestamp: timestamp,
		Body:      body,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}
	req.Header.Set(handlers.HeaderAccountID, accountID.String())
	req.Header.Set(handlers.HeaderRequestTimestamp, timestamp)
	req.Header.Set(handlers.HeaderAccountSignature, signature)
	return req, nil
}
