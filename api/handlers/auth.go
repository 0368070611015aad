package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ruteri/share-recovery-backend/cryptoutils"
	"github.com/ruteri/share-recovery-backend/interfaces"
)

const (
	HeaderAccountID        = "X-Account-ID"
	HeaderAccountSignature = "X-Account-Signature"
	// HeaderRequestTimestamp carries the signing time in unix seconds.
	HeaderRequestTimestamp = "X-Request-Timestamp"
)

// MaxClockSkew bounds the distance between a signed request's timestamp
// and the server clock.
const MaxClockSkew = 5 * time.Minute

type ctxKey struct{}

// Authenticator answers whether a signed request comes from accountID.
type Authenticator interface {
	Authenticate(ctx context.Context, accountID interfaces.AccountID, fields cryptoutils.SignedFields, signature string) (*interfaces.Account, error)
}

// RequireSignature rejects requests that are not signed by a registered
// account, or whose timestamp is more than MaxClockSkew away from now, and
// stores the caller's account id in the request context. The signature
// covers the method, the decoded URL path, the timestamp header and the
// body.
func RequireSignature(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawID := r.Header.Get(HeaderAccountID)
			signature := r.Header.Get(HeaderAccountSignature)
			timestamp := r.Header.Get(HeaderRequestTimestamp)
			if rawID == "" || signature == "" || timestamp == "" {
				writeEnvelope(w, http.StatusUnauthorized, Envelope{Message: "signed request required"})
				return
			}
			signedAt, err := strconv.ParseInt(timestamp, 10, 64)
			if err != nil {
				badRequest(w, "invalid %s header", HeaderRequestTimestamp)
				return
			}
			if skew := time.Since(time.Unix(signedAt, 0)); skew > MaxClockSkew || skew < -MaxClockSkew {
				writeEnvelope(w, http.StatusUnauthorized, Envelope{Message: "request timestamp outside the accepted window"})
				return
			}
			accountID, err := interfaces.ParseAccountID(rawID)
			if err != nil {
				badRequest(w, "invalid %s header", HeaderAccountID)
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					writeEnvelope(w, http.StatusRequestEntityTooLarge, Envelope{Message: "request body too large"})
					return
				}
				badRequest(w, "failed to read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			acct, err := auth.Authenticate(r.Context(), accountID, cryptoutils.SignedFields{
				Method:    r.Method,
				Path:      r.URL.Path,
				Timestamp: timestamp,
				Body:      body,
			}, signature)
			if err != nil {
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, acct.ID)))
		})
	}
}

// Caller returns the account id RequireSignature authenticated.
func Caller(ctx context.Context) (interfaces.AccountID, bool) {
	id, ok := ctx.Value(ctxKey{}).(interfaces.AccountID)
	return id, ok
}
