package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ruteri/share-recovery-backend/interfaces"
)

const maxBodyBytes = 1 << 20

// Envelope is the body of every response.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message"`
}

// writeJSON renders a successful envelope carrying message and data.
func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, message string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Error("could not encode response", "err", err)
		writeEnvelope(w, http.StatusInternalServerError, Envelope{Message: "internal error"})
		return
	}
	writeEnvelope(w, status, Envelope{Success: true, Data: raw, Message: message})
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// writeError renders err with the status its kind maps to.
func writeError(w http.ResponseWriter, err error) {
	writeEnvelope(w, StatusFor(err), Envelope{Message: interfaces.PublicMessage(err)})
}

func badRequest(w http.ResponseWriter, format string, args ...any) {
	writeEnvelope(w, http.StatusBadRequest, Envelope{Message: fmt.Sprintf(format, args...)})
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(err error) int {
	switch interfaces.KindOf(err) {
	case interfaces.NotFound:
		return http.StatusNotFound
	case interfaces.Forbidden:
		return http.StatusForbidden
	case interfaces.AlreadyExists, interfaces.InsufficientShares:
		return http.StatusConflict
	case interfaces.Invalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeEnvelope(w, http.StatusRequestEntityTooLarge, Envelope{Message: "request body too large"})
			return false
		}
		badRequest(w, "invalid request body: %v", err)
		return false
	}
	return true
}
