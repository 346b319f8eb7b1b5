package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kreepthom/aiproxy/internal/relay"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    errType,
			"message": message,
		},
	})
}

// writeRelayError maps a relay failure onto the client response. A
// non-retryable upstream error passes through with its original status and
// body so callers see exactly what the provider said; everything else
// (pool exhausted, retries spent) collapses to a 502.
func writeRelayError(w http.ResponseWriter, err error) {
	var relayErr *relay.RelayError
	if errors.As(err, &relayErr) && relayErr.StatusCode > 0 &&
		!relay.StatusRetryable(relayErr.StatusCode) {
		if len(relayErr.Body) > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(relayErr.StatusCode)
			w.Write(relayErr.Body)
			return
		}
		// Upstream sent no body; keep its status and synthesize the envelope.
		errType := relayErr.ErrType
		if errType == "" {
			errType = "upstream_error"
		}
		message := relayErr.Message
		if message == "" {
			message = http.StatusText(relayErr.StatusCode)
		}
		writeError(w, relayErr.StatusCode, errType, message)
		return
	}
	writeError(w, http.StatusBadGateway, "relay_error", err.Error())
}
