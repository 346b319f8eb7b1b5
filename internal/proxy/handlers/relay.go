package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/kreepthom/aiproxy/internal/logging"
	"github.com/kreepthom/aiproxy/internal/proxy/middleware"
	"github.com/kreepthom/aiproxy/internal/relay"
)

// MessagesHandler serves POST /v1/messages, dispatching on the request's
// stream flag. Streaming responses are committed as soon as the first
// upstream byte arrives; unary responses return the upstream body verbatim.
func MessagesHandler(engine *relay.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := middleware.APIKeyFromContext(r.Context())

		var request map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_error", "Invalid JSON body: "+err.Error())
			return
		}

		model, _ := request["model"].(string)
		stream, _ := request["stream"].(bool)
		log.Printf("📨 [%s] Relay request model=%s stream=%t", logging.GetRequestID(r.Context()), model, stream)

		if stream {
			if err := engine.RelayStream(r.Context(), request, key, w); err != nil {
				writeRelayError(w, err)
			}
			return
		}

		respBody, err := engine.Relay(r.Context(), request, key)
		if err != nil {
			writeRelayError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(respBody)
	}
}

// CompleteHandler serves the legacy POST /v1/complete endpoint on a single
// attempt, no failover.
func CompleteHandler(engine *relay.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := middleware.APIKeyFromContext(r.Context())

		var request map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_error", "Invalid JSON body: "+err.Error())
			return
		}

		respBody, err := engine.Complete(r.Context(), request, key)
		if err != nil {
			writeRelayError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(respBody)
	}
}

// ModelsHandler serves GET /v1/models through a pooled account, falling
// back to a static list when no account can reach the provider.
func ModelsHandler(engine *relay.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := engine.Models(r.Context())
		if err != nil {
			writeError(w, http.StatusBadGateway, "relay_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}
