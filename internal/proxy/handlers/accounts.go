package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kreepthom/aiproxy/internal/db"
	"github.com/kreepthom/aiproxy/internal/db/models"
	"github.com/kreepthom/aiproxy/internal/pool"
)

// ListAccountsHandler returns every pool account. Tokens are never
// serialized; json:"-" on the model keeps them out of the payload.
func ListAccountsHandler(store db.AccountStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts, err := store.LoadAll()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "database_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"accounts": accounts,
			"total":    len(accounts),
		})
	}
}

// GetAccountHandler returns a single account by id.
func GetAccountHandler(store db.AccountStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		account, err := store.Load(id)
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found_error", "account not found: "+id)
			return
		}
		writeJSON(w, http.StatusOK, account)
	}
}

type accountStatusRequest struct {
	Enabled *bool `json:"enabled"`
}

// UpdateAccountStatusHandler flips an account on or off. Status follows the
// flag: enabling re-activates an ERROR or DISABLED account, disabling parks
// it as DISABLED.
func UpdateAccountStatusHandler(store db.AccountStore, accounts *pool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req accountStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
			writeError(w, http.StatusBadRequest, "invalid_request_error", "body must carry an enabled flag")
			return
		}

		account, err := store.Load(id)
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found_error", "account not found: "+id)
			return
		}

		account.Enabled = *req.Enabled
		if account.Enabled {
			account.Status = models.StatusActive
		} else {
			account.Status = models.StatusDisabled
		}
		if err := store.Save(account); err != nil {
			writeError(w, http.StatusInternalServerError, "database_error", err.Error())
			return
		}

		accounts.SyncNow()
		log.Printf("🔄 Account %s enabled=%t", account.Email, account.Enabled)
		writeJSON(w, http.StatusOK, account)
	}
}

// DeleteAccountHandler removes an account from the pool.
func DeleteAccountHandler(store db.AccountStore, accounts *pool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := store.Load(id); err != nil {
			writeError(w, http.StatusNotFound, "not_found_error", "account not found: "+id)
			return
		}
		if err := store.Delete(id); err != nil {
			writeError(w, http.StatusInternalServerError, "database_error", err.Error())
			return
		}
		accounts.SyncNow()
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "id": id})
	}
}
