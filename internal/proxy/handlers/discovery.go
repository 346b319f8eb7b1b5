package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kreepthom/aiproxy/internal/db"
	"github.com/kreepthom/aiproxy/internal/db/models"
	"github.com/kreepthom/aiproxy/internal/discovery"
	"github.com/kreepthom/aiproxy/internal/pool"
)

// DiscoveryScanHandler scans the local machine for provider credentials and
// returns them with tokens masked.
func DiscoveryScanHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result := discovery.ScanAll()

		masked := make([]discovery.Credential, len(result.Credentials))
		for i, cred := range result.Credentials {
			masked[i] = discovery.MaskCredential(cred)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"credentials": masked,
			"errors":      result.Errors,
		})
	}
}

type discoveryImportRequest struct {
	Source string `json:"source,omitempty"` // restrict to one source name
}

// DiscoveryImportHandler re-scans and imports the found credentials as pool
// accounts. Credentials whose access token already backs an account are
// skipped.
func DiscoveryImportHandler(store db.AccountStore, accounts *pool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req discoveryImportRequest
		if r.Body != nil {
			json.NewDecoder(r.Body).Decode(&req)
		}

		existing, err := store.LoadAll()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "database_error", err.Error())
			return
		}
		known := make(map[string]struct{}, len(existing))
		for _, acc := range existing {
			known[acc.AccessToken] = struct{}{}
		}

		result := discovery.ScanAll()
		imported := make([]*models.Account, 0)
		skipped := 0
		for _, cred := range result.Credentials {
			if req.Source != "" && cred.Source != req.Source {
				continue
			}
			if _, dup := known[cred.AccessToken]; dup {
				skipped++
				continue
			}

			account := &models.Account{
				ID:             uuid.New().String(),
				Email:          cred.Email,
				Provider:       "claude",
				AccessToken:    cred.AccessToken,
				RefreshToken:   cred.RefreshToken,
				TokenExpiresAt: cred.ExpiresAt,
				Enabled:        true,
				Status:         models.StatusActive,
				AuthScheme:     models.DetectAuthScheme(cred.AccessToken),
				Metadata:       `{"imported_from":` + jsonString(cred.Source) + `}`,
				CreatedAt:      time.Now(),
			}
			if err := store.Save(account); err != nil {
				writeError(w, http.StatusInternalServerError, "database_error", err.Error())
				return
			}
			known[cred.AccessToken] = struct{}{}
			imported = append(imported, account)
			log.Printf("📥 Imported %s credential from %s as account %s", account.AuthScheme, cred.Source, account.ID)
		}

		accounts.SyncNow()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"imported": imported,
			"skipped":  skipped,
		})
	}
}
