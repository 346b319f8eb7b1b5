package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kreepthom/aiproxy/internal/auth/claude"
	"github.com/kreepthom/aiproxy/internal/db"
	"github.com/kreepthom/aiproxy/internal/db/models"
)

// OAuthAuthorizeHandler starts the PKCE flow: it returns the provider
// authorization URL plus the verifier and state the caller must send back
// with the code.
func OAuthAuthorizeHandler(oauth *claude.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth, err := oauth.AuthorizationURL()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "oauth_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"authorization_url": auth.URL,
			"code_verifier":     auth.CodeVerifier,
			"state":             auth.State,
			"message":           "Open the URL, approve access, then POST the code to /oauth/token",
		})
	}
}

type tokenRequest struct {
	Code           string `json:"code"`
	CodeVerifier   string `json:"code_verifier"`
	State          string `json:"state,omitempty"`
	AccountID      string `json:"account_id,omitempty"`
	UpdateExisting bool   `json:"update_existing,omitempty"`
}

// codeInput folds an explicitly supplied state into the code compound the
// exchange accepts, unless the code already carries one.
func (r *tokenRequest) codeInput() string {
	if r.State != "" && !strings.Contains(r.Code, "#") && !strings.Contains(r.Code, "://") {
		return r.Code + "#" + r.State
	}
	return r.Code
}

// OAuthTokenHandler completes the flow: exchanges the code for tokens and
// creates a pool account carrying them. With update_existing, the tokens
// land on the given account (or the one matching the returned email)
// instead of a new row.
func OAuthTokenHandler(oauth *claude.Client, store db.AccountStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_error", "Invalid JSON body: "+err.Error())
			return
		}
		if req.Code == "" || req.CodeVerifier == "" {
			writeError(w, http.StatusBadRequest, "invalid_request_error", "code and code_verifier are required")
			return
		}

		tokens, err := oauth.ExchangeCode(r.Context(), req.codeInput(), req.CodeVerifier)
		if err != nil {
			log.Printf("❌ OAuth code exchange failed: %v", err)
			writeError(w, http.StatusBadGateway, "oauth_error", err.Error())
			return
		}

		account, err := resolveAccount(store, &req, tokens.Account.EmailAddress)
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found_error", err.Error())
			return
		}

		applyTokens(account, tokens)
		if err := store.Save(account); err != nil {
			writeError(w, http.StatusInternalServerError, "database_error", err.Error())
			return
		}

		log.Printf("✅ OAuth account ready: %s (%s)", account.Email, account.ID)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"account": account,
		})
	}
}

type refreshRequest struct {
	AccountID    string `json:"account_id,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// OAuthRefreshHandler forces a token refresh, either for a stored account
// (persisting the new tokens) or for a raw refresh token.
func OAuthRefreshHandler(oauth *claude.Client, store db.AccountStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_error", "Invalid JSON body: "+err.Error())
			return
		}

		refreshToken := req.RefreshToken
		var account *models.Account
		if req.AccountID != "" {
			var err error
			account, err = store.Load(req.AccountID)
			if err != nil {
				writeError(w, http.StatusNotFound, "not_found_error", "account not found: "+req.AccountID)
				return
			}
			refreshToken = account.RefreshToken
		}
		if refreshToken == "" {
			writeError(w, http.StatusBadRequest, "invalid_request_error", "account_id or refresh_token is required")
			return
		}

		tokens, err := oauth.Refresh(r.Context(), refreshToken)
		if err != nil {
			writeError(w, http.StatusBadGateway, "oauth_error", err.Error())
			return
		}

		if account != nil {
			applyTokens(account, tokens)
			if err := store.Save(account); err != nil {
				writeError(w, http.StatusInternalServerError, "database_error", err.Error())
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"success": true,
				"account": account,
			})
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":    true,
			"expires_in": tokens.ExpiresIn,
		})
	}
}

// resolveAccount finds the row to receive exchanged tokens: an explicit
// account_id, the existing account for the token's email when
// update_existing is set, or a fresh row otherwise.
func resolveAccount(store db.AccountStore, req *tokenRequest, email string) (*models.Account, error) {
	if req.AccountID != "" {
		return store.Load(req.AccountID)
	}
	if req.UpdateExisting && email != "" {
		accounts, err := store.LoadAll()
		if err == nil {
			for i := range accounts {
				if accounts[i].Email == email {
					return &accounts[i], nil
				}
			}
		}
	}
	return &models.Account{
		ID:        uuid.New().String(),
		Provider:  "claude",
		CreatedAt: time.Now(),
	}, nil
}

// applyTokens writes a token set onto the account and re-arms it for the
// pool.
func applyTokens(account *models.Account, tokens *claude.TokenSet) {
	account.AccessToken = tokens.AccessToken
	account.RefreshToken = tokens.RefreshToken
	account.TokenExpiresAt = time.Now().Add(time.Duration(tokens.ExpiresIn) * time.Second)
	account.AuthScheme = models.DetectAuthScheme(tokens.AccessToken)
	account.Enabled = true
	account.Status = models.StatusActive
	if tokens.Account.EmailAddress != "" {
		account.Email = tokens.Account.EmailAddress
	}
	if tokens.Organization.Name != "" {
		account.Metadata = `{"organization":` + jsonString(tokens.Organization.Name) + `}`
	}
}

func jsonString(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}
