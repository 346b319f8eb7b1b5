package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/kreepthom/aiproxy/internal/db/models"
	"gorm.io/gorm"
)

type contextKey string

const apiKeyContextKey contextKey = "apiKey"

// HashKey returns the hex SHA-256 digest under which API keys are stored.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// APIKeyFromContext returns the authenticated caller identity, if any.
func APIKeyFromContext(ctx context.Context) *models.ApiKey {
	key, _ := ctx.Value(apiKeyContextKey).(*models.ApiKey)
	return key
}

// APIKeyAuth validates the caller's API key from the Authorization header
// (Bearer) or the X-API-Key header and stores the resolved identity in the
// request context.
func APIKeyAuth(database *gorm.DB) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var presented string

			if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
				presented = strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
			} else if keyHeader := r.Header.Get("X-API-Key"); keyHeader != "" {
				presented = strings.TrimSpace(keyHeader)
			}

			if presented == "" {
				writeAuthError(w, "Missing API key")
				return
			}

			var apiKey models.ApiKey
			err := database.Where("key_hash = ? AND enabled = ?", HashKey(presented), true).
				First(&apiKey).Error
			if err != nil {
				writeAuthError(w, "Invalid API key")
				return
			}

			// Usage bump happens off the request path.
			go func(id string) {
				database.Model(&models.ApiKey{}).Where("id = ?", id).
					Updates(map[string]interface{}{
						"last_used_at":   time.Now(),
						"total_requests": gorm.Expr("total_requests + 1"),
					})
			}(apiKey.ID)

			ctx := context.WithValue(r.Context(), apiKeyContextKey, &apiKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminAuth protects the admin surface with a shared password when one is
// configured; an empty password leaves the surface open (first-run).
func AdminAuth(password string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if password == "" {
				next.ServeHTTP(w, r)
				return
			}
			_, pass, ok := r.BasicAuth()
			if !ok || pass != password {
				w.Header().Set("WWW-Authenticate", `Basic realm="aiproxy admin"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error": {"message": "` + message + `", "type": "authentication_error"}}`))
}
