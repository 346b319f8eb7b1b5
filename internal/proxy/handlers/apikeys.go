package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kreepthom/aiproxy/internal/db/models"
	"github.com/kreepthom/aiproxy/internal/proxy/middleware"
	"gorm.io/gorm"
)

const apiKeyPrefix = "sk-proxy-"

type createApiKeyRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CreateApiKeyHandler mints a gateway API key. The raw key appears in this
// response only; the database keeps its hash and a display stub.
func CreateApiKeyHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createApiKeyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
			writeError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}

		raw, err := generateApiKey()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		key := models.ApiKey{
			ID:          uuid.New().String(),
			KeyHash:     middleware.HashKey(raw),
			KeyDisplay:  maskKey(raw),
			Name:        req.Name,
			Description: req.Description,
			Enabled:     true,
			CreatedAt:   time.Now(),
		}
		if err := database.Create(&key).Error; err != nil {
			writeError(w, http.StatusInternalServerError, "database_error", err.Error())
			return
		}

		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"api_key": raw,
			"key":     key,
			"message": "Store this key now; it is not retrievable later",
		})
	}
}

// ListApiKeysHandler lists gateway keys (hashes stay server-side).
func ListApiKeysHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var keys []models.ApiKey
		if err := database.Order("created_at").Find(&keys).Error; err != nil {
			writeError(w, http.StatusInternalServerError, "database_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"api_keys": keys,
			"total":    len(keys),
		})
	}
}

// DeleteApiKeyHandler revokes a gateway key.
func DeleteApiKeyHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		result := database.Delete(&models.ApiKey{}, "id = ?", id)
		if result.Error != nil {
			writeError(w, http.StatusInternalServerError, "database_error", result.Error.Error())
			return
		}
		if result.RowsAffected == 0 {
			writeError(w, http.StatusNotFound, "not_found_error", "api key not found: "+id)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "id": id})
	}
}

func generateApiKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return apiKeyPrefix + hex.EncodeToString(buf), nil
}

// maskKey keeps the prefix and last four characters for listings.
func maskKey(raw string) string {
	if len(raw) <= len(apiKeyPrefix)+4 {
		return raw
	}
	return apiKeyPrefix + "..." + raw[len(raw)-4:]
}
