package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kreepthom/aiproxy/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ListSettingsHandler returns every stored setting, grouped flat.
func ListSettingsHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var settings []models.Setting
		if err := database.Order("setting_group, key").Find(&settings).Error; err != nil {
			writeError(w, http.StatusInternalServerError, "database_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"settings": settings,
			"total":    len(settings),
		})
	}
}

// GetSettingHandler returns a single setting by key.
func GetSettingHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		var setting models.Setting
		if err := database.First(&setting, "key = ?", key).Error; err != nil {
			writeError(w, http.StatusNotFound, "not_found_error", "setting not found: "+key)
			return
		}
		writeJSON(w, http.StatusOK, setting)
	}
}

type putSettingRequest struct {
	Value       string `json:"value"`
	Group       string `json:"group,omitempty"`
	Description string `json:"description,omitempty"`
}

// PutSettingHandler upserts a setting.
func PutSettingHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")

		var req putSettingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_error", "Invalid JSON body: "+err.Error())
			return
		}

		setting := models.Setting{
			Key:         key,
			Value:       req.Value,
			Group:       req.Group,
			Description: req.Description,
			UpdatedAt:   time.Now(),
		}
		err := database.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			UpdateAll: true,
		}).Create(&setting).Error
		if err != nil {
			writeError(w, http.StatusInternalServerError, "database_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, setting)
	}
}
