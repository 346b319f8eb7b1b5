package db

import (
	"testing"
	"time"

	"github.com/kreepthom/aiproxy/internal/db/models"
)

func newTestStore(t *testing.T) *GormAccountStore {
	t.Helper()
	database, err := InitDB("file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	return NewAccountStore(database)
}

func TestAccountStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)

	account := &models.Account{
		ID:             "acc-1",
		Email:          "a@example.com",
		Provider:       "claude",
		AccessToken:    "sk-ant-oat01-token",
		RefreshToken:   "rt-token",
		TokenExpiresAt: time.Now().Add(time.Hour),
		Enabled:        true,
		Status:         models.StatusActive,
		AuthScheme:     models.AuthSchemeOAuth,
	}
	if err := store.Save(account); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := store.Load("acc-1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Email != "a@example.com" || loaded.AccessToken != "sk-ant-oat01-token" {
		t.Errorf("loaded = %+v", loaded)
	}

	if err := store.Delete("acc-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.Load("acc-1"); err == nil {
		t.Error("deleted account must not load")
	}
}

func TestLoadAllActiveFilters(t *testing.T) {
	store := newTestStore(t)

	seed := []models.Account{
		{ID: "active", Enabled: true, Status: models.StatusActive},
		{ID: "disabled", Enabled: false, Status: models.StatusDisabled},
		{ID: "errored", Enabled: true, Status: models.StatusError},
		{ID: "expired", Enabled: true, Status: models.StatusExpired},
	}
	for i := range seed {
		if err := store.Save(&seed[i]); err != nil {
			t.Fatalf("seed %s: %v", seed[i].ID, err)
		}
	}

	all, err := store.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("LoadAll returned %d accounts", len(all))
	}

	active, err := store.LoadAllActive()
	if err != nil {
		t.Fatalf("LoadAllActive failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != "active" {
		t.Errorf("LoadAllActive returned %v", active)
	}
}

func TestDetectAuthScheme(t *testing.T) {
	tests := []struct {
		token string
		want  string
	}{
		{"oauth_abc123", models.AuthSchemeOAuth},
		{"sk-ant-oat01-abc", models.AuthSchemeOAuth},
		{"sk-ant-api03-abc", models.AuthSchemeAPIKey},
		{"some-raw-key", models.AuthSchemeAPIKey},
	}
	for _, tt := range tests {
		if got := models.DetectAuthScheme(tt.token); got != tt.want {
			t.Errorf("DetectAuthScheme(%q) = %s, want %s", tt.token, got, tt.want)
		}
	}
}
