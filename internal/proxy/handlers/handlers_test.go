package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-chi/chi/v5"
	"github.com/kreepthom/aiproxy/internal/config"
	"github.com/kreepthom/aiproxy/internal/db"
	"github.com/kreepthom/aiproxy/internal/db/models"
	"github.com/kreepthom/aiproxy/internal/pool"
	"github.com/kreepthom/aiproxy/internal/relay"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	err = database.AutoMigrate(&models.Account{}, &models.ApiKey{}, &models.RequestLog{}, &models.Setting{})
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return database
}

func newTestPool(store db.AccountStore) *pool.Pool {
	return pool.New(store, nil, config.PoolConfig{
		MaxConsecutiveFailures: 5,
		HealthThreshold:        3,
		SelectionStrategy:      config.StrategyRandom,
		TokenRefreshLeadTime:   30 * time.Minute,
	})
}

func TestWriteRelayErrorPassesThroughNonRetryable(t *testing.T) {
	rec := httptest.NewRecorder()
	body := []byte(`{"error":{"type":"invalid_request_error","message":"max_tokens required"}}`)
	writeRelayError(rec, &relay.RelayError{
		StatusCode: http.StatusBadRequest,
		ErrType:    "invalid_request_error",
		Message:    "max_tokens required",
		Body:       body,
	})

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Body.String() != string(body) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestWriteRelayErrorKeepsStatusWhenBodyEmpty(t *testing.T) {
	tests := []struct {
		name        string
		err         *relay.RelayError
		wantType    string
		wantMessage string
	}{
		{
			name:        "typed error without body",
			err:         &relay.RelayError{StatusCode: http.StatusNotFound, ErrType: "not_found_error", Message: "model not found"},
			wantType:    "not_found_error",
			wantMessage: "model not found",
		},
		{
			name:        "bare status without body",
			err:         &relay.RelayError{StatusCode: http.StatusBadRequest},
			wantType:    "upstream_error",
			wantMessage: http.StatusText(http.StatusBadRequest),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeRelayError(rec, tt.err)
			if rec.Code != tt.err.StatusCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.err.StatusCode)
			}
			var envelope map[string]map[string]interface{}
			if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
				t.Fatalf("body not JSON: %v", err)
			}
			if envelope["error"]["type"] != tt.wantType {
				t.Errorf("type = %v", envelope["error"]["type"])
			}
			if envelope["error"]["message"] != tt.wantMessage {
				t.Errorf("message = %v", envelope["error"]["message"])
			}
		})
	}
}

func TestWriteRelayErrorCollapsesToBadGateway(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"pool exhausted", relay.ErrPoolExhausted},
		{"retryable upstream error", &relay.RelayError{StatusCode: 529, Message: "overloaded", Body: []byte("{}")}},
		{"transport error", &relay.RelayError{Message: "connection refused"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeRelayError(rec, tt.err)
			if rec.Code != http.StatusBadGateway {
				t.Errorf("status = %d, want 502", rec.Code)
			}
			var envelope map[string]map[string]interface{}
			if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
				t.Fatalf("body not JSON: %v", err)
			}
			if envelope["error"]["type"] != "relay_error" {
				t.Errorf("type = %v", envelope["error"]["type"])
			}
		})
	}
}

func TestApiKeyLifecycle(t *testing.T) {
	database := newTestDB(t)

	r := chi.NewRouter()
	r.Post("/api-keys", CreateApiKeyHandler(database))
	r.Get("/api-keys", ListApiKeysHandler(database))
	r.Delete("/api-keys/{id}", DeleteApiKeyHandler(database))

	// Create.
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api-keys",
		bytes.NewBufferString(`{"name":"ci","description":"pipeline key"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}

	var created struct {
		ApiKey string        `json:"api_key"`
		Key    models.ApiKey `json:"key"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if !strings.HasPrefix(created.ApiKey, apiKeyPrefix) {
		t.Errorf("raw key = %s", created.ApiKey)
	}
	if created.Key.KeyDisplay == created.ApiKey {
		t.Error("display form must not expose the raw key")
	}
	if !strings.HasSuffix(created.Key.KeyDisplay, created.ApiKey[len(created.ApiKey)-4:]) {
		t.Errorf("display = %s", created.Key.KeyDisplay)
	}

	// The hash, not the key, is stored.
	var stored models.ApiKey
	if err := database.First(&stored, "id = ?", created.Key.ID).Error; err != nil {
		t.Fatalf("load stored key: %v", err)
	}
	if stored.KeyHash == created.ApiKey || stored.KeyHash == "" {
		t.Error("stored hash is wrong")
	}

	// List.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api-keys", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), stored.KeyHash) {
		t.Error("listing must not expose key hashes")
	}

	// Delete.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api-keys/"+created.Key.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api-keys/"+created.Key.ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestCreateApiKeyRequiresName(t *testing.T) {
	database := newTestDB(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api-keys", bytes.NewBufferString(`{}`))
	CreateApiKeyHandler(database)(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestAccountStatusToggle(t *testing.T) {
	database := newTestDB(t)
	store := db.NewAccountStore(database)
	accounts := newTestPool(store)

	account := &models.Account{
		ID:      "acc-1",
		Email:   "a@example.com",
		Enabled: true,
		Status:  models.StatusError,
	}
	if err := store.Save(account); err != nil {
		t.Fatalf("seed account: %v", err)
	}

	r := chi.NewRouter()
	r.Put("/accounts/{id}/status", UpdateAccountStatusHandler(store, accounts))

	// Disable.
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/accounts/acc-1/status",
		bytes.NewBufferString(`{"enabled":false}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	saved, _ := store.Load("acc-1")
	if saved.Enabled || saved.Status != models.StatusDisabled {
		t.Errorf("after disable: %+v", saved)
	}

	// Re-enable clears the ERROR state too.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/accounts/acc-1/status",
		bytes.NewBufferString(`{"enabled":true}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	saved, _ = store.Load("acc-1")
	if !saved.Enabled || saved.Status != models.StatusActive {
		t.Errorf("after enable: %+v", saved)
	}
}

func TestAccountHandlersNotFound(t *testing.T) {
	database := newTestDB(t)
	store := db.NewAccountStore(database)
	accounts := newTestPool(store)

	r := chi.NewRouter()
	r.Get("/accounts/{id}", GetAccountHandler(store))
	r.Put("/accounts/{id}/status", UpdateAccountStatusHandler(store, accounts))
	r.Delete("/accounts/{id}", DeleteAccountHandler(store, accounts))

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/accounts/nope", nil),
		httptest.NewRequest(http.MethodPut, "/accounts/nope/status", bytes.NewBufferString(`{"enabled":true}`)),
		httptest.NewRequest(http.MethodDelete, "/accounts/nope", nil),
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s: status = %d, want 404", req.Method, req.URL.Path, rec.Code)
		}
	}
}

func TestListAccountsHidesTokens(t *testing.T) {
	database := newTestDB(t)
	store := db.NewAccountStore(database)
	if err := store.Save(&models.Account{
		ID:           "acc-1",
		Email:        "a@example.com",
		AccessToken:  "sk-ant-oat01-secret",
		RefreshToken: "rt-secret",
		Enabled:      true,
		Status:       models.StatusActive,
	}); err != nil {
		t.Fatalf("seed account: %v", err)
	}

	rec := httptest.NewRecorder()
	ListAccountsHandler(store)(rec, httptest.NewRequest(http.MethodGet, "/accounts", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Error("account listing must not serialize tokens")
	}
}

func TestSettingsUpsertAndGet(t *testing.T) {
	database := newTestDB(t)

	r := chi.NewRouter()
	r.Put("/settings/{key}", PutSettingHandler(database))
	r.Get("/settings/{key}", GetSettingHandler(database))
	r.Get("/settings", ListSettingsHandler(database))

	put := func(key, body string) {
		t.Helper()
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/settings/"+key, bytes.NewBufferString(body)))
		if rec.Code != http.StatusOK {
			t.Fatalf("put %s status = %d: %s", key, rec.Code, rec.Body.String())
		}
	}

	put("relay.banner", `{"value":"hello","group":"relay"}`)
	put("relay.banner", `{"value":"hello v2","group":"relay"}`)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/settings/relay.banner", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var setting models.Setting
	if err := json.Unmarshal(rec.Body.Bytes(), &setting); err != nil {
		t.Fatalf("decode setting: %v", err)
	}
	if setting.Value != "hello v2" {
		t.Errorf("value = %s, want the upserted one", setting.Value)
	}

	var count int64
	database.Model(&models.Setting{}).Count(&count)
	if count != 1 {
		t.Errorf("upsert created %d rows, want 1", count)
	}
}

func TestGetSettingNotFound(t *testing.T) {
	database := newTestDB(t)
	r := chi.NewRouter()
	r.Get("/settings/{key}", GetSettingHandler(database))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/settings/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestMessagesHandlerRejectsBadJSON(t *testing.T) {
	engine := relay.NewEngine(nil, nil, config.PoolConfig{MaxRetryAttempts: 1})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewBufferString("{not json"))
	MessagesHandler(engine)(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid_request_error") {
		t.Errorf("body = %s", rec.Body.String())
	}
}
