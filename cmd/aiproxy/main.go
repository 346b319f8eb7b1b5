package main

import (
	"flag"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kreepthom/aiproxy/internal/auth/claude"
	"github.com/kreepthom/aiproxy/internal/config"
	"github.com/kreepthom/aiproxy/internal/db"
	"github.com/kreepthom/aiproxy/internal/logging"
	"github.com/kreepthom/aiproxy/internal/logstore"
	"github.com/kreepthom/aiproxy/internal/pool"
	"github.com/kreepthom/aiproxy/internal/proxy/handlers"
	"github.com/kreepthom/aiproxy/internal/proxy/middleware"
	"github.com/kreepthom/aiproxy/internal/relay"
	"github.com/kreepthom/aiproxy/internal/version"
)

func main() {
	configPath := flag.String("config", "aiproxy.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	store := db.NewAccountStore(database)
	oauth := claude.NewClient()

	accounts := pool.New(store, oauth, cfg.Pool)
	accounts.StartBackground()
	defer accounts.Stop()

	logs := logstore.New(database)
	engine := relay.NewEngine(accounts, logs, cfg.Pool)

	r := chi.NewRouter()
	r.Use(logging.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Relay API (gateway API key required)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(database))
		r.Post("/messages", handlers.MessagesHandler(engine))
		r.Post("/complete", handlers.CompleteHandler(engine))
		r.Get("/models", handlers.ModelsHandler(engine))
	})

	// OAuth onboarding (admin password if configured)
	r.Route("/oauth", func(r chi.Router) {
		r.Use(middleware.AdminAuth(cfg.AdminPassword))
		r.Get("/authorize", handlers.OAuthAuthorizeHandler(oauth))
		r.Post("/token", handlers.OAuthTokenHandler(oauth, store))
		r.Post("/refresh", handlers.OAuthRefreshHandler(oauth, store))
	})

	// Admin surface
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.AdminAuth(cfg.AdminPassword))

		r.Get("/accounts", handlers.ListAccountsHandler(store))
		r.Get("/accounts/{id}", handlers.GetAccountHandler(store))
		r.Put("/accounts/{id}/status", handlers.UpdateAccountStatusHandler(store, accounts))
		r.Delete("/accounts/{id}", handlers.DeleteAccountHandler(store, accounts))

		r.Post("/api-keys", handlers.CreateApiKeyHandler(database))
		r.Get("/api-keys", handlers.ListApiKeysHandler(database))
		r.Delete("/api-keys/{id}", handlers.DeleteApiKeyHandler(database))

		r.Get("/request-logs", handlers.ListRequestLogsHandler(logs))
		r.Get("/request-logs/recent", handlers.RecentRequestLogsHandler(logs))
		r.Get("/request-logs/stats", handlers.RequestStatsHandler(logs))
		r.Get("/request-logs/export", handlers.ExportRequestLogsHandler(logs))

		r.Get("/discovery/scan", handlers.DiscoveryScanHandler())
		r.Post("/discovery/import", handlers.DiscoveryImportHandler(store, accounts))

		r.Get("/settings", handlers.ListSettingsHandler(database))
		r.Get("/settings/{key}", handlers.GetSettingHandler(database))
		r.Put("/settings/{key}", handlers.PutSettingHandler(database))
	})

	addr := cfg.Host + ":" + cfg.Port
	log.Printf("🚀 aiproxy %s (%s) starting on http://%s", version.Version, version.Commit, addr)
	log.Printf("🔌 Anthropic API: http://%s/api/v1", addr)
	log.Printf("🔑 OAuth onboarding: http://%s/oauth/authorize", addr)

	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
