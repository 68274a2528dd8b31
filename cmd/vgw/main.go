package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	aigateway "github.com/vantagegw/llm-gateway"
	"github.com/vantagegw/llm-gateway/abtest"
	"github.com/vantagegw/llm-gateway/cost"
	"github.com/vantagegw/llm-gateway/internal/admin"
	"github.com/vantagegw/llm-gateway/internal/requestlog"
	"github.com/vantagegw/llm-gateway/internal/version"
	"github.com/vantagegw/llm-gateway/providers"
	"github.com/vantagegw/llm-gateway/web"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	// Register built-in plugins so they can be loaded from config.
	_ "github.com/vantagegw/llm-gateway/internal/plugins/cache"
	_ "github.com/vantagegw/llm-gateway/internal/plugins/logger"
	_ "github.com/vantagegw/llm-gateway/internal/plugins/maxtoken"
	_ "github.com/vantagegw/llm-gateway/internal/plugins/ratelimit"
	_ "github.com/vantagegw/llm-gateway/internal/plugins/wordfilter"
)

func main() {
	// Load and validate config if GATEWAY_CONFIG is set.
	var cfg *aigateway.Config
	if cfgPath := os.Getenv("GATEWAY_CONFIG"); cfgPath != "" {
		loaded, err := aigateway.LoadConfig(cfgPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		if err := aigateway.ValidateConfig(*loaded); err != nil {
			log.Fatalf("Invalid config: %v", err)
		}
		cfg = loaded
		log.Printf("Config loaded: strategy=%s, targets=%d", cfg.Strategy.Mode, len(cfg.Targets))
	}

	// Auto-register providers based on environment variables. The core
	// treats a provider as an LLMProvider capability set (Complete/Embed/
	// GenerateImage/DiscoverModels); OpenAI is the one concrete backend
	// wired into this binary, exercised by every orchestrator code path.
	registry := providers.NewRegistry()

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		p, err := providers.NewOpenAI(key, os.Getenv("OPENAI_BASE_URL"))
		if err != nil {
			log.Fatalf("openai provider: %v", err)
		}
		registry.Register(p)
		log.Println("Provider registered: openai")
	}

	if len(registry.List()) == 0 {
		log.Fatal("No providers configured. Set OPENAI_API_KEY to register the OpenAI provider")
	}

	if cfg == nil {
		defaultTargets := make([]aigateway.Target, 0, len(registry.List()))
		for _, name := range registry.List() {
			defaultTargets = append(defaultTargets, aigateway.Target{VirtualKey: name})
		}
		cfg = &aigateway.Config{
			Strategy: aigateway.StrategyConfig{Mode: aigateway.ModeFallback},
			Targets:  defaultTargets,
		}
		log.Printf("No GATEWAY_CONFIG set; using default strategy=%s with %d target(s)", cfg.Strategy.Mode, len(cfg.Targets))
	}

	// Build and wire the Gateway.
	var gw *aigateway.Gateway
	var err error
	gw, err = aigateway.New(*cfg)
	if err != nil {
		log.Fatalf("Failed to create gateway: %v", err)
	}
	// Register all env-var providers on the Gateway so strategies can route to them.
	for _, name := range registry.List() {
		if p, ok := registry.Get(name); ok {
			gw.RegisterProvider(p)
		}
	}
	if len(cfg.Plugins) > 0 {
		if err := gw.LoadPlugins(); err != nil {
			log.Fatalf("Failed to load plugins: %v", err)
		}
		log.Printf("Gateway ready: %d plugin(s) loaded", len(cfg.Plugins))
	}

	keyStore, keyStoreBackend, err := createKeyStoreFromEnv()
	if err != nil {
		log.Fatalf("API key store: %v", err)
	}
	log.Printf("API key store backend: %s", keyStoreBackend)

	configManager, configBackend, err := createConfigManagerFromEnv(gw)
	if err != nil {
		log.Fatalf("Config store: %v", err)
	}
	log.Printf("Config store backend: %s", configBackend)

	logsReader, logsBackend, err := createRequestLogReaderFromEnv()
	if err != nil {
		log.Fatalf("Request log store: %v", err)
	}
	log.Printf("Request log store backend: %s", logsBackend)

	costRepo, costBackend, err := createCostRepoFromEnv()
	if err != nil {
		log.Fatalf("Budget store: %v", err)
	}
	log.Printf("Budget store backend: %s", costBackend)

	abRepo, abBackend, err := createABRepoFromEnv()
	if err != nil {
		log.Fatalf("Experiment store: %v", err)
	}
	log.Printf("Experiment store backend: %s", abBackend)

	var corsOrigins []string
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		corsOrigins = strings.Split(origins, ",")
	}

	r := newRouter(registry, keyStore, corsOrigins, gw, configManager, logsReader, costRepo, abRepo)

	addr := ":8080"
	if p := os.Getenv("PORT"); p != "" {
		addr = ":" + p
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Println("Shutting down gracefully…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	log.Printf("VantageGateway %s listening on %s (%d provider(s))", version.Short(), addr, len(registry.List()))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stop()
		log.Fatalf("Server error: %v", err) //nolint:gocritic
	}
	log.Println("Server stopped.")
}

// newRouter builds the HTTP router. configManager, logsReader, costRepo and
// abRepo are optional (nil disables the corresponding admin endpoints).
func newRouter(
	registry *providers.Registry,
	keyStore admin.Store,
	corsOrigins []string,
	gw *aigateway.Gateway,
	configManager admin.ConfigManager,
	logsReader requestlog.Reader,
	costRepo cost.Repo,
	abRepo abtest.Repo,
) http.Handler {
	if gw == nil {
		defaultTargets := make([]aigateway.Target, 0, len(registry.List()))
		for _, name := range registry.List() {
			defaultTargets = append(defaultTargets, aigateway.Target{VirtualKey: name})
		}
		cfg := aigateway.Config{
			Strategy: aigateway.StrategyConfig{Mode: aigateway.ModeFallback},
			Targets:  defaultTargets,
		}
		created, err := aigateway.New(cfg)
		if err == nil {
			for _, name := range registry.List() {
				if p, ok := registry.Get(name); ok {
					created.RegisterProvider(p)
				}
			}
			gw = created
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware(corsOrigins...))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "ok",
			"providers": registry.List(),
		})
	})

	r.Get("/v1/models", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   registry.AllModels(),
		})
	})

	// Status dashboard (also offers config rollback); calls /admin/* client-side with an
	// admin API key the user supplies in the browser.
	r.Handle("/dashboard", http.StripPrefix("/dashboard", http.FileServer(http.FS(web.Assets))))
	r.Handle("/dashboard/*", http.StripPrefix("/dashboard", http.FileServer(http.FS(web.Assets))))

	var logAdmin requestlog.Maintainer
	if maintainer, ok := logsReader.(requestlog.Maintainer); ok {
		logAdmin = maintainer
	}

	adminHandlers := &admin.Handlers{
		Keys:        keyStore,
		Providers:   registry,
		Configs:     configManager,
		Logs:        logsReader,
		LogAdmin:    logAdmin,
		Budgets:     costRepo,
		Experiments: abRepo,
	}
	r.Route("/admin", func(r chi.Router) {
		r.Use(admin.AuthMiddleware(keyStore))
		r.Mount("/", adminHandlers.Routes())
	})

	r.Post("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req providers.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeOpenAIError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
			return
		}
		if err := req.Validate(); err != nil {
			writeOpenAIError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
			return
		}

		// --- Streaming path ---
		if req.Stream {
			if !hasModelProvider(registry, req.Model) {
				writeOpenAIError(w, http.StatusBadRequest, "no provider supports model: "+req.Model, "invalid_request_error")
				return
			}
			if !hasStreamingProviderForModel(registry, req.Model) {
				writeOpenAIError(w, http.StatusBadRequest, "provider does not support streaming", "invalid_request_error")
				return
			}

			ch, err := gw.RouteStream(r.Context(), req)
			if err != nil {
				writeOpenAIError(w, http.StatusInternalServerError, err.Error(), "server_error")
				return
			}
			writeSSE(w, ch)
			return
		}

		// --- Non-streaming path ---
		if !hasModelProvider(registry, req.Model) {
			writeOpenAIError(w, http.StatusBadRequest, "no provider supports model: "+req.Model, "invalid_request_error")
			return
		}

		resp, err := gw.Route(r.Context(), req)
		if err != nil {
			writeOpenAIError(w, http.StatusInternalServerError, err.Error(), "server_error")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	// Legacy text completions (e.g. gpt-3.5-turbo-instruct, deepseek-chat).
	// Proxies natively to providers that support it, or shims via chat for others.
	r.Post("/v1/completions", completionsHandler(registry))

	// Proxy pass-through: forward any unhandled /v1/* request to the upstream
	// provider.  This covers files, batches, fine-tuning, audio, images/edits,
	// responses API, realtime, etc. without needing a dedicated handler.
	// Must be registered LAST so explicit routes take precedence.
	r.HandleFunc("/v1/*", proxyHandler(registry))

	return r
}

// writeOpenAIError writes an OpenAI-compatible JSON error response. An
// optional code is included as the error's "code" field.
func writeOpenAIError(w http.ResponseWriter, status int, message, errType string, code ...string) {
	body := map[string]interface{}{
		"message": message,
		"type":    errType,
	}
	if len(code) > 0 && code[0] != "" {
		body["code"] = code[0]
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": body,
	})
}

// writeSSE streams SSE chunks from ch to the response writer.
func writeSSE(w http.ResponseWriter, ch <-chan providers.StreamChunk) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)
	now := time.Now().Unix()
	for chunk := range ch {
		if chunk.Error != nil {
			errData := fmt.Sprintf(`{"error":{"message":"%s","type":"stream_error"}}`, chunk.Error.Error())
			_, _ = fmt.Fprintf(w, "data: %s\n\n", errData)
			if flusher != nil {
				flusher.Flush()
			}
			return
		}
		if chunk.Object == "" {
			chunk.Object = "chat.completion.chunk"
		}
		if chunk.Created == 0 {
			chunk.Created = now
		}
		data, _ := json.Marshal(chunk)
		_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}
	_, _ = fmt.Fprintf(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

func hasModelProvider(registry *providers.Registry, model string) bool {
	_, ok := registry.FindByModel(model)
	return ok
}

func hasStreamingProviderForModel(registry *providers.Registry, model string) bool {
	for _, name := range registry.List() {
		p, ok := registry.Get(name)
		if !ok || !p.SupportsModel(model) {
			continue
		}
		if _, ok := p.(providers.StreamProvider); ok {
			return true
		}
	}
	return false
}

// createKeyStoreFromEnv builds the admin API key store backend selected by
// API_KEY_STORE_BACKEND (memory, sqlite, postgres; default memory), using
// API_KEY_STORE_DSN as its connection string.
func createKeyStoreFromEnv() (admin.Store, string, error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("API_KEY_STORE_BACKEND")))
	dsn := os.Getenv("API_KEY_STORE_DSN")

	switch backend {
	case "", "memory":
		return admin.NewKeyStore(), "memory", nil
	case "sqlite":
		store, err := admin.NewSQLiteStore(dsn)
		if err != nil {
			return nil, "", err
		}
		return store, "sqlite", nil
	case "postgres":
		store, err := admin.NewPostgresStore(dsn)
		if err != nil {
			return nil, "", err
		}
		return store, "postgres", nil
	default:
		return nil, "", fmt.Errorf("unsupported API_KEY_STORE_BACKEND: %s", backend)
	}
}

// createConfigManagerFromEnv wires the gateway's runtime config manager to
// the persistence backend selected by CONFIG_STORE_BACKEND (memory, sqlite,
// postgres; default memory), using CONFIG_STORE_DSN as its connection
// string. A non-memory backend re-applies the last persisted config to gw.
func createConfigManagerFromEnv(gw *aigateway.Gateway) (*admin.GatewayConfigManager, string, error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("CONFIG_STORE_BACKEND")))
	dsn := os.Getenv("CONFIG_STORE_DSN")

	var store admin.ConfigStore
	switch backend {
	case "", "memory":
		backend = "memory"
	case "sqlite":
		s, err := admin.NewSQLiteConfigStore(dsn)
		if err != nil {
			return nil, "", err
		}
		store = s
	case "postgres":
		s, err := admin.NewPostgresConfigStore(dsn)
		if err != nil {
			return nil, "", err
		}
		store = s
	default:
		return nil, "", fmt.Errorf("unsupported CONFIG_STORE_BACKEND: %s", backend)
	}

	mgr, err := admin.NewGatewayConfigManager(gw, store)
	if err != nil {
		return nil, "", err
	}
	return mgr, backend, nil
}

// createRequestLogReaderFromEnv wires the admin API's read side of request
// logging to the backend selected by REQUEST_LOG_STORE_BACKEND (sqlite,
// postgres; default disabled), using REQUEST_LOG_STORE_DSN as its
// connection string. There is no in-memory backend: request logs are only
// readable via the admin API when persisted, matching the request-logger
// plugin's own "persist" option.
func createRequestLogReaderFromEnv() (requestlog.Reader, string, error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("REQUEST_LOG_STORE_BACKEND")))
	dsn := os.Getenv("REQUEST_LOG_STORE_DSN")

	switch backend {
	case "":
		return nil, "disabled", nil
	case "sqlite":
		reader, err := requestlog.NewSQLiteWriter(dsn)
		if err != nil {
			return nil, "", err
		}
		return reader, "sqlite", nil
	case "postgres":
		reader, err := requestlog.NewPostgresWriter(dsn)
		if err != nil {
			return nil, "", err
		}
		return reader, "postgres", nil
	default:
		return nil, "", fmt.Errorf("unsupported REQUEST_LOG_STORE_BACKEND: %s", backend)
	}
}

// createCostRepoFromEnv wires the admin API's budget/cost ledger to the
// backend selected by BUDGET_STORE_BACKEND (memory, sqlite, postgres;
// default memory), using BUDGET_STORE_DSN as its connection string.
func createCostRepoFromEnv() (cost.Repo, string, error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("BUDGET_STORE_BACKEND")))
	dsn := os.Getenv("BUDGET_STORE_DSN")

	switch backend {
	case "", "memory":
		return cost.NewMemoryRepo(), "memory", nil
	case "sqlite":
		repo, err := cost.NewSQLiteRepo(dsn)
		if err != nil {
			return nil, "", err
		}
		return repo, "sqlite", nil
	case "postgres":
		repo, err := cost.NewPostgresRepo(dsn)
		if err != nil {
			return nil, "", err
		}
		return repo, "postgres", nil
	default:
		return nil, "", fmt.Errorf("unsupported BUDGET_STORE_BACKEND: %s", backend)
	}
}

// createABRepoFromEnv wires the admin API's experiment registry to the
// backend selected by EXPERIMENT_STORE_BACKEND (memory, sqlite, postgres;
// default memory), using EXPERIMENT_STORE_DSN as its connection string.
func createABRepoFromEnv() (abtest.Repo, string, error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("EXPERIMENT_STORE_BACKEND")))
	dsn := os.Getenv("EXPERIMENT_STORE_DSN")

	switch backend {
	case "", "memory":
		return abtest.NewMemoryRepo(), "memory", nil
	case "sqlite":
		repo, err := abtest.NewSQLiteRepo(dsn)
		if err != nil {
			return nil, "", err
		}
		return repo, "sqlite", nil
	case "postgres":
		repo, err := abtest.NewPostgresRepo(dsn)
		if err != nil {
			return nil, "", err
		}
		return repo, "postgres", nil
	default:
		return nil, "", fmt.Errorf("unsupported EXPERIMENT_STORE_BACKEND: %s", backend)
	}
}
