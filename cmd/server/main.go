package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/liamcoop/automations/config"
	"github.com/liamcoop/automations/dedup"
	"github.com/liamcoop/automations/engine"
	"github.com/liamcoop/automations/executor"
	"github.com/liamcoop/automations/internal/logger"
	"github.com/liamcoop/automations/rules"
	"github.com/liamcoop/automations/trackapi"
	"github.com/liamcoop/automations/webhook"
	"github.com/liamcoop/automations/workspace"
)

const maxWebhookBody = 1 << 20 // 1 MiB

type Server struct {
	cfg         *config.Config
	db          *sql.DB
	store       *rules.CachedStore
	expressions *engine.ExpressionEnv
	cache       *workspace.Cache
	dedupStore  dedup.Store
	pool        *webhook.Pool
	router      *chi.Mux
}

func NewServer(cfg *config.Config) (*Server, error) {
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
	}

	var base rules.Store
	if db != nil {
		base = rules.NewPostgresStore(db)
	} else {
		logger.Warn("no DATABASE_URL configured, rules are stored in memory")
		base = rules.NewInMemoryStore()
	}
	store := rules.NewCachedStore(base, cfg.RulesCacheTTL)

	expressions, err := engine.NewExpressionEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression environment: %w", err)
	}

	api := trackapi.NewClient(cfg.APIBaseURL, cfg.APIToken, cfg.HTTPTimeout)
	cache := workspace.NewCache(api, cfg.WorkspaceCacheMaxItems)

	var dedupStore dedup.Store
	if cfg.DedupBackend == config.DedupBackendDatabase {
		dedupStore = dedup.NewPostgresStore(db)
	} else {
		dedupStore = dedup.NewMemoryStore()
	}

	exec := executor.New(api, cache, cfg.ApplyChanges, cfg.ActionMaxAttempts)
	handler := webhook.NewHandler(store, engine.NewEvaluator(expressions), exec, cache, dedupStore, cfg.DedupTTL)
	pool := webhook.NewPool(handler, cfg.AsyncQueueDepth, cfg.AsyncWorkers)

	s := &Server{
		cfg:         cfg,
		db:          db,
		store:       store,
		expressions: expressions,
		cache:       cache,
		dedupStore:  dedupStore,
		pool:        pool,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Get("/api/v1/ready", s.handleReady)

	r.Post("/api/v1/webhooks/{eventType}", s.handleWebhook)

	r.Route("/api/v1/workspaces/{workspaceId}", func(r chi.Router) {
		r.Post("/rules", s.handleCreateRule)
		r.Get("/rules", s.handleListRules)
		r.Get("/rules/{ruleId}", s.handleGetRule)
		r.Put("/rules/{ruleId}", s.handleUpdateRule)
		r.Delete("/rules/{ruleId}", s.handleDeleteRule)

		r.Post("/cache/refresh", s.handleCacheRefresh)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Close() {
	s.pool.Close()
	if err := s.dedupStore.Close(); err != nil {
		logger.Warn("failed to close dedup store", "error", err)
	}
	if s.db != nil {
		s.db.Close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unready",
				"error":  err.Error(),
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleWebhook ingests one delivery. The event type comes from the
// path, the workspace and time entry ids from the payload.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	eventType := chi.URLParam(r, "eventType")

	payload, err := readBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read payload", err)
		return
	}

	te, err := engine.NewTimeEntryContext(payload)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload", err)
		return
	}
	if te.WorkspaceID() == "" {
		respondError(w, http.StatusBadRequest, "payload has no workspaceId", nil)
		return
	}
	if te.ID() == "" {
		respondError(w, http.StatusBadRequest, "payload has no time entry id", nil)
		return
	}

	result, err := s.pool.Submit(r.Context(), webhook.Event{
		EventType:   eventType,
		WorkspaceID: te.WorkspaceID(),
		PayloadID:   te.ID(),
		Payload:     payload,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to process delivery", err)
		return
	}

	status := http.StatusOK
	if result.Status == webhook.StatusScheduled {
		status = http.StatusAccepted
	}
	respondJSON(w, status, result)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceId")

	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	rule.ID = uuid.NewString()

	if err := rules.Validate(&rule, s.expressions); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}
	if err := s.store.Save(workspaceID, &rule); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to save rule", err)
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceId")

	list, err := s.store.GetAll(workspaceID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"rules": list})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceId")
	ruleID := chi.URLParam(r, "ruleId")

	rule, err := s.store.Get(workspaceID, ruleID)
	if errors.Is(err, rules.ErrNotFound) {
		respondError(w, http.StatusNotFound, "rule not found", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get rule", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceId")
	ruleID := chi.URLParam(r, "ruleId")

	if _, err := s.store.Get(workspaceID, ruleID); err != nil {
		if errors.Is(err, rules.ErrNotFound) {
			respondError(w, http.StatusNotFound, "rule not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get rule", err)
		return
	}

	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	rule.ID = ruleID

	if err := rules.Validate(&rule, s.expressions); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}
	if err := s.store.Save(workspaceID, &rule); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to save rule", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceId")
	ruleID := chi.URLParam(r, "ruleId")

	deleted, err := s.store.Delete(workspaceID, ruleID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete rule", err)
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "rule not found", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCacheRefresh(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceId")

	if _, err := s.cache.Refresh(r.Context(), workspaceID); err != nil {
		respondError(w, http.StatusBadGateway, "failed to refresh workspace metadata", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(http.MaxBytesReader(nil, r.Body, maxWebhookBody))
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{"error": message}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

func setupMetrics(ctx context.Context) (func(context.Context) error, error) {
	if os.Getenv("OTEL_ENABLED") != "true" {
		return func(context.Context) error { return nil }, nil
	}
	exporter, err := otlpmetricgrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	otel.SetMeterProvider(provider)
	return provider.Shutdown, nil
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.FromEnvironment()
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}

	shutdownMetrics, err := setupMetrics(context.Background())
	if err != nil {
		logger.Fatal("failed to set up metrics", "error", err)
	}

	server, err := NewServer(cfg)
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "apply_changes", cfg.ApplyChanges)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	server.Close()
	if err := shutdownMetrics(ctx); err != nil {
		logger.Warn("metrics shutdown error", "error", err)
	}
	if err := logger.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "logger shutdown error: %v\n", err)
	}
	logger.Info("server stopped")
}
