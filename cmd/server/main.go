package main

import (
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/spf13/afero"

	"pageforge/internal/config"
	"pageforge/internal/handler"
	"pageforge/internal/middleware"
	"pageforge/internal/notify"
	"pageforge/internal/service/agent"
	"pageforge/internal/service/branch"
	"pageforge/internal/service/chat"
	"pageforge/internal/service/engine"
	"pageforge/internal/service/images"
	"pageforge/internal/service/session"
	"pageforge/internal/store"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}

	logOut := io.Writer(os.Stdout)
	if cfg.LogDir != "" {
		logFile, err := config.SetupLogFile(cfg.LogDir, 10)
		if err != nil {
			log.Fatalf("Failed to setup log file: %v", err)
		}
		defer logFile.Close()
		logOut = io.MultiWriter(os.Stdout, logFile)
	}

	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"provider", cfg.Provider,
		"data_dir", cfg.DataDir,
	)

	// Core collaborators
	hub := notify.NewHub(logger)
	sessions := store.New(afero.NewOsFs(), cfg.DataDir, logger)

	completionEngine, err := engine.New(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to setup completion engine: %v", err)
	}
	logger.Info("completion engine ready", "engine", completionEngine.Name())

	// The image registrar ships without a renderer; the image tools answer
	// with a "not configured" result until one is wired in.
	registrar := images.New(afero.NewOsFs(), cfg.DataDir, nil, logger)

	// Services
	lifecycle := session.NewLifecycle(sessions, hub, logger)
	loop := agent.NewLoop(completionEngine, sessions, registrar, chat.NewStatusProgress(hub), logger)
	chatService := chat.NewService(sessions, loop, hub, logger)
	coordinator := branch.NewCoordinator(lifecycle, chatService, hub, logger)
	chatService.SetVariantDispatcher(coordinator)

	// Handlers
	sessionHandler := handler.NewSessionHandler(lifecycle, sessions, logger)
	versionHandler := handler.NewVersionHandler(sessions, logger)
	chatHandler := handler.NewChatHandler(chatService, logger)
	eventsHandler := handler.NewEventsHandler(hub, logger)

	logger.Info("services initialized")

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Session routes
	mux.HandleFunc("POST /api/sessions", sessionHandler.CreateSession)
	mux.HandleFunc("GET /api/sessions", sessionHandler.ListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", sessionHandler.GetSession)
	mux.HandleFunc("PUT /api/sessions/{id}", sessionHandler.GetOrCreateSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", sessionHandler.DeleteSession)
	mux.HandleFunc("POST /api/sessions/{id}/clones", sessionHandler.CloneSession)
	mux.HandleFunc("POST /api/sessions/{id}/undo", sessionHandler.UndoLastTurn)

	// Version and file routes
	mux.HandleFunc("GET /api/sessions/{id}/files", versionHandler.ReadHeadSnapshot)
	mux.HandleFunc("GET /api/sessions/{id}/versions/{version}/files", versionHandler.ReadSnapshot)
	mux.HandleFunc("POST /api/sessions/{id}/versions/{version}/files", versionHandler.CommitFiles)
	mux.HandleFunc("PUT /api/sessions/{id}/versions/{version}/files/{file}", versionHandler.EditHistoricalFile)

	// History routes
	mux.HandleFunc("GET /api/sessions/{id}/history", versionHandler.History)
	mux.HandleFunc("GET /api/sessions/{id}/turns/{turn}/history", versionHandler.HistoryByTurn)
	mux.HandleFunc("GET /api/sessions/{id}/turns/{turn}/version", versionHandler.ResolveVersionForTurn)

	// Instruction route
	mux.HandleFunc("POST /api/sessions/{id}/instructions", chatHandler.PostInstruction)

	// Event streams
	mux.HandleFunc("GET /api/events", eventsHandler.StreamAll)
	mux.HandleFunc("GET /api/sessions/{id}/events", eventsHandler.StreamSession)

	// Build middleware chain
	var root http.Handler = mux
	root = middleware.Recovery(logger)(root)

	// CORS - must be outermost to handle OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Last-Event-ID"},
		AllowCredentials: true,
	})
	root = corsHandler.Handler(root)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled to allow long-lived SSE streams
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("server listening", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}
}
