// Clinical chatbot server with logically verified responses.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/aws-samples/sample-clinical-chatbot-with-logically-verified-responses/internal/api"
	"github.com/aws-samples/sample-clinical-chatbot-with-logically-verified-responses/internal/config"
	"github.com/aws-samples/sample-clinical-chatbot-with-logically-verified-responses/internal/engine"
	"github.com/aws-samples/sample-clinical-chatbot-with-logically-verified-responses/internal/middleware"
	"github.com/aws-samples/sample-clinical-chatbot-with-logically-verified-responses/internal/prover"
	"github.com/aws-samples/sample-clinical-chatbot-with-logically-verified-responses/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize the patient record and the prover over it.
	record := prover.DemoPatient()
	checker := prover.NewChecker(record, logger)

	// Pick the responder: model-backed when an API key is configured,
	// scripted otherwise so the demo works out of the box.
	var responder engine.Responder
	if cfg.AnthropicAPIKey != "" {
		responder = engine.NewAnthropicResponder(cfg.AnthropicAPIKey, record,
			engine.WithModels(cfg.ChatModel, cfg.ExtractionModel, cfg.CorruptionModel),
			engine.WithResponderLogger(logger),
		)
		slog.Info("Using Anthropic responder",
			"chat_model", cfg.ChatModel,
			"extraction_model", cfg.ExtractionModel,
			"corruption_model", cfg.CorruptionModel,
		)
	} else {
		responder = engine.NewScriptedResponder(record)
		slog.Info("ANTHROPIC_API_KEY not set, using scripted responder")
	}

	pipeline := engine.NewPipeline(responder, checker, logger,
		engine.WithExtraDelay(cfg.ExtraDelay))

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	// API routes.
	api.NewHandler(pipeline, record, cfg.DoCorrupt, logger).RegisterRoutes(r)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Create server.
	// Note: SSE connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,                 // 0 = no timeout for SSE support
		IdleTimeout:  120 * time.Second, // 2 minutes for idle connections
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
