package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-backend/cmd"
	"chat-backend/internal/api"
	"chat-backend/internal/chat"
	"chat-backend/internal/database"
	"chat-backend/internal/ollama"
	"chat-backend/internal/titlegen"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type APIConfig struct {
	DatabaseURL        string `env:"DATABASE_URL" envDefault:"chat-backend.db"`
	OllamaAPIBase      string `env:"OLLAMA_API_BASE,notEmpty,required"`
	TitleModelDir      string `env:"TITLE_MODEL_DIR,notEmpty,required"`
	OnnxRuntimeDylib   string `env:"ONNX_RUNTIME_DYLIB"`
	APIPort            string `env:"API_PORT" envDefault:"8001"`
	ChatTimeoutSeconds int    `env:"CHAT_TIMEOUT_SECONDS" envDefault:"600"`
}

func main() {
	log.Println("Starting API Server...")

	cmd.LoadEnvFile()

	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	llm, err := ollama.NewClient(
		cfg.OllamaAPIBase,
		ollama.WithChatTimeout(time.Duration(cfg.ChatTimeoutSeconds)*time.Second),
	)
	if err != nil {
		log.Fatalf("Invalid OLLAMA_API_BASE: %v", err)
	}

	if err := titlegen.InitRuntime(cfg.OnnxRuntimeDylib); err != nil {
		log.Fatalf("Failed to initialize onnx runtime: %v", err)
	}
	titleModel, err := titlegen.LoadModel(cfg.TitleModelDir)
	if err != nil {
		log.Fatalf("Failed to load title model: %v", err)
	}
	defer titleModel.Release()

	orchestrator := chat.NewOrchestrator(db, llm, llm, titlegen.NewSummarizer(titleModel))

	// --- Chi Router Setup ---
	r := chi.NewRouter()

	// Middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)    // Log requests
	r.Use(middleware.Recoverer) // Recover from panics

	// API Handlers (dependency injection)
	chatHandler := api.NewChatService(db, orchestrator, llm)

	r.Route("/api/v1", func(r chi.Router) {
		chatHandler.AddRoutes(r)
	})

	// --- Start HTTP Server ---
	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: r,
	}

	// Goroutine for graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("API server listening on port %s", cfg.APIPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.APIPort, err)
	}

	log.Println("Server stopped.")
}
