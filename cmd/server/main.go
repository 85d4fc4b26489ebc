// CampusChat - streaming support-chat backend for an educational institution.
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
	"github.com/redis/go-redis/v9"

	"github.com/campuschat/campuschat/internal/api"
	"github.com/campuschat/campuschat/internal/chat"
	"github.com/campuschat/campuschat/internal/classifier"
	"github.com/campuschat/campuschat/internal/config"
	"github.com/campuschat/campuschat/internal/domain"
	"github.com/campuschat/campuschat/internal/escalation"
	"github.com/campuschat/campuschat/internal/identity"
	"github.com/campuschat/campuschat/internal/llm"
	"github.com/campuschat/campuschat/internal/middleware"
	"github.com/campuschat/campuschat/internal/rag"
	"github.com/campuschat/campuschat/internal/sessions"
	"github.com/campuschat/campuschat/internal/store"
	"github.com/campuschat/campuschat/web"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "provider", cfg.LLM.Provider)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	if err := seedAgents(context.Background(), repo); err != nil {
		slog.Error("Failed to seed default agents", "error", err)
		os.Exit(1)
	}

	// Redis is optional; without it, pending confirmations and activity
	// tracking fall back to process-local memory.
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			slog.Warn("Redis unreachable, falling back to in-memory state", "addr", cfg.RedisAddr, "error", err)
			rdb = nil
		} else {
			defer func() {
				if closeErr := rdb.Close(); closeErr != nil {
					slog.Warn("Failed to close Redis client", "error", closeErr)
				}
			}()
			slog.Info("Redis connected", "addr", cfg.RedisAddr)
		}
	}

	provider, err := llm.New(cfg.LLM, logger)
	if err != nil {
		slog.Error("Failed to initialize model provider", "error", err)
		os.Exit(1)
	}

	// Initialize services.
	hub := escalation.NewHub(logger)
	escSvc := escalation.NewService(repo, rdb, cfg.Escalation, logger)
	transcript := chat.NewTranscriptRecorder(repo, logger)
	defer transcript.Close()
	activity := sessions.NewTracker(rdb, cfg.SessionTTL, logger)

	chatSvc := chat.NewService(
		repo,
		classifier.New(repo, logger),
		rag.New(repo, rag.DefaultLimit),
		provider,
		escSvc,
		transcript,
		activity,
		cfg.LLM,
		logger,
	)

	// Initialize handlers.
	chatHandler := chat.NewHandler(chatSvc, cfg.RateLimit, logger)
	apiHandler := api.NewHandler(repo, hub, logger)
	wsHandler := escalation.NewWebSocketHandler(repo, hub, cfg.FrontendURL, cfg.IsDevelopment(), logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))

	corsOrigins := []string{"*"}
	if cfg.FrontendURL != "" {
		corsOrigins = []string{cfg.FrontendURL}
	}
	r.Use(middleware.CORS(corsOrigins))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	apiHandler.Mount(r)
	chatHandler.Mount(r)

	// WebSocket endpoint for escalated conversations.
	r.Get("/ws/chat/{session_id}", wsHandler.ServeHTTP)

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

	sessions.StartCleanupWorker(ctx, repo, cfg.SessionTTL, logger)
	slog.Info("Cleanup worker started", "session_ttl", cfg.SessionTTL)

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

// seedAgents populates the agent catalog on first boot so a fresh install
// can answer something.
func seedAgents(ctx context.Context, repo store.Repository) error {
	n, err := repo.CountAgents(ctx)
	if err != nil || n > 0 {
		return err
	}

	type seed struct {
		agent   domain.VirtualAgent
		content []domain.ContentUnit
	}
	seeds := []seed{
		{
			agent: domain.VirtualAgent{
				Name:           "Admisiones",
				Specialty:      "admisiones e inscripciones",
				WelcomeMessage: "Hola, soy el asistente de Admisiones. ¿En qué puedo ayudarte?",
				Keywords:       "admisión, inscripción, matrícula, requisitos, convocatoria",
				Active:         true,
			},
			content: []domain.ContentUnit{
				{
					Title:    "Proceso de inscripción",
					Body:     "La inscripción se realiza en línea. Necesitas tu certificado de estudios, identificación oficial y el comprobante de pago de la solicitud.",
					Keywords: "inscripción, requisitos",
					Active:   true,
				},
			},
		},
		{
			agent: domain.VirtualAgent{
				Name:           "Biblioteca",
				Specialty:      "servicios de biblioteca",
				WelcomeMessage: "Hola, soy el asistente de la Biblioteca. ¿Qué necesitas?",
				Keywords:       "biblioteca, libro, préstamo, devolución, horario",
				Active:         true,
			},
			content: []domain.ContentUnit{
				{
					Title:    "Horarios de biblioteca",
					Body:     "La biblioteca central abre de lunes a viernes de 8:00 a 20:00 y sábados de 9:00 a 14:00.",
					Keywords: "horario",
					Active:   true,
				},
				{
					Title:    "Préstamo de libros",
					Body:     "Puedes llevar hasta tres libros por dos semanas con tu credencial vigente. Las renovaciones se hacen en línea.",
					Keywords: "préstamo, renovación",
					Active:   true,
				},
			},
		},
		{
			agent: domain.VirtualAgent{
				Name:           "Pagos y Becas",
				Specialty:      "pagos, colegiaturas y becas",
				WelcomeMessage: "Hola, soy el asistente de Pagos y Becas. ¿En qué te ayudo?",
				Keywords:       "pago, colegiatura, beca, factura, reembolso",
				Active:         true,
			},
			content: []domain.ContentUnit{
				{
					Title:    "Fechas de pago",
					Body:     "La colegiatura se paga en los primeros cinco días hábiles de cada mes. Después de esa fecha aplica un recargo.",
					Keywords: "pago, colegiatura, recargo",
					Active:   true,
				},
			},
		},
	}

	for _, s := range seeds {
		agent := s.agent
		id, err := repo.InsertAgent(ctx, &agent)
		if err != nil {
			return err
		}
		for _, c := range s.content {
			unit := c
			unit.AgentID = id
			if _, err := repo.InsertContent(ctx, &unit); err != nil {
				return err
			}
		}
	}
	slog.Info("Seeded default agents", "count", len(seeds))
	return nil
}
