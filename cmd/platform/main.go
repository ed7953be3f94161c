package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/opensur/platform/internal/authority"
	caseapi "github.com/opensur/platform/internal/case/api"
	"github.com/opensur/platform/internal/case/domain"
	"github.com/opensur/platform/internal/case/engine"
	caseinfra "github.com/opensur/platform/internal/case/infrastructure"
	"github.com/opensur/platform/internal/notification"
	"github.com/opensur/platform/internal/shared/auth"
	"github.com/opensur/platform/internal/shared/config"
	"github.com/opensur/platform/internal/shared/database"
	"github.com/opensur/platform/internal/shared/events"
	"github.com/opensur/platform/internal/shared/httpx"
	"github.com/opensur/platform/internal/shared/logger"
	"github.com/opensur/platform/internal/shared/metrics"
	secmiddleware "github.com/opensur/platform/internal/shared/middleware"
	"github.com/opensur/platform/internal/store/memory"
	"github.com/opensur/platform/internal/workflow"
)

// App holds all application dependencies
type App struct {
	Config *config.Config
	Log    zerolog.Logger
	DB     *database.DB
	Bus    events.EventBus
}

// stores groups the persistence ports behind the selected driver
type stores struct {
	authority    authority.Store
	workflow     workflow.Store
	cases        domain.Repository
	notification notification.Store
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log, cfg.Server.Env)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Platform stopped with error")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := &App{Config: cfg, Log: log}

	st, err := openStores(ctx, app)
	if err != nil {
		return err
	}
	if app.DB != nil {
		defer app.DB.Close()
	}

	bus, transport, err := events.NewEventBus(ctx, cfg.KurrentDB, log)
	if err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}
	app.Bus = bus
	defer bus.Close()
	log.Info().Str("transport", transport).Msg("Event bus initialized")

	hierarchy := authority.NewHierarchyCache(st.authority)
	authoritySvc := authority.NewService(st.authority, hierarchy, log)
	workflowSvc := workflow.NewService(st.workflow, workflow.ModeFor(cfg.Workflow.StrictDeadEnds), log)
	caseEngine := engine.New(st.cases, workflowSvc, hierarchy, bus, cfg.Workflow, log)
	notificationSvc := notification.NewService(st.notification, workflowSvc, hierarchy, log)

	dispatcher := notification.NewDispatcher(st.notification, notification.NewLogSender(log), cfg.Notification, log)
	if err := dispatcher.Start(ctx, bus); err != nil {
		return err
	}
	defer dispatcher.Stop()

	authorityHandler := authority.NewHandler(authoritySvc)
	workflowHandler := workflow.NewHandler(workflowSvc)
	notificationHandler := notification.NewHandler(notificationSvc)
	caseHandler := caseapi.NewHandler(caseEngine)

	limiter := secmiddleware.NewIPRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(secmiddleware.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(secmiddleware.CORS(secmiddleware.DefaultCORSConfig()))
	r.Use(metrics.Middleware)

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())
	r.Get("/", infoHandler(cfg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limiter.Middleware)
		r.Use(auth.Middleware(cfg.Auth))
		r.Use(auth.RequirePrincipal)

		r.Mount("/authorities", authorityHandler.AuthorityRoutes())
		r.Mount("/authority-users", authorityHandler.UserRoutes())
		r.Mount("/workflow", workflowHandler.Routes())
		r.Mount("/notification-templates", notificationHandler.TemplateRoutes())
		r.Mount("/authority-notifications", notificationHandler.AuthorityNotificationRoutes())
		r.Mount("/cases", caseHandler.Routes())
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
		close(done)
	}()

	log.Info().
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Driver).
		Str("events", transport).
		Bool("strict_dead_ends", cfg.Workflow.StrictDeadEnds).
		Str("promote_ambiguity", cfg.Workflow.PromoteAmbiguity).
		Msg("Platform listening")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	log.Info().Msg("Server stopped")
	return nil
}

// openStores connects the configured storage driver. Postgres is migrated
// on startup; memory keeps everything in process.
func openStores(ctx context.Context, app *App) (*stores, error) {
	switch app.Config.Storage.Driver {
	case config.StorageMemory:
		app.Log.Warn().Msg("Using in-memory storage, data is lost on restart")
		mem := memory.New()
		return &stores{authority: mem, workflow: mem, cases: mem, notification: mem}, nil
	default:
		db, err := database.New(ctx, app.Config.Database)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, db.Pool, app.Log); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		app.DB = db
		return &stores{
			authority:    authority.NewRepository(db.Pool),
			workflow:     workflow.NewRepository(db),
			cases:        caseinfra.NewPostgresRepository(db),
			notification: notification.NewRepository(db.Pool),
		}, nil
	}
}

func infoHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"name":    "OpenSur Platform",
			"version": "0.1.0",
			"env":     cfg.Server.Env,
			"docs":    "/api/v1",
		})
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		if app.DB != nil {
			if err := app.DB.Health(r.Context()); err != nil {
				checks["database"] = "not ready: " + err.Error()
			} else {
				checks["database"] = "ready"
			}
		} else {
			checks["database"] = "not configured"
		}

		if err := app.Bus.Health(); err != nil {
			checks["events"] = "not ready: " + err.Error()
		} else {
			checks["events"] = "ready"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}
		httpx.WriteJSON(w, status, map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}
