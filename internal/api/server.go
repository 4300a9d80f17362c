package api

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/careerforge/careerforge-cloud/internal/db"
	"github.com/careerforge/careerforge-cloud/internal/identity"
	"github.com/careerforge/careerforge-cloud/internal/plans"
	"github.com/careerforge/careerforge-cloud/static"
)

// Server represents the HTTP server with all dependencies.
type Server struct {
	router   *chi.Mux
	services *Services
	db       *db.Client
	config   *Config
}

// Config holds all configuration for the server.
type Config struct {
	Port           string
	DatabaseURL    string
	IdentityURL    string
	IdentityAPIKey string
	JWTSecret      string
	PlanLimitsFile string
	LogLevel       string
	LogFile        string
}

// NewServer creates and configures a new server instance.
// It initializes the database client, the identity provider client, the
// services, and all routes.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	dbClient, err := db.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database client: %w", err)
	}

	provider := identity.NewHTTPClient(cfg.IdentityURL, cfg.IdentityAPIKey)

	// Plan limits come from the config file when one is given, and are
	// pushed to the database so server-side enforcement sees the same
	// numbers. Otherwise whatever the database already holds is used.
	resolver := plans.NewResolver(nil)
	if cfg.PlanLimitsFile != "" {
		limits, err := plans.LoadLimitsFile(cfg.PlanLimitsFile)
		if err != nil {
			dbClient.Close()
			return nil, fmt.Errorf("failed to load plan limits: %w", err)
		}
		if err := dbClient.SeedPlanLimits(context.Background(), limits); err != nil {
			slog.Warn("failed to seed plan limits", "error", err)
		}
		resolver.Replace(limits)
	} else if limits, err := dbClient.GetPlanLimits(context.Background()); err != nil {
		slog.Warn("failed to preload plan limits", "error", err)
	} else {
		resolver.Replace(limits)
	}

	services := &Services{
		Auth:  NewAuthService(provider),
		Usage: NewUsageService(dbClient, resolver),
		DB:    dbClient,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(RecoveryMiddleware)
	router.Use(LoggingMiddleware)

	verifier := NewJWTVerifier(cfg.JWTSecret)
	limiter := NewRequestLimiter()
	RegisterRoutes(router, services, verifier, limiter)

	// Dashboard SPA is served for everything the API does not claim
	if dashboardFS, err := static.DashboardFS(); err != nil {
		slog.Warn("dashboard assets unavailable, serving API only", "error", err)
	} else {
		router.NotFound(NewDashboardHandler(dashboardFS, "/assets/").ServeHTTP)
	}

	return &Server{
		router:   router,
		services: services,
		db:       dbClient,
		config:   cfg,
	}, nil
}

// Router returns the chi router instance for use with http.Server.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Close gracefully shuts down the server by closing the database connection.
func (s *Server) Close() error {
	if s.db != nil {
		s.db.Close()
	}
	return nil
}
