package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"benefits-portal/internal/authz"
	"benefits-portal/internal/config"
	"benefits-portal/internal/cron"
	"benefits-portal/internal/database"
	"benefits-portal/internal/events"
	"benefits-portal/internal/handlers"
	"benefits-portal/internal/identity"
	"benefits-portal/internal/logging"
	"benefits-portal/internal/metrics"
	"benefits-portal/internal/middleware"
	"benefits-portal/internal/storage"
)

func main() {
	// 1. Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load config")
	}

	// 2. Logging and metrics
	log := logging.Setup(cfg.LogLevel, cfg.LogFormat, cfg.IsProduction(), os.Stdout)
	m := metrics.New()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 3. Connect to PostgreSQL and apply the bootstrap schema
	db, err := database.New(ctx, &cfg.DB)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.WithError(err).Fatal("Failed to apply schema")
	}

	// 4. Role catalog and permission contexts
	store := identity.NewPgStore(db.GetPool())
	catalog := authz.NewRoleCatalog(store)
	refresher := cron.NewCatalogRefresher(catalog, m, log)
	if err := refresher.Reload(ctx); err != nil {
		// Requests fail closed until a scheduled refresh succeeds.
		log.WithError(err).Error("Initial role catalog load failed")
	}

	resolver := identity.NewResolver(store, catalog, cfg.Authz.CacheSize, cfg.Authz.CacheTTL, m)
	filter := authz.NewFilter(authz.Observers{
		authz.NewLogObserver(log),
		authz.NewMetricsObserver(m),
	})
	authorizer := middleware.NewAuthorizer(resolver, filter)

	// 5. Cross-instance invalidation (optional, needs REDIS_URL)
	var publisher events.Publisher
	var bus *events.RedisBus
	if cfg.RedisURL != "" {
		bus, err = events.NewRedisBus(ctx, cfg.RedisURL, events.DefaultChannel, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer bus.Close()
		publisher = bus
	}
	invalidator := events.NewInvalidator(resolver, refresher, publisher, log)

	if bus != nil {
		sub, err := bus.Subscribe(ctx)
		if err != nil {
			log.WithError(err).Fatal("Failed to subscribe to invalidation channel")
		}
		go sub.Run(ctx, invalidator.Handle)
	}

	// 6. Scheduled jobs
	scheduler := cron.NewScheduler(log, time.Minute)
	if err := scheduler.Add("catalog_refresh", cfg.Authz.CatalogRefresh, refresher.Reload); err != nil {
		log.WithError(err).Fatal("Invalid CATALOG_REFRESH")
	}
	purger := cron.NewActivityPurger(db.GetPool(), cfg.Activity.Retention, log)
	if err := scheduler.Add("activity_purge", cfg.Activity.Purge, purger.Purge); err != nil {
		log.WithError(err).Fatal("Invalid ACTIVITY_PURGE")
	}
	scheduler.Start(ctx)

	// 7. Initialize file storage (R2 when configured, local disk otherwise)
	var fileStore storage.Store
	if cfg.R2.Enabled() {
		fileStore, err = storage.NewR2Store(ctx, cfg.R2)
	} else {
		fileStore, err = storage.NewLocalStore(cfg.Upload.Dir, cfg.Upload.BaseURL)
	}
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize file storage")
	}

	// 8. Set up router with global middleware
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log, m))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// 9. Initialize handlers with their dependencies
	authHandler := handlers.NewAuthHandler(db, cfg.JWTSecret, resolver, invalidator)
	beneficiaryHandler := handlers.NewBeneficiaryHandler(db)
	dependentHandler := handlers.NewDependentHandler(db)
	companyHandler := handlers.NewCompanyHandler(db)
	userHandler := handlers.NewUserManagementHandler(db, catalog, invalidator)
	roleHandler := handlers.NewRoleHandler(db, invalidator)
	uploadHandler := handlers.NewUploadHandler(db, fileStore, cfg.Upload.Dir)
	activityHandler := handlers.NewActivityHandler(db)

	// 10. Public routes (no authentication required)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Benefits Portal API"))
	})
	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		health := db.Health()
		if bus != nil {
			health["redis"] = "up"
			if err := bus.Ping(r.Context()); err != nil {
				health["redis"] = "down"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(health)
	})
	r.Handle("/metrics", m.Handler())

	// Auth routes: login is rate limited per client IP
	r.Post("/api/auth/register", authHandler.Register)
	r.With(middleware.RateLimit(ctx, rate.Every(6*time.Second), 5)).
		Post("/api/auth/login", authHandler.Login)

	// 11. Protected routes (require valid JWT)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.ForcePasswordReset(resolver, "/api/auth/change-password", "/api/auth/me"))

		r.Get("/api/auth/me", authHandler.GetMe)
		r.Post("/api/auth/change-password", authHandler.ChangePassword)

		// Beneficiaries
		r.With(authorizer.Require("view_beneficiaries_company|view_beneficiaries_all")).
			Get("/api/beneficiaries", beneficiaryHandler.List)
		r.With(authorizer.Require("export_beneficiaries_company")).
			Get("/api/beneficiaries/export", beneficiaryHandler.Export)
		r.Route("/api/beneficiaries/{id}", func(r chi.Router) {
			r.With(authorizer.Require("view_beneficiaries_company")).Get("/", beneficiaryHandler.GetByID)
			r.With(authorizer.Require("view_beneficiaries_company")).Get("/dependents", dependentHandler.List)

			r.Group(func(r chi.Router) {
				r.Use(authorizer.Require("manage_beneficiaries_company"))
				r.Put("/", beneficiaryHandler.Update)
				r.Delete("/", beneficiaryHandler.Delete)
				r.Post("/dependents", dependentHandler.Create)
			})
		})
		r.Group(func(r chi.Router) {
			r.Use(authorizer.Require("manage_beneficiaries_company"))
			r.Post("/api/beneficiaries", beneficiaryHandler.Create)
			r.Delete("/api/dependents/{id}", dependentHandler.Delete)

			// Beneficiary documents
			r.Post("/api/upload", uploadHandler.Upload)
			r.Delete("/api/files/*", uploadHandler.Delete)
		})
		r.With(authorizer.Require("view_beneficiaries_company")).
			Get("/api/files/*", uploadHandler.ServeFile)

		// Companies
		r.With(authorizer.Require("view_companies_company")).Get("/api/companies", companyHandler.List)
		r.With(authorizer.Require("view_companies_company")).Get("/api/companies/{id}", companyHandler.GetByID)
		r.Group(func(r chi.Router) {
			r.Use(authorizer.Require("manage_companies_all"))
			r.Post("/api/companies", companyHandler.Create)
			r.Put("/api/companies/{id}", companyHandler.Update)
			r.Delete("/api/companies/{id}", companyHandler.Delete)
		})

		// User management
		r.Route("/api/users", func(r chi.Router) {
			r.Use(authorizer.Require("manage_users_company"))
			r.Get("/", userHandler.List)
			r.Put("/{id}/roles", userHandler.UpdateRoles)
			r.Get("/{id}/companies", userHandler.GetUserCompanies)
			r.Put("/{id}/companies", userHandler.SetUserCompanies)
			r.Post("/{id}/force-password-reset", userHandler.ForcePasswordReset)
			r.Delete("/{id}", userHandler.Delete)
		})

		// Roles
		r.Group(func(r chi.Router) {
			r.Use(authorizer.Require("manage_roles_all"))
			r.Get("/api/roles", roleHandler.List)
			r.Put("/api/roles/{name}/permissions", roleHandler.UpdatePermissions)
		})

		// Activity log
		r.With(authorizer.Require("view_activity_all")).Get("/api/activity", activityHandler.List)
	})

	// 12. Start server with graceful shutdown
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.WithField("port", cfg.Port).Info("Server started")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Server failed to start")
		}
	}()

	<-done
	log.Info("Server stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}
	<-scheduler.Stop().Done()
	stop()

	log.Info("Server exited properly")
}
