package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"golang.org/x/time/rate"

	"memberledger/internal/config"
	"memberledger/internal/notify"
	"memberledger/internal/points"
	"memberledger/internal/telemetry"
	"memberledger/internal/tiers"
	"memberledger/pkg/ledgerstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName: cfg.Telemetry.ServiceName,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
		})
		if err != nil {
			log.Fatalf("Failed to initialize telemetry: %v", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Printf("Telemetry shutdown: %v", err)
			}
		}()
	}

	ledger, tierStore, err := buildStores(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	var notifier points.Notifier
	if cfg.Notifier.URL != "" {
		notifier = notify.NewWebhookNotifier(cfg.Notifier.URL)
	}

	svc := points.NewService(ledger, tierStore, notifier)
	pointsHandler := points.NewHandler(svc)
	tiersHandler := tiers.NewHandler(tierStore)

	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit.PerSecond), cfg.RateLimit.Burst)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Route("/v1", func(r chi.Router) {
		r.With(points.RateLimit(limiter)).Mount("/", pointsHandler.Routes())
		r.Mount("/tiers", tiersHandler.Routes())
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		log.Printf("Ledger service listening on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exiting")
}

// buildStores selects PostgreSQL or in-memory storage based on config and
// seeds the default tier table into an empty deployment.
func buildStores(ctx context.Context, cfg *config.Config) (ledgerstore.Store, tiers.Store, error) {
	if cfg.Database.URL == "" {
		log.Println("No database configured, using in-memory stores")
		tierStore := tiers.NewMemoryStore()
		tierStore.Seed(tiers.DefaultTable())
		return ledgerstore.NewMemoryStore(), tierStore, nil
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, nil, err
	}

	ledger := ledgerstore.NewPostgresStore(db)
	if err := ledger.EnsureSchema(ctx); err != nil {
		return nil, nil, err
	}
	tierStore := tiers.NewPostgresStore(db)
	if err := tierStore.EnsureSchema(ctx); err != nil {
		return nil, nil, err
	}

	existing, err := tierStore.List(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(existing) == 0 {
		log.Println("Seeding default tier table")
		for _, t := range tiers.DefaultTable() {
			tier := t
			if err := tierStore.Create(ctx, &tier); err != nil {
				return nil, nil, err
			}
		}
	}

	return ledger, tierStore, nil
}
