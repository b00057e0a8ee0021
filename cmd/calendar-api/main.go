package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bookingcal/project/internal/app/booking"
	"github.com/bookingcal/project/internal/app/calendarapi"
	"github.com/bookingcal/project/internal/app/identity"
	"github.com/bookingcal/project/internal/config"
	"github.com/bookingcal/project/internal/platform/dbpool"
	"github.com/bookingcal/project/internal/platform/env"
	"github.com/bookingcal/project/internal/platform/metrics"
	"github.com/bookingcal/project/internal/platform/natsutil"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
)

func main() {
	env.LoadDotEnv()

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := env.String("CALENDAR_API_ADDR", env.DefaultCalendarAddr)
	uiOrigin := env.String("UI_ORIGIN", "http://localhost:8081")
	pgURL := env.String("DATABASE_URL", env.DefaultDatabaseURL)
	jwtSecret := env.String("JWT_SECRET", "dev-insecure-change-me")
	accessTTL := env.Duration("ACCESS_TOKEN_TTL", 12*time.Hour)
	shutdownTimeout := env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second)

	cfg, err := config.Load(env.String("CALENDAR_CONFIG", env.DefaultCalendarConfig))
	if err != nil {
		log.Fatal(err)
	}

	pool, err := dbpool.New(runCtx, pgURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	identityRepo := identity.NewPostgresRepository(pool)
	bookingRepo := booking.NewPostgresRepository(pool)
	if err := dbpool.WaitForSchemas(runCtx, 30*time.Second, identityRepo, bookingRepo); err != nil {
		log.Fatal(err)
	}

	identitySvc := identity.NewService(identityRepo, identity.NewTokenManager(jwtSecret, accessTTL))
	if err := identitySvc.Seed(runCtx,
		cfg.AdminName, env.String("ADMIN_PASSWORD", "admin-change-me"),
		cfg.TeamMembers, env.String("TEAM_PASSWORD", "team-change-me"),
	); err != nil {
		log.Fatal(err)
	}

	client, err := natsutil.ConnectJetStreamWithRetry(env.String("NATS_URL", env.DefaultNATSURL), "calendar-api", 20*time.Second)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	publisher := natsutil.JetStreamPublisher{JS: client.JS}
	bookingSvc := booking.NewService(bookingRepo, cfg.Location(), publisher.Publish)
	bookingSvc.BookingOffset = time.Duration(cfg.BookingOffsetMinutes) * time.Minute
	bookingSvc.DefaultDuration = cfg.DefaultDurationMinutes
	bookingSvc.Roster = identitySvc.Roster

	calendarSvc := calendarapi.NewService(bookingSvc, identitySvc, cfg)
	handler := calendarapi.NewHandler(calendarSvc, bookingSvc, identitySvc, uiOrigin)

	maintenance := cron.New()
	if _, err := maintenance.AddFunc(cfg.Maintenance, func() {
		ctx, cancel := context.WithTimeout(runCtx, 30*time.Second)
		defer cancel()
		n, err := identitySvc.PruneRefreshTokens(ctx)
		if err != nil {
			log.Printf("prune refresh tokens: %v", err)
			return
		}
		if n > 0 {
			log.Printf("pruned %d refresh tokens", n)
		}
	}); err != nil {
		log.Fatalf("maintenance schedule %q: %v", cfg.Maintenance, err)
	}
	maintenance.Start()
	defer maintenance.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := checkReadiness(r.Context(), pool, client); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.DefaultHandler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	fmt.Printf("Calendar API listening on %s (timezone %s)\n", addr, cfg.Timezone)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Fatal(err)
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("calendar-api graceful shutdown failed: %v", err)
	}
}

func checkReadiness(ctx context.Context, pool *pgxpool.Pool, client *natsutil.Client) error {
	if err := client.Connected(); err != nil {
		return err
	}
	return dbpool.Ping(ctx, pool)
}
