package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"peopledesk.org/internal/auth"
	"peopledesk.org/internal/httpapi"
	"peopledesk.org/internal/obs"
	"peopledesk.org/internal/ratelimit"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	secret := os.Getenv("PEOPLEDESK_AUTH_SECRET")
	if secret == "" {
		log.Fatal("PEOPLEDESK_AUTH_SECRET is required")
	}
	addr := os.Getenv("PEOPLEDESK_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	// Without a DSN the gateway runs on the in-memory store. Credentials do
	// not survive a restart; meant for local development only.
	var (
		db    *sql.DB
		creds auth.CredentialStore
		perms auth.PermissionStore
	)
	if dsn := os.Getenv("PEOPLEDESK_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		pg := auth.NewPGStore(db)
		creds, perms = pg, pg
	} else {
		log.Print("PEOPLEDESK_PG_DSN not set, using the in-memory store")
		mem := auth.NewMemStore()
		creds, perms = mem, mem
	}

	tokens, err := auth.NewTokenService(creds, secret)
	if err != nil {
		log.Fatalf("token service: %v", err)
	}
	svc, err := auth.NewService(creds, perms, tokens)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}
	rbac, err := auth.NewRBACService(perms)
	if err != nil {
		log.Fatalf("rbac service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.EnsureBuiltins(ctx); err != nil {
		log.Fatalf("ensure builtin permissions: %v", err)
	}

	limiter := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.Config{
		Window:      time.Minute,
		MaxRequests: envInt("PEOPLEDESK_RATE_LIMIT", 100),
	})

	api, err := httpapi.New(httpapi.Config{
		Service:      svc,
		RBAC:         rbac,
		Limiter:      limiter,
		Ready:        readyProbe(db),
		Version:      version,
		CORSOrigins:  splitList(os.Getenv("PEOPLEDESK_CORS_ORIGINS")),
		CookieSecure: os.Getenv("PEOPLEDESK_COOKIE_SECURE") == "true",
	})
	if err != nil {
		log.Fatalf("http api: %v", err)
	}

	// Janitor: expired refresh token rows are dead weight once past their
	// window; sweep them hourly.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := tokens.PurgeExpired(ctx); err != nil {
					log.Printf("purge expired refresh tokens: %v", err)
				} else if n > 0 {
					log.Printf("purged %d expired refresh tokens", n)
				}
			}
		}
	}()

	srv := api.Server(addr)
	log.Printf("starting peopledesk-gateway %s on %s", version, addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Print("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	if db != nil {
		_ = db.Close()
	}
	log.Print("stopped")
}

func readyProbe(db *sql.DB) httpapi.ReadyProbe {
	if db == nil {
		return nil
	}
	return func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	}
}

func envInt(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
