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

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"opsdeck.io/internal/audit"
	"opsdeck.io/internal/authz"
	"opsdeck.io/internal/httpapi"
	"opsdeck.io/internal/obs"
	"opsdeck.io/internal/ratelimit"
	"opsdeck.io/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	var db *sql.DB
	if dsn := os.Getenv("OPSDECK_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	// Audit trail: Postgres when available, JSON lines otherwise.
	var sink audit.Sink = &audit.LineSink{}
	if db != nil {
		sink = pg.NewAuditSink(db)
	}
	auditLog, err := audit.NewLogger(sink)
	if err != nil {
		log.Fatalf("audit logger: %v", err)
	}

	var resolver *authz.Resolver
	var roles *authz.Service
	if db != nil {
		store := pg.New(db)
		roles, err = authz.NewService(store, auditLog)
		if err != nil {
			log.Fatalf("authz service: %v", err)
		}
		seedCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := roles.SeedCatalog(seedCtx); err != nil {
			log.Fatalf("seed permissions: %v", err)
		}
		cancel()
		resolver, err = authz.NewResolver(store, auditLog)
		if err != nil {
			log.Fatalf("authz resolver: %v", err)
		}
	}

	// Rate-limit counters: Redis for multi-instance deployments, in-process
	// memory otherwise.
	var counters ratelimit.Store
	var memory *ratelimit.MemoryStore
	if addr := os.Getenv("OPSDECK_REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		counters, err = ratelimit.NewRedisStore(client, "")
		if err != nil {
			log.Fatalf("redis rate limit store: %v", err)
		}
	} else {
		memory = ratelimit.NewMemoryStore()
		counters = memory
	}

	apiLimiter, err := ratelimit.New(ratelimit.APIConfig(), counters, auditLog)
	if err != nil {
		log.Fatalf("api rate limiter: %v", err)
	}
	adminLimiter, err := ratelimit.New(ratelimit.AdminConfig(), counters, auditLog)
	if err != nil {
		log.Fatalf("admin rate limiter: %v", err)
	}

	api := httpapi.New(httpapi.Options{
		ReadyProbe:   httpapi.ReadyProbe{DB: db},
		Version:      version,
		Roles:        roles,
		Resolver:     resolver,
		APILimiter:   apiLimiter,
		AdminLimiter: adminLimiter,
	})

	srv := &http.Server{
		Addr:              ":8080",
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting opsdeck-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if memory != nil {
		memory.Stop()
	}
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
