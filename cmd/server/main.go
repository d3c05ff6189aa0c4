package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/customer-sync/internal/api"
	"github.com/ignite/customer-sync/internal/config"
	"github.com/ignite/customer-sync/internal/ingest"
	"github.com/ignite/customer-sync/internal/progress"
	"github.com/ignite/customer-sync/internal/repository/postgres"
	"github.com/ignite/customer-sync/internal/service/customer"
	"github.com/ignite/customer-sync/internal/worker"
)

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale processes occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	slash := strings.Index(rest, "/")
	if slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

// openDatabase connects to PostgreSQL with conservative session timeouts so
// a wedged statement can never hold a pool slot forever.
func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	dbURL := cfg.URL
	sep := "?"
	if strings.Contains(dbURL, "?") {
		sep = "&"
	}
	if !strings.Contains(dbURL, "connect_timeout") {
		dbURL += sep + "connect_timeout=5"
		sep = "&"
	}
	dbURL += sep + "options=-c%20statement_timeout%3D30000%20-c%20idle_in_transaction_session_timeout%3D15000"
	log.Printf("[db] URL host portion: ...@%s/...", extractHost(dbURL))

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime())
	db.SetConnMaxIdleTime(30 * time.Second)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

// connectRedis dials Redis if configured. Redis is optional: on failure the
// progress mirror is skipped and the import lease falls back to PG advisory
// locks, so a dead Redis never blocks imports.
func connectRedis(ctx context.Context, cfg config.RedisConfig) *redis.Client {
	// REDIS_URL always wins; otherwise the config file must opt in.
	addr := os.Getenv("REDIS_URL")
	if addr == "" && cfg.Enabled {
		addr = cfg.Addr
	}
	if addr == "" {
		log.Println("[redis] not configured — using PG advisory locks, progress mirror disabled")
		return nil
	}

	var client *redis.Client
	if opts, err := redis.ParseURL(addr); err == nil {
		client = redis.NewClient(opts)
	} else {
		// Bare host:port form.
		client = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}
	if pingRedis(ctx, client, addr) {
		return client
	}
	return nil
}

func pingRedis(ctx context.Context, client *redis.Client, addr string) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("[redis] connection failed (%s): %v — falling back to PG advisory locks", addr, err)
		client.Close()
		return false
	}
	log.Printf("[redis] connected: %s (distributed locking + progress mirror enabled)", addr)
	return true
}

func main() {
	log.Println("╔════════════════════════════════════════════════════════════╗")
	log.Println("║  IGNITE Customer Sync (cmd/server/main.go)                 ║")
	log.Println("║  Bulk CSV import with live SSE progress + customer CRUD    ║")
	log.Println("╚════════════════════════════════════════════════════════════╝")

	// Load configuration
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}

	// Pre-flight check: verify the target port is available
	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}
	log.Printf("Pre-flight check passed: port %d is available", port)

	// PostgreSQL is the system of record; refuse to start without it.
	db, err := openDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer db.Close()
	log.Printf("[db] connected (max_open=%d max_idle=%d)", cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis is best-effort.
	redisClient := connectRedis(ctx, cfg.Redis)
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Wire repositories and services.
	customerRepo := postgres.NewCustomerRepo(db)
	jobRepo := postgres.NewImportJobRepo(db)

	customerService := customer.NewService(customerRepo)
	batchWriter := ingest.NewBatchWriter(db)
	broker := progress.NewBroker(jobRepo, customerRepo)

	supervisor := worker.NewSupervisor(jobRepo, batchWriter, broker, cfg.Import)
	supervisor.SetMirror(progress.NewMirror(redisClient, 0))
	supervisor.SetLockBackends(redisClient, db)

	health := api.NewHealthChecker(db, redisClient, supervisor)
	server := api.NewServer(cfg, customerService, broker, supervisor, health)

	// Adopt any import interrupted by the previous process before accepting
	// traffic, so a crash mid-import heals without operator action.
	bootCtx, bootCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := supervisor.ResumeOnBoot(bootCtx); err != nil {
		log.Printf("Warning: boot reconciliation failed: %v — imports can still be started manually", err)
	}
	bootCancel()

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf("%s:%d", host, port)
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Println("All services initialized — server is ready")

	<-done
	log.Println("Shutting down...")

	// Stop the importer first: the worker halts at its last durable
	// checkpoint, the job is marked FAILED for the restart path, and the
	// broker closes, which ends every open SSE stream. Only then can the
	// HTTP server drain quickly.
	supCtx, supCancel := context.WithTimeout(context.Background(), 10*time.Second)
	supervisor.Shutdown(supCtx)
	supCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
