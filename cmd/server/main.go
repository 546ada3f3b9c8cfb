package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoPolymarket/ctf-exchange/internal/config"
	"github.com/GoPolymarket/ctf-exchange/internal/events"
	"github.com/GoPolymarket/ctf-exchange/internal/handler"
	"github.com/GoPolymarket/ctf-exchange/internal/middleware"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/clock"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/logger"
	"github.com/GoPolymarket/ctf-exchange/internal/repository"
	"github.com/GoPolymarket/ctf-exchange/internal/service"
	"github.com/GoPolymarket/ctf-exchange/internal/stream"
)

const (
	auditListKey = "ctfx_audit"
	auditListMax = 10000
	memoryEvents = 5000
)

// eventStore is a history backend that also receives every published event.
type eventStore interface {
	events.Sink
	handler.EventHistory
}

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level)

	// 2. Initialize Persistence
	// Event history and audit: Postgres > Redis > Memory
	var (
		history   eventStore
		auditRepo service.AuditRepo
		pgEvents  *repository.PostgresEventStore
		pgAudit   *repository.PostgresAuditRepo
		redisConn *repository.RedisClient
	)
	if cfg.Database.DSN != "" {
		db, err := repository.NewDB(cfg)
		if err == nil {
			logger.Info("Connected to PostgreSQL")
			pgEvents = repository.NewPostgresEventStore(db)
			history = pgEvents
			pgAudit = repository.NewPostgresAuditRepo(db)
			auditRepo = pgAudit
		} else {
			logger.Error("Failed to connect to DB, falling back", "error", err)
		}
	}
	if cfg.Redis.Addr != "" {
		redisConn, err = repository.NewRedisClient(cfg)
		if err == nil {
			logger.Info("Connected to Redis")
			if history == nil {
				history = repository.NewRedisEventLog(redisConn, cfg.Redis.EventListKey, cfg.Redis.EventListMax)
			}
			if auditRepo == nil {
				auditRepo = repository.NewRedisAuditRepo(redisConn, auditListKey, auditListMax)
			}
		} else {
			logger.Error("Failed to connect to Redis, falling back to memory", "error", err)
			redisConn = nil
		}
	}
	if history == nil {
		history = repository.NewMemoryEventLog(memoryEvents)
	}

	var idempotencyStore middleware.IdempotencyStore
	idemTTL := time.Duration(cfg.Server.IdempotencyTTL) * time.Second
	if redisConn != nil {
		idempotencyStore = repository.NewRedisIdempotencyStore(redisConn, idemTTL)
	} else {
		idempotencyStore = middleware.NewInMemIdempotencyStore(idemTTL)
	}

	// 3. Deploy the protocol
	hub := stream.NewHub(logger.Component("stream"))
	bus := events.NewBus(logger.Component("events"), history, hub)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	proto, err := service.NewProtocol(ctx, cfg, clock.Real{}, bus)
	if err != nil {
		log.Fatalf("Failed to deploy protocol: %v", err)
	}
	accounts := service.NewAccountManager(cfg)

	auditSvc, err := service.NewAuditService(cfg.Server.AuditLogDir, auditRepo)
	if err != nil {
		log.Fatalf("Failed to initialize audit service: %v", err)
	}

	if pgEvents != nil && cfg.Database.EventRetentionDays > 0 {
		go runRetention(ctx, pgEvents, pgAudit, time.Duration(cfg.Database.EventRetentionDays)*24*time.Hour)
	}

	// 4. Setup Router
	r := handler.NewRouter(handler.Deps{
		Protocol:    proto,
		Accounts:    accounts,
		Audit:       auditSvc,
		Idempotency: idempotencyStore,
		History:     history,
		Stream:      hub,
		ReadOnly:    cfg.Server.ReadOnly,
	})

	// 5. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("ctf-exchange started",
			"port", cfg.Server.Port,
			"exchange", proto.Exchange.Address().Hex(),
			"deployer", proto.Deployer.Hex(),
			"read_only", cfg.Server.ReadOnly,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}
	auditSvc.Close()
	if redisConn != nil {
		redisConn.Close()
	}

	logger.Info("Server exiting")
}

// runRetention prunes stored events and audit rows older than keep once an
// hour.
func runRetention(ctx context.Context, store *repository.PostgresEventStore, audit *repository.PostgresAuditRepo, keep time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Cleanup(ctx, keep)
			if err != nil {
				logger.Warn("event retention failed", "error", err)
			} else if n > 0 {
				logger.Info("pruned events", "count", n)
			}
			if err := audit.Cleanup(ctx, keep); err != nil {
				logger.Warn("audit retention failed", "error", err)
			}
		}
	}
}
