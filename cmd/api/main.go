package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ushopls/marketplace/internal/api"
	"github.com/ushopls/marketplace/internal/api/middleware"
	"github.com/ushopls/marketplace/internal/auth"
	"github.com/ushopls/marketplace/internal/checkout"
	"github.com/ushopls/marketplace/internal/config"
	"github.com/ushopls/marketplace/internal/domain/cart"
	"github.com/ushopls/marketplace/internal/domain/inventory"
	"github.com/ushopls/marketplace/internal/domain/order"
	"github.com/ushopls/marketplace/internal/domain/product"
	"github.com/ushopls/marketplace/internal/domain/user"
	"github.com/ushopls/marketplace/internal/infrastructure/cache"
	"github.com/ushopls/marketplace/internal/infrastructure/kafka"
	"github.com/ushopls/marketplace/internal/infrastructure/store"
	"github.com/ushopls/marketplace/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := logging.New(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Named("api")

	if err := cfg.RequireJWTSecret(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, closeStore := openStore(ctx, cfg, log)
	defer closeStore()

	guard := inventory.NewGuard(st)
	productSvc := product.NewService(st)
	cartSvc := cart.NewService(st, guard, st)
	orderSvc := order.NewService(st, st, st)
	userSvc := user.NewService(st)
	orchestrator := checkout.NewOrchestrator(checkout.Deps{
		Carts:  st,
		Orders: st,
		Stock:  st,
		Guard:  guard,
		Tx:     st,
		Outbox: st,
		Logger: logger,
	})

	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.AccessTokenExpiry, cfg.RefreshTokenExpiry)

	var idempotency api.Idempotency
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("connect to redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		idempotency = cache.NewIdempotencyStore(rdb, 24*time.Hour)
		log.Info("checkout idempotency enabled", zap.String("redis", cfg.RedisAddr))
	}

	var wg sync.WaitGroup

	if len(cfg.KafkaBrokers) > 0 {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		relay := kafka.NewRelay(st, producer, cfg.OutboxPollInterval, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			relay.Run(ctx)
		}()
		log.Info("outbox relay started", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	} else {
		log.Warn("KAFKA_BROKERS not set; outbox events stay unpublished")
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 10*time.Minute)
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				limiter.Prune(now)
			case <-ctx.Done():
				return
			}
		}
	}()

	router := api.NewRouter(api.RouterConfig{
		Handlers:     api.NewHandlers(productSvc, cartSvc, orderSvc, orchestrator, idempotency, logger),
		AuthHandlers: api.NewAuthHandlers(userSvc, jwtService, logger),
		JWTService:   jwtService,
		RateLimiter:  limiter,
		Logger:       logger.Named("http"),
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server started", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}

	wg.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Store, func()) {
	if cfg.StoreDriver == config.DriverMemory {
		mem := store.NewMemoryStore()
		if cfg.SeedDemoData {
			if err := store.SeedDemo(ctx, mem); err != nil {
				log.Fatal("seed demo data", zap.Error(err))
			}
			log.Info("demo data seeded", zap.String("password", store.DemoPassword))
		}
		return mem, func() {}
	}

	db, err := store.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("connect to postgres", zap.Error(err))
	}
	if cfg.MigrationsEnabled {
		if err := store.RunMigrations(db); err != nil {
			log.Fatal("run migrations", zap.Error(err))
		}
		log.Info("migrations applied")
	}
	return store.NewPostgresStore(db), func() { closeDB(db, log) }
}

func closeDB(db *sql.DB, log *zap.Logger) {
	if err := db.Close(); err != nil {
		log.Warn("close postgres", zap.Error(err))
	}
}
