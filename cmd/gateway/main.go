package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"VirtualDocGateway/internal/bootstrap"
	"VirtualDocGateway/internal/cache"
	"VirtualDocGateway/internal/events"
	"VirtualDocGateway/internal/repository"
	"VirtualDocGateway/internal/server"
	"VirtualDocGateway/internal/service"
	"VirtualDocGateway/internal/storage"
	"VirtualDocGateway/internal/storage/live"
	"VirtualDocGateway/internal/storage/memory"
	"VirtualDocGateway/internal/storage/postgres"
	"VirtualDocGateway/pkg/config"
	"VirtualDocGateway/pkg/database"
	"VirtualDocGateway/pkg/health"
	"VirtualDocGateway/pkg/logger"
	"VirtualDocGateway/pkg/metrics"
	"VirtualDocGateway/pkg/rabbitmq"
	"VirtualDocGateway/pkg/ratelimit"
	"VirtualDocGateway/pkg/redis"
)

const (
	serviceName = "docgateway"
	version     = "1.0.0"
)

func main() {
	configFile := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Options{
		Environment: cfg.Environment,
		Level:       cfg.Logger.Level,
		Service:     serviceName,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("gateway terminated", logger.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(serviceName)
	tp, err := metrics.InitTracerProvider(serviceName)
	if err != nil {
		return fmt.Errorf("failed to init tracer provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	checker := health.NewChecker(version)

	backend, closeBackend, err := newBackend(ctx, cfg, checker, log)
	if err != nil {
		return err
	}
	defer closeBackend()

	tenantCache, limiter, closeCache, err := newCacheAndLimiter(ctx, cfg, checker, log)
	if err != nil {
		return err
	}
	defer closeCache()

	publisher, closePublisher, err := newPublisher(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closePublisher()

	store := repository.NewStore(backend, m)
	resolver := bootstrap.NewManager(store, log)
	gateway := service.NewGateway(store, tenantCache, resolver, publisher, m, log)

	srv := server.New(server.Config{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		RequestsPerMinute: cfg.RateLimiting.RequestsPerMinute,
	}, gateway, checker, limiter, m, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

// newBackend создает бэкенд хранилища согласно режиму конфигурации
func newBackend(ctx context.Context, cfg *config.Config, checker *health.Checker, log logger.Logger) (storage.Backend, func(), error) {
	switch cfg.Backend.Mode {
	case "memory":
		log.Info("using in-memory storage backend")
		return memory.NewBackend(), func() {}, nil

	case "live":
		log.Info("using live storage backend", logger.String("url", cfg.Backend.CouchDB.URL))
		backend := live.NewBackend(&live.Config{
			URL:      cfg.Backend.CouchDB.URL,
			Username: cfg.Backend.CouchDB.Username,
			Password: cfg.Backend.CouchDB.Password,
			Timeout:  cfg.Backend.CouchDB.Timeout,
		})
		checker.Register("couchdb", func(ctx context.Context) error {
			_, err := backend.Do(ctx, &storage.Request{Method: http.MethodGet, Path: "/"})
			return err
		})
		return backend, func() {}, nil

	case "postgres":
		log.Info("using postgres storage backend", logger.String("host", cfg.Backend.Postgres.Host))
		dbConfig := database.NewConfig()
		dbConfig.Host = cfg.Backend.Postgres.Host
		dbConfig.Port = cfg.Backend.Postgres.Port
		dbConfig.User = cfg.Backend.Postgres.User
		dbConfig.Password = cfg.Backend.Postgres.Password
		dbConfig.Database = cfg.Backend.Postgres.Name
		dbConfig.SSLMode = cfg.Backend.Postgres.SSLMode

		db, err := database.Connect(ctx, dbConfig)
		if err != nil {
			return nil, nil, err
		}
		backend := postgres.NewBackend(db.Pool)
		if err := backend.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		checker.Register("postgres", db.HealthCheck)
		return backend, db.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend mode: %s", cfg.Backend.Mode)
	}
}

// newCacheAndLimiter создает кэш тенант-контекста и лимитер частоты запросов
// При заданном адресе Redis оба работают через него, иначе в памяти процесса
func newCacheAndLimiter(ctx context.Context, cfg *config.Config, checker *health.Checker, log logger.Logger) (cache.TenantCache, ratelimit.RateLimiter, func(), error) {
	if cfg.Cache.Redis.Addr == "" {
		return cache.NewTTLCache(cfg.Cache.TTL), ratelimit.NewMemoryRateLimiter(), func() {}, nil
	}

	redisCfg := redis.NewConfig()
	redisCfg.Addr = cfg.Cache.Redis.Addr
	redisCfg.Password = cfg.Cache.Redis.Password
	redisCfg.DB = cfg.Cache.Redis.DB
	redisCfg.PoolSize = cfg.Cache.Redis.PoolSize
	redisCfg.MinIdleConn = cfg.Cache.Redis.MinIdleConn

	client, err := redis.Connect(ctx, redisCfg)
	if err != nil {
		return nil, nil, nil, err
	}
	log.Info("using redis tenant cache", logger.String("addr", cfg.Cache.Redis.Addr))
	checker.Register("redis", client.HealthCheck)

	tenantCache := cache.NewRedisCache(client.Client, cfg.Cache.TTL, log)
	limiter := ratelimit.NewRedisRateLimiter(client.Client)
	return tenantCache, limiter, func() { _ = client.Close() }, nil
}

// newPublisher создает публикатора событий изменений
// При пустом URL брокера события не публикуются
func newPublisher(ctx context.Context, cfg *config.Config, log logger.Logger) (events.Publisher, func(), error) {
	if cfg.RabbitMQ.URL == "" {
		return events.NoopPublisher{}, func() {}, nil
	}

	mqConfig := rabbitmq.NewConfig()
	mqConfig.URL = cfg.RabbitMQ.URL
	mqConfig.Exchange = cfg.RabbitMQ.Exchange
	mqConfig.RoutingKey = cfg.RabbitMQ.RoutingKey

	conn, err := rabbitmq.Connect(ctx, mqConfig)
	if err != nil {
		return nil, nil, err
	}
	log.Info("publishing change events", logger.String("exchange", cfg.RabbitMQ.Exchange))
	producer := rabbitmq.NewProducer(conn, mqConfig)
	return events.NewAMQPPublisher(producer, log), func() { _ = conn.Close() }, nil
}
