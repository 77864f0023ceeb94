package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"zabon/realtime-service/internal/clock"
	"zabon/realtime-service/internal/config"
	grpcServer "zabon/realtime-service/internal/grpc"
	"zabon/realtime-service/internal/logging"
	"zabon/realtime-service/internal/notify"
	"zabon/realtime-service/internal/repository"
	"zabon/realtime-service/internal/rest"
	"zabon/realtime-service/internal/service"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	pb "github.com/kegazani/metachat-proto/chat"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	var (
		db          *sql.DB
		memory      *repository.MemoryStore
		redisClient *redis.Client
	)

	if cfg.Storage.Driver == config.DriverPostgres || cfg.Presence.Store == config.DriverPostgres {
		db, err = sql.Open("postgres", cfg.Database.DSN())
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

		if err := db.Ping(); err != nil {
			logger.Fatalf("Failed to ping database: %v", err)
		}

		logger.Info("Connected to PostgreSQL database")
	}

	if cfg.Storage.Driver == config.DriverMemory || cfg.Presence.Store == config.DriverMemory {
		memory = repository.NewMemoryStore(nil)
		logger.Warn("Using in-memory storage, data is lost on restart")
	}

	if cfg.Presence.Store == config.DriverRedis || cfg.Notify.Driver == config.DriverRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatalf("Failed to connect to Redis: %v", err)
		}

		logger.WithField("addr", cfg.Redis.Addr).Info("Connected to Redis")
	}

	var chatRepo repository.ChatRepository
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		chatRepo = memory
	default:
		chatRepo = repository.NewChatRepository(db)
	}
	if err := chatRepo.InitializeTables(); err != nil {
		logger.Fatalf("Failed to initialize database tables: %v", err)
	}

	var presenceRepo repository.PresenceRepository
	switch cfg.Presence.Store {
	case config.DriverRedis:
		presenceRepo = repository.NewRedisPresenceRepository(redisClient)
	case config.DriverMemory:
		presenceRepo = memory
	default:
		presenceRepo = repository.NewPresenceRepository(db)
	}
	if err := presenceRepo.InitializeTables(); err != nil {
		logger.Fatalf("Failed to initialize presence storage: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var notifier notify.Notifier
	switch cfg.Notify.Driver {
	case config.DriverRedis:
		rn := notify.NewRedisNotifier(redisClient, cfg.Notify.Channel, logger)
		if err := rn.Ready(ctx); err != nil {
			logger.Fatalf("Failed to subscribe to %s: %v", cfg.Notify.Channel, err)
		}
		notifier = rn
	case config.DriverLocal:
		notifier = notify.NewLocal(logger)
	default:
		notifier = notify.NewPostgresNotifier(cfg.Database.DSN(), repository.MessageInsertedChannel, logger)
	}

	go func() {
		if err := notifier.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("Message notifier stopped")
		}
	}()

	chatService := service.NewChatService(chatRepo, notifier, logger)
	presenceService := service.NewPresenceService(presenceRepo, clock.Real(), cfg.Presence.StalenessWindow, logger)

	grpcAddress := net.JoinHostPort(cfg.Server.Host, cfg.Server.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddress)
	if err != nil {
		logger.Fatalf("Failed to listen on %s: %v", grpcAddress, err)
	}

	s := grpc.NewServer()
	pb.RegisterChatServiceServer(s, grpcServer.NewChatServer(chatService, logger))

	if cfg.GRPC.ReflectionEnabled {
		reflection.Register(s)
		logger.Info("gRPC reflection enabled")
	}

	go func() {
		logger.Infof("Starting gRPC server on %s", grpcAddress)
		if err := s.Serve(lis); err != nil {
			logger.Fatalf("Failed to start gRPC server: %v", err)
		}
	}()

	httpAddress := net.JoinHostPort(cfg.Server.Host, cfg.Server.HTTPPort)
	httpSrv := &http.Server{
		Addr:              httpAddress,
		Handler:           rest.NewRouter(rest.NewHandler(presenceService, chatService, logger), cfg.Auth.JWTSecret),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("auth.jwt_secret is empty, HTTP endpoints are unauthenticated")
	}

	go func() {
		logger.Infof("Starting HTTP server on %s", httpAddress)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down servers...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GRPC.ShutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown incomplete")
	}

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("gRPC server exited gracefully")
	case <-shutdownCtx.Done():
		logger.Info("gRPC server shutdown timeout")
		s.Stop()
	}

	stop()
	if err := notifier.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close message notifier")
	}

	logger.Info("Server exited")
}
