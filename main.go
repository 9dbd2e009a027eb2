package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/face-attendance/internal/auth"
	"github.com/example/face-attendance/internal/config"
	"github.com/example/face-attendance/internal/facematch"
	"github.com/example/face-attendance/internal/grpcserver"
	"github.com/example/face-attendance/internal/handlers"
	"github.com/example/face-attendance/internal/logging"
	"github.com/example/face-attendance/internal/repository"
	"github.com/example/face-attendance/internal/usecase"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "face-attendance",
		Short:         "Face recognition check-in service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the gRPC health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Create the pgvector extension and the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}

	root.AddCommand(serve, migrate)
	root.RunE = serve.RunE
	return root
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.Development())
	if err != nil {
		return nil, nil, err
	}
	if cfg.Development() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	return cfg, logger, nil
}

func runMigrate() error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := repository.New(db, logger).AutoMigrate(ctx); err != nil {
		return err
	}
	logger.Info("schema migrated")
	return nil
}

func runServe() error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	repo := repository.New(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		return err
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient, err := initRedis(redisCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	matcher := facematch.NewMatcher(logger,
		facematch.WithThreshold(cfg.Match.Threshold),
		facematch.WithStopAtFirstMatch(cfg.Match.StopAtFirstMatch),
	)
	uc := usecase.NewFaceUseCase(repo, usecase.NewRedisCache(redisClient), matcher, logger, usecase.Options{
		SnapshotTTL:   cfg.SnapshotTTL,
		ResultTTL:     cfg.ResultTTL,
		MaxIdentities: cfg.Match.MaxIdentities,
	})

	r := gin.New()
	r.Use(handlers.Recovery(logger), handlers.RequestLogger(logger), handlers.Metrics())
	handlers.RegisterRoutes(r, uc, handlers.RouteOptions{
		Auth:      auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience),
		RateLimit: handlers.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).Middleware(),
		Logger:    logger,
	})

	grpcCtx, stopGRPC := context.WithCancel(context.Background())
	defer stopGRPC()
	grpcDone, err := startGRPC(grpcCtx, cfg, logger, db, redisClient)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.RequestTimeout,
		WriteTimeout:      cfg.RequestTimeout,
	}

	logger.Info("face attendance API listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.Float64("match_threshold", matcher.Threshold()),
	)
	serveErr := serveHTTPServer(server, 15*time.Second, logger)

	stopGRPC()
	if err := <-grpcDone; err != nil {
		logger.Error("grpc server failed", zap.Error(err))
	}
	return serveErr
}

func startGRPC(ctx context.Context, cfg *config.Config, logger *zap.Logger, db *gorm.DB, redisClient *redis.Client) (<-chan error, error) {
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return nil, logging.NewOperationError("main.listen_grpc", "", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	health := grpcserver.New(logger, 10*time.Second, map[string]grpcserver.Pinger{
		"postgres": sqlDB.PingContext,
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	})

	done := make(chan error, 1)
	go func() {
		done <- health.Serve(ctx, lis)
	}()
	logger.Info("grpc health listening", zap.String("addr", cfg.GRPCAddr))
	return done, nil
}

func initDatabase(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) (*gorm.DB, error) {
	logLevel := gormlogger.Warn
	if cfg.Development() {
		logLevel = gormlogger.Info
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		zapLogger.Error("failed to connect to database", zap.Error(err))
		return nil, logging.NewOperationError("main.open_database", "", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, logging.NewOperationError("main.open_database", "", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Error("database ping failed", zap.Error(err))
		return nil, logging.NewOperationError("main.ping_database", "", err)
	}

	return db, nil
}

func initRedis(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Error("redis connection failed", zap.Error(err), zap.String("addr", cfg.RedisAddr))
		_ = client.Close()
		return nil, logging.NewOperationError("main.ping_redis", "", err)
	}
	return client, nil
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
