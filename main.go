package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/uptrace/bun"

	"ms-attendance/internal/attendance"
	attendance_api "ms-attendance/internal/attendance/api"
	attendance_db "ms-attendance/internal/attendance/db"
	lock "ms-attendance/internal/attendance/redis"
	"ms-attendance/internal/config"
	"ms-attendance/internal/database"
	"ms-attendance/internal/database/migrations"
	"ms-attendance/internal/kafka"
	"ms-attendance/internal/logger"
	"ms-attendance/internal/member"
	member_api "ms-attendance/internal/member/api"
	member_db "ms-attendance/internal/member/db"
	"ms-attendance/internal/penalty"
	"ms-attendance/internal/rabbitmq"
	"ms-attendance/internal/session"
	session_api "ms-attendance/internal/session/api"
	session_db "ms-attendance/internal/session/db"
	"ms-attendance/internal/tracing"
	"ms-attendance/internal/utils"
)

func prepareSchema(ctx context.Context, cfg config.DatabaseConfig, bunDB *bun.DB, logger *logger.Logger) error {
	if !cfg.AutoMigrate {
		logger.Info("DATABASE", "Auto-migrate disabled, skipping schema setup")
		return nil
	}
	if cfg.Driver == database.DriverPostgres {
		// Not closing the runner: it owns the shared *sql.DB.
		return migrations.NewRunner(bunDB, logger).Up()
	}
	return database.CreateSchema(ctx, bunDB)
}

func newLocker(ctx context.Context, cfg config.RedisConfig, logger *logger.Logger) (attendance.Locker, func()) {
	if !cfg.Enabled {
		logger.Warn("REDIS", "Redis disabled, using in-process locks (single instance only)")
		return lock.NewLocalLocker(), func() {}
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("REDIS", fmt.Sprintf("Redis connection error: %v", err))
	}
	logger.Info("REDIS", fmt.Sprintf("Redis connection successful to %s (DB: %d)", cfg.Addr, cfg.DB))
	return lock.NewRedis(redisClient, cfg.LockTTL, cfg.LockWait, logger), func() { redisClient.Close() }
}

func newPublisher(ctx context.Context, cfg *config.Config, logger *logger.Logger) (attendance.EventPublisher, func()) {
	var (
		publishers attendance.Publishers
		closers    []func()
	)

	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopicsExist(ctx, cfg.Kafka.Brokers, []string{cfg.Kafka.Topic}, logger); err != nil {
			logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		publishers = append(publishers, producer)
		closers = append(closers, func() { producer.Close() })
		logger.Info("KAFKA", fmt.Sprintf("Kafka producer initialized for topic %s", cfg.Kafka.Topic))
	}

	if cfg.RabbitMQ.Enabled {
		publisher, err := rabbitmq.Dial(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.Queue, logger)
		if err != nil {
			logger.Error("RABBITMQ", fmt.Sprintf("Publisher unavailable: %v", err))
		} else {
			publishers = append(publishers, publisher)
			closers = append(closers, func() { publisher.Close() })
		}
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if len(publishers) == 0 {
		logger.Info("EVENTS", "No event broker configured, events are not published")
		return nil, closeAll
	}
	return publishers, closeAll
}

func main() {
	logger := logger.NewLogger("ms-attendance")
	defer logger.Close()

	logger.Info("APP", "Starting Attendance Service initialization")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("CONFIG", fmt.Sprintf("Invalid configuration: %v", err))
	}

	ctx := context.Background()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		logger.Warn("TRACING", fmt.Sprintf("Tracing disabled: %v", err))
	}
	defer shutdownTracing(context.Background())

	bunDB, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	if err := prepareSchema(ctx, cfg.Database, bunDB, logger); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Schema setup failed: %v", err))
	}

	locker, closeLocker := newLocker(ctx, cfg.Redis, logger)
	defer closeLocker()

	publisher, closePublisher := newPublisher(ctx, cfg, logger)
	defer closePublisher()

	attendanceService := attendance.NewService(attendance_db.New(bunDB), locker, publisher, logger)
	attendanceService.ExcuseLimit = cfg.Attendance.ExcuseLimit
	attendanceService.InitialDeposit = cfg.Attendance.InitialDeposit
	attendanceService.TimeZone = cfg.Attendance.TimeZone
	attendanceService.Policy = penalty.Policy{
		AbsentAmount:  cfg.Attendance.AbsentPenalty,
		LatePerMinute: cfg.Attendance.LatePerMinute,
		LateCap:       cfg.Attendance.LateCap,
	}

	sessionService := session.NewService(session_db.New(bunDB), logger)
	sessionService.TokenTTL = cfg.Attendance.TokenTTL
	sessionService.TimeZone = cfg.Attendance.TimeZone

	memberService := member.NewService(member_db.New(bunDB), attendanceService, logger)

	attendanceHandler := attendance_api.NewHandler(attendanceService, logger)
	sessionHandler := session_api.NewHandler(sessionService, logger)
	memberHandler := member_api.NewHandler(memberService, logger)

	logger.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := bunDB.PingContext(r.Context()); err != nil {
			utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("UNHEALTHY", err.Error()))
			return
		}
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ok", nil))
	})

	r.Route("/api", func(r chi.Router) {
		attendanceHandler.RegisterRoutes(r)
		logger.Info("ROUTER", "Attendance routes registered under /api")
		sessionHandler.RegisterRoutes(r)
		logger.Info("ROUTER", "Session routes registered under /api/admin/sessions")
		memberHandler.RegisterRoutes(r)
		logger.Info("ROUTER", "Member routes registered under /api/admin/members")
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("HTTP", fmt.Sprintf("Attendance Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		logger.Info("HTTP", "Attendance Service shutdown complete")
	}
}
