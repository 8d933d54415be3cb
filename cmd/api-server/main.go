package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/blackout"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/events"
	"github.com/hackgods/clinic-scheduling/internal/logger"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/workhours"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	zl.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("clinic_timezone", cfg.ClinicTimezone.String()),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{
		MaxConns: int32(cfg.PGMaxConns),
		MinConns: int32(cfg.PGMinConns),
	})
	cancelPg()
	if err != nil {
		zl.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()

	applied, err := db.Migrate(rootCtx, pgPool)
	if err != nil {
		zl.Fatal("migration error", zap.Error(err))
	}
	zl.Info("connected to Postgres", zap.Int("migrations_applied", applied))

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		zl.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			zl.Warn("error closing redis", zap.Error(err))
		}
	}()
	zl.Info("connected to Redis")

	repo := appointment.NewPgRepository(pgPool)

	publishers := []events.Publisher{events.NewLogPublisher(repo)}
	if cfg.AMQPURL != "" {
		pub, conn, err := events.DialAMQP(cfg.AMQPURL, cfg.EventsQueue)
		if err != nil {
			zl.Fatal("rabbitmq connection error", zap.Error(err))
		}
		defer closeAMQP(zl, pub, conn)
		publishers = append(publishers, pub)
		zl.Info("connected to RabbitMQ", zap.String("queue", cfg.EventsQueue))
	}
	emitter := events.NewAsyncEmitter(zl, cfg.EventBuffer, publishers...)

	locker := redisclient.NewRedisDoctorLocker(rdb, cfg.LockTTL)
	detector := appointment.NewDetector(repo, cfg.ClinicTimezone, cfg.BlackoutQueryMargin)
	scheduler := appointment.NewScheduler(repo, workhours.NewResolver(repo, cfg.ClinicTimezone), detector,
		appointment.Config{MinLeadTime: cfg.MinLeadTime, AIFallback: cfg.AIFallbackHours},
		appointment.WithLocker(locker),
		appointment.WithEmitter(emitter),
		appointment.WithLogger(zl.Named("scheduler")),
	)
	blackouts := blackout.NewResolver(repo, detector, scheduler, locker,
		blackout.Config{
			SuggestionDays: cfg.SuggestionDays,
			HorizonDays:    cfg.SuggestionHorizonDays,
			SlotsPerDay:    cfg.SuggestionSlotsPerDay,
		},
		blackout.WithLogger(zl.Named("blackout")),
	)

	router := api.NewRouter(api.RouterConfig{
		Appointments: scheduler,
		Blackouts:    blackouts,
		Checks: []api.DependencyCheck{
			{Name: "postgres", Critical: true, Ping: pgPool.Ping},
			{Name: "redis", Critical: true, Ping: redisclient.PingCheck(rdb)},
		},
		Log:          zl.Named("http"),
		Env:          cfg.Env,
		Version:      version,
		RateLimitRPS: cfg.RateLimitRPS,
		CORSOrigins:  cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("http server error", zap.Error(err))
		}
	}()
	zl.Info("http server listening", zap.String("addr", srv.Addr))

	<-rootCtx.Done()

	zl.Info("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("http shutdown error", zap.Error(err))
	}
	emitter.Shutdown(shutdownCtx)
}

func closeAMQP(zl *zap.Logger, pub *events.AMQPPublisher, conn *amqp.Connection) {
	if err := pub.Close(); err != nil {
		zl.Warn("error closing rabbitmq channel", zap.Error(err))
	}
	if err := conn.Close(); err != nil {
		zl.Warn("error closing rabbitmq connection", zap.Error(err))
	}
}
