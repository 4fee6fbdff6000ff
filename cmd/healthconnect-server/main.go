package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"

	"healthconnect/backend/internal/auth"
	"healthconnect/backend/internal/config"
	"healthconnect/backend/internal/identity"
	"healthconnect/backend/internal/metrics"
	"healthconnect/backend/internal/service/appointments"
	"healthconnect/backend/internal/session"
	"healthconnect/backend/internal/store"
	"healthconnect/backend/internal/store/memory"
	"healthconnect/backend/internal/store/postgres"
	"healthconnect/backend/internal/store/rediscache"
	grpcTransport "healthconnect/backend/internal/transport/grpc"
)

const serviceName = "healthconnect-server"

func main() {
	log := newLogger(slog.LevelInfo)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = newLogger(parseLogLevel(cfg.LogLevel))
	slog.SetDefault(log)

	log.Info(
		"starting",
		slog.String("grpc_addr", cfg.GRPCAddr),
		slog.String("metrics_addr", cfg.MetricsAddr),
		slog.String("store_driver", cfg.StoreDriver),
		slog.String("log_level", cfg.LogLevel),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, cfg); err != nil {
		log.Error("server stopped with error", slog.Any("err", err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger, cfg config.Config) error {
	users, coll, closeStore, err := openStore(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	opts := []appointments.Option{
		appointments.WithLogger(log),
		appointments.WithRecorder(collector),
	}
	if cfg.SerializeBookings {
		opts = append(opts, appointments.WithSerializedBookings())
	}
	if cfg.RedisAddr != "" {
		rdb := rediscache.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Warn("redis close failed", slog.Any("err", err))
			}
		}()
		opts = append(opts, appointments.WithSnapshotCache(rediscache.New(rdb, rediscache.DefaultKey, cfg.RedisSnapshotTTL)))
		log.Info("snapshot cache enabled", slog.String("redis_addr", cfg.RedisAddr))
	}

	apptStore := appointments.NewStore(coll, opts...)
	if err := apptStore.Activate(ctx); err != nil {
		return err
	}
	defer apptStore.Deactivate()

	sessions := session.NewRegistry(session.Config{
		Users:       users,
		Hasher:      identity.NewArgon2Hasher(identity.DefaultArgon2Params),
		Tokens:      identity.NewTokenIssuer(cfg.TokenSecret, cfg.TokenTTL),
		Policy:      auth.AllowListPolicy(cfg.AdminEmails),
		IdleTimeout: cfg.SessionIdleTimeout,
		MaxSessions: cfg.MaxSessions,
		CreateRate:  cfg.SessionCreatePerSec,
		CreateBurst: cfg.SessionCreateBurst,
		Gauge:       collector,
		Logger:      log,
	})
	defer sessions.Close()
	go sessions.Run(ctx)

	limiter := grpcTransport.NewRateLimiter(cfg.SignInRatePerMinute, cfg.SignInBurst)
	go limiter.Run(ctx.Done(), 5*time.Minute)

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpcTransport.ObservabilityInterceptor(collector, log),
			grpcTransport.RequestTimeoutInterceptor(cfg.GRPCRequestTimeout),
		),
	)
	grpcTransport.RegisterAuthServer(grpcServer, grpcTransport.NewAuthServer(sessions, limiter, collector, log))
	grpcTransport.RegisterAppointmentsServer(grpcServer, grpcTransport.NewAppointmentsServer(apptStore, sessions, log))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error("grpc listen failed", slog.Any("err", err), slog.String("grpc_addr", cfg.GRPCAddr))
		return err
	}

	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metrics.Handler(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	log.Info("grpc server started", slog.String("grpc_addr", cfg.GRPCAddr))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		shutdown(log, grpcServer, metricsServer, cfg.ShutdownTimeout)
		return nil
	case err := <-errCh:
		shutdown(log, grpcServer, metricsServer, cfg.ShutdownTimeout)
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	}
}

func openStore(ctx context.Context, log *slog.Logger, cfg config.Config) (store.UserRepository, store.AppointmentCollection, func(), error) {
	if cfg.StoreDriver == config.DriverMemory {
		log.Warn("using in-memory store; data is lost on restart")
		return memory.NewUserRepository(), memory.NewAppointmentCollection(), func() {}, nil
	}

	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
	openCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	db, err := postgres.Open(openCtx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
		log.Error("database connection failed", args...)
		return nil, nil, nil, err
	}

	closeDB := func() {
		if err := postgres.Close(db); err != nil {
			log.Warn("database close failed", slog.Any("err", err))
		}
	}
	return postgres.NewUserRepo(db), postgres.NewAppointmentRepo(db, cfg.DatabaseURL, log), closeDB, nil
}

func shutdown(log *slog.Logger, s *grpc.Server, metricsServer *http.Server, timeout time.Duration) {
	log.Info("shutting down servers", slog.Duration("timeout", timeout))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := metricsServer.Shutdown(ctx); err != nil {
		log.Warn("metrics server shutdown failed", slog.Any("err", err))
	}

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("grpc server stopped")
	case <-ctx.Done():
		log.Warn("grpc graceful shutdown timed out; forcing stop")
		s.Stop()
	}
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).With(
		slog.String("service", serviceName),
	)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}
