// server runs the QR MFA HTTP API and the gRPC health endpoint.
package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"coresuite/backend/internal/app"
	"coresuite/backend/internal/audit"
	"coresuite/backend/internal/config"
	"coresuite/backend/internal/health"
	"coresuite/backend/internal/logging"
	mfahandler "coresuite/backend/internal/mfa/handler"
	mfaservice "coresuite/backend/internal/mfa/service"
	"coresuite/backend/internal/security"
	"coresuite/backend/internal/server"
	"coresuite/backend/internal/server/interceptors"
	telemetryotel "coresuite/backend/internal/telemetry/otel"
)

const (
	serviceVersion = "1.0.0"
	shutdownGrace  = 15 * time.Second
	healthInterval = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.IsProduction(), cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server: exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, cfg.OTELServiceName, serviceVersion, cfg.OTLPInsecure)
	if err != nil {
		return err
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server: telemetry shutdown failed", zap.Error(err))
		}
	}()

	stores, err := app.OpenStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	tokens, err := app.TokenProvider(cfg, logger)
	if err != nil {
		return err
	}
	limiter, closeLimiter := app.Limiter(cfg)
	defer closeLimiter()

	emitter, closeEmitters, err := app.Emitters(cfg, providers)
	if err != nil {
		return err
	}
	defer closeEmitters()

	opts := []mfaservice.Option{
		mfaservice.WithLogger(logger),
		mfaservice.WithEmitter(emitter),
		mfaservice.WithDefaultTTLs(cfg.ProvisioningDuration(), cfg.ChallengeDuration()),
	}
	if stores.Audit != nil {
		opts = append(opts, mfaservice.WithAuditLogger(audit.NewLogger(stores.Audit, interceptors.ClientIP, logger)))
	}
	svc := mfaservice.NewService(stores.MFA, security.NewHasher(cfg.BcryptCost), opts...)

	checker := health.NewChecker()
	if stores.DB != nil {
		checker.AddPinger("postgres", stores.DB)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router, err := server.NewRouter(server.RouterDeps{
		MFA: mfahandler.NewHandler(svc, stores.Users, cfg.PublicBaseURL, logger),
		Middleware: mfahandler.Middleware{
			User:               interceptors.RequireUser(tokens),
			PendingLogin:       interceptors.RequirePendingLogin(tokens),
			UserOrPendingLogin: interceptors.RequireUserOrPendingLogin(tokens),
			RateLimit:          interceptors.RateLimit(limiter, logger),
		},
		Health: checker,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("server: http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.Store))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var grpcStop func()
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		grpcSrv, hs := server.NewGRPCServer()
		for _, name := range []string{"", server.HealthServiceName} {
			go checker.Watch(ctx, hs, name, healthInterval, logger)
		}
		go func() {
			logger.Info("server: grpc health listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- err
			}
		}()
		grpcStop = func() {
			hs.Shutdown()
			grpcSrv.GracefulStop()
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("server: shutting down")
	case err := <-errCh:
		logger.Error("server: listener failed", zap.Error(err))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if grpcStop != nil {
		grpcStop()
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server: stopped")
	return nil
}
