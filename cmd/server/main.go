// Command bruteguard serves the login endpoint behind the lockout guard and
// the admin gRPC API.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/bruteguard/internal/background"
	"github.com/and161185/bruteguard/internal/config"
	"github.com/and161185/bruteguard/internal/lockout"
	grpcserver "github.com/and161185/bruteguard/internal/server/grpc"
	httpserver "github.com/and161185/bruteguard/internal/server/http"
	"github.com/and161185/bruteguard/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func newLogger(env string) *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if env == "development" {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// main loads configuration, opens the store and runs the HTTP and admin
// servers until SIGINT/SIGTERM.
func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}

	logger := newLogger(cfg.Env)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("http", cfg.HTTPAddr),
		zap.String("grpc", cfg.GRPCAddr),
		zap.String("store", cfg.Backend),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer store.close()

	guard, err := lockout.New(store.attempts, cfg.Lockout(), logger.Named("lockout"))
	if err != nil {
		logger.Fatal("lockout config", zap.Error(err))
	}
	gw := service.NewUserGateway(store.users)
	authSvc := service.NewAuthService(guard, gw, logger.Named("auth"))

	g, gctx := errgroup.WithContext(ctx)

	httpSrv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpserver.NewRouter(authSvc, gw, logger.Named("http"), httpserver.Options{
			RatePerMinute:     cfg.LoginRatePerMin,
			TrustProxyHeaders: cfg.TrustProxyHeaders,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		grpcSrv, err = newAdminServer(cfg, guard, logger)
		if err != nil {
			logger.Fatal("admin server", zap.Error(err))
		}
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Fatal("listen", zap.Error(err))
		}
		g.Go(func() error {
			logger.Info("admin grpc listening", zap.String("addr", cfg.GRPCAddr), zap.Bool("tls", cfg.TLSCert != ""))
			return grpcSrv.Serve(lis)
		})
	}

	if store.sweeper != nil && cfg.SweepInterval > 0 {
		sw := background.NewSweeper(store.sweeper, logger.Named("sweeper"), cfg.SweepInterval)
		g.Go(func() error {
			sw.Start(gctx)
			return nil
		})
	}

	// Wait for stop
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		if grpcSrv != nil {
			done := make(chan struct{})
			go func() {
				grpcSrv.GracefulStop()
				close(done)
			}()
			select {
			case <-done:
			case <-shutdownCtx.Done():
				grpcSrv.Stop()
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", zap.Error(err))
		store.close()
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// newAdminServer builds the gRPC server with health, optional TLS and, in
// dev mode, reflection.
func newAdminServer(cfg *config.Config, guard *lockout.Guard, logger *zap.Logger) (*grpc.Server, error) {
	app := grpcserver.New(guard, []byte(cfg.AdminJWTKey), logger.Named("admin"))

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			app.AuthUnary(),
			grpcserver.LoggingUnary(logger),
		),
	}
	if cfg.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		logger.Warn("admin gRPC without TLS; bearer tokens travel in clear text")
	}

	s := grpc.NewServer(opts...)
	grpcserver.Register(s, app)

	// Health & reflection (dev)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if cfg.Dev {
		reflection.Register(s)
	}
	return s, nil
}
