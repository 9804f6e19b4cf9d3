package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"brownie.dev/internal/audit"
	"brownie.dev/internal/auth"
	"brownie.dev/internal/config"
	"brownie.dev/internal/httpapi"
	"brownie.dev/internal/metadata"
	"brownie.dev/internal/obs"
	"brownie.dev/internal/store/memory"
	"brownie.dev/internal/store/pg"
	"brownie.dev/internal/stream"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("configuration invalid", zap.Error(err))
	}

	log, err := obs.NewLogger(cfg.LogLevel, cfg.Debug)
	if err != nil {
		zap.NewExample().Fatal("logger init failed", zap.Error(err))
	}
	defer func() { _ = log.Sync() }()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		store metadata.Store
		probe httpapi.ReadyProbe
	)
	if cfg.PostgresDSN != "" {
		pgStore, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatal("open postgres", zap.Error(err))
		}
		defer func() { _ = pgStore.Close() }()
		store = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
		log.Info("using postgres store")
	} else {
		store = memory.New()
		log.Warn("no postgres dsn configured, using in-memory store")
	}

	incidentStream := stream.New()
	svc, err := metadata.NewService(store,
		metadata.WithLogger(log.Named("metadata")),
		metadata.WithPublisher(incidentStream),
	)
	if err != nil {
		log.Fatal("service init", zap.Error(err))
	}

	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL(),
		auth.WithLogger(log.Named("auth")))

	api := httpapi.New(svc, tokens, httpapi.Options{
		Stream:     incidentStream,
		Audit:      audit.NewLogger(log.Named("audit")),
		Logger:     log.Named("http"),
		ReadyProbe: probe,
		Version:    version,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// WriteTimeout left unset so SSE subscribers are not cut off.
		IdleTimeout: 60 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	httpapi.NewHealthServer(probe).Register(grpcSrv)

	go func() {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatal("grpc listen", zap.Error(err))
		}
		log.Info("grpc server starting", zap.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil {
			log.Error("grpc serve", zap.Error(err))
		}
	}()

	go func() {
		log.Info("http server starting",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	grpcSrv.GracefulStop()
	log.Info("stopped")
}
