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

	"github.com/rs/zerolog"

	"rmcerp.io/internal/auth"
	"rmcerp.io/internal/cache"
	"rmcerp.io/internal/config"
	"rmcerp.io/internal/httpapi"
	"rmcerp.io/internal/obs"
	"rmcerp.io/internal/store/db"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("load config")
	}
	log := obs.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("api stopped")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	obs.Init()
	obs.SetBuildInfo(version, commit)

	authn, err := auth.New(cfg.JWTSecret, cfg.JWTExpiry, auth.WithIssuer(cfg.JWTIssuer))
	if err != nil {
		return err
	}

	gw, err := db.Open(cfg.PGDSN, db.PoolOptions{
		MaxOpenConns:    cfg.PGMaxOpenConns,
		MaxIdleConns:    cfg.PGMaxIdleConns,
		ConnMaxLifetime: cfg.PGConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	defer gw.Close()

	opts := httpapi.Options{
		Version:        version,
		Logger:         log,
		Ready:          httpapi.ReadyProbe{DB: gw},
		Production:     cfg.IsProduction(),
		RateBurst:      cfg.RateBurst,
		RatePerSecond:  cfg.RatePerSecond,
		LoginPerMinute: cfg.LoginRatePerMinute,
		MaxBodyBytes:   cfg.MaxBodyBytes,
	}
	if cfg.RedisAddr != "" {
		store, err := cache.New(context.Background(), cfg.RedisAddr, cfg.CacheTTL)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, dashboard cache disabled")
		} else {
			defer store.Close()
			opts.Cache = store
		}
	}

	api := httpapi.New(gw, authn, opts)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errs := make(chan error, 2)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	grpcSrv := httpapi.NewGRPCServer(opts.Ready)
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		go func() {
			log.Info().Str("addr", cfg.GRPCAddr).Msg("grpc health listening")
			if err := grpcSrv.Serve(lis); err != nil {
				errs <- err
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errs:
		log.Error().Err(err).Msg("server failed, shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	grpcSrv.GracefulStop()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	log.Info().Msg("stopped")
	return nil
}
