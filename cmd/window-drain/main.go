package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"dash0.com/window-drain-backend/internal/api"
	cfgpkg "dash0.com/window-drain-backend/internal/config"
	otlpsrv "dash0.com/window-drain-backend/internal/feed/otlp"
	"dash0.com/window-drain-backend/internal/logging"
	"dash0.com/window-drain-backend/internal/orchestrator"
	otelsetup "dash0.com/window-drain-backend/internal/otel"
	"dash0.com/window-drain-backend/internal/store"
	"dash0.com/window-drain-backend/internal/store/sqlite"
)

const name = "dash0.com/window-drain-backend"

func main() {
	if err := run(); err != nil {
		log.Fatalln(err)
	}
}

func run() (err error) {
	// Config: flags, then file and environment, then explicitly set flags.
	readFlags := cfgpkg.RegisterFlags()

	flag.Parse()

	cfg, err := cfgpkg.Load(readFlags().ConfigFile, flag.CommandLine)
	if err != nil {
		return err
	}

	// Set up OpenTelemetry.
	otelShutdown, err := otelsetup.Setup(context.Background())
	if err != nil {
		return err
	}

	defer func() { err = errors.Join(err, otelShutdown(context.Background())) }()

	logger, err := logging.New(name, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}

	slog.SetDefault(logger)
	logger.Info("Starting application", slog.String("grpc", cfg.ListenAddr), slog.String("http", cfg.HTTPAddr))

	st, err := openStore(cfg)
	if err != nil {
		return err
	}

	orchestratorSvc, err := orchestrator.New(cfg, logger, orchestrator.WithStore(st))
	if err != nil {
		return errors.Join(err, st.Close())
	}

	// Derive a context canceled on SIGINT/SIGTERM for graceful shutdown
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orchestratorSvc.Start(sigCtx)

	serveErr := serve(sigCtx, cfg, logger, orchestratorSvc)

	// Stop draining, flush what is buffered and close the store.
	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	return errors.Join(serveErr, orchestratorSvc.Close(closeCtx))
}

func openStore(cfg cfgpkg.Config) (store.Store, error) {
	if cfg.StorePath == "" {
		slog.Warn("No store path configured; windows are kept in memory and lost on restart")
		return store.NewMemory(), nil
	}

	st, err := sqlite.Open(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open window store: %w", err)
	}

	slog.Info("Opened window store", slog.String("path", st.Path()))

	return st, nil
}

func newGRPCServer(cfg cfgpkg.Config, svc orchestrator.Orchestrator) *grpc.Server {
	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.MaxRecvMsgSize(cfg.MaxReceiveMessageSize),
		grpc.Creds(insecure.NewCredentials()),
	)
	collogspb.RegisterLogsServiceServer(grpcServer, otlpsrv.NewServer(svc))

	return grpcServer
}

func newHTTPServer(cfg cfgpkg.Config, logger *slog.Logger, ctrl orchestrator.Controller) *http.Server {
	handler := api.New(ctrl, logger, cfg.GracefulTimeout).Router()

	// Request contexts end once Shutdown begins so open event streams return
	// instead of holding the shutdown until its deadline.
	baseCtx, cancel := context.WithCancel(context.Background())

	srv := &http.Server{
		Handler:           otelhttp.NewHandler(handler, "window-drain.api"),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancel)

	return srv
}

// serve runs the gRPC feed and the HTTP control surface until ctx ends or
// either server fails, then stops both within cfg.GracefulTimeout.
func serve(ctx context.Context, cfg cfgpkg.Config, logger *slog.Logger, svc orchestrator.Controller) error {
	grpcLis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return err
	}

	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return errors.Join(err, grpcLis.Close())
	}

	grpcServer := newGRPCServer(cfg, svc)
	httpServer := newHTTPServer(cfg, logger, svc)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Debug("Starting gRPC server", slog.String("addr", grpcLis.Addr().String()))

		if err := grpcServer.Serve(grpcLis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		logger.Debug("Starting HTTP server", slog.String("addr", httpLis.Addr().String()))

		if err := httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received; beginning graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
		defer cancel()

		// Stop accepting new connections and allow in-flight RPCs to complete
		done := make(chan struct{})

		go func() {
			grpcServer.GracefulStop()
			close(done)
		}()

		httpErr := httpServer.Shutdown(shutdownCtx)

		select {
		case <-done:
			// graceful stop completed
		case <-shutdownCtx.Done():
			logger.Warn("Graceful stop timed out; forcing stop")
			grpcServer.Stop()
		}

		if httpErr != nil {
			return errors.Join(httpErr, httpServer.Close())
		}

		return nil
	})

	return g.Wait()
}
