package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dash0.com/window-drain-backend/internal/logging"
	"dash0.com/window-drain-backend/internal/sinkserver"
)

func main() {
	if err := run(); err != nil {
		log.Fatalln(err)
	}
}

func run() error {
	addr := flag.String("addr", "localhost:3000", "The listen address")
	bucket := flag.String("bucket", "brain-data", "Bucket name reported in simulated object paths")
	logFormat := flag.String("logFormat", "text", "Log format: text|json")
	logLevel := flag.String("logLevel", "info", "Log level: debug|info|warn|error")
	graceful := flag.Duration("gracefulTimeout", 5*time.Second, "Graceful shutdown timeout")
	keep := flag.Int("keep", sinkserver.DefaultMaxReceived, "How many recent uploads GET /api/uploads reports")

	flag.Parse()

	logger, err := logging.New("dash0.com/window-drain-backend/sink-mock", *logFormat, *logLevel)
	if err != nil {
		return err
	}

	slog.SetDefault(logger)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           sinkserver.New(*bucket, logger, sinkserver.WithMaxReceived(*keep)).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)

	go func() { serveErr <- srv.ListenAndServe() }()

	logger.Info("Mock sink listening", slog.String("addr", *addr), slog.String("bucket", *bucket))

	select {
	case err := <-serveErr:
		return err
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), *graceful)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	}
}
