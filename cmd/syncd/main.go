// Command syncd serves the shared key-value document over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	docsync "github.com/c0deZ3R0/go-doc-sync"
	"github.com/c0deZ3R0/go-doc-sync/config"
	"github.com/c0deZ3R0/go-doc-sync/logging"
	"github.com/c0deZ3R0/go-doc-sync/storage/sqlite"
	"github.com/c0deZ3R0/go-doc-sync/transport/httpsync"
)

func main() {
	if err := run(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

// logConfig merges the environment-derived logging settings with the file
// configuration. The file wins for level and format; ENVIRONMENT and
// LOG_ADD_SOURCE keep steering the handler the way the env defaults do.
func logConfig(cfg *config.Config) logging.Config {
	lc := logging.GetConfigFromEnv()
	if cfg.Log.Level != "" {
		lc.Level = cfg.Log.Level
	}
	if cfg.Log.Format != "" {
		lc.Format = cfg.Log.Format
	}
	return lc
}

func run() error {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logging.Init(logConfig(cfg))
	logger := logging.WithComponent(logging.Component("syncd"))

	store, err := sqlite.New(&sqlite.Config{
		DataSourceName: cfg.Storage.DSN,
		EnableWAL:      cfg.Storage.EnableWAL,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	engine := docsync.NewEngine(store,
		docsync.WithCheckpointCadence(cfg.Engine.CheckpointCadence),
	)
	handler := httpsync.NewHandler(engine)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "server listening", slog.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.InfoContext(context.Background(), "shutting down",
		slog.Duration("timeout", cfg.Server.ShutdownTimeout),
	)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
