package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
	"github.com/andesco/pageproxy/handlers"
	"github.com/andesco/pageproxy/pkg/config"
	"github.com/andesco/pageproxy/pkg/fetch"
	"github.com/andesco/pageproxy/pkg/history"
	"github.com/andesco/pageproxy/pkg/logging"
	"github.com/andesco/pageproxy/pkg/metrics"
	"github.com/andesco/pageproxy/pkg/proxy"
	"github.com/andesco/pageproxy/pkg/rewrite"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func main() {
	parser := argparse.NewParser("pageproxy", "Fetch web pages server-side and render them in the browser")

	configPath := parser.String("c", "config", &argparse.Options{
		Required: false,
		Help:     "Path to a YAML configuration file",
	})
	port := parser.Int("p", "port", &argparse.Options{
		Required: false,
		Help:     "Port the server listens on. Overrides PORT",
	})
	publicDir := parser.String("", "public-dir", &argparse.Options{
		Required: false,
		Help:     "Serve the front-end from this directory instead of the embedded copy",
	})
	historyDB := parser.String("", "history-db", &argparse.Options{
		Required: false,
		Help:     "SQLite database for proxy history. History is kept in memory when empty",
	})
	verbose := parser.Flag("v", "verbose", &argparse.Options{
		Required: false,
		Help:     "Log at debug level",
	})
	prefork := parser.Flag("", "prefork", &argparse.Options{
		Required: false,
		Help:     "Spawn multiple server processes",
	})

	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *publicDir != "" {
		cfg.Server.PublicDir = *publicDir
	}
	if *historyDB != "" {
		cfg.History.Database = *historyDB
	}
	if *verbose {
		cfg.Logging.Level = "debug"
	}
	if *prefork {
		cfg.Server.Prefork = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}

	os.Exit(exitCode(logger, run(cfg, logger)))
}

// exitCode reports err and flushes the logger before the process exits.
func exitCode(logger *zap.Logger, err error) int {
	code := 0
	if err != nil {
		logger.Error("server stopped", zap.Error(err))
		code = 1
	}
	_ = logger.Sync()
	return code
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openHistory(ctx, cfg.History.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	app := newApp(cfg, store, logger)

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr()))
		errc <- app.Listen(cfg.Addr())
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	return app.ShutdownWithTimeout(10 * time.Second)
}

// newApp wires the proxy pipeline into the HTTP app. Each component names
// its own logger.
func newApp(cfg *config.Config, store history.Store, logger *zap.Logger) *fiber.App {
	m := metrics.New()
	gateway := fetch.NewGateway(fetch.Options{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.Fetch.Timeout,
		MaxRedirects: cfg.Fetch.MaxRedirects,
		LogURLs:      cfg.Fetch.LogURLs,
	}, logger)
	rw := rewrite.New(rewrite.DefaultOptions(), logger)
	svc := proxy.NewService(gateway, rw, store, m, logger)

	return handlers.NewApp(handlers.Options{
		Service:   svc,
		History:   store,
		Metrics:   m,
		Logger:    logger,
		PublicDir: cfg.Server.PublicDir,
		Prefork:   cfg.Server.Prefork,
	})
}

func openHistory(ctx context.Context, path string) (history.Store, error) {
	if path == "" {
		return history.NewMemoryStore(), nil
	}
	store, err := history.OpenSQLStore(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database '%s': %w", path, err)
	}
	return store, nil
}
