// Package main is the entry point for the beggar S3-compatible object
// storage gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/balchua/beggar/internal/auth"
	"github.com/balchua/beggar/internal/catalog"
	"github.com/balchua/beggar/internal/config"
	"github.com/balchua/beggar/internal/logging"
	"github.com/balchua/beggar/internal/metrics"
	"github.com/balchua/beggar/internal/server"
	"github.com/balchua/beggar/internal/storage"
)

// stringList collects repeatable string flags.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	host := flag.String("host", "localhost", "host name to listen on")
	port := flag.Int("port", 8014, "port number to listen on")
	accessKey := flag.String("access-key", "", "access key used for authentication")
	secretKey := flag.String("secret-key", "", "secret key used for authentication")
	configPath := flag.String("config", "config/application.yaml", "path to configuration file")
	var domains stringList
	flag.Var(&domains, "domain", "domain name used for virtual-hosted-style requests (repeatable)")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: beggar [flags] <root>")
		os.Exit(2)
	}
	root := flag.Arg(0)

	if (*accessKey == "") != (*secretKey == "") {
		fmt.Fprintln(os.Stderr, "access key and secret key must be specified together")
		os.Exit(2)
	}
	for _, d := range domains {
		if strings.Contains(d, "/") {
			fmt.Fprintf(os.Stderr, "expected domain name, found URL-like string: %q\n", d)
			os.Exit(2)
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file values.
	cfg.Server.Host = *host
	cfg.Server.Port = *port
	cfg.Server.Domains = append(cfg.Server.Domains, domains...)
	if *accessKey != "" {
		cfg.Auth.AccessKey = *accessKey
		cfg.Auth.SecretKey = *secretKey
	}
	cfg.Storage.Root = root

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)

	slog.Info("settings loaded",
		"host", cfg.Datasource.Host, "port", cfg.Datasource.Port, "engine", cfg.Datasource.Engine)

	cat, err := openCatalog(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize catalog: %v\n", err)
		os.Exit(1)
	}
	defer cat.Close()

	// Every startup is recovery: the backend sweeps temp files left by an
	// earlier crash before serving.
	backend, err := storage.New(cfg.Storage.Root, cat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize storage backend: %v\n", err)
		os.Exit(1)
	}

	var creds *auth.SimpleAuth
	if cfg.Auth.AccessKey != "" {
		creds = auth.FromSingle(cfg.Auth.AccessKey, cfg.Auth.SecretKey)
		slog.Info("authentication is enabled")
	}

	if cfg.Observability.Metrics {
		metrics.Register()
	}

	srv := server.New(cfg, backend, creds)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server is running", "addr", addr)
		if err := srv.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		slog.Info("server is stopped")

	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}
}

// openCatalog constructs the configured catalog engine.
func openCatalog(cfg *config.Config) (catalog.Catalog, error) {
	switch cfg.Datasource.Engine {
	case "sqlite":
		return catalog.NewSQLiteCatalog(cfg.Datasource.SQLitePath)
	case "memory":
		return catalog.NewMemoryCatalog(), nil
	default:
		return catalog.NewPostgresCatalog(context.Background(), cfg.Datasource)
	}
}
