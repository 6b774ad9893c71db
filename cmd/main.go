// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	proxystream "github.com/hambosto/proxy-stream"
	perrors "github.com/hambosto/proxy-stream/pkg/errors"
	"github.com/hambosto/proxy-stream/pkg/health"
	"github.com/hambosto/proxy-stream/pkg/metrics"
	"github.com/hambosto/proxy-stream/pkg/observer"
	"github.com/hambosto/proxy-stream/pkg/server/tcp"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	// .env file is optional
	envErr := godotenv.Load()

	cfg, err := proxystream.NewConfig(env.Options{Prefix: proxystream.EnvPrefix})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse config: %v\n", err)
		os.Exit(1)
	}
	if err := parseFlags(&cfg, os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	if envErr != nil {
		logger.Debug("no .env file found, using environment variables")
	}

	logger.Info("Starting proxy",
		slog.String("listen", cfg.ListenAddress()),
		slog.String("target", cfg.TargetAddress()))

	obs := observer.Multi{observer.NewLog(logger)}
	reg := prometheus.NewRegistry()
	if cfg.MetricsPort != 0 {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		obs = append(obs, metrics.New("proxy_stream", reg))
	}

	server := tcp.New(tcp.Config{
		Address:          cfg.ListenAddress(),
		TargetAddress:    cfg.TargetAddress(),
		BufferSize:       cfg.BufferSize,
		DialTimeout:      cfg.DialTimeout,
		HalfCloseTimeout: cfg.HalfCloseTimeout,
		ShutdownTimeout:  cfg.ShutdownTimeout,
		Logger:           logger,
	}, obs)

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Listen(ctx)
	})

	if cfg.MetricsPort != 0 {
		checker := newChecker(server, cfg.TargetAddress())
		g.Go(func() error {
			return startOpsServer(ctx, cfg.MetricsPort, reg, checker, logger)
		})
	}

	// Signal handler
	g.Go(func() error {
		return StopSignalHandler(ctx, cancel, logger)
	})

	err = g.Wait()
	switch {
	case errors.Is(err, tcp.ErrShutdownTimeout):
		logger.Warn("proxy stopped with sessions closed forcefully")
	case err != nil:
		logger.Error(fmt.Sprintf("proxy terminated with error: %s", err))
		os.Exit(1)
	default:
		logger.Info("proxy stopped")
	}
}

// parseFlags overrides cfg with command line flags.
func parseFlags(cfg *proxystream.Config, args []string) error {
	fs := pflag.NewFlagSet("proxy-stream", pflag.ContinueOnError)
	fs.StringVar(&cfg.ListenHost, "listen-host", cfg.ListenHost, "interface to bind (empty for all)")
	fs.Uint16Var(&cfg.ListenPort, "listen-port", cfg.ListenPort, "port to listen for incoming connections")
	fs.StringVar(&cfg.TargetHost, "target-host", cfg.TargetHost, "host to forward traffic to")
	fs.Uint16Var(&cfg.TargetPort, "target-port", cfg.TargetPort, "port to forward traffic to")
	fs.IntVar(&cfg.BufferSize, "buffer-size", cfg.BufferSize, "relay buffer size in bytes per direction")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "timeout for connecting to the target (0 for OS default)")
	fs.DurationVar(&cfg.HalfCloseTimeout, "half-close-timeout", cfg.HalfCloseTimeout, "idle limit for a half-closed session (0 for no limit)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: text or json")
	fs.Uint16Var(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort, "port for metrics and health endpoints (0 disables)")

	return fs.Parse(args)
}

// setupLogger creates a structured logger with the specified level and format.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// newChecker registers the proxy's health checks. A stopped listener makes
// the proxy unhealthy; an unreachable target only degrades it.
func newChecker(server *tcp.Server, target string) *health.Checker {
	checker := health.NewChecker(10 * time.Second)

	checker.RegisterCritical("listener", func(ctx context.Context) error {
		if !server.Accepting() {
			return errors.New("listener is not accepting connections")
		}
		return nil
	})

	checker.Register("target", func(ctx context.Context) error {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", target)
		if err != nil {
			return err
		}
		return conn.Close()
	})

	return checker
}

// startOpsServer serves Prometheus metrics and health endpoints until ctx is
// cancelled.
func startOpsServer(ctx context.Context, port uint16, reg *prometheus.Registry, checker *health.Checker, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/health", checker.HTTPHandler())
	mux.HandleFunc("/ready", checker.ReadinessHandler())
	mux.HandleFunc("/live", health.LivenessHandler())

	srv := &http.Server{
		Addr:         net.JoinHostPort("", strconv.Itoa(int(port))),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting ops server", slog.String("address", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return perrors.Wrap(err, "ops server")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func StopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)
	select {
	case sig := <-c:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
