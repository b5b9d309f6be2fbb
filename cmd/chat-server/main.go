// Command chat-server runs the chat relay server. It listens for TCP chat
// clients, optionally exposes Prometheus metrics over HTTP, and reads admin
// commands (`exit`, `print`) from stdin.
package main

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cyberinferno/chat-server/authindex"
	"github.com/cyberinferno/chat-server/config"
	"github.com/cyberinferno/chat-server/dispatcher"
	"github.com/cyberinferno/chat-server/identity"
	"github.com/cyberinferno/chat-server/logger"
	"github.com/cyberinferno/chat-server/metrics"
	"github.com/cyberinferno/chat-server/persist"
	"github.com/cyberinferno/chat-server/server"
	"github.com/cyberinferno/chat-server/session"
	"github.com/cyberinferno/chat-server/taskpool"
	"github.com/cyberinferno/chat-server/throttle"
)

const serviceName = "chat-server"

func main() {
	root := &cobra.Command{
		Use:          serviceName,
		Short:        "TCP chat relay server",
		SilenceUsage: true,
	}
	root.AddCommand(serveCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}

			return serve(cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	return cmd
}

func serve(cfg config.Config) error {
	log, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Close() }()

	recorder, err := buildRecorder(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = recorder.Close() }()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	identities := identity.NewStore()
	index := authindex.New(identities)
	pool := taskpool.New(cfg.PoolSize, log)
	disp := &dispatcher.Dispatcher{
		Logger:     log,
		Identities: identities,
		Index:      index,
		Throttle:   throttle.New(cfg.Throttle.Limit, cfg.ThrottleWindow()),
		Metrics:    m,
	}

	srv := server.New(server.Config{
		Addr: cfg.Listen,
		KeepAlive: session.KeepAliveConfig{
			Idle:     cfg.KeepAliveIdle(),
			Interval: cfg.KeepAliveInterval(),
			Count:    cfg.KeepAlive.Count,
		},
		MaxPayload:   cfg.MaxPayloadBytes,
		ReadTimeout:  cfg.ReadTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
	}, pool, identities, index, disp, recorder, m, log)

	if err := srv.Start(); err != nil {
		return err
	}

	if cfg.MetricsListen != "" {
		go serveMetrics(cfg.MetricsListen, registry, log)
	}

	done := make(chan struct{})
	go adminLoop(srv, done)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("signal received, shutting down", logger.Field{Key: "signal", Value: sig.String()})
	case <-done:
		log.Info("admin exit requested, shutting down")
	}

	srv.Stop()
	pool.Shutdown()
	pool.Join()

	return nil
}

// adminLoop reads line-oriented admin commands from stdin: `exit`
// disconnects everyone and stops the server, `print` dumps identity and
// session diagnostics.
func adminLoop(srv *server.Server, done chan<- struct{}) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch scanner.Text() {
		case "exit":
			srv.DisconnectAll()
			close(done)
			return
		case "print":
			fmt.Print(srv.Diagnostics())
		}
	}
}

// serveMetrics exposes the Prometheus registry over HTTP.
func serveMetrics(addr string, registry *prometheus.Registry, log logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	log.Info("metrics listener started", logger.Field{Key: "addr", Value: addr})
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics listener failed", logger.Field{Key: "error", Value: err})
	}
}

// buildLogger builds the service logger from the log config.
func buildLogger(cfg config.Config) (logger.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}

	if cfg.Log.Dir != "" {
		return logger.NewZerologFileLogger(serviceName, cfg.Log.Dir, level)
	}
	return logger.NewZerologLogger(zerolog.New(os.Stdout), serviceName, level), nil
}

// buildRecorder selects the connection-log sink: Redis when an address is
// configured, in-memory otherwise.
func buildRecorder(cfg config.Config) (persist.Recorder, error) {
	if cfg.Redis.Addr == "" {
		return persist.NewMemoryRecorder(0), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return persist.NewRedisRecorder(client, 0), nil
}
