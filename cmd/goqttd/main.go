package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pyr33x/goqttd/internal/auth"
	"github.com/pyr33x/goqttd/internal/bridge"
	"github.com/pyr33x/goqttd/internal/broker"
	"github.com/pyr33x/goqttd/internal/config"
	"github.com/pyr33x/goqttd/internal/logger"
	"github.com/pyr33x/goqttd/internal/persistence"
	"github.com/pyr33x/goqttd/internal/transport"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to the broker's YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "goqttd: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:     parseLevel(cfg.Logging.Level),
		Format:    cfg.Logging.Format,
		Component: "broker",
		Service:   "goqttd",
	})

	store, err := openStore(cfg.Storage)
	if err != nil {
		log.Fatal("failed to open persistence store", logger.ErrorAttr(err))
	}
	defer store.Close()

	authenticator, err := openAuthenticator(cfg.Auth)
	if err != nil {
		log.Fatal("failed to configure authentication", logger.ErrorAttr(err))
	}

	sink := openBridge(cfg.Bridge)

	b := broker.New(store, sink, log, cfg.Limits.MaxInflightMessages)

	var tlsConfig *tls.Config
	if cfg.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			log.Fatal("failed to load TLS certificate", logger.ErrorAttr(err))
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := transport.New(addr, tlsConfig, b, authenticator, log.Logger, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go b.Run(ctx)

	if err := srv.Start(ctx); err != nil {
		log.Fatal("failed to start listener", logger.ErrorAttr(err))
	}
	log.Info("broker listening", logger.String("addr", addr), logger.Bool("tls", cfg.TLS.Enabled))

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = startMetricsServer(cfg.Metrics, log)
	}

	done := make(chan struct{})
	go gracefulShutdown(srv, metricsSrv, b, cancel, done, log)

	<-done
	log.Info("shutdown complete")
}

func gracefulShutdown(srv *transport.Server, metricsSrv *http.Server, b *broker.Broker, cancel context.CancelFunc, done chan struct{}, log *logger.Logger) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.Info("shutdown signal received")

	if err := srv.Stop(); err != nil {
		log.Warn("error stopping listener", logger.ErrorAttr(err))
	}

	// Disconnect every session while the dispatcher is still running so
	// non-clean sessions' last wills fire, matching an abrupt disconnect
	// rather than leaving them to time out against a broker that's gone.
	b.DisconnectAll(false)

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("error stopping metrics server", logger.ErrorAttr(err))
		}
	}

	// Give in-flight writeLoop goroutines a moment to flush queued
	// PUBACK/PUBCOMP replies before the dispatcher context is cancelled.
	time.Sleep(500 * time.Millisecond)
	cancel()
	close(done)
}

func openStore(cfg config.StorageConfig) (persistence.Store, error) {
	switch cfg.Backend {
	case "bbolt":
		return persistence.OpenBbolt(cfg.Path)
	default:
		return persistence.NewMemory(), nil
	}
}

// openAuthenticator picks the first configured backend, in the
// precedence documented on config.AuthConfig: authfile, webauth,
// password, then none.
func openAuthenticator(cfg config.AuthConfig) (auth.Authenticator, error) {
	switch {
	case strings.HasPrefix(cfg.AuthFile, "sqlite://"):
		return auth.OpenSQLite(strings.TrimPrefix(cfg.AuthFile, "sqlite://"))
	case cfg.AuthFile != "":
		return auth.LoadJSONFile(cfg.AuthFile)
	case cfg.WebAuth != "":
		return auth.NewWebAuthStore(cfg.WebAuth), nil
	case cfg.Password != "":
		return auth.NewPasswordStore(cfg.Password), nil
	case cfg.None:
		return auth.NewNoneStore(), nil
	default:
		return auth.NewNoneStore(), nil
	}
}

func openBridge(cfg config.BridgeConfig) bridge.Sink {
	if !cfg.Enabled || cfg.Addr == "" {
		return bridge.NopSink{}
	}
	return bridge.NewDedupSink(bridge.NewTCPSink(cfg.Addr))
}

func startMetricsServer(cfg config.MetricsConfig, log *logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", logger.ErrorAttr(err))
		}
	}()
	log.Info("metrics listening", logger.String("addr", addr), logger.String("path", cfg.Path))
	return srv
}

func parseLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return logger.LevelDebug
	case "warn":
		return logger.LevelWarn
	case "error":
		return logger.LevelError
	default:
		return logger.LevelInfo
	}
}
