package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"mvault/observability/logging"
	telemetry "mvault/observability/otel"
	"mvault/services/vaultd/app"
	"mvault/services/vaultd/config"
	"mvault/services/vaultd/keeper"
	"mvault/services/vaultd/server"
	journalstore "mvault/services/vaultd/storage"
	"mvault/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/vaultd/config.yaml", "path to vaultd configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("VAULTD_ENV"))
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("vaultd: load config: %v", err)
	}

	logger, logCloser := logging.SetupWithOptions(logging.Options{
		Service:    "vaultd",
		Env:        env,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer logCloser.Close()

	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "vaultd",
		Environment: env,
		Endpoint:    strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		Insecure:    insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		log.Fatalf("vaultd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := storage.Open(cfg.State.Backend, cfg.State.Path)
	if err != nil {
		log.Fatalf("vaultd: open state: %v", err)
	}
	defer db.Close()

	dsn, err := journalstore.FileDSN(cfg.JournalPath)
	if err != nil {
		log.Fatalf("vaultd: resolve journal DSN: %v", err)
	}
	journal, err := journalstore.Open(dsn)
	if err != nil {
		log.Fatalf("vaultd: open journal: %v", err)
	}
	defer journal.Close()

	rt, err := app.Build(cfg, db, journalstore.NewEmitter(journal, log.Default()))
	if err != nil {
		log.Fatalf("vaultd: build runtime: %v", err)
	}

	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		Auth: server.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew.Duration,
		},
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.Auth.RequestsPerMinute,
			Burst:             cfg.Auth.Burst,
		},
	}, rt, journal, logger)
	if err != nil {
		log.Fatalf("vaultd: server: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Keeper.Enabled {
		jobs := rt.KeeperJobs(cfg, &http.Client{Timeout: cfg.Keeper.Timeout.Duration})
		k, err := keeper.New(journal, rt.Keeper, jobs, cfg.Keeper.Interval.Duration, cfg.Keeper.MaxAge.Duration, cfg.Keeper.MinSources,
			keeper.WithLogger(log.Default()))
		if err != nil {
			log.Fatalf("vaultd: keeper: %v", err)
		}
		log.Printf("vaultd: keeper driving %d aggregators: %s", k.Jobs(), keeper.Names(jobs))
		go func() {
			if err := k.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("vaultd: keeper exited: %v", err)
				stop()
			}
		}()
	}

	if err := srv.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("vaultd: http server error: %v", err)
		os.Exit(1)
	}
}
