package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nftmarket/config"
	"nftmarket/core/events"
	"nftmarket/core/genesis"
	"nftmarket/crypto"
	"nftmarket/indexer"
	"nftmarket/ledger"
	nativecommon "nftmarket/native/common"
	"nftmarket/native/marketplace"
	"nftmarket/observability"
	"nftmarket/observability/logging"
	"nftmarket/observability/metrics"
	telemetry "nftmarket/observability/otel"
	"nftmarket/rpc"
	"nftmarket/runtime"
	"nftmarket/storage"
)

const (
	serviceName         = "marketd"
	indexerBuffer       = 1024
	dropReportInterval  = 15 * time.Second
	telemetryShutdownIn = 5 * time.Second
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Optional genesis file applied on first start (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *genesisFlag != "" {
		cfg.GenesisFile = *genesisFlag
	}

	output, logFile := logging.TeeToFile(logging.FileRotation{
		Path:       cfg.Telemetry.LogFile,
		MaxSizeMB:  cfg.Telemetry.LogMaxSizeMB,
		MaxBackups: cfg.Telemetry.LogMaxBackups,
		MaxAgeDays: cfg.Telemetry.LogMaxAgeDays,
	})
	defer logFile.Close()
	logger := logging.Setup(serviceName, cfg.Telemetry.Environment,
		output, logging.WithLevel(logging.ParseLevel(cfg.Telemetry.LogLevel)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("marketd exited with error", slog.Any("error", err))
		logFile.Close()
		os.Exit(1)
	}
	logger.Info("marketd stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Telemetry.Environment,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     otlpHeaders(cfg.Telemetry.OTLPHeaders),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownIn)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	db, err := storage.Open(cfg.StorageBackend, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()
	logger.Info("ledger storage opened",
		slog.String("backend", cfg.StorageBackend),
		logging.MaskField("data_dir", cfg.DataDir))

	l := ledger.New(db)
	l.SetRentPerByte(cfg.Ledger.RentPerByte)
	l.SetLogger(logger)

	program, err := cfg.Program()
	if err != nil {
		return fmt.Errorf("program id: %w", err)
	}
	bus := &events.Bus{}

	if cfg.GenesisFile != "" {
		spec, err := genesis.LoadGenesisSpec(cfg.GenesisFile)
		if err != nil {
			return fmt.Errorf("load genesis: %w", err)
		}
		applied, evts, err := genesis.Apply(ctx, l, spec)
		if err != nil {
			return fmt.Errorf("apply genesis: %w", err)
		}
		// Nothing is subscribed yet; the index backfill picks up genesis state.
		if applied {
			logger.Info("genesis committed", slog.Int("events", len(evts)))
		} else {
			logger.Info("genesis already applied", slog.String("file", cfg.GenesisFile))
		}
	}

	if commitment, err := l.StateRoot(); err != nil {
		logger.Warn("state root unavailable", slog.Any("error", err))
	} else {
		logger.Info("ledger state",
			slog.String("root", commitment.Root.Hex()),
			slog.Int("accounts", commitment.Entries))
	}

	pauses := nativecommon.NewPauseSet(cfg.PausedModules...)
	engine := marketplace.NewEngine(program)
	engine.SetPauses(pauses)
	engine.SetLogger(logger)

	marketMetrics := metrics.Marketplace()
	proc := runtime.NewProcessor(l, engine)
	proc.SetBus(bus)
	proc.SetMetrics(marketMetrics)
	proc.SetLogger(logger)

	idx, err := startIndexer(ctx, cfg, l, program, bus, marketMetrics, logger)
	if err != nil {
		return err
	}

	go reportDroppedEvents(ctx, bus)

	faucet := rpc.FaucetConfig{Enabled: cfg.Faucet.Enabled}
	if faucet.Enabled {
		limits, err := cfg.Faucet.FaucetLimits()
		if err != nil {
			return fmt.Errorf("faucet limits: %w", err)
		}
		faucet.Amount = limits.Amount
		faucet.Quota = limits.Quota
	}

	admin, err := adminAuth(cfg)
	if err != nil {
		return err
	}
	if admin.HMACSecret == "" {
		logger.Info("admin endpoints disabled", slog.String("secret_env", cfg.Admin.SecretEnv))
	}

	server := rpc.New(rpc.Config{
		Processor: proc,
		Indexer:   idx,
		Bus:       bus,
		Pauses:    pauses,
		RateLimit: rpc.RateLimit{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		},
		Faucet: faucet,
		Admin:  admin,
		Logger: logger,
	})

	logger.Info("marketd starting",
		slog.String("network", cfg.NetworkName),
		slog.String("program", program.String()),
		slog.String("address", cfg.ListenAddress))

	if err := server.ListenAndServe(ctx, cfg.ListenAddress); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// startIndexer opens the read model, seeds it from the ledger and follows the
// bus. An empty DSN uses the shared in-memory database.
func startIndexer(ctx context.Context, cfg *config.Config, l *ledger.Ledger, program crypto.Address, bus *events.Bus, m *metrics.MarketplaceMetrics, logger *slog.Logger) (*indexer.Indexer, error) {
	dsn := cfg.IndexDSN
	if dsn == "" {
		dsn = indexer.DefaultDSN
	}
	gdb, err := indexer.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	idx := indexer.New(gdb)
	idx.SetMetrics(m)
	idx.SetLogger(logger)

	// Subscribe before the backfill so no commit falls between the two.
	sub := bus.Subscribe(indexerBuffer)
	listings, err := marketplace.Scan(l, program, false)
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("scan listings: %w", err)
	}
	if err := idx.Backfill(ctx, listings); err != nil {
		sub.Close()
		return nil, fmt.Errorf("backfill index: %w", err)
	}
	logger.Info("index ready",
		slog.String("program", program.String()),
		slog.Int("listings", len(listings)),
		logging.MaskField("dsn", dsn))

	go idx.Run(ctx, sub)
	return idx, nil
}

func adminAuth(cfg *config.Config) (rpc.AdminAuth, error) {
	skew, err := cfg.AdminClockSkew()
	if err != nil {
		return rpc.AdminAuth{}, fmt.Errorf("admin clock skew: %w", err)
	}
	return rpc.AdminAuth{
		HMACSecret: cfg.AdminSecret(),
		Issuer:     cfg.Admin.Issuer,
		Audience:   cfg.Admin.Audience,
		ClockSkew:  skew,
	}, nil
}

// otlpHeaders prefers the standard exporter environment variable over the
// config file.
func otlpHeaders(configured string) map[string]string {
	if env := os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"); env != "" {
		return telemetry.ParseHeaders(env)
	}
	return telemetry.ParseHeaders(configured)
}

func reportDroppedEvents(ctx context.Context, bus *events.Bus) {
	ticker := time.NewTicker(dropReportInterval)
	defer ticker.Stop()
	var last uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := bus.Dropped()
			if current > last {
				observability.Events().RecordDropped(current - last)
			}
			last = current
		}
	}
}
