package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"fundrecon/internal/auditlog"
	"fundrecon/internal/instruments"
	"fundrecon/internal/interfaces"
	"fundrecon/internal/logger"
	"fundrecon/internal/recon"
	"fundrecon/internal/recon/reconobs"
	"fundrecon/internal/refdata"
	"fundrecon/internal/service"
	"fundrecon/internal/service/serviceobs"
	"fundrecon/internal/store"
	"fundrecon/internal/trace"
)

// initializeSystem loads .env and the config, then sets up logging and tracing
func initializeSystem(configPath string) (*store.Config, error) {
	_ = godotenv.Load()

	cfg, err := store.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// config file wins over LOG_* env vars
	if err := logger.InitWithConfig(cfg.Log.Merge(logger.LoadConfigFromEnv()), os.Stdout); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	return cfg, nil
}

// compressOldJournals gzips audit journals past the retention window
func compressOldJournals(ctx context.Context, dir string, days int) {
	if days <= 0 {
		return
	}
	if err := auditlog.CompressOlder(dir, days); err != nil {
		logger.Warn(ctx, "Failed to compress old journals", "error", err)
	}
}

func auditDir(cfg *store.Config) string {
	if cfg.Audit.Dir != "" {
		return cfg.Audit.Dir
	}
	return auditlog.LogDir()
}

func loadInstruments(ctx context.Context, path string) (*instruments.Master, error) {
	if path == "" {
		return nil, nil
	}
	m, err := instruments.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "Instrument master loaded", "path", path, "instruments", m.Len())
	return m, nil
}

// initializeService builds the job runner with observability
func initializeService(ctx context.Context, cfg *store.Config, journal *auditlog.Journal) (interfaces.JobRunner, error) {
	st, err := refdata.Load(cfg.RefData)
	if err != nil {
		return nil, err
	}
	res := refdata.NewResolver(st)

	master, err := loadInstruments(ctx, cfg.Instruments)
	if err != nil {
		return nil, err
	}

	svc, err := service.New(service.Params{
		Config:      cfg,
		Reconciler:  reconobs.Wrap(recon.NewEngine(res, cfg.Precision)),
		Resolver:    res,
		Instruments: master,
		Journal:     journal,
	})
	if err != nil {
		return nil, err
	}
	return serviceobs.Wrap(svc), nil
}
