package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/bit2swaz/storage-janitor/internal/auth"
	"github.com/bit2swaz/storage-janitor/internal/catalog"
	"github.com/bit2swaz/storage-janitor/internal/config"
	"github.com/bit2swaz/storage-janitor/internal/database"
	"github.com/bit2swaz/storage-janitor/internal/engine"
	"github.com/bit2swaz/storage-janitor/internal/logger"
	"github.com/bit2swaz/storage-janitor/internal/ratelimit"
	"github.com/bit2swaz/storage-janitor/pkg/observability"
	"github.com/bit2swaz/storage-janitor/pkg/storage"
	"github.com/bit2swaz/storage-janitor/pkg/storage/api"
	"github.com/bit2swaz/storage-janitor/pkg/storage/local"
	s3driver "github.com/bit2swaz/storage-janitor/pkg/storage/s3"
)

// app holds the collaborators built from one configuration.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	storage   storage.Driver
	directory storage.Directory
	tasks     storage.TaskService
	limiter   *ratelimit.Limiter
	registry  *prometheus.Registry
	metrics   *observability.SweepMetrics
	closers   []func()
}

// loadConfig reads the config file with env files, saved credentials and
// flag/env overrides applied. Every failure is a configuration error.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	if err := config.LoadEnvFiles(config.EnvFiles...); err != nil {
		return nil, newExitError(exitConfigInvalid, err)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, newExitError(exitConfigInvalid, err)
	}
	if err := cfg.Override(opts.viper); err != nil {
		return nil, newExitError(exitConfigInvalid, fmt.Errorf("apply overrides: %w", err))
	}
	if err := applySavedCredentials(cfg); err != nil {
		return nil, newExitError(exitConfigInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, newExitError(exitConfigInvalid, fmt.Errorf("invalid config: %w", err))
	}
	return cfg, nil
}

// applySavedCredentials fills in the API url and token from `janitor login`
// when the config leaves them out.
func applySavedCredentials(cfg *config.Config) error {
	usesAPI := cfg.Storage.Driver == config.DriverAPI || cfg.Metadata.Driver == config.DriverAPI
	if !usesAPI || (cfg.Storage.API.URL != "" && cfg.Storage.API.Token != "") {
		return nil
	}

	creds, err := auth.LoadCredentials()
	if errors.Is(err, auth.ErrNoCredentials) {
		return nil
	}
	if err != nil {
		return err
	}
	if cfg.Storage.API.URL == "" {
		cfg.Storage.API.URL = creds.ServerURL
	}
	if cfg.Storage.API.Token == "" {
		cfg.Storage.API.Token = creds.Token
	}
	return nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, newExitError(exitConfigInvalid, err)
	}

	a := &app{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(observability.HTTPDuration)
	a.metrics = observability.NewSweepMetrics(a.registry)

	if cfg.DeleteRate.Limit > 0 {
		a.limiter = ratelimit.New(cfg.DeleteRate.Limit, cfg.DeleteRate.Window)
	}

	if err := a.buildStorage(ctx); err != nil {
		a.close()
		return nil, err
	}
	if err := a.buildMetadata(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) apiClient() *api.Client {
	return api.New(a.cfg.Storage.API.URL, a.cfg.Storage.API.Token)
}

func (a *app) buildStorage(ctx context.Context) error {
	switch a.cfg.Storage.Driver {
	case config.DriverAPI:
		a.storage = a.apiClient()
	case config.DriverS3:
		s3cfg := a.cfg.Storage.S3
		driver, err := s3driver.New(ctx, s3driver.Config{
			Bucket:          s3cfg.Bucket,
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
			UsePathStyle:    s3cfg.UsePathStyle,
			TenantPrefix:    s3cfg.TenantPrefix,
		})
		if err != nil {
			return fmt.Errorf("init s3 storage: %w", err)
		}
		a.storage = driver
	case config.DriverLocal:
		driver, err := local.New(a.cfg.Storage.Local.Root)
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		a.storage = driver
	default:
		return newExitError(exitConfigInvalid, fmt.Errorf("unknown storage driver %q", a.cfg.Storage.Driver))
	}
	return nil
}

func (a *app) buildMetadata(ctx context.Context) error {
	switch a.cfg.Metadata.Driver {
	case config.DriverAPI:
		client, ok := a.storage.(*api.Client)
		if !ok {
			client = a.apiClient()
		}
		a.directory = client
		a.tasks = client
	case config.DriverPostgres:
		pool, err := database.ConnectDB(ctx, a.cfg.Metadata.DatabaseURL, a.cfg.Concurrency*2)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pool.Close)
		cat := catalog.New(pool)
		a.directory = cat
		a.tasks = cat
	case config.DriverNone:
		dir, ok := a.storage.(storage.Directory)
		if !ok {
			return newExitError(exitConfigInvalid, fmt.Errorf("storage driver %s cannot list tenants", a.cfg.Storage.Driver))
		}
		a.directory = dir
	default:
		return newExitError(exitConfigInvalid, fmt.Errorf("unknown metadata driver %q", a.cfg.Metadata.Driver))
	}
	return nil
}

func (a *app) newSweeper(dryRun bool, observer engine.ProgressObserver) (*engine.Sweeper, error) {
	settings, err := a.cfg.EngineSettings()
	if err != nil {
		return nil, newExitError(exitConfigInvalid, err)
	}
	settings.DryRun = dryRun

	sweeper, err := engine.NewSweeper(settings, engine.Deps{
		Directory: a.directory,
		Storage:   a.storage,
		Tasks:     a.tasks,
		Limiter:   a.limiter,
		Metrics:   a.metrics,
		Logger:    a.log.Named("sweeper"),
		Observer:  observer,
	})
	if err != nil {
		return nil, newExitError(exitConfigInvalid, err)
	}
	return sweeper, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.log.Sync()
}
