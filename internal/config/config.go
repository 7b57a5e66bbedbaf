package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bit2swaz/storage-janitor/internal/engine"
)

const (
	DefaultPath        = "janitor.yml"
	EnvPrefix          = "JANITOR"
	DefaultListenAddr  = ":9090"
	DefaultSweepPeriod = 2

	DriverAPI      = "api"
	DriverS3       = "s3"
	DriverLocal    = "local"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// EnvFiles are loaded into the environment before the config file is read.
var EnvFiles = []string{".env", "local.env"}

// Config represents the janitor.yml structure
type Config struct {
	RetentionDays     int               `yaml:"retention_days"`
	SweepIntervalDays int               `yaml:"sweep_interval_days"`
	BatchSize         int               `yaml:"batch_size"`
	AllTenants        bool              `yaml:"all_tenants"`
	TenantID          int64             `yaml:"tenant_id"`
	TenantDelay       time.Duration     `yaml:"tenant_delay"`
	Concurrency       int               `yaml:"concurrency"`
	FixedDirectories  []DirectoryConfig `yaml:"fixed_directories"`
	SessionsPath      string            `yaml:"sessions_path"`
	CleanupAppNames   []string          `yaml:"cleanup_app_names"`
	Extensions        []string          `yaml:"extensions"`
	KeepPatterns      []string          `yaml:"keep_patterns"`
	Storage           StorageConfig     `yaml:"storage"`
	Metadata          MetadataConfig    `yaml:"metadata"`
	DeleteRate        RateConfig        `yaml:"delete_rate"`
	Logging           LoggingConfig     `yaml:"logging"`
	Server            ServerConfig      `yaml:"server"`
}

type DirectoryConfig struct {
	Path string `yaml:"path"`
	Mode string `yaml:"mode"`
}

type StorageConfig struct {
	Driver string      `yaml:"driver"`
	API    APIConfig   `yaml:"api"`
	S3     S3Config    `yaml:"s3"`
	Local  LocalConfig `yaml:"local"`
}

type APIConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	TenantPrefix    string `yaml:"tenant_prefix"`
}

type LocalConfig struct {
	Root string `yaml:"root"`
}

// MetadataConfig selects where tenants, workspaces and tasks come from.
type MetadataConfig struct {
	Driver      string `yaml:"driver"`
	DatabaseURL string `yaml:"database_url"`
}

// RateConfig caps deletion calls per tenant. A zero Limit disables pacing.
type RateConfig struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the configuration used for keys the file leaves out.
func Default() *Config {
	return &Config{
		RetentionDays:     engine.DefaultRetentionDays,
		SweepIntervalDays: DefaultSweepPeriod,
		BatchSize:         engine.DefaultBatchSize,
		AllTenants:        true,
		TenantDelay:       engine.DefaultTenantDelay,
		Concurrency:       engine.DefaultConcurrency,
		SessionsPath:      engine.DefaultSessionsPath,
		Extensions:        append([]string(nil), engine.DefaultExtensions...),
		Storage:           StorageConfig{Driver: DriverAPI},
		Metadata:          MetadataConfig{Driver: DriverAPI},
		DeleteRate:        RateConfig{Window: time.Second},
		Logging:           LoggingConfig{Level: "info", Format: "console"},
		Server:            ServerConfig{Listen: DefaultListenAddr},
	}
}

// LoadEnvFiles loads the env files that exist. Variables already set win.
func LoadEnvFiles(files ...string) error {
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// Load reads path, expands env vars, and parses YAML over the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return Parse(data)
}

// Parse expands ${VAR} references in data and decodes it over the defaults.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

// Override applies values set through flags or JANITOR_* variables.
// Values that do not convert are an error.
func (c *Config) Override(v *viper.Viper) error {
	var errs []error

	intKey := func(key string, dst *int) {
		if !v.IsSet(key) {
			return
		}
		n, err := cast.ToIntE(v.Get(key))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
	stringKey := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = cast.ToString(v.Get(key))
		}
	}

	intKey("retention_days", &c.RetentionDays)
	intKey("sweep_interval_days", &c.SweepIntervalDays)
	intKey("batch_size", &c.BatchSize)
	intKey("concurrency", &c.Concurrency)

	if v.IsSet("tenant_id") {
		id, err := cast.ToInt64E(v.Get("tenant_id"))
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant_id: %w", err))
		} else {
			c.TenantID = id
		}
	}
	if v.IsSet("all_tenants") {
		all, err := cast.ToBoolE(v.Get("all_tenants"))
		if err != nil {
			errs = append(errs, fmt.Errorf("all_tenants: %w", err))
		} else {
			c.AllTenants = all
		}
	}
	if v.IsSet("tenant_delay") {
		d, err := cast.ToDurationE(v.Get("tenant_delay"))
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant_delay: %w", err))
		} else {
			c.TenantDelay = d
		}
	}

	stringKey("logging.level", &c.Logging.Level)
	stringKey("logging.format", &c.Logging.Format)
	stringKey("server.listen", &c.Server.Listen)
	stringKey("storage.driver", &c.Storage.Driver)
	stringKey("storage.api.url", &c.Storage.API.URL)
	stringKey("storage.api.token", &c.Storage.API.Token)
	stringKey("storage.local.root", &c.Storage.Local.Root)
	stringKey("metadata.driver", &c.Metadata.Driver)
	stringKey("metadata.database_url", &c.Metadata.DatabaseURL)

	return errors.Join(errs...)
}

// NewViper returns a viper instance reading JANITOR_* variables, with
// nested keys spelled with underscores (JANITOR_STORAGE_API_URL).
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Validate reports every problem with the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.RetentionDays <= 0 {
		errs = append(errs, fmt.Errorf("retention_days must be positive"))
	}
	if c.SweepIntervalDays <= 0 {
		errs = append(errs, fmt.Errorf("sweep_interval_days must be positive"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch_size must be positive"))
	}
	if !c.AllTenants && c.TenantID <= 0 {
		errs = append(errs, fmt.Errorf("tenant_id is required when all_tenants is false"))
	}
	if c.TenantDelay < 0 {
		errs = append(errs, fmt.Errorf("tenant_delay must not be negative"))
	}
	for i, dir := range c.FixedDirectories {
		if strings.TrimSpace(dir.Path) == "" {
			errs = append(errs, fmt.Errorf("fixed_directories[%d]: path is empty", i))
		}
		if hasParentSegment(dir.Path) {
			errs = append(errs, fmt.Errorf("fixed_directories[%d]: path %q must not contain \"..\"", i, dir.Path))
		}
		if _, err := engine.ParseScanMode(dir.Mode); err != nil {
			errs = append(errs, fmt.Errorf("fixed_directories[%d]: %w", i, err))
		}
	}

	if hasParentSegment(c.SessionsPath) {
		errs = append(errs, fmt.Errorf("sessions_path %q must not contain \"..\"", c.SessionsPath))
	}

	switch c.Storage.Driver {
	case DriverAPI:
		if c.Storage.API.URL == "" {
			errs = append(errs, fmt.Errorf("storage.api.url is required for the api driver"))
		}
	case DriverS3:
		if c.Storage.S3.Bucket == "" {
			errs = append(errs, fmt.Errorf("storage.s3.bucket is required for the s3 driver"))
		}
	case DriverLocal:
		if c.Storage.Local.Root == "" {
			errs = append(errs, fmt.Errorf("storage.local.root is required for the local driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	switch c.Metadata.Driver {
	case DriverAPI:
		if c.Storage.API.URL == "" && c.Storage.Driver != DriverAPI {
			errs = append(errs, fmt.Errorf("metadata driver api needs storage.api.url"))
		}
	case DriverPostgres:
		if c.Metadata.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("metadata.database_url is required for the postgres driver"))
		}
	case DriverNone:
		if c.Storage.Driver != DriverLocal {
			errs = append(errs, fmt.Errorf("metadata driver none only works with the local storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown metadata.driver %q", c.Metadata.Driver))
	}

	if c.DeleteRate.Limit < 0 {
		errs = append(errs, fmt.Errorf("delete_rate.limit must not be negative"))
	}

	return errors.Join(errs...)
}

// hasParentSegment reports whether p walks up with a ".." segment.
func hasParentSegment(p string) bool {
	for _, segment := range strings.Split(p, "/") {
		if segment == ".." {
			return true
		}
	}
	return false
}

// SweepInterval is the pause between scheduled sweeps.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalDays) * 24 * time.Hour
}

// EngineSettings converts the file layout into sweeper settings.
func (c *Config) EngineSettings() (engine.Settings, error) {
	dirs := make([]engine.DirectoryTarget, 0, len(c.FixedDirectories))
	for _, d := range c.FixedDirectories {
		mode, err := engine.ParseScanMode(d.Mode)
		if err != nil {
			return engine.Settings{}, fmt.Errorf("directory %s: %w", d.Path, err)
		}
		dirs = append(dirs, engine.DirectoryTarget{Path: d.Path, Mode: mode})
	}

	settings := engine.DefaultSettings()
	settings.RetentionDays = c.RetentionDays
	settings.BatchSize = c.BatchSize
	settings.AllTenants = c.AllTenants
	settings.TenantID = c.TenantID
	settings.TenantDelay = c.TenantDelay
	settings.Concurrency = c.Concurrency
	settings.FixedDirectories = dirs
	settings.SessionsPath = c.SessionsPath
	settings.CleanupAppNames = c.CleanupAppNames
	settings.Extensions = c.Extensions
	settings.KeepPatterns = c.KeepPatterns
	return settings, nil
}
