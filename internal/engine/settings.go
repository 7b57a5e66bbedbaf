package engine

import (
	"fmt"
	"strings"
	"time"
)

// ScanMode selects the rule a directory's entries are classified with.
type ScanMode int

const (
	// DateOnly deletes entries older than the retention cutoff.
	DateOnly ScanMode = iota
	// DateOrExtension also deletes entries with a scratch extension.
	DateOrExtension
	// SessionAware deletes entries of removable tasks and falls back to
	// DateOrExtension.
	SessionAware
)

func (m ScanMode) String() string {
	switch m {
	case DateOnly:
		return "date"
	case DateOrExtension:
		return "date_or_extension"
	case SessionAware:
		return "session"
	default:
		return fmt.Sprintf("ScanMode(%d)", int(m))
	}
}

// ParseScanMode parses the configuration spelling of a mode. Empty means
// DateOnly.
func ParseScanMode(s string) (ScanMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "date", "date_only":
		return DateOnly, nil
	case "date_or_extension", "extension":
		return DateOrExtension, nil
	case "session", "session_aware":
		return SessionAware, nil
	default:
		return DateOnly, fmt.Errorf("unknown scan mode %q", s)
	}
}

// DirectoryTarget is a directory swept in every tenant.
type DirectoryTarget struct {
	Path string
	Mode ScanMode
}

const (
	DefaultRetentionDays = 30
	DefaultBatchSize     = 20000
	DefaultAdvisedLimit  = 10000
	DefaultTaskChunkSize = 500
	DefaultConcurrency   = 5
	DefaultTenantDelay   = 2 * time.Second
	DefaultProgressEvery = 50
	DefaultSessionsPath  = "/offline-sessions/"
)

// DefaultExtensions are the scratch extensions DateOrExtension removes.
var DefaultExtensions = []string{".py", ".pyc", ".md", ".sh"}

// Settings configures one Sweeper. It is copied on construction.
type Settings struct {
	RetentionDays    int
	BatchSize        int
	AllTenants       bool
	TenantID         int64
	FixedDirectories []DirectoryTarget
	SessionsPath     string
	CleanupAppNames  []string
	Extensions       []string
	KeepPatterns     []string
	TenantDelay      time.Duration
	TaskChunkSize    int
	Concurrency      int
	ProgressEvery    int
	DryRun           bool
}

// DefaultSettings returns settings for sweeping every tenant with the
// built-in defaults and no fixed directories.
func DefaultSettings() Settings {
	return Settings{
		RetentionDays: DefaultRetentionDays,
		BatchSize:     DefaultBatchSize,
		AllTenants:    true,
		SessionsPath:  DefaultSessionsPath,
		Extensions:    append([]string(nil), DefaultExtensions...),
		TenantDelay:   DefaultTenantDelay,
		TaskChunkSize: DefaultTaskChunkSize,
		Concurrency:   DefaultConcurrency,
		ProgressEvery: DefaultProgressEvery,
	}
}

// normalize fills zero values with defaults. TenantDelay is left alone so
// tests can run without pauses.
func (s Settings) normalize() Settings {
	if s.RetentionDays <= 0 {
		s.RetentionDays = DefaultRetentionDays
	}
	if s.BatchSize <= 0 {
		s.BatchSize = DefaultBatchSize
	}
	if s.TaskChunkSize <= 0 {
		s.TaskChunkSize = DefaultTaskChunkSize
	}
	if s.Concurrency <= 0 {
		s.Concurrency = DefaultConcurrency
	}
	if s.ProgressEvery <= 0 {
		s.ProgressEvery = DefaultProgressEvery
	}
	if s.Extensions == nil {
		s.Extensions = append([]string(nil), DefaultExtensions...)
	}
	s.FixedDirectories = append([]DirectoryTarget(nil), s.FixedDirectories...)
	s.CleanupAppNames = append([]string(nil), s.CleanupAppNames...)
	s.KeepPatterns = append([]string(nil), s.KeepPatterns...)
	return s
}

func (s Settings) validate() error {
	if !s.AllTenants && s.TenantID <= 0 {
		return fmt.Errorf("tenant id is required when not sweeping all tenants")
	}
	for _, dir := range s.FixedDirectories {
		if strings.TrimSpace(dir.Path) == "" {
			return fmt.Errorf("fixed directory path is empty")
		}
	}
	return nil
}

// Cutoff returns the retention cutoff relative to now.
func (s Settings) Cutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -s.RetentionDays)
}
