package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"

	"github.com/dshills/repoindex/internal/indexer"
	"github.com/dshills/repoindex/internal/jobs"
	"github.com/dshills/repoindex/internal/lock"
	"github.com/dshills/repoindex/internal/source"
	"github.com/dshills/repoindex/pkg/types"
)

// Job backends
const (
	BackendNone  = "none"
	BackendLocal = "local"
	BackendExec  = "exec"
)

// Config is the full application configuration
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Indexer  IndexerConfig  `toml:"indexer"`
	Jobs     JobsConfig     `toml:"jobs"`
	Source   SourceConfig   `toml:"source"`
	Log      LogConfig      `toml:"log"`
}

// DatabaseConfig locates the SQLite database
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// IndexerConfig tunes the per-file pipeline
type IndexerConfig struct {
	MaxConcurrentFiles int      `toml:"max_concurrent_files"`
	FileTimeout        Duration `toml:"file_timeout"`
	LockTTL            Duration `toml:"lock_ttl"`
	RenewInterval      Duration `toml:"renew_interval"`
	DirectThreshold    int      `toml:"direct_threshold"`
	FailureThreshold   float64  `toml:"failure_threshold"`
	CommitRetries      int      `toml:"commit_retries"`
	RetryBaseDelay     Duration `toml:"retry_base_delay"`
	RetryMaxDelay      Duration `toml:"retry_max_delay"`
}

// JobsConfig selects and tunes the batch-job backend
type JobsConfig struct {
	Backend       string   `toml:"backend"`
	ChunkSize     int      `toml:"chunk_size"`
	ChunkInterval Duration `toml:"chunk_interval"`
	Timeout       Duration `toml:"timeout"`
	Workers       int      `toml:"workers"`
	MemoryLimit   ByteSize `toml:"memory_limit"`
	Executable    string   `toml:"executable"`
	ManifestDir   string   `toml:"manifest_dir"`
}

// SourceConfig filters what a checkout scan delivers
type SourceConfig struct {
	AllowedFolders []string `toml:"allowed_folders"`
	MaxFileSize    ByteSize `toml:"max_file_size"`
}

// LogConfig selects the log handler
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration is a time.Duration written as a Go duration string
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ByteSize is a byte count written as a human-readable size ("512 MiB")
type ByteSize int64

// UnmarshalText implements encoding.TextUnmarshaler
func (b *ByteSize) UnmarshalText(text []byte) error {
	v, err := humanize.ParseBytes(string(text))
	if err != nil {
		return err
	}
	*b = ByteSize(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(humanize.IBytes(uint64(b))), nil
}

// String formats the size for display
func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// Default returns the built-in configuration
func Default() *Config {
	idx := indexer.DefaultConfig()
	runner := jobs.DefaultRunnerConfig()
	return &Config{
		Database: DatabaseConfig{Path: DefaultDBPath()},
		Indexer: IndexerConfig{
			MaxConcurrentFiles: idx.MaxConcurrentFiles,
			FileTimeout:        Duration(idx.FileTimeout),
			LockTTL:            Duration(lock.DefaultTTL),
			RenewInterval:      Duration(lock.DefaultTTL / 3),
			DirectThreshold:    idx.DirectThreshold,
			FailureThreshold:   idx.FailureThreshold,
			CommitRetries:      idx.Retry.MaxRetries,
			RetryBaseDelay:     Duration(idx.Retry.BaseDelay),
			RetryMaxDelay:      Duration(idx.Retry.MaxDelay),
		},
		Jobs: JobsConfig{
			Backend:       BackendLocal,
			ChunkSize:     runner.ChunkSize,
			ChunkInterval: Duration(runner.ChunkInterval),
			Timeout:       Duration(time.Hour),
			Workers:       idx.MaxConcurrentFiles,
			MemoryLimit:   ByteSize(2 << 30),
		},
		Source: SourceConfig{
			MaxFileSize: ByteSize(source.DefaultMaxFileSize),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultDBPath returns the default database location under the user's
// home directory
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "repoindex.db"
	}
	return filepath.Join(home, ".repoindex", "index.db")
}

// Load builds the configuration: defaults, then the TOML file at path
// when it is set, then REPOINDEX_* environment variables. The result is
// validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to decode %s: %w", types.ErrConfiguration, path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("%w: unknown keys in %s: %s", types.ErrConfiguration, path, strings.Join(keys, ", "))
		}
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies REPOINDEX_* environment variables
func (c *Config) ApplyEnvOverrides() error {
	if v := os.Getenv("REPOINDEX_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("REPOINDEX_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("REPOINDEX_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("REPOINDEX_JOBS_BACKEND"); v != "" {
		c.Jobs.Backend = v
	}

	var errs []error
	envInt := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	envInt("REPOINDEX_MAX_CONCURRENT_FILES", &c.Indexer.MaxConcurrentFiles)
	envInt("REPOINDEX_DIRECT_THRESHOLD", &c.Indexer.DirectThreshold)
	envInt("REPOINDEX_JOBS_WORKERS", &c.Jobs.Workers)

	if v := os.Getenv("REPOINDEX_LOCK_TTL"); v != "" {
		if err := c.Indexer.LockTTL.UnmarshalText([]byte(v)); err != nil {
			errs = append(errs, fmt.Errorf("REPOINDEX_LOCK_TTL: %w", err))
		}
	}
	if v := os.Getenv("REPOINDEX_JOBS_MEMORY_LIMIT"); v != "" {
		if err := c.Jobs.MemoryLimit.UnmarshalText([]byte(v)); err != nil {
			errs = append(errs, fmt.Errorf("REPOINDEX_JOBS_MEMORY_LIMIT: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", types.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors. It matches
// types.ErrConfiguration with errors.Is.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Unwrap ties every validation failure to types.ErrConfiguration
func (e ValidateErrors) Unwrap() error {
	return types.ErrConfiguration
}

// Validate checks every section and reports all problems at once
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Database.Path == "" {
		add("database.path", "must be set")
	}

	ix := c.Indexer
	if ix.MaxConcurrentFiles < 1 {
		add("indexer.max_concurrent_files", "must be at least 1, got %d", ix.MaxConcurrentFiles)
	}
	if ix.FileTimeout <= 0 {
		add("indexer.file_timeout", "must be positive")
	}
	if ix.LockTTL <= 0 {
		add("indexer.lock_ttl", "must be positive")
	}
	if ix.RenewInterval <= 0 || ix.RenewInterval >= ix.LockTTL {
		add("indexer.renew_interval", "must be positive and shorter than lock_ttl (%s)", ix.LockTTL.Std())
	}
	if ix.DirectThreshold < 1 {
		add("indexer.direct_threshold", "must be at least 1, got %d", ix.DirectThreshold)
	}
	if ix.FailureThreshold <= 0 || ix.FailureThreshold > 1 {
		add("indexer.failure_threshold", "must be in (0, 1], got %g", ix.FailureThreshold)
	}
	if ix.CommitRetries < 1 {
		add("indexer.commit_retries", "must be at least 1, got %d", ix.CommitRetries)
	}
	if ix.RetryBaseDelay <= 0 || ix.RetryMaxDelay < ix.RetryBaseDelay {
		add("indexer.retry_max_delay", "must be at least retry_base_delay")
	}

	j := c.Jobs
	switch j.Backend {
	case BackendNone, BackendLocal, BackendExec:
	default:
		add("jobs.backend", "invalid backend %q, must be one of: none, local, exec", j.Backend)
	}
	if j.ChunkSize < 1 {
		add("jobs.chunk_size", "must be at least 1, got %d", j.ChunkSize)
	}
	if j.ChunkInterval < 0 {
		add("jobs.chunk_interval", "cannot be negative")
	}
	if j.Timeout < 0 {
		add("jobs.timeout", "cannot be negative")
	}
	if j.Workers < 0 {
		add("jobs.workers", "cannot be negative")
	}
	if j.MemoryLimit < 0 {
		add("jobs.memory_limit", "cannot be negative")
	}

	if c.Source.MaxFileSize <= 0 {
		add("source.max_file_size", "must be positive")
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		add("log.level", "%v", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		add("log.format", "invalid format %q, must be text or json", c.Log.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// IndexerConfig converts the [indexer] section for indexer.New
func (c *Config) IndexerConfig(logger *slog.Logger) indexer.Config {
	ix := c.Indexer
	return indexer.Config{
		MaxConcurrentFiles: ix.MaxConcurrentFiles,
		FileTimeout:        ix.FileTimeout.Std(),
		LockTTL:            ix.LockTTL.Std(),
		RenewInterval:      ix.RenewInterval.Std(),
		DirectThreshold:    ix.DirectThreshold,
		FailureThreshold:   ix.FailureThreshold,
		Retry: indexer.RetryConfig{
			MaxRetries: ix.CommitRetries,
			BaseDelay:  ix.RetryBaseDelay.Std(),
			MaxDelay:   ix.RetryMaxDelay.Std(),
			Multiplier: 2,
		},
		Logger: logger,
	}
}

// RunnerConfig converts the [jobs] section for jobs.NewRunner
func (c *Config) RunnerConfig(logger *slog.Logger) jobs.RunnerConfig {
	interval := c.Jobs.ChunkInterval.Std()
	if interval == 0 {
		interval = -1 // pacing disabled
	}
	return jobs.RunnerConfig{
		ChunkSize:     c.Jobs.ChunkSize,
		ChunkInterval: interval,
		Logger:        logger,
	}
}

// Limits returns the default resource limits for a job
func (c *Config) Limits() types.ResourceLimits {
	return types.ResourceLimits{
		Timeout:     c.Jobs.Timeout.Std(),
		Workers:     c.Jobs.Workers,
		MemoryLimit: int64(c.Jobs.MemoryLimit),
	}
}

// SourceOptions converts the [source] section for source.Scan
func (c *Config) SourceOptions() source.Options {
	return source.Options{
		AllowedFolders: c.Source.AllowedFolders,
		MaxFileSize:    int64(c.Source.MaxFileSize),
	}
}

// NewLogger builds the slog logger described by the [log] section
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid level %q, must be one of: debug, info, warn, error", s)
	}
	return level, nil
}
