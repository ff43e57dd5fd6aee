package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repoindex/pkg/types"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repoindex.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendLocal, cfg.Jobs.Backend)
	assert.Equal(t, 50, cfg.Jobs.ChunkSize)
	assert.Equal(t, 100, cfg.Indexer.DirectThreshold)
	assert.Equal(t, 0.5, cfg.Indexer.FailureThreshold)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
[database]
path = "/tmp/index.db"

[indexer]
max_concurrent_files = 4
lock_ttl = "2m"
renew_interval = "30s"
direct_threshold = 25

[jobs]
backend = "exec"
chunk_interval = "250ms"
memory_limit = "512 MiB"

[source]
allowed_folders = ["src", "app"]
max_file_size = "256 KiB"

[log]
level = "debug"
format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/index.db", cfg.Database.Path)
	assert.Equal(t, 4, cfg.Indexer.MaxConcurrentFiles)
	assert.Equal(t, 2*time.Minute, cfg.Indexer.LockTTL.Std())
	assert.Equal(t, 25, cfg.Indexer.DirectThreshold)
	assert.Equal(t, BackendExec, cfg.Jobs.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.Jobs.ChunkInterval.Std())
	assert.Equal(t, ByteSize(512<<20), cfg.Jobs.MemoryLimit)
	assert.Equal(t, []string{"src", "app"}, cfg.Source.AllowedFolders)
	assert.Equal(t, ByteSize(256<<10), cfg.Source.MaxFileSize)

	// Untouched keys keep their defaults
	assert.Equal(t, 50, cfg.Jobs.ChunkSize)

	ic := cfg.IndexerConfig(nil)
	assert.Equal(t, 4, ic.MaxConcurrentFiles)
	assert.Equal(t, 30*time.Second, ic.RenewInterval)
	assert.Equal(t, 3, ic.Retry.MaxRetries)

	limits := cfg.Limits()
	assert.Equal(t, int64(512<<20), limits.MemoryLimit)
	assert.Equal(t, time.Hour, limits.Timeout)

	opts := cfg.SourceOptions()
	assert.Equal(t, int64(256<<10), opts.MaxFileSize)
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeConfig(t, "[indexer]\nmax_files = 3\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConfiguration)
	assert.Contains(t, err.Error(), "indexer.max_files")
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, "[indexer]\nlock_ttl = \"soon\"\n")
	_, err := Load(path)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("REPOINDEX_DB_PATH", "/var/lib/repoindex.db")
	t.Setenv("REPOINDEX_JOBS_BACKEND", "none")
	t.Setenv("REPOINDEX_MAX_CONCURRENT_FILES", "3")
	t.Setenv("REPOINDEX_LOCK_TTL", "90s")
	t.Setenv("REPOINDEX_JOBS_MEMORY_LIMIT", "1 GiB")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/repoindex.db", cfg.Database.Path)
	assert.Equal(t, BackendNone, cfg.Jobs.Backend)
	assert.Equal(t, 3, cfg.Indexer.MaxConcurrentFiles)
	assert.Equal(t, 90*time.Second, cfg.Indexer.LockTTL.Std())
	assert.Equal(t, ByteSize(1<<30), cfg.Jobs.MemoryLimit)
}

func TestApplyEnvOverrides_Invalid(t *testing.T) {
	t.Setenv("REPOINDEX_MAX_CONCURRENT_FILES", "many")
	_, err := Load("")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConfiguration)
	assert.Contains(t, err.Error(), "REPOINDEX_MAX_CONCURRENT_FILES")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty db path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"no workers", func(c *Config) { c.Indexer.MaxConcurrentFiles = 0 }, "indexer.max_concurrent_files"},
		{"renew after ttl", func(c *Config) { c.Indexer.RenewInterval = c.Indexer.LockTTL }, "indexer.renew_interval"},
		{"threshold above one", func(c *Config) { c.Indexer.FailureThreshold = 1.5 }, "indexer.failure_threshold"},
		{"bad backend", func(c *Config) { c.Jobs.Backend = "k8s" }, "jobs.backend"},
		{"zero chunk", func(c *Config) { c.Jobs.ChunkSize = 0 }, "jobs.chunk_size"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrConfiguration)

			var verrs ValidateErrors
			require.ErrorAs(t, err, &verrs)
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.field, verrs[0].Field)
		})
	}
}

func TestValidate_CollectsAll(t *testing.T) {
	cfg := Default()
	cfg.Jobs.ChunkSize = 0
	cfg.Log.Format = "xml"

	var verrs ValidateErrors
	require.ErrorAs(t, cfg.Validate(), &verrs)
	assert.Len(t, verrs, 2)
}

func TestRunnerConfig_ZeroIntervalDisablesPacing(t *testing.T) {
	cfg := Default()
	cfg.Jobs.ChunkInterval = 0
	assert.Less(t, cfg.RunnerConfig(nil).ChunkInterval, time.Duration(0))

	cfg.Jobs.ChunkInterval = Duration(2 * time.Second)
	assert.Equal(t, 2*time.Second, cfg.RunnerConfig(nil).ChunkInterval)
}

func TestByteSize_Text(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("2 GiB")))
	assert.Equal(t, ByteSize(2<<30), b)
	assert.Equal(t, "2.0 GiB", b.String())
	assert.Error(t, b.UnmarshalText([]byte("lots")))
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.Log.Format = "json"
	cfg.Log.Level = "warn"

	var buf bytes.Buffer
	logger := cfg.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "repo_id", "r1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"repo_id":"r1"`)
}
