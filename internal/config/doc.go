// Package config loads repoindex settings.
//
// Settings come from built-in defaults, then an optional TOML file, then
// REPOINDEX_* environment variables. Durations are written as Go duration
// strings ("30s") and sizes as human-readable byte counts ("512 MiB").
package config
