// Package config loads hive's project-level configuration from
// .hive/config.yaml via viper, with HIVE_-prefixed environment overrides.
// Grounded on the donor's cmd/bd/config.go viper.New()/SetConfigType/
// SetConfigFile pattern and internal/config/local_config.go's
// CWD-independent direct-file-read fallback.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the resolved set of settings that govern one project's hive
// instance. Startup-time fields (those needed before the storage adapter is
// open) live here rather than in the DB-backed project config table.
type Config struct {
	// DBPath is the path to the embedded Dolt data directory, relative to
	// the .hive directory unless absolute.
	DBPath string `mapstructure:"db-path"`

	// LockTimeoutSeconds is the CAS-contention wait before CodeLockTimeout
	// (spec §4.4). reservation.Reserve does not read it; it uses its own
	// fixed 5-second bound.
	LockTimeoutSeconds int64 `mapstructure:"lock-timeout"`

	// DefaultTTLSeconds is the reservation TTL for calls that omit one.
	// reservation.Reserve does not read it; it falls back to
	// reservation.DefaultTTL, which has the same value.
	DefaultTTLSeconds int64 `mapstructure:"default-ttl"`

	// FlushDebounceMillis is a dirty-set flush cadence. The tracker does not
	// read it; dirty cells reach .hive/cells.jsonl only when Flush runs.
	FlushDebounceMillis int64 `mapstructure:"flush-debounce"`

	// StreamAddr is a listen address for the SSE server. The "serve" command
	// does not read it; it takes its address from --addr (same default).
	StreamAddr string `mapstructure:"stream-addr"`

	// CustomStatuses/CustomTypes list extra Status and IssueType values,
	// mirroring the donor's GetCustomStatuses/GetCustomTypes. Nothing reads
	// them: the tracker and types.CanTransition accept only the built-in sets.
	CustomStatuses []string `mapstructure:"custom-statuses"`
	CustomTypes    []string `mapstructure:"custom-types"`
}

// Defaults mirror spec.md's stated defaults (§4.4 TTL, §4.5 flush cadence).
func Defaults() Config {
	return Config{
		DBPath:              "db",
		LockTimeoutSeconds:  5,
		DefaultTTLSeconds:   3600,
		FlushDebounceMillis: 500,
		StreamAddr:          "127.0.0.1:8787",
	}
}

// Load reads .hive/config.yaml under hiveDir (if present), applies
// HIVE_-prefixed environment overrides, and returns the merged Config. A
// missing config.yaml is not an error; Load returns Defaults() overridden by
// env vars in that case, matching the donor's tolerant ReadInConfig handling.
func Load(hiveDir string) (Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(filepath.Join(hiveDir, "config.yaml"))
	v.SetEnvPrefix("HIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for k, val := range map[string]any{
		"db-path":          cfg.DBPath,
		"lock-timeout":     cfg.LockTimeoutSeconds,
		"default-ttl":      cfg.DefaultTTLSeconds,
		"flush-debounce":   cfg.FlushDebounceMillis,
		"stream-addr":      cfg.StreamAddr,
		"custom-statuses":  cfg.CustomStatuses,
		"custom-types":     cfg.CustomTypes,
	} {
		v.SetDefault(k, val)
	}

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return cfg, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
			}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// FindHiveDir walks up from cwd looking for a .hive directory, the way the
// donor's findProjectConfigYaml walks up looking for .beads.
func FindHiveDir(cwd string) (string, error) {
	for dir := cwd; ; {
		candidate := filepath.Join(dir, ".hive")
		if st, err := os.Stat(candidate); err == nil && st.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("config: no .hive directory found above %s", cwd)
}
