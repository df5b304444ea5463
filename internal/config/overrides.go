package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Overrides is a small set of per-machine settings that operators may want
// to pin outside of the project-shared config.yaml (spec.md never requires
// this file to exist; hive runs fine without it). Kept separate from the
// yaml file rather than merged into it, the way the donor keeps config.yaml
// and the SQLite-backed project config as two distinct layers.
type Overrides struct {
	Debug      bool   `toml:"debug"`
	Identity   string `toml:"identity"`
	StreamAddr string `toml:"stream_addr"`
}

// LoadOverrides reads .hive/overrides.toml if present. A missing file is not
// an error; it returns a zero-value Overrides.
func LoadOverrides(hiveDir string) (Overrides, error) {
	var o Overrides
	path := filepath.Join(hiveDir, "overrides.toml")
	if _, err := os.Stat(path); err != nil {
		return o, nil
	}
	if _, err := toml.DecodeFile(path, &o); err != nil {
		return o, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return o, nil
}

// Apply copies a non-empty StreamAddr override onto cfg. Config has no
// debug or identity field, so Debug and Identity are decoded but not applied.
func (o Overrides) Apply(cfg *Config) {
	if o.StreamAddr != "" {
		cfg.StreamAddr = o.StreamAddr
	}
}
