package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const EnvPrefix = "IJSCRIPT__"

type LogCfg struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

type MetricsCfg struct {
	PushURL string `koanf:"push_url"` // empty = no push
	Job     string `koanf:"job"`
}

type Client struct {
	Address  string        `koanf:"address"`
	Timeout  time.Duration `koanf:"timeout"` // per run; negative = unbounded
	Headless bool          `koanf:"headless"`
	Axes     string        `koanf:"axes"`
	TempDir  string        `koanf:"temp_dir"`

	Log     LogCfg     `koanf:"log"`
	Metrics MetricsCfg `koanf:"metrics"`
}

// ---------------------------------------------------------------------------
// Loader
// ---------------------------------------------------------------------------

// LoadClient merges YAML (if present) with env-vars
// (prefix `IJSCRIPT__`, delimiter `__`, e.g. IJSCRIPT__LOG__LEVEL).
func LoadClient(path string) (Client, error) {
	k := koanf.New(".")
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return Client{}, fmt.Errorf("client config %s: %w", path, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return Client{}, err
		}
	}
	// schema version check (only when YAML is present)
	sv := k.String("schema_version")
	if sv != "" && sv != SupportedSchema {
		return Client{}, fmt.Errorf("client schema_version %q not supported (want %s)", sv, SupportedSchema)
	}

	_ = k.Load(env.Provider(EnvPrefix, "__", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil)

	var cfg Client
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

// ---------------------------------------------------------------------------
// defaults
// ---------------------------------------------------------------------------

func applyDefaults(c *Client) {
	if c.Address == "" {
		c.Address = "tcp://localhost:12345"
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Minute
	}
	if c.Timeout < 0 {
		c.Timeout = 0
	}
	if c.Axes == "" {
		c.Axes = "XYC"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Metrics.Job == "" {
		c.Metrics.Job = "ijscript"
	}
}
