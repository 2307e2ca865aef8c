package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes environment overrides; "__" separates nested keys,
// e.g. PIPEGATE_SERVER__PORT=9000.
const EnvPrefix = "PIPEGATE_"

// DefaultPath is the config file read when no path is given.
const DefaultPath = "config.yaml"

type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Log         LogConfig         `koanf:"log"`
	Registry    RegistryConfig    `koanf:"registry"`
	Session     SessionConfig     `koanf:"session"`
	Static      StaticConfig      `koanf:"static"`
	Pipeline    PipelineConfig    `koanf:"pipeline"`
	Controllers ControllersConfig `koanf:"controllers"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

type ServerConfig struct {
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

type LogConfig struct {
	Level string `koanf:"level"` // debug, info, warn, error
}

// RegistryConfig configures key generation for the session registry.
type RegistryConfig struct {
	KeyLength   int    `koanf:"key_length"`
	Alphabet    string `koanf:"alphabet"`
	MaxAttempts int    `koanf:"max_attempts"` // 0 = retry until a free key is found
}

type SessionConfig struct {
	Cookie        string        `koanf:"cookie"`
	Header        string        `koanf:"header"`
	MaxIdle       time.Duration `koanf:"max_idle"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

type StaticConfig struct {
	Root         string             `koanf:"root"`
	Index        string             `koanf:"index"`
	ClientScript ClientScriptConfig `koanf:"client_script"`
}

type ClientScriptConfig struct {
	Path string `koanf:"path"` // URL path the script is mounted at
	File string `koanf:"file"` // file under the static root
}

type PipelineConfig struct {
	Stages   []string        `koanf:"stages"`
	Webhooks []WebhookConfig `koanf:"webhooks"`
}

// WebhookConfig configures a webhook stage, referenced in the stage list as
// "webhook:<name>".
type WebhookConfig struct {
	Name         string            `koanf:"name"`
	URL          string            `koanf:"url"`
	Timeout      time.Duration     `koanf:"timeout"`
	OnError      string            `koanf:"on_error"` // allow or deny (default deny)
	Retries      int               `koanf:"retries"`
	Headers      map[string]string `koanf:"headers"`
	AllowPrivate bool              `koanf:"allow_private"` // permit loopback/private targets
}

type ControllersConfig struct {
	Attribute string   `koanf:"attribute"`
	Preload   []string `koanf:"preload"`
}

type TelemetryConfig struct {
	Tracing string `koanf:"tracing"` // stdout or none
}

// DefaultStages is the stage order used when none is configured.
var DefaultStages = []string{
	"session",
	"client_script",
	"controller",
	"default_files",
	"spa",
	"static",
	"not_found",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads configuration from path (DefaultPath when empty), then applies
// environment overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	setDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// Substitute environment variables in webhook URLs and headers
	for i := range cfg.Pipeline.Webhooks {
		wh := &cfg.Pipeline.Webhooks[i]
		wh.URL = substituteEnvVars(wh.URL)
		for h, v := range wh.Headers {
			wh.Headers[h] = substituteEnvVars(v)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.port":               8080,
		"server.timeout":            "30s",
		"log.level":                 "info",
		"registry.key_length":       10,
		"session.cookie":            "sid",
		"session.header":            "X-Session-Key",
		"session.max_idle":          "30m",
		"session.sweep_interval":    "1m",
		"static.root":               "./public",
		"static.index":              "index.html",
		"static.client_script.path": "/_client.js",
		"static.client_script.file": "client.js",
		"controllers.attribute":     "ctr",
		"telemetry.tracing":         "none",
		"pipeline.stages":           DefaultStages,
	}
	for key, v := range defaults {
		if !k.Exists(key) {
			k.Set(key, v)
		}
	}
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Registry.KeyLength <= 0 {
		return fmt.Errorf("registry.key_length must be positive")
	}
	if c.Registry.MaxAttempts < 0 {
		return fmt.Errorf("registry.max_attempts must not be negative")
	}
	if c.Session.MaxIdle <= 0 || c.Session.SweepInterval <= 0 {
		return fmt.Errorf("session.max_idle and session.sweep_interval must be positive")
	}
	if len(c.Pipeline.Stages) == 0 {
		return fmt.Errorf("pipeline.stages is empty")
	}
	seen := make(map[string]bool)
	for _, wh := range c.Pipeline.Webhooks {
		if wh.Name == "" || wh.URL == "" {
			return fmt.Errorf("pipeline.webhooks entries need a name and url")
		}
		if seen[wh.Name] {
			return fmt.Errorf("webhook %q configured twice", wh.Name)
		}
		seen[wh.Name] = true
		switch wh.OnError {
		case "", "allow", "deny":
		default:
			return fmt.Errorf("webhook %q: invalid on_error %q (must be 'allow' or 'deny')", wh.Name, wh.OnError)
		}
	}
	switch c.Telemetry.Tracing {
	case "none", "stdout":
	default:
		return fmt.Errorf("telemetry.tracing %q must be 'none' or 'stdout'", c.Telemetry.Tracing)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a configured level name onto slog.
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
