// Package config provides YAML-based configuration loading for intentlog.
package config

import (
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "strings"
    "time"

    "github.com/spf13/viper"
    "go.uber.org/zap/zapcore"

    "intentlog/pkg/transport"
)

// Config is the root application configuration.
type Config struct {
    // AppName optional logical name of the server
    AppName string `mapstructure:"app_name"`

    // Log holds logging configuration
    Log LogConfig `mapstructure:"log"`

    // Listen lists the endpoints the server accepts streams on
    Listen []ListenConfig `mapstructure:"listen"`

    // Protocol tunes the connection layer
    Protocol ProtocolConfig `mapstructure:"protocol"`

    // Journal selects where intent records are kept
    Journal JournalConfig `mapstructure:"journal"`

    // Metrics exposes Prometheus metrics over HTTP
    Metrics MetricsConfig `mapstructure:"metrics"`
}

// LogConfig defines logger settings.
type LogConfig struct {
    // Level: debug, info, warn, error
    Level string `mapstructure:"level"`
    // Format: console or json
    Format string `mapstructure:"format"`
    // Outputs: list of outputs: stdout, stderr, or file paths
    Outputs []string `mapstructure:"outputs"`

    // Rotation controls file rotation when writing to files
    Rotation RotationConfig `mapstructure:"rotation"`
    // Development toggles development-friendly logging options
    Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
    Enable     bool   `mapstructure:"enable"`
    Filename   string `mapstructure:"filename"`
    MaxSizeMB  int    `mapstructure:"max_size_mb"`
    MaxBackups int    `mapstructure:"max_backups"`
    MaxAgeDays int    `mapstructure:"max_age_days"`
    Compress   bool   `mapstructure:"compress"`
}

// ListenConfig is one endpoint.
// Example YAML:
// listen:
//   - kind: tcp
//     address: ":7420"
//   - kind: quic
//     address: ":7421"
//   - kind: winpipe
//     address: "\\\\.\\pipe\\intentlog"
type ListenConfig struct {
    Kind    string `mapstructure:"kind"`
    Address string `mapstructure:"address"`
}

type ProtocolConfig struct {
    // MaxPayloadBytes caps inbound payloads (0 = unbounded)
    MaxPayloadBytes uint32 `mapstructure:"max_payload_bytes"`
    // HeartbeatIntervalMS enables server pings when positive
    HeartbeatIntervalMS int `mapstructure:"heartbeat_interval_ms"`
    // HeartbeatMissLimit drops a connection after that many unanswered pings (0 = never)
    HeartbeatMissLimit int `mapstructure:"heartbeat_miss_limit"`
}

func (p ProtocolConfig) HeartbeatInterval() time.Duration {
    return time.Duration(p.HeartbeatIntervalMS) * time.Millisecond
}

type JournalConfig struct {
    // Backend: memory or badger
    Backend string `mapstructure:"backend"`
    // Path is the badger data directory
    Path string `mapstructure:"path"`
    // Shards of the memory backend
    Shards int `mapstructure:"shards"`
    // MaxBytes caps the memory backend (0 = unbounded)
    MaxBytes uint64 `mapstructure:"max_bytes"`
    // MaxStepBytes rejects larger step payloads (0 = any size)
    MaxStepBytes int `mapstructure:"max_step_bytes"`
    // Retention keeps finalized records this long (0 = forever)
    Retention time.Duration `mapstructure:"retention"`
    SyncWrites bool         `mapstructure:"sync_writes"`
}

type MetricsConfig struct {
    // Listen is the HTTP address of /metrics; empty disables it
    Listen string `mapstructure:"listen"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
    return &Config{
        AppName: "intentlog-server",
        Log: LogConfig{
            Level:       "info",
            Format:      "console",
            Outputs:     []string{"stdout"},
            Development: true,
            Rotation: RotationConfig{
                Enable:     false,
                Filename:   "logs/intentlog.log",
                MaxSizeMB:  50,
                MaxBackups: 3,
                MaxAgeDays: 28,
                Compress:   true,
            },
        },
        Listen: []ListenConfig{{Kind: "tcp", Address: ":7420"}},
        Protocol: ProtocolConfig{
            MaxPayloadBytes:     16 << 20,
            HeartbeatIntervalMS: 10000,
            HeartbeatMissLimit:  3,
        },
        Journal: JournalConfig{Backend: "memory", Path: "./data/journal", Shards: 64},
    }
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix INTENTLOG and `.`/`-` are replaced with `_`.
// Example: INTENTLOG_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
    cfg := Default()

    v := viper.New()
    v.SetConfigType("yaml")
    v.SetEnvPrefix("INTENTLOG")
    v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
    v.AutomaticEnv()

    // seed defaults for viper so env-only configs work
    v.SetDefault("app_name", cfg.AppName)
    v.SetDefault("log.level", cfg.Log.Level)
    v.SetDefault("log.format", cfg.Log.Format)
    v.SetDefault("log.outputs", cfg.Log.Outputs)
    v.SetDefault("log.development", cfg.Log.Development)
    v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
    v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
    v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
    v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
    v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
    v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
    v.SetDefault("listen", cfg.Listen)
    v.SetDefault("protocol.max_payload_bytes", cfg.Protocol.MaxPayloadBytes)
    v.SetDefault("protocol.heartbeat_interval_ms", cfg.Protocol.HeartbeatIntervalMS)
    v.SetDefault("protocol.heartbeat_miss_limit", cfg.Protocol.HeartbeatMissLimit)
    v.SetDefault("journal.backend", cfg.Journal.Backend)
    v.SetDefault("journal.path", cfg.Journal.Path)
    v.SetDefault("journal.shards", cfg.Journal.Shards)
    v.SetDefault("journal.max_bytes", cfg.Journal.MaxBytes)
    v.SetDefault("journal.max_step_bytes", cfg.Journal.MaxStepBytes)
    v.SetDefault("journal.retention", cfg.Journal.Retention)
    v.SetDefault("journal.sync_writes", cfg.Journal.SyncWrites)
    v.SetDefault("metrics.listen", cfg.Metrics.Listen)

    // Choose config file
    if path == "" {
        // Allow override via env var
        if envPath := os.Getenv("INTENTLOG_CONFIG"); envPath != "" {
            path = envPath
        }
    }

    if path != "" {
        v.SetConfigFile(path)
    } else {
        // Search common locations with base name `intentlog`
        v.SetConfigName("intentlog")
        v.AddConfigPath(".")
        v.AddConfigPath("./configs")
        if home, err := os.UserHomeDir(); err == nil {
            v.AddConfigPath(filepath.Join(home, ".intentlog"))
        }
    }

    // Read config file if present; if not found, continue with defaults/env
    if err := v.ReadInConfig(); err != nil {
        var viperConfigFileNotFound viper.ConfigFileNotFoundError
        if !errors.As(err, &viperConfigFileNotFound) {
            return nil, fmt.Errorf("read config: %w", err)
        }
    }

    if err := v.Unmarshal(cfg); err != nil {
        return nil, fmt.Errorf("decode config: %w", err)
    }

    if err := cfg.validate(); err != nil {
        return nil, err
    }
    return cfg, nil
}

func (c *Config) validate() error {
    if _, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(c.Log.Level))); err != nil {
        return fmt.Errorf("invalid log.level: %q", c.Log.Level)
    }
    if c.Log.Format == "" {
        c.Log.Format = "console"
    }
    if len(c.Log.Outputs) == 0 {
        c.Log.Outputs = []string{"stdout"}
    }

    for i := range c.Listen {
        c.Listen[i].Kind = strings.ToLower(strings.TrimSpace(c.Listen[i].Kind))
        if _, err := transport.ParseKind(c.Listen[i].Kind); err != nil {
            return fmt.Errorf("invalid listen[%d].kind: %w", i, err)
        }
        if strings.TrimSpace(c.Listen[i].Address) == "" {
            return fmt.Errorf("listen[%d].address is empty", i)
        }
    }

    if c.Protocol.HeartbeatIntervalMS < 0 || c.Protocol.HeartbeatMissLimit < 0 {
        return fmt.Errorf("protocol heartbeat settings must not be negative")
    }

    c.Journal.Backend = strings.ToLower(strings.TrimSpace(c.Journal.Backend))
    switch c.Journal.Backend {
    case "memory":
    case "badger":
        if strings.TrimSpace(c.Journal.Path) == "" {
            return fmt.Errorf("journal.path is required for the badger backend")
        }
    default:
        return fmt.Errorf("invalid journal.backend: %q", c.Journal.Backend)
    }
    return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
    cfg, err := Load(path)
    if err != nil {
        panic(err)
    }
    return cfg
}
