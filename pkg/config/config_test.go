package config

import (
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
    t.Helper()
    p := filepath.Join(t.TempDir(), "intentlog.yaml")
    require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
    return p
}

func TestLoadFile(t *testing.T) {
    p := writeConfig(t, `
app_name: journal-a
log:
  level: debug
  format: json
listen:
  - kind: TCP
    address: "127.0.0.1:9000"
  - kind: mem
    address: local
protocol:
  max_payload_bytes: 1024
  heartbeat_interval_ms: 250
journal:
  backend: badger
  path: /var/lib/intentlog
  retention: 36h
metrics:
  listen: ":9102"
`)
    cfg, err := Load(p)
    require.NoError(t, err)
    assert.Equal(t, "journal-a", cfg.AppName)
    assert.Equal(t, "json", cfg.Log.Format)
    assert.Equal(t, []ListenConfig{{Kind: "tcp", Address: "127.0.0.1:9000"}, {Kind: "mem", Address: "local"}}, cfg.Listen)
    assert.Equal(t, uint32(1024), cfg.Protocol.MaxPayloadBytes)
    assert.Equal(t, 250*time.Millisecond, cfg.Protocol.HeartbeatInterval())
    assert.Equal(t, 3, cfg.Protocol.HeartbeatMissLimit, "unset keys keep their default")
    assert.Equal(t, "badger", cfg.Journal.Backend)
    assert.Equal(t, 36*time.Hour, cfg.Journal.Retention)
    assert.Equal(t, ":9102", cfg.Metrics.Listen)
}

func TestDefaultsAndEnv(t *testing.T) {
    t.Setenv("INTENTLOG_CONFIG", "")
    t.Setenv("INTENTLOG_LOG_LEVEL", "warn")
    t.Setenv("INTENTLOG_JOURNAL_SHARDS", "8")
    cfg, err := Load(writeConfig(t, "app_name: x\n"))
    require.NoError(t, err)
    assert.Equal(t, "warn", cfg.Log.Level)
    assert.Equal(t, 8, cfg.Journal.Shards)
    assert.Equal(t, "memory", cfg.Journal.Backend)
    assert.Equal(t, Default().Listen, cfg.Listen)
}

func TestValidation(t *testing.T) {
    cases := map[string]string{
        "log level":       "log:\n  level: chatty\n",
        "listen kind":     "listen:\n  - kind: smoke\n    address: x\n",
        "listen address":  "listen:\n  - kind: tcp\n",
        "backend":         "journal:\n  backend: floppy\n",
        "badger path":     "journal:\n  backend: badger\n  path: \"\"\n",
        "negative beats":  "protocol:\n  heartbeat_miss_limit: -1\n",
    }
    for name, body := range cases {
        t.Run(name, func(t *testing.T) {
            _, err := Load(writeConfig(t, body))
            assert.Error(t, err)
        })
    }
}

func TestMissingExplicitFileFails(t *testing.T) {
    _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
    assert.Error(t, err)
    assert.Panics(t, func() { MustLoad(filepath.Join(t.TempDir(), "nope.yaml")) })
}
