package infra

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/ruslano69/tdtp-explorer/pkg/countcache"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tdtpexplore.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

// --- Config ---

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Server.Addr != ":8501" || cfg.Server.PageSize != 10 || cfg.Export.MaxRows != 10000 {
		t.Errorf("defaults = %+v", cfg.Server)
	}
	if cfg.Columns.Pledged != "Raw Pledged" {
		t.Errorf("Columns.Pledged = %q", cfg.Columns.Pledged)
	}
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
  page_size: 25
  session_ttl: 5m
source:
  type: sql
  sql:
    driver: sqlite
    dsn: "file:projects.db"
    query: "SELECT * FROM projects"
columns:
  pledged: "usd_pledged"
redis:
  addr: "localhost:6379"
count_cache:
  ttl: 30s
logging:
  level: debug
  format: json
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Server.Addr != ":9000" || cfg.Server.PageSize != 25 || cfg.Server.SessionTTL != 5*time.Minute {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("ReadTimeout default lost: %v", cfg.Server.ReadTimeout)
	}
	if cfg.Source.Type != "sql" || cfg.Source.SQL.Driver != "sqlite" {
		t.Errorf("source = %+v", cfg.Source)
	}
	if cfg.Columns.Pledged != "usd_pledged" || cfg.Columns.Goal != "Raw Goal" {
		t.Errorf("columns = %+v", cfg.Columns)
	}
	if !cfg.CountCache.Enabled || cfg.CountCache.TTL != 30*time.Second {
		t.Errorf("count_cache = %+v", cfg.CountCache)
	}
}

func TestLoadConfig_PasswordFromEnv(t *testing.T) {
	t.Setenv("TDTPEXPLORE_REDIS_PASSWORD", "s3cret")
	cfg, err := LoadConfig(writeConfig(t, "redis:\n  addr: localhost:6379\n"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Redis.Password != "s3cret" {
		t.Errorf("Password = %q", cfg.Redis.Password)
	}

	cfg, err = LoadConfig(writeConfig(t, "redis:\n  password: fromfile\n"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Redis.Password != "fromfile" {
		t.Errorf("config file password should win, got %q", cfg.Redis.Password)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad yaml", "server: ["},
		{"page size", "server:\n  page_size: 0\n"},
		{"log level", "logging:\n  level: loud\n"},
		{"log format", "logging:\n  format: xml\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tt.body)); err == nil {
				t.Error("LoadConfig() expected error")
			}
		})
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadConfig(missing) expected error")
	}
}

// --- Infra ---

func TestSetup_WithoutRedis(t *testing.T) {
	cfg := DefaultConfig()
	inf, err := Setup(context.Background(), cfg, false)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	defer inf.Close()

	if inf.Redis != nil {
		t.Error("Redis client created without an address")
	}
	if err := inf.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
	if _, ok := inf.CountCache(cfg.CountCache).(*countcache.Memory); !ok {
		t.Error("CountCache() should fall back to memory")
	}
	if inf.Publisher(cfg.Events) != nil {
		t.Error("Publisher() without Redis should be nil")
	}
}

func TestSetup_Dev(t *testing.T) {
	cfg := DefaultConfig()
	inf, err := Setup(context.Background(), cfg, true)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	defer inf.Close()

	if _, ok := inf.CountCache(cfg.CountCache).(*countcache.Guarded); !ok {
		t.Error("CountCache() should use guarded Redis in dev mode")
	}
	if inf.Publisher(cfg.Events) == nil {
		t.Error("Publisher() should be available in dev mode")
	}
	cfg.CountCache.Enabled = false
	if inf.CountCache(cfg.CountCache) != nil {
		t.Error("disabled CountCache() should be nil")
	}
}

func TestSetup_ExternalRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := DefaultConfig()
	cfg.Redis.Addr = mr.Addr()

	inf, err := Setup(context.Background(), cfg, false)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	defer inf.Close()

	mr.Close()
	if err := inf.Ping(context.Background()); err == nil {
		t.Error("Ping() after redis shutdown: expected error")
	}
}

func TestSetup_UnreachableRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := DefaultConfig()
	cfg.Redis.Addr = addr
	if _, err := Setup(context.Background(), cfg, false); err == nil {
		t.Error("Setup() with unreachable redis: expected error")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggingConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info().Msg("hidden")
	logger.Warn().Str("session", "abc").Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"session":"abc"`) {
		t.Errorf("log output = %q", out)
	}
}
