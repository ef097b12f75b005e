package main

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/hickeroar/storebayes/store"
)

// parseTestCommand builds a command with the persistent flags bound and
// parses args into it.
func parseTestCommand(t *testing.T, args ...string) (*cobra.Command, *Config, string) {
	t.Helper()
	cfg := defaultConfig()
	var configPath string
	cmd := &cobra.Command{Use: "test"}
	bindFlags(cmd, &cfg, &configPath)
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return cmd, &cfg, configPath
}

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "storebayes.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cmd, cfg, path := parseTestCommand(t)
	t.Setenv(authTokenEnv, "")
	if err := resolveConfig(cmd, cfg, path); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Port != "8000" || cfg.Backend != "memory" || cfg.Namespace != "nbc-ns" || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestConfigFileIsOverriddenByFlags(t *testing.T) {
	path := writeConfigFile(t, `
port = "7000"
backend = "bolt"
bolt_path = "/var/lib/storebayes/counts.db"
namespace = "from-file"
stem = true
min_token_length = 3
debug_lines = 50
`)
	cmd, cfg, configPath := parseTestCommand(t, "--config", path, "--namespace", "from-flag")
	if err := resolveConfig(cmd, cfg, configPath); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if cfg.Port != "7000" || cfg.Backend != "bolt" || cfg.BoltPath != "/var/lib/storebayes/counts.db" {
		t.Fatalf("expected file values, got %+v", cfg)
	}
	if cfg.Namespace != "from-flag" {
		t.Fatalf("expected flag to win over file, got %q", cfg.Namespace)
	}
	if !cfg.Stem || cfg.MinTokenLength != 3 {
		t.Fatalf("expected tokenizer options from file, got %+v", cfg)
	}

	opts := cfg.storeOptions()
	if opts.Backend != "bolt" || opts.Path != cfg.BoltPath || opts.URL != "" {
		t.Fatalf("unexpected store options: %+v", opts)
	}
	classifierCfg := cfg.classifierConfig(nil)
	tok := classifierCfg.Tokenizer
	if !tok.Stem || tok.MinLength != 3 {
		t.Fatalf("unexpected tokenizer: %+v", tok)
	}
	if classifierCfg.DebugLines != 50 {
		t.Fatalf("expected debug lines from file, got %d", classifierCfg.DebugLines)
	}
}

func TestConfigFileErrorsAreConfigurationErrors(t *testing.T) {
	path := writeConfigFile(t, `port = [`)
	cmd, cfg, configPath := parseTestCommand(t, "--config", path)
	if err := resolveConfig(cmd, cfg, configPath); !errors.Is(err, store.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestAuthTokenFromEnvironment(t *testing.T) {
	t.Setenv(authTokenEnv, "env-token")

	cmd, cfg, path := parseTestCommand(t)
	if err := resolveConfig(cmd, cfg, path); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.AuthToken != "env-token" {
		t.Fatalf("expected token from environment, got %q", cfg.AuthToken)
	}

	cmd, cfg, path = parseTestCommand(t, "--auth-token", "flag-token")
	if err := resolveConfig(cmd, cfg, path); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.AuthToken != "flag-token" {
		t.Fatalf("expected flag token to win, got %q", cfg.AuthToken)
	}
}

func TestRedisStoreOptions(t *testing.T) {
	cfg := Config{Backend: "redis", RedisURL: "redis://localhost:6379/2", BoltPath: "ignored"}
	opts := cfg.storeOptions()
	if opts.URL != cfg.RedisURL || opts.Path != "" {
		t.Fatalf("unexpected store options: %+v", opts)
	}
}

func TestNewLoggerLevelsAndFormats(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown", "key", "value")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info must be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("expected json output, got %s", out)
	}

	buf.Reset()
	logger = newLogger(&buf, "bogus", "text")
	logger.Info("plain")
	if !strings.Contains(buf.String(), "msg=plain") {
		t.Fatalf("expected text output at info level, got %s", buf.String())
	}
}
