package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/hickeroar/storebayes/bayes"
	"github.com/hickeroar/storebayes/store"
	"github.com/hickeroar/storebayes/store/bolt"
	"github.com/hickeroar/storebayes/store/memory"
	"github.com/hickeroar/storebayes/store/redis"
)

const authTokenEnv = "STOREBAYES_AUTH_TOKEN"

// Config is the process configuration. Values come from defaults, then an
// optional TOML file, then command line flags.
type Config struct {
	Port      string `toml:"port"`
	AuthToken string `toml:"auth_token"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	Backend  string `toml:"backend"`
	RedisURL string `toml:"redis_url"`
	BoltPath string `toml:"bolt_path"`

	Namespace      string `toml:"namespace"`
	Debug          bool   `toml:"debug"`
	DebugLines     int    `toml:"debug_lines"`
	Stem           bool   `toml:"stem"`
	Unicode        bool   `toml:"unicode"`
	MinTokenLength int    `toml:"min_token_length"`
}

func defaultConfig() Config {
	return Config{
		Port:      "8000",
		LogLevel:  "info",
		LogFormat: "text",
		Backend:   memory.BackendName,
		Namespace: bayes.DefaultNamespace,
	}
}

// bindFlags registers the persistent flags shared by every command.
func bindFlags(cmd *cobra.Command, cfg *Config, configPath *string) {
	flags := cmd.PersistentFlags()
	flags.StringVar(configPath, "config", "", "Path to a TOML config file.")
	flags.StringVar(&cfg.Port, "port", cfg.Port, "The port the server should listen on.")
	flags.StringVar(&cfg.AuthToken, "auth-token", cfg.AuthToken, "Bearer token required on API routes (env "+authTokenEnv+").")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn or error.")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text or json.")
	flags.StringVar(&cfg.Backend, "backend", cfg.Backend, "Counting store backend: "+strings.Join(store.Backends(), ", ")+".")
	flags.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "Redis URL for the redis backend.")
	flags.StringVar(&cfg.BoltPath, "bolt-path", cfg.BoltPath, "Database file for the bolt backend.")
	flags.StringVar(&cfg.Namespace, "namespace", cfg.Namespace, "Prefix isolating this classifier's counters.")
	flags.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Record classifier trace lines at debug level.")
	flags.IntVar(&cfg.DebugLines, "debug-lines", cfg.DebugLines, "Newest trace lines kept for GET /debug.")
	flags.BoolVar(&cfg.Stem, "stem", cfg.Stem, "Reduce tokens to their English stem.")
	flags.BoolVar(&cfg.Unicode, "unicode", cfg.Unicode, "Apply NFKC normalization to tokens.")
	flags.IntVar(&cfg.MinTokenLength, "min-token-length", cfg.MinTokenLength, "Tokens must be longer than this many runes (default 2).")
}

// resolveConfig layers the config file under any flags set explicitly on cmd
// and fills the auth token from the environment when still empty.
func resolveConfig(cmd *cobra.Command, cfg *Config, configPath string) error {
	if configPath != "" {
		var file Config
		if _, err := toml.DecodeFile(configPath, &file); err != nil {
			return fmt.Errorf("%w: read config %s: %v", store.ErrConfiguration, configPath, err)
		}
		mergeFileConfig(cmd, cfg, file)
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv(authTokenEnv)
	}
	return nil
}

func mergeFileConfig(cmd *cobra.Command, cfg *Config, file Config) {
	changed := cmd.Flags().Changed
	setString := func(flag string, dst *string, v string) {
		if !changed(flag) && v != "" {
			*dst = v
		}
	}
	setBool := func(flag string, dst *bool, v bool) {
		if !changed(flag) && v {
			*dst = v
		}
	}

	setString("port", &cfg.Port, file.Port)
	setString("auth-token", &cfg.AuthToken, file.AuthToken)
	setString("log-level", &cfg.LogLevel, file.LogLevel)
	setString("log-format", &cfg.LogFormat, file.LogFormat)
	setString("backend", &cfg.Backend, file.Backend)
	setString("redis-url", &cfg.RedisURL, file.RedisURL)
	setString("bolt-path", &cfg.BoltPath, file.BoltPath)
	setString("namespace", &cfg.Namespace, file.Namespace)
	setBool("debug", &cfg.Debug, file.Debug)
	setBool("stem", &cfg.Stem, file.Stem)
	setBool("unicode", &cfg.Unicode, file.Unicode)
	if !changed("debug-lines") && file.DebugLines > 0 {
		cfg.DebugLines = file.DebugLines
	}
	if !changed("min-token-length") && file.MinTokenLength > 0 {
		cfg.MinTokenLength = file.MinTokenLength
	}
}

// newLogger builds the process logger and installs it as the slog default.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func (cfg Config) storeOptions() store.Options {
	opts := store.Options{Backend: cfg.Backend}
	switch cfg.Backend {
	case redis.BackendName:
		opts.URL = cfg.RedisURL
	case bolt.BackendName:
		opts.Path = cfg.BoltPath
	}
	return opts
}

func (cfg Config) classifierConfig(logger *slog.Logger) bayes.Config {
	return bayes.Config{
		Namespace:  cfg.Namespace,
		Debug:      cfg.Debug,
		DebugLines: cfg.DebugLines,
		Logger:     logger,
		Tokenizer: bayes.Tokenizer{
			MinLength: cfg.MinTokenLength,
			Unicode:   cfg.Unicode,
			Stem:      cfg.Stem,
		},
	}
}

// openClassifier opens the configured store and builds a classifier on it.
// The caller closes the returned store.
func openClassifier(ctx context.Context, cfg Config, logger *slog.Logger) (*bayes.Classifier, store.CountingStore, error) {
	s, err := store.Open(ctx, cfg.storeOptions())
	if err != nil {
		return nil, nil, err
	}
	classifier, err := bayes.New(s, cfg.classifierConfig(logger))
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	return classifier, s, nil
}
