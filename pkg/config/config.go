// Package config loads bcb.toml settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/daimatz/bytecodebuilder/pkg/builder"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "bcb.toml"

// Config holds the settings of the bcb tool.
type Config struct {
	Build   Build   `toml:"build"`
	Log     Log     `toml:"log"`
	Runtime Runtime `toml:"runtime"`

	// Path is the file the configuration was read from, if any.
	Path string `toml:"-"`
}

// Build configures class generation.
type Build struct {
	Backend string `toml:"backend"`
	Version int    `toml:"version"`
}

// Log configures the logger.
type Log struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// Runtime configures the host VM.
type Runtime struct {
	JmodPath  string   `toml:"jmod"`
	ClassPath []string `toml:"classpath"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Build: Build{Backend: builder.BackendModel.String(), Version: builder.DefaultVersion},
		Log:   Log{Level: "info"},
	}
}

// Load reads path over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%s: unknown key %s", path, undecoded[0])
	}
	if meta.IsDefined("build", "version") && cfg.Build.Version <= 0 {
		return Config{}, fmt.Errorf("%s: [build].version must be positive, got %d", path, cfg.Build.Version)
	}
	for i, p := range cfg.Runtime.ClassPath {
		if !filepath.IsAbs(p) {
			cfg.Runtime.ClassPath[i] = filepath.Join(filepath.Dir(path), p)
		}
	}
	if _, err := cfg.Options(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	if _, err := cfg.Level(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

// FindAndLoad walks up from dir looking for FileName. It returns the
// defaults when none is found.
func FindAndLoad(dir string) (Config, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return Config{}, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return Load(candidate)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// Options returns the build options selected by c.
func (c Config) Options() (builder.Options, error) {
	b, err := builder.ParseBackend(c.Build.Backend)
	if err != nil {
		return builder.Options{}, err
	}
	return builder.Options{Backend: b}, nil
}

// Level returns the configured log level.
func (c Config) Level() (zapcore.Level, error) {
	if c.Log.Level == "" {
		return zapcore.InfoLevel, nil
	}
	return zapcore.ParseLevel(c.Log.Level)
}

// Logger builds a zap logger at the configured level.
func (c Config) Logger() (*zap.Logger, error) {
	level, err := c.Level()
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// JmodPath returns the java.base module to load platform classes from:
// the configured path, then $JAVA_BASE_JMOD, then $JAVA_HOME/jmods.
func (c Config) JmodPath() string {
	if c.Runtime.JmodPath != "" {
		return c.Runtime.JmodPath
	}
	if env := os.Getenv("JAVA_BASE_JMOD"); env != "" {
		return env
	}
	if javaHome := os.Getenv("JAVA_HOME"); javaHome != "" {
		p := filepath.Join(javaHome, "jmods", "java.base.jmod")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	matches, _ := filepath.Glob("/usr/lib/jvm/java-*-openjdk-*/jmods/java.base.jmod")
	if len(matches) > 0 {
		return matches[0]
	}
	return ""
}
