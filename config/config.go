// Package config loads esmon configuration files.
package config

import (
	"os"
	"strings"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"

	"cdr.dev/slog"

	"github.com/coder/esmon"
)

// Config is the on-disk configuration of the esmon daemon. Command-line flags
// override the values read from a file.
type Config struct {
	// Events lists subscription expressions, see ParseSubscriptions.
	Events []string `yaml:"events"`
	// MonitorPath restricts reporting to processes executed from under this
	// path and their descendants. Empty reports everything.
	MonitorPath string `yaml:"monitor_path"`
	// DenyList holds executable paths whose events are muted. A nil list
	// means esmon.DefaultDenyList; an empty list disables the deny-list.
	DenyList []string `yaml:"deny_list"`
	// DenyListFile, if set, is a file with one executable path per line that
	// replaces DenyList and is reloaded whenever it changes.
	DenyListFile string `yaml:"deny_list_file"`
	// Database is the path of the SQLite event log. Empty disables it.
	Database string `yaml:"database"`
	// Clients is the number of event sources to create.
	Clients int `yaml:"clients"`
	// LogLevel is one of debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
	// LogFormat is "human" or "json".
	LogFormat string `yaml:"log_format"`
	// EBPFObject is a precompiled eBPF object used by the Linux source
	// instead of compiling the bundled program.
	EBPFObject string `yaml:"ebpf_object"`
	// Compiler is the clang used to compile the bundled eBPF program. Empty
	// picks the first suitable clang in PATH.
	Compiler string `yaml:"compiler"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Events:    []string{"exec,fork,exit,open"},
		DenyList:  append([]string(nil), esmon.DefaultDenyList...),
		Clients:   1,
		LogLevel:  "info",
		LogFormat: "human",
	}
}

// Load reads a YAML configuration file on top of Default.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, xerrors.Errorf("read config %q: %w", path, err)
	}
	err = yaml.Unmarshal(b, &cfg)
	if err != nil {
		return Config{}, xerrors.Errorf("parse config %q: %w", path, err)
	}
	err = cfg.Validate()
	if err != nil {
		return Config{}, xerrors.Errorf("validate config %q: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that every field holds a usable value.
func (c Config) Validate() error {
	if c.Clients < 1 {
		return xerrors.Errorf("clients must be at least 1, got %d", c.Clients)
	}
	_, err := ParseSubscriptions(c.Events)
	if err != nil {
		return err
	}
	_, err = c.Level()
	if err != nil {
		return err
	}
	switch c.LogFormat {
	case "human", "json":
	default:
		return xerrors.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// Level returns the slog level named by LogLevel.
func (c Config) Level() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, xerrors.Errorf("unknown log level %q", c.LogLevel)
	}
}

// Subscriptions returns the event types selected by Events.
func (c Config) Subscriptions() ([]esmon.EventType, error) {
	return ParseSubscriptions(c.Events)
}
