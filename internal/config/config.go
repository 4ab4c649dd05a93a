// Package config loads rootrepl settings. Later sources override earlier ones:
// built-in defaults, a TOML file, a .env file, ROOTREPL_* environment
// variables, and finally command-line flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/peterje/rootrepl/internal/backend"
	"github.com/peterje/rootrepl/internal/prompt"
	"github.com/peterje/rootrepl/internal/repl"
	"github.com/peterje/rootrepl/internal/rootrc"
)

// Capture modes for Eval.
const (
	CaptureDelay  = repl.CaptureDelay
	CapturePrompt = repl.CapturePrompt
)

// Duration is a time.Duration that decodes from TOML strings like "250ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	Backend    string   `toml:"backend"`
	Executable string   `toml:"executable"`
	Args       []string `toml:"args"`
	WorkDir    string   `toml:"workdir"`
	Prompt     string   `toml:"prompt"`

	Capture  Capture  `toml:"capture"`
	Rootrc   Rootrc   `toml:"rootrc"`
	Tmux     Tmux     `toml:"tmux"`
	Shepherd Shepherd `toml:"shepherd"`
	History  History  `toml:"history"`
	Server   Server   `toml:"server"`
	Log      Log      `toml:"log"`
	Sentry   Sentry   `toml:"sentry"`
}

type Capture struct {
	Mode    string   `toml:"mode"`
	Delay   Duration `toml:"delay"`
	Poll    Duration `toml:"poll"`
	Timeout Duration `toml:"timeout"`
}

type Rootrc struct {
	Enabled bool     `toml:"enabled"`
	Path    string   `toml:"path"`
	Hold    Duration `toml:"hold"`
}

type Tmux struct {
	Prefix string `toml:"prefix"`
	// LogDir holds one pane output log per session, fed by pipe-pane.
	LogDir string `toml:"log_dir"`
}

type Shepherd struct {
	Socket string `toml:"socket"`
}

type History struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type Server struct {
	Port int `toml:"port"`
}

type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type Sentry struct {
	DSN         string `toml:"dsn"`
	Environment string `toml:"environment"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Backend:    string(backend.PTY),
		Executable: "root",
		Args:       []string{"-l"},
		Prompt:     prompt.DefaultPattern,
		Capture: Capture{
			Mode:    CaptureDelay,
			Delay:   Duration{300 * time.Millisecond},
			Poll:    Duration{50 * time.Millisecond},
			Timeout: Duration{30 * time.Second},
		},
		Rootrc: Rootrc{
			Enabled: true,
			Path:    rootrc.DefaultPath,
			Hold:    Duration{5 * time.Second},
		},
		Tmux:    Tmux{Prefix: "rootrepl-"},
		History: History{Enabled: true},
		Server:  Server{Port: 8810},
		Log:     Log{Level: "info", Format: "text"},
	}
}

// DataDir returns ~/.rootrepl.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".rootrepl"), nil
}

// Load builds a Config. path may be empty, in which case the first existing
// file among $ROOTREPL_CONFIG, ./rootrepl.toml and
// ~/.config/rootrepl/config.toml is used.
func Load(path string) (Config, error) {
	cfg := Default()

	file, err := resolvePath(path)
	if err != nil {
		return cfg, err
	}
	if file != "" {
		if _, err := toml.DecodeFile(file, &cfg); err != nil {
			return cfg, fmt.Errorf("decode %s: %w", file, err)
		}
	}

	if err := loadDotEnv(".env"); err != nil {
		return cfg, err
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.fillPaths(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func resolvePath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return explicit, nil
	}
	candidates := []string{os.Getenv("ROOTREPL_CONFIG"), "rootrepl.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "rootrepl", "config.toml"))
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", nil
}

// loadDotEnv loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setDuration := func(key string, dst *Duration) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		if err := dst.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		return nil
	}
	setBool := func(key string, dst *bool) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}

	setString("ROOTREPL_BACKEND", &c.Backend)
	setString("ROOTREPL_EXECUTABLE", &c.Executable)
	if v := os.Getenv("ROOTREPL_ARGS"); v != "" {
		c.Args = strings.Fields(v)
	}
	setString("ROOTREPL_WORKDIR", &c.WorkDir)
	setString("ROOTREPL_PROMPT", &c.Prompt)
	setString("ROOTREPL_CAPTURE_MODE", &c.Capture.Mode)
	if err := setDuration("ROOTREPL_CAPTURE_DELAY", &c.Capture.Delay); err != nil {
		return err
	}
	if err := setDuration("ROOTREPL_CAPTURE_POLL", &c.Capture.Poll); err != nil {
		return err
	}
	if err := setDuration("ROOTREPL_CAPTURE_TIMEOUT", &c.Capture.Timeout); err != nil {
		return err
	}
	if err := setBool("ROOTREPL_ROOTRC", &c.Rootrc.Enabled); err != nil {
		return err
	}
	setString("ROOTREPL_ROOTRC_PATH", &c.Rootrc.Path)
	if err := setDuration("ROOTREPL_ROOTRC_HOLD", &c.Rootrc.Hold); err != nil {
		return err
	}
	setString("ROOTREPL_TMUX_PREFIX", &c.Tmux.Prefix)
	setString("ROOTREPL_TMUX_LOG_DIR", &c.Tmux.LogDir)
	setString("ROOTREPL_SHEPHERD_SOCKET", &c.Shepherd.Socket)
	if err := setBool("ROOTREPL_HISTORY", &c.History.Enabled); err != nil {
		return err
	}
	setString("ROOTREPL_HISTORY_PATH", &c.History.Path)
	if v := os.Getenv("ROOTREPL_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ROOTREPL_PORT: %w", err)
		}
		c.Server.Port = port
	}
	setString("LOG_LEVEL", &c.Log.Level)
	setString("LOG_FORMAT", &c.Log.Format)
	setString("SENTRY_DSN", &c.Sentry.DSN)
	setString("SENTRY_ENVIRONMENT", &c.Sentry.Environment)
	return nil
}

func (c *Config) fillPaths() error {
	if c.Shepherd.Socket != "" && c.History.Path != "" && c.Tmux.LogDir != "" {
		return nil
	}
	dir, err := DataDir()
	if err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	if c.Shepherd.Socket == "" {
		c.Shepherd.Socket = filepath.Join(dir, "shepherd.sock")
	}
	if c.History.Path == "" {
		c.History.Path = filepath.Join(dir, "history.db")
	}
	if c.Tmux.LogDir == "" {
		c.Tmux.LogDir = filepath.Join(dir, "tmux")
	}
	return nil
}

// Validate checks the settings that would otherwise fail late.
func (c Config) Validate() error {
	if _, err := backend.ParseID(c.Backend); err != nil {
		return err
	}
	if c.Executable == "" {
		return fmt.Errorf("executable is required")
	}
	if _, err := prompt.Compile(c.Prompt); err != nil {
		return err
	}
	switch c.Capture.Mode {
	case CaptureDelay, CapturePrompt:
	default:
		return fmt.Errorf("capture mode must be %q or %q, got %q", CaptureDelay, CapturePrompt, c.Capture.Mode)
	}
	if c.Capture.Delay.Duration <= 0 {
		return fmt.Errorf("capture delay must be positive")
	}
	if c.Capture.Poll.Duration <= 0 || c.Capture.Timeout.Duration <= 0 {
		return fmt.Errorf("capture poll and timeout must be positive")
	}
	if c.Rootrc.Enabled && c.Rootrc.Path == "" {
		return fmt.Errorf("rootrc path is required when rootrc is enabled")
	}
	if c.Rootrc.Enabled && c.Rootrc.Hold.Duration <= 0 {
		return fmt.Errorf("rootrc hold must be positive when rootrc is enabled")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	return nil
}

// Marker compiles the prompt pattern.
func (c Config) Marker() (*prompt.Marker, error) {
	return prompt.Compile(c.Prompt)
}
