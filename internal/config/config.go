package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultObserverHost = "localhost"
	DefaultObserverPort = 5007
)

var (
	// ErrMissingStatePath means a file-backed state store was selected
	// without a location. The agent cannot hand state to the control
	// server without it.
	ErrMissingStatePath = errors.New("state path is required for file-backed state stores")
	ErrUnknownBackend   = errors.New("unknown state backend")
)

type Config struct {
	Observer struct {
		Host        string        `toml:"host"`
		Port        int           `toml:"port"`
		SendTimeout time.Duration `toml:"send_timeout"`
	} `toml:"observer"`
	Control struct {
		Host        string        `toml:"host"`
		ReadTimeout time.Duration `toml:"read_timeout"`
	} `toml:"control"`
	State struct {
		Backend string `toml:"backend"`
		Path    string `toml:"path"`
	} `toml:"state"`
	Debugger struct {
		PollInterval time.Duration `toml:"poll_interval"`
		Breakpoints  []string      `toml:"breakpoints"`
	} `toml:"debugger"`
	Log struct {
		Level     string `toml:"level"`
		Threshold string `toml:"threshold"`
		Redact    bool   `toml:"redact"`
	} `toml:"log"`
}

func GetConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "runneragent", "config.toml")
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	var cfg Config

	cfg.Observer.Host = DefaultObserverHost
	cfg.Observer.Port = DefaultObserverPort
	cfg.Observer.SendTimeout = 5 * time.Second
	cfg.Control.Host = ""
	cfg.Control.ReadTimeout = 5 * time.Second
	cfg.State.Backend = "memory"
	cfg.Debugger.PollInterval = time.Second
	cfg.Log.Level = "info"
	cfg.Log.Threshold = "INFO"
	cfg.Log.Redact = false

	return &cfg
}

func Load() (*Config, error) {
	return LoadFile(GetConfigPath())
}

// LoadFile reads path over the defaults. A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return cfg, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Save() error {
	return c.SaveFile(GetConfigPath())
}

func (c *Config) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(c)
}

// ParseObserverArgs interprets the positional values given at agent
// construction: none keeps the defaults, one is a port, two are host and
// port. Values past the second are ignored.
func ParseObserverArgs(args []string) (host string, port int, err error) {
	host, port = DefaultObserverHost, DefaultObserverPort
	switch {
	case len(args) == 0:
		return host, port, nil
	case len(args) == 1:
		port, err = parsePort(args[0])
	default:
		host = strings.TrimSpace(args[0])
		port, err = parsePort(args[1])
	}
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || p < 0 || p > 65535 {
		return 0, fmt.Errorf("invalid observer port %q", s)
	}
	return p, nil
}

// ApplyObserverArgs overrides the observer address from positional values.
// An empty args slice leaves the configured address untouched.
func (c *Config) ApplyObserverArgs(args []string) error {
	if len(args) == 0 {
		return nil
	}
	host, port, err := ParseObserverArgs(args)
	if err != nil {
		return err
	}
	if len(args) >= 2 {
		c.Observer.Host = host
	}
	c.Observer.Port = port
	return nil
}

func (c *Config) ObserverAddr() string {
	return net.JoinHostPort(c.Observer.Host, strconv.Itoa(c.Observer.Port))
}

// ControlAddr always asks for an ephemeral port; the bound port is
// reported to the observer instead.
func (c *Config) ControlAddr() string {
	return net.JoinHostPort(c.Control.Host, "0")
}

func (c *Config) Validate() error {
	backend := strings.ToLower(strings.TrimSpace(c.State.Backend))
	switch backend {
	case "", "memory":
		return nil
	case "sqlite", "properties":
		if strings.TrimSpace(c.State.Path) == "" {
			return fmt.Errorf("%s backend: %w", backend, ErrMissingStatePath)
		}
		return nil
	default:
		return fmt.Errorf("%w %q", ErrUnknownBackend, c.State.Backend)
	}
}
