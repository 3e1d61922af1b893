package webserver

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	webgui "github.com/CrimsonAS/webgui/backend"
)

// NoSecret as SharedSecret disables the token check.
const NoSecret = "none"

// Config of a Server. Durations are written like "30s" in YAML.
type Config struct {
	ListenHost string `yaml:"listen_host"`
	ListenPort int    `yaml:"listen_port"`
	// SharedSecret must be presented by browsers opening a page, as ?token= once and as
	// cookie afterwards. Empty generates a random secret, NoSecret disables the check.
	SharedSecret string `yaml:"shared_secret"`
	// SingleInstance makes every endpoint share one session among all connections.
	SingleInstance bool `yaml:"single_instance"`
	// AutoReload watches TemplateDir and renders all sessions again when templates change.
	AutoReload  bool   `yaml:"auto_reload"`
	TemplateDir string `yaml:"template_dir"`
	Title       string `yaml:"title"`

	CallTimeout   time.Duration `yaml:"call_timeout"`
	PendingWindow int           `yaml:"pending_window"`
	SendQueueSize int           `yaml:"send_queue_size"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	PingInterval  time.Duration `yaml:"ping_interval"`
	ReadLimit     int64         `yaml:"read_limit"`
}

func DefaultConfig() *Config {
	settings := webgui.DefaultSettings()
	return &Config{
		ListenHost:     "127.0.0.1",
		ListenPort:     8000,
		SingleInstance: true,
		Title:          "webgui",
		CallTimeout:    settings.CallTimeout,
		PendingWindow:  settings.PendingWindow,
		SendQueueSize:  settings.SendQueueSize,
		WriteTimeout:   10 * time.Second,
		PingInterval:   settings.PingInterval,
		ReadLimit:      1 << 20,
	}
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}
	return ParseConfig(buf)
}

func ParseConfig(buf []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(buf, config); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	switch {
	case c.ListenPort < 0 || c.ListenPort > 65535:
		return errors.Errorf("config: invalid listen_port %d", c.ListenPort)
	case c.AutoReload && c.TemplateDir == "":
		return errors.New("config: auto_reload needs a template_dir")
	case c.PendingWindow < 1:
		return errors.Errorf("config: pending_window must be positive, not %d", c.PendingWindow)
	case c.SendQueueSize < 1:
		return errors.Errorf("config: send_queue_size must be positive, not %d", c.SendQueueSize)
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ListenHost, c.ListenPort)
}

// Settings returns the session settings of the config.
func (c *Config) Settings() *webgui.Settings {
	settings := webgui.DefaultSettings()
	settings.CallTimeout = c.CallTimeout
	settings.PendingWindow = c.PendingWindow
	settings.SendQueueSize = c.SendQueueSize
	settings.PingInterval = c.PingInterval
	return settings
}
