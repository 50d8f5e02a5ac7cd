package config

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/magiconair/properties"
	"github.com/spf13/viper"

	"github.com/loykin/mcpanel/internal/env"
	"github.com/loykin/mcpanel/internal/logger"
	"github.com/loykin/mcpanel/internal/metrics"
	"github.com/loykin/mcpanel/internal/panel"
	"github.com/loykin/mcpanel/internal/shell"
	"github.com/loykin/mcpanel/internal/status"
	"github.com/loykin/mcpanel/internal/terminal"
	mctls "github.com/loykin/mcpanel/internal/tls"
)

// EnvPrefix prefixes environment overrides: minecraft.dir is read from
// MCPANEL_MINECRAFT_DIR.
const EnvPrefix = "MCPANEL"

// Config represents the top-level configuration file (TOML, or a flat
// .properties file using dotted keys).
type Config struct {
	Server    ServerConfig           `mapstructure:"server"`
	Minecraft MinecraftConfig        `mapstructure:"minecraft"`
	Status    StatusConfig           `mapstructure:"status"`
	Shell     ShellConfig            `mapstructure:"shell"`
	Actions   ActionsConfig          `mapstructure:"actions"`
	Log       logger.Config          `mapstructure:"log"`
	Metrics   MetricsConfig          `mapstructure:"metrics"`
	History   HistoryConfig          `mapstructure:"history"`
	Resources metrics.ResourceConfig `mapstructure:"resources"`
}

type ServerConfig struct {
	Listen         string        `mapstructure:"listen"`
	BasePath       string        `mapstructure:"base_path"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	TLS            mctls.Config  `mapstructure:"tls"`
}

type MinecraftConfig struct {
	Dir         string            `mapstructure:"dir"`
	Jar         string            `mapstructure:"jar"`
	Java        string            `mapstructure:"java"`
	JVMArgs     []string          `mapstructure:"jvm_args"`
	Args        []string          `mapstructure:"args"`
	IP          string            `mapstructure:"ip"`
	StopCommand string            `mapstructure:"stop_command"`
	ConsoleLog  logger.FileConfig `mapstructure:"console_log"`
}

type StatusConfig struct {
	Probe            string        `mapstructure:"probe"` // ps|native
	RunningInterval  time.Duration `mapstructure:"running_interval"`
	StoppingInterval time.Duration `mapstructure:"stopping_interval"`
	StartTimeout     time.Duration `mapstructure:"start_timeout"`
	LogFile          string        `mapstructure:"log_file"`
	LogWindow        time.Duration `mapstructure:"log_window"`
	PortTimeout      time.Duration `mapstructure:"port_timeout"`
	StartupPattern   string        `mapstructure:"startup_pattern"`
}

type ShellConfig struct {
	Program     string        `mapstructure:"program"`
	UseOSEnv    bool          `mapstructure:"use_os_env"`
	EnvFiles    []string      `mapstructure:"env_files"`
	Env         []string      `mapstructure:"env"`
	Scrollback  int           `mapstructure:"scrollback"`
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

type ActionsConfig struct {
	MinInterval time.Duration `mapstructure:"min_interval"`
	Burst       int           `mapstructure:"burst"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type HistoryConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	DSNs    []string `mapstructure:"dsns"`
	// QueueSize bounds events waiting for slow sinks.
	QueueSize int `mapstructure:"queue_size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("server.tls.min_version", "1.3")
	v.SetDefault("server.tls.common_name", "")
	v.SetDefault("server.tls.hosts", []string{})
	v.SetDefault("server.tls.valid_days", 365)

	v.SetDefault("minecraft.dir", "")
	v.SetDefault("minecraft.jar", "server.jar")
	v.SetDefault("minecraft.java", "java")
	v.SetDefault("minecraft.jvm_args", []string{})
	v.SetDefault("minecraft.args", []string{"nogui"})
	v.SetDefault("minecraft.ip", "")
	v.SetDefault("minecraft.stop_command", "stop")
	v.SetDefault("minecraft.console_log.path", "")
	v.SetDefault("minecraft.console_log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("minecraft.console_log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("minecraft.console_log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("minecraft.console_log.compress", false)

	v.SetDefault("status.probe", "ps")
	v.SetDefault("status.running_interval", status.DefaultRunningInterval.String())
	v.SetDefault("status.stopping_interval", status.DefaultStoppingInterval.String())
	v.SetDefault("status.start_timeout", "0s")
	v.SetDefault("status.log_file", filepath.Join("logs", "latest.log"))
	v.SetDefault("status.log_window", "30s")
	v.SetDefault("status.port_timeout", "1s")
	v.SetDefault("status.startup_pattern", "")

	v.SetDefault("shell.program", "")
	v.SetDefault("shell.use_os_env", true)
	v.SetDefault("shell.env_files", []string{})
	v.SetDefault("shell.env", []string{})
	v.SetDefault("shell.scrollback", shell.DefaultScrollback)
	v.SetDefault("shell.grace_period", shell.DefaultGracePeriod.String())

	v.SetDefault("actions.min_interval", "2s")
	v.SetDefault("actions.burst", 3)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.file.compress", false)

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dsns", []string{})
	v.SetDefault("history.queue_size", 256)

	v.SetDefault("resources.enabled", false)
	v.SetDefault("resources.interval", "5s")
	v.SetDefault("resources.max_history", 100)
}

// Load reads path (TOML or .properties by extension) over the defaults and
// applies MCPANEL_* environment overrides. An empty path yields defaults plus
// environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if err := readInto(v, path); err != nil {
			return nil, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return &c, nil
}

func readInto(v *viper.Viper, path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".properties", ".props":
		m, err := loadProperties(path)
		if err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		if err := v.MergeConfigMap(m); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	default:
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}
}

// loadProperties turns dotted keys (minecraft.dir=...) into the nested map
// viper expects. List values are comma separated.
func loadProperties(path string) (map[string]any, error) {
	l := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := l.LoadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	for _, key := range p.Keys() {
		val, _ := p.Get(key)
		parts := strings.Split(strings.ToLower(key), ".")
		node := out
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = val
	}
	return out, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Minecraft.Dir) == "" {
		errs = append(errs, errors.New("minecraft.dir is required"))
	}
	if c.Minecraft.Jar == "" {
		errs = append(errs, errors.New("minecraft.jar is required"))
	}
	switch c.Status.Probe {
	case "ps", "native":
	default:
		errs = append(errs, fmt.Errorf("status.probe must be ps or native, got %q", c.Status.Probe))
	}
	for name, d := range map[string]time.Duration{
		"status.running_interval":  c.Status.RunningInterval,
		"status.stopping_interval": c.Status.StoppingInterval,
		"status.start_timeout":     c.Status.StartTimeout,
		"status.log_window":        c.Status.LogWindow,
		"status.port_timeout":      c.Status.PortTimeout,
		"actions.min_interval":     c.Actions.MinInterval,
		"shell.grace_period":       c.Shell.GracePeriod,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if c.Status.StartupPattern != "" {
		if _, err := regexp.Compile(c.Status.StartupPattern); err != nil {
			errs = append(errs, fmt.Errorf("status.startup_pattern: %w", err))
		}
	}
	if c.Actions.Burst < 0 {
		errs = append(errs, errors.New("actions.burst must not be negative"))
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		errs = append(errs, fmt.Errorf("server.base_path must start with /, got %q", c.Server.BasePath))
	}
	if t := c.Server.TLS; t.Enabled {
		if (t.CertFile == "") != (t.KeyFile == "") {
			errs = append(errs, errors.New("server.tls.cert_file and server.tls.key_file must be set together"))
		}
		if t.CertFile == "" && t.Dir == "" {
			errs = append(errs, errors.New("server.tls needs cert_file and key_file, or dir"))
		}
		if _, err := mctls.ParseVersion(t.MinVersion); err != nil {
			errs = append(errs, fmt.Errorf("server.tls.min_version: %w", err))
		}
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "", "text", "json", "color":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text, json or color, got %q", c.Log.Format))
	}
	if c.History.Enabled {
		if len(c.History.DSNs) == 0 {
			errs = append(errs, errors.New("history.dsns is required when history is enabled"))
		}
		for i, dsn := range c.History.DSNs {
			if strings.TrimSpace(dsn) == "" {
				errs = append(errs, fmt.Errorf("history.dsns[%d] is empty", i))
			}
		}
	}
	return errors.Join(errs...)
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Minecraft.Dir, p)
}

// LogFilePath is the server's latest.log, relative to the server directory
// unless configured absolute.
func (c *Config) LogFilePath() string { return c.resolve(c.Status.LogFile) }

// PropertiesPath is <dir>/server.properties.
func (c *Config) PropertiesPath() string { return c.resolve("server.properties") }

// Launch builds the shell command parameters for starting the server.
func (c *Config) Launch() panel.Launch {
	return panel.Launch{
		Dir:     c.Minecraft.Dir,
		Java:    c.Minecraft.Java,
		Jar:     c.Minecraft.Jar,
		JVMArgs: c.Minecraft.JVMArgs,
		Args:    c.Minecraft.Args,
	}
}

// Classifier returns the startup line matcher. A configured pattern is
// accepted in addition to the built-in one.
func (c *Config) Classifier() (terminal.Classifier, error) {
	if c.Status.StartupPattern == "" {
		return terminal.MatchStartupComplete, nil
	}
	custom, err := terminal.MatchRegexp(c.Status.StartupPattern)
	if err != nil {
		return nil, fmt.Errorf("status.startup_pattern: %w", err)
	}
	return terminal.MatchAny(terminal.MatchStartupComplete, custom), nil
}

// Environ composes the shell environment: the OS environment when
// use_os_env is set, then env_files in order, then the env list.
func (s ShellConfig) Environ() ([]string, error) {
	e := env.New(s.UseOSEnv)
	for _, p := range s.EnvFiles {
		if err := e.AddFile(p); err != nil {
			return nil, fmt.Errorf("shell env file: %w", err)
		}
	}
	return e.Merge(s.Env), nil
}

// ShellSession builds the shell configuration. consoleLog may be nil.
func (c *Config) ShellSession(consoleLog io.Writer) (shell.Config, error) {
	environ, err := c.Shell.Environ()
	if err != nil {
		return shell.Config{}, err
	}
	sc := shell.Config{
		Dir:         c.Minecraft.Dir,
		Program:     c.Shell.Program,
		Env:         environ,
		Scrollback:  c.Shell.Scrollback,
		GracePeriod: c.Shell.GracePeriod,
		ConsoleLog:  consoleLog,
	}
	return sc, nil
}
