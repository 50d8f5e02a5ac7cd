package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/mcpanel/internal/status"
)

func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Server.Listen != ":8080" || c.Server.BasePath != "/api" {
		t.Fatalf("unexpected server defaults: %+v", c.Server)
	}
	if c.Status.Probe != "ps" || c.Status.RunningInterval != status.DefaultRunningInterval ||
		c.Status.StoppingInterval != status.DefaultStoppingInterval || c.Status.StartTimeout != 0 {
		t.Fatalf("unexpected status defaults: %+v", c.Status)
	}
	if c.Status.LogWindow != 30*time.Second || c.Status.PortTimeout != time.Second {
		t.Fatalf("unexpected probe defaults: %+v", c.Status)
	}
	if c.Minecraft.Java != "java" || c.Minecraft.Jar != "server.jar" || c.Minecraft.StopCommand != "stop" {
		t.Fatalf("unexpected minecraft defaults: %+v", c.Minecraft)
	}
	if c.Actions.MinInterval != 2*time.Second || c.Actions.Burst != 3 {
		t.Fatalf("unexpected action defaults: %+v", c.Actions)
	}
	if !c.Metrics.Enabled || c.History.Enabled || c.Resources.Enabled {
		t.Fatalf("unexpected feature toggles: %+v %+v %+v", c.Metrics, c.History, c.Resources)
	}
	// dir is required
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "minecraft.dir") {
		t.Fatalf("expected minecraft.dir error, got %v", err)
	}
}

func TestLoad_TOML(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "mcpanel.toml", `
[server]
listen = "127.0.0.1:9090"
base_path = "/panel"
allowed_origins = ["https://panel.example.com"]

[minecraft]
dir = "/srv/mc"
jar = "paper.jar"
jvm_args = ["-Xmx4G", "-Xms1G"]
ip = "10.0.0.5"

[status]
probe = "native"
running_interval = "3s"
start_timeout = "2m"
startup_pattern = "Server started"

[actions]
min_interval = "500ms"
burst = 1

[log]
level = "debug"
format = "json"

[history]
enabled = true
dsns = ["sqlite:///tmp/mc.db"]
`)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if c.Server.Listen != "127.0.0.1:9090" || c.Server.BasePath != "/panel" || len(c.Server.AllowedOrigins) != 1 {
		t.Fatalf("server: %+v", c.Server)
	}
	if c.Minecraft.Dir != "/srv/mc" || c.Minecraft.Jar != "paper.jar" || len(c.Minecraft.JVMArgs) != 2 || c.Minecraft.IP != "10.0.0.5" {
		t.Fatalf("minecraft: %+v", c.Minecraft)
	}
	if c.Status.Probe != "native" || c.Status.RunningInterval != 3*time.Second || c.Status.StartTimeout != 2*time.Minute {
		t.Fatalf("status: %+v", c.Status)
	}
	// untouched keys keep their defaults
	if c.Status.StoppingInterval != status.DefaultStoppingInterval {
		t.Fatalf("stopping interval: %v", c.Status.StoppingInterval)
	}
	if c.Actions.MinInterval != 500*time.Millisecond || c.Actions.Burst != 1 {
		t.Fatalf("actions: %+v", c.Actions)
	}
	if c.Log.Level != "debug" || c.Log.Format != "json" {
		t.Fatalf("log: %+v", c.Log)
	}
	if !c.History.Enabled || len(c.History.DSNs) != 1 {
		t.Fatalf("history: %+v", c.History)
	}
	if got := c.LogFilePath(); got != filepath.Join("/srv/mc", "logs", "latest.log") {
		t.Fatalf("log path: %s", got)
	}
	if got := c.PropertiesPath(); got != filepath.Join("/srv/mc", "server.properties") {
		t.Fatalf("properties path: %s", got)
	}
	l := c.Launch()
	if l.Dir != "/srv/mc" || l.Jar != "paper.jar" || l.Java != "java" {
		t.Fatalf("launch: %+v", l)
	}

	cl, err := c.Classifier()
	if err != nil {
		t.Fatal(err)
	}
	if !cl("[12:00:00 INFO]: Server started on port 25565") {
		t.Error("custom pattern should match")
	}
	if !cl(`[13:45:02 INFO]: Done (8.512s)! For help, type "help"`) {
		t.Error("built-in pattern should still match")
	}
}

func TestLoad_Properties(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "mcpanel.properties", `
# flat form
minecraft.dir=/opt/minecraft
minecraft.jar=fabric-server.jar
minecraft.jvm_args=-Xmx2G,-XX:+UseG1GC
status.log_window=45s
motd.note=${not.expanded}
history.enabled=false
`)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Minecraft.Dir != "/opt/minecraft" || c.Minecraft.Jar != "fabric-server.jar" {
		t.Fatalf("minecraft: %+v", c.Minecraft)
	}
	if len(c.Minecraft.JVMArgs) != 2 || c.Minecraft.JVMArgs[1] != "-XX:+UseG1GC" {
		t.Fatalf("jvm args: %#v", c.Minecraft.JVMArgs)
	}
	if c.Status.LogWindow != 45*time.Second {
		t.Fatalf("log window: %v", c.Status.LogWindow)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "c.toml", "[minecraft]\ndir = \"/from/file\"\n")
	t.Setenv("MCPANEL_MINECRAFT_DIR", "/from/env")
	t.Setenv("MCPANEL_STATUS_START_TIMEOUT", "90s")
	t.Setenv("MCPANEL_HISTORY_DSNS", "sqlite://a.db,postgres://u:p@h/db")

	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Minecraft.Dir != "/from/env" {
		t.Fatalf("env should override file, got %s", c.Minecraft.Dir)
	}
	if c.Status.StartTimeout != 90*time.Second {
		t.Fatalf("start timeout: %v", c.Status.StartTimeout)
	}
	if len(c.History.DSNs) != 2 {
		t.Fatalf("dsns: %#v", c.History.DSNs)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load("/definitely/not/exist.toml"); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := Load("/definitely/not/exist.properties"); err == nil {
		t.Fatal("expected error for missing properties file")
	}
	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.toml", "[minecraft\ndir=")
	if _, err := Load(bad); err == nil {
		t.Fatal("expected parse error")
	}
	badDur := writeFile(t, dir, "dur.toml", "[status]\nrunning_interval = \"soon\"\n")
	if _, err := Load(badDur); err == nil {
		t.Fatal("expected duration decode error")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c, err := Load("")
		if err != nil {
			t.Fatal(err)
		}
		c.Minecraft.Dir = "/srv/mc"
		return c
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"probe", func(c *Config) { c.Status.Probe = "magic" }, "status.probe"},
		{"negative interval", func(c *Config) { c.Status.RunningInterval = -time.Second }, "status.running_interval"},
		{"pattern", func(c *Config) { c.Status.StartupPattern = "([" }, "status.startup_pattern"},
		{"burst", func(c *Config) { c.Actions.Burst = -1 }, "actions.burst"},
		{"base path", func(c *Config) { c.Server.BasePath = "api" }, "server.base_path"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"history dsns", func(c *Config) { c.History.Enabled = true }, "history.dsns"},
		{"empty dsn", func(c *Config) { c.History.Enabled = true; c.History.DSNs = []string{" "} }, "history.dsns[0]"},
		{"jar", func(c *Config) { c.Minecraft.Jar = "" }, "minecraft.jar"},
		{"tls source", func(c *Config) { c.Server.TLS.Enabled = true }, "server.tls needs"},
		{"tls pair", func(c *Config) {
			c.Server.TLS.Enabled = true
			c.Server.TLS.CertFile = "server.crt"
		}, "must be set together"},
		{"tls version", func(c *Config) {
			c.Server.TLS.Enabled = true
			c.Server.TLS.Dir = "/srv/mc/tls"
			c.Server.TLS.MinVersion = "1.0"
		}, "server.tls.min_version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}

	// every problem is reported at once
	c := base()
	c.Status.Probe = "x"
	c.Actions.Burst = -1
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "status.probe") || !strings.Contains(err.Error(), "actions.burst") {
		t.Fatalf("expected joined errors, got %v", err)
	}
}

func TestLoad_TLS(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "mcpanel.toml", `
[minecraft]
dir = "/srv/mc"

[server.tls]
enabled = true
dir = "/srv/mc/tls"
auto_generate = true
hosts = ["mc.example.com", "10.0.0.5"]
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	tc := c.Server.TLS
	if !tc.Enabled || !tc.AutoGenerate || tc.Dir != "/srv/mc/tls" {
		t.Fatalf("unexpected tls config: %+v", tc)
	}
	if len(tc.Hosts) != 2 || tc.Hosts[0] != "mc.example.com" {
		t.Fatalf("hosts: %v", tc.Hosts)
	}
	if tc.MinVersion != "1.3" || tc.ValidDays != 365 {
		t.Fatalf("tls defaults not applied: %+v", tc)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestShellSession(t *testing.T) {
	dir := t.TempDir()
	dotenv := writeFile(t, dir, ".env", "A=1\nB=${A}-two\n")

	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	c.Minecraft.Dir = dir
	c.Shell.UseOSEnv = false
	c.Shell.EnvFiles = []string{dotenv}
	c.Shell.Env = []string{"C=3"}

	sc, err := c.ShellSession(nil)
	if err != nil {
		t.Fatalf("ShellSession: %v", err)
	}
	if sc.Dir != dir || sc.ConsoleLog != nil {
		t.Fatalf("unexpected shell config: %+v", sc)
	}
	want := []string{"A=1", "B=1-two", "C=3"}
	if strings.Join(sc.Env, " ") != strings.Join(want, " ") {
		t.Fatalf("env = %v, want %v", sc.Env, want)
	}

	c.Shell.EnvFiles = []string{filepath.Join(dir, "missing.env")}
	if _, err := c.ShellSession(nil); err == nil {
		t.Fatal("expected error for missing env file")
	}
}

func TestAbsoluteLogFile(t *testing.T) {
	c := &Config{}
	c.Minecraft.Dir = "/srv/mc"
	abs := filepath.Join(string(filepath.Separator), "var", "log", "mc.log")
	c.Status.LogFile = abs
	if c.LogFilePath() != abs {
		t.Fatalf("absolute path should be kept: %s", c.LogFilePath())
	}
}
