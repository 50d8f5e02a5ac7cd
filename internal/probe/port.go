package probe

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/magiconair/properties"
)

// DefaultServerPort is the Minecraft default used when server.properties
// does not say otherwise.
const DefaultServerPort = 25565

// ServerProperties is the subset of server.properties the panel reads.
type ServerProperties struct {
	Port int
	IP   string
}

// ReadServerProperties loads server-port and server-ip from a
// server.properties file. A missing file, key, or an invalid port yields the
// defaults. Property expansion is disabled because MOTDs may contain ${...}.
func ReadServerProperties(path string) ServerProperties {
	sp := ServerProperties{Port: DefaultServerPort}
	if path == "" {
		return sp
	}
	l := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := l.LoadFile(path)
	if err != nil {
		return sp
	}
	if port := p.GetInt("server-port", DefaultServerPort); port > 0 && port <= 65535 {
		sp.Port = port
	}
	sp.IP = p.GetString("server-ip", "")
	return sp
}

// PortProbe checks whether the configured game port accepts TCP
// connections. It re-reads server.properties on every call so port edits are
// picked up without a restart.
type PortProbe struct {
	PropertiesPath string
	// Host overrides server-ip. Empty uses server-ip, then 127.0.0.1.
	Host    string
	Timeout time.Duration
}

func NewPortProbe(propertiesPath, host string, timeout time.Duration) *PortProbe {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &PortProbe{PropertiesPath: propertiesPath, Host: host, Timeout: timeout}
}

func (p *PortProbe) IsPortListening(ctx context.Context) PortResult {
	sp := ReadServerProperties(p.PropertiesPath)
	host := p.Host
	if host == "" {
		host = sp.IP
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	d := net.Dialer{Timeout: p.Timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(sp.Port)))
	if err != nil {
		return PortResult{Port: sp.Port}
	}
	_ = conn.Close()
	return PortResult{Listening: true, Port: sp.Port}
}
