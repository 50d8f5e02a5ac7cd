package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	tlsCaCrt = "tls_ca.crt"
	tlsCrt   = "tls.crt"
	tlsKey   = "tls.key"
)

// Config enables HTTPS for the panel API. Either CertFile and KeyFile are
// given, or Dir holds tls.crt and tls.key, generated on first use when
// AutoGenerate is set.
type Config struct {
	Enabled      bool   `mapstructure:"enabled"`
	CertFile     string `mapstructure:"cert_file"`
	KeyFile      string `mapstructure:"key_file"`
	Dir          string `mapstructure:"dir"`
	AutoGenerate bool   `mapstructure:"auto_generate"`
	// MinVersion is "1.2" or "1.3" (default).
	MinVersion string `mapstructure:"min_version"`
	// CommonName and Hosts (DNS names or IPs) go into a generated certificate.
	CommonName string   `mapstructure:"common_name"`
	Hosts      []string `mapstructure:"hosts"`
	ValidDays  int      `mapstructure:"valid_days"`
}

// ParseVersion maps "1.2"/"1.3" (optionally prefixed with TLS) to the
// crypto/tls constant. Empty is 1.3.
func ParseVersion(ver string) (uint16, error) {
	switch strings.TrimPrefix(strings.ToLower(ver), "tls") {
	case "", "default", "1.3":
		return tls.VersionTLS13, nil
	case "1.2":
		return tls.VersionTLS12, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q", ver)
	}
}

// Setup returns the server TLS configuration, or nil when disabled.
func Setup(c Config) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	minVer, err := ParseVersion(c.MinVersion)
	if err != nil {
		return nil, err
	}

	if c.CertFile != "" && c.KeyFile != "" {
		return serverConfig(c.CertFile, c.KeyFile, minVer)
	}

	if c.Dir != "" {
		keyPath := filepath.Join(c.Dir, tlsKey)
		certPath := filepath.Join(c.Dir, tlsCrt)
		if c.AutoGenerate && !certificatesExist(certPath, keyPath) {
			if err := generate(c); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
		return serverConfig(certPath, keyPath, minVer)
	}

	return nil, errors.New("TLS enabled but no valid certificate configuration found")
}

// serverConfig loads the pair once to fail fast, then reloads it on every
// handshake so renewed certificates are picked up without a restart.
func serverConfig(certPath, keyPath string, minVer uint16) (*tls.Config, error) {
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	return &tls.Config{
		MinVersion: minVer,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			cert, err := tls.LoadX509KeyPair(certPath, keyPath)
			if err != nil {
				return nil, err
			}
			return &cert, nil
		},
	}, nil
}

func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func generate(c Config) error {
	if err := os.MkdirAll(c.Dir, 0o750); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	commonName := c.CommonName
	if commonName == "" {
		commonName = "localhost"
	}
	hosts := c.Hosts
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
	}
	validDays := c.ValidDays
	if validDays <= 0 {
		validDays = 365
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   commonName,
		Organization: "mcpanel",
		Hosts:        hosts,
		NotAfter:     time.Now().AddDate(0, 0, validDays),
		CertPath:     filepath.Join(c.Dir, tlsCrt),
		KeyPath:      filepath.Join(c.Dir, tlsKey),
		CACertPath:   filepath.Join(c.Dir, tlsCaCrt),
	})
}
