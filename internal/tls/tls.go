// Package tls builds the server-side TLS configuration of the operator API.
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
	tlsCrt = "tls.crt"
	tlsKey = "tls.key"
)

// Config selects certificates for the API listener. Explicit files win over
// Dir; with AutoGenerate a self-signed pair is written into Dir when missing.
type Config struct {
	Enabled      bool     `mapstructure:"enabled"`
	CertFile     string   `mapstructure:"cert_file"`
	KeyFile      string   `mapstructure:"key_file"`
	Dir          string   `mapstructure:"dir"`
	AutoGenerate bool     `mapstructure:"auto_generate"`
	MinVersion   string   `mapstructure:"min_version"` // "1.2" or "1.3" (default)
	Hosts        []string `mapstructure:"hosts"`       // SANs for generated certificates
	ValidDays    int      `mapstructure:"valid_days"`
}

// parseVersion maps a version string to a tls constant.
func parseVersion(ver string) (uint16, error) {
	switch strings.ToLower(strings.TrimSpace(ver)) {
	case "", "default", "1.3", "tls1.3":
		return tls.VersionTLS13, nil
	case "1.2", "tls1.2":
		return tls.VersionTLS12, nil
	}
	return 0, fmt.Errorf("unsupported TLS version %q", ver)
}

// Setup returns the listener TLS config, or nil when TLS is disabled.
func Setup(c Config) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	minVer, err := parseVersion(c.MinVersion)
	if err != nil {
		return nil, err
	}

	certPath, keyPath := c.CertFile, c.KeyFile
	if certPath == "" || keyPath == "" {
		if c.Dir == "" {
			return nil, errors.New("TLS enabled but neither cert_file/key_file nor dir is set")
		}
		certPath = filepath.Join(c.Dir, tlsCrt)
		keyPath = filepath.Join(c.Dir, tlsKey)
		if c.AutoGenerate && !exists(certPath, keyPath) {
			if err := generate(c, certPath, keyPath); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	}

	// Fail at startup rather than on the first handshake.
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	return &tls.Config{
		GetCertificate: reloading(certPath, keyPath),
		MinVersion:     minVer,
	}, nil
}

// reloading reads the pair on every handshake so rotated files are picked up.
func reloading(certPath, keyPath string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, err
		}
		return &cert, nil
	}
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func generate(c Config, certPath, keyPath string) error {
	if err := os.MkdirAll(filepath.Dir(certPath), 0o750); err != nil {
		return fmt.Errorf("create certificate dir: %w", err)
	}
	hosts := c.Hosts
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
	}
	days := c.ValidDays
	if days <= 0 {
		days = 365
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   hosts[0],
		Organization: "hydration",
		Hosts:        hosts,
		NotAfter:     time.Now().AddDate(0, 0, days),
		CertPath:     certPath,
		KeyPath:      keyPath,
	})
}
