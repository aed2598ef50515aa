package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// File names used inside Options.Dir.
const (
	CertName   = "tls.crt"
	KeyName    = "tls.key"
	CACertName = "tls_ca.crt"
)

// Options is the [server.tls] config section.
type Options struct {
	Enabled      bool     `toml:"enabled" mapstructure:"enabled"`
	CertFile     string   `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string   `toml:"key_file" mapstructure:"key_file"`
	Dir          string   `toml:"dir" mapstructure:"dir"`                     // holds tls.crt and tls.key
	AutoGenerate bool     `toml:"auto_generate" mapstructure:"auto_generate"` // self-signed pair in Dir when missing
	Hosts        []string `toml:"hosts" mapstructure:"hosts"`                 // SANs for generated certificates
	MinVersion   string   `toml:"min_version" mapstructure:"min_version"`     // "1.2" or "1.3" (default)
}

// Validate reports configuration that Setup could never satisfy.
func (o Options) Validate() error {
	if !o.Enabled {
		return nil
	}
	if (o.CertFile == "") != (o.KeyFile == "") {
		return errors.New("server.tls: cert_file and key_file must be set together")
	}
	if o.CertFile == "" && o.Dir == "" {
		return errors.New("server.tls: enabled without cert_file/key_file or dir")
	}
	if _, ok := parseVersion(o.MinVersion); !ok {
		return fmt.Errorf("server.tls: unknown min_version %q", o.MinVersion)
	}
	return nil
}

func parseVersion(v string) (uint16, bool) {
	switch strings.ToLower(v) {
	case "", "default", "1.3", "tls1.3":
		return tls.VersionTLS13, true
	case "1.2", "tls1.2":
		return tls.VersionTLS12, true
	default:
		return 0, false
	}
}

// Setup returns the server TLS config, or nil when TLS is disabled. Explicit
// cert/key files win over Dir. Certificates are re-read on each handshake so
// a renewed pair is picked up without a restart.
func Setup(o Options) (*tls.Config, error) {
	if !o.Enabled {
		return nil, nil
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	minVer, _ := parseVersion(o.MinVersion)

	certPath, keyPath := o.CertFile, o.KeyFile
	if certPath == "" {
		certPath = filepath.Join(o.Dir, CertName)
		keyPath = filepath.Join(o.Dir, KeyName)
		if o.AutoGenerate && !exists(certPath, keyPath) {
			if err := GenerateSelfSigned(CertOptions{
				Hosts:      o.Hosts,
				CertPath:   certPath,
				KeyPath:    keyPath,
				CACertPath: filepath.Join(o.Dir, CACertName),
			}); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	}
	if !exists(certPath, keyPath) {
		return nil, fmt.Errorf("server.tls: certificate %s or key %s not found", certPath, keyPath)
	}

	// #nosec G402 min version is configurable down to 1.2 only
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

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
