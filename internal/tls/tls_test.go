package tls

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupDisabled(t *testing.T) {
	c, err := Setup(Options{})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestSetupAutoGenerate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	c, err := Setup(Options{Enabled: true, Dir: dir, AutoGenerate: true, Hosts: []string{"studio.local", "10.0.0.5"}})
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS13), c.MinVersion)

	for _, n := range []string{CertName, KeyName, CACertName} {
		_, err := os.Stat(filepath.Join(dir, n))
		assert.NoError(t, err, n)
	}
	fi, err := os.Stat(filepath.Join(dir, KeyName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	cert, err := c.GetCertificate(nil)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"studio.local"}, leaf.DNSNames)
	require.Len(t, leaf.IPAddresses, 1)
	assert.Equal(t, "10.0.0.5", leaf.IPAddresses[0].String())

	// existing pair is reused, not regenerated
	before, err := os.ReadFile(filepath.Join(dir, CertName))
	require.NoError(t, err)
	_, err = Setup(Options{Enabled: true, Dir: dir, AutoGenerate: true})
	require.NoError(t, err)
	after, err := os.ReadFile(filepath.Join(dir, CertName))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSetupExplicitFiles(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := filepath.Join(dir, "a.crt"), filepath.Join(dir, "a.key")
	require.NoError(t, GenerateSelfSigned(CertOptions{CertPath: certPath, KeyPath: keyPath}))

	c, err := Setup(Options{Enabled: true, CertFile: certPath, KeyFile: keyPath, MinVersion: "1.2"})
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS12), c.MinVersion)
	_, err = c.GetCertificate(nil)
	assert.NoError(t, err)
}

func TestSetupErrors(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]Options{
		"nothing configured": {Enabled: true},
		"half pair":          {Enabled: true, CertFile: "x.crt"},
		"bad version":        {Enabled: true, Dir: dir, MinVersion: "1.0"},
		"missing files":      {Enabled: true, Dir: dir},
	}
	for name, o := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Setup(o)
			assert.Error(t, err)
		})
	}
}
