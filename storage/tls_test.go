package storage

import (
	"os"
	"path/filepath"
	"testing"

	"harvester/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTLSConfig_Disabled(t *testing.T) {
	cfg, err := NewTLSConfig(config.SSLConfig{InsecureSkipVerify: true})
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestNewTLSConfig_MissingCA(t *testing.T) {
	_, err := NewTLSConfig(config.SSLConfig{
		CertificateAuthorities: []string{filepath.Join(t.TempDir(), "missing.pem")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read CA")
}

func TestNewTLSConfig_InvalidPEM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a certificate"), 0o600))

	_, err := NewTLSConfig(config.SSLConfig{CertificateAuthorities: []string{path}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no certificates found")
}

func TestNewTLSConfig_MissingClientCertificate(t *testing.T) {
	dir := t.TempDir()
	_, err := NewTLSConfig(config.SSLConfig{
		Certificate: filepath.Join(dir, "client.crt"),
		Key:         filepath.Join(dir, "client.key"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load client certificate")
}
