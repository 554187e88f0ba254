package storage

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"harvester/config"
)

// NewTLSConfig builds the client TLS configuration shared by every connector.
// A nil config is returned when no TLS material is configured.
func NewTLSConfig(ssl config.SSLConfig) (*tls.Config, error) {
	if !ssl.Enabled() {
		return nil, nil
	}

	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: ssl.InsecureSkipVerify, // #nosec G402 -- opt-in for lab setups
	}

	if len(ssl.CertificateAuthorities) > 0 {
		pool := x509.NewCertPool()
		for _, path := range ssl.CertificateAuthorities {
			pem, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read CA %s: %w", path, err)
			}
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("no certificates found in CA %s", path)
			}
		}
		tlsCfg.RootCAs = pool
	}

	if ssl.Certificate != "" {
		cert, err := tls.LoadX509KeyPair(ssl.Certificate, ssl.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	return tlsCfg, nil
}
