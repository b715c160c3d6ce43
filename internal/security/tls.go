package security

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"google.golang.org/grpc/credentials"
)

// ServerTLSConfig holds server TLS configuration.
type ServerTLSConfig struct {
	CertFile string
	KeyFile  string
	// ClientCAFile enables mTLS: agents must present a certificate signed
	// by this CA.
	ClientCAFile string
}

// ClientTLSConfig holds agent TLS configuration.
type ClientTLSConfig struct {
	CAFile   string
	CertFile string // optional, for mTLS
	KeyFile  string
}

// LoadServerTLS loads TLS credentials for the gRPC server.
func LoadServerTLS(cfg *ServerTLSConfig) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}
	if cfg.ClientCAFile != "" {
		pool, err := loadPool(cfg.ClientCAFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		tlsConfig.ClientCAs = pool
	}
	return credentials.NewTLS(tlsConfig), nil
}

// LoadClientTLS loads TLS credentials for an agent connection.
func LoadClientTLS(cfg *ClientTLSConfig) (credentials.TransportCredentials, error) {
	pool, err := loadPool(cfg.CAFile)
	if err != nil {
		return nil, err
	}
	tlsConfig := &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS13,
	}
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return credentials.NewTLS(tlsConfig), nil
}

func loadPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, errors.New("no certificates found in CA file")
	}
	return pool, nil
}
