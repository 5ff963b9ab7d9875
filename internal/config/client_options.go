package config

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ClientOptions are per-run settings for the clients that talk to the target
// cluster. The coordinator resolves them once and ships them to every worker
// with the prepare message, so all clients of a run behave identically.
type ClientOptions struct {
	// Timeout settings for requests against the cluster.
	Timeout *TimeoutConfig `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// TLS settings for https endpoints.
	TLS *TLSConfig `yaml:"tls,omitempty" json:"tls,omitempty"`

	// BasicAuth credentials.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	// Transport tuning.
	Transport *TransportConfig `yaml:"transport,omitempty" json:"transport,omitempty"`

	// Headers sent with every request.
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// Variables are exposed to parameter sources.
	Variables map[string]any `yaml:"variables,omitempty" json:"variables,omitempty"`
}

// TimeoutConfig holds request timeout settings.
type TimeoutConfig struct {
	Connect time.Duration `yaml:"connect,omitempty" json:"connect,omitempty"`
	Read    time.Duration `yaml:"read,omitempty" json:"read,omitempty"`
	Write   time.Duration `yaml:"write,omitempty" json:"write,omitempty"`
	Total   time.Duration `yaml:"total,omitempty" json:"total,omitempty"`
}

// TLSConfig holds TLS settings.
type TLSConfig struct {
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty" json:"insecure_skip_verify,omitempty"`
	CertFile           string `yaml:"cert_file,omitempty" json:"cert_file,omitempty"`
	KeyFile            string `yaml:"key_file,omitempty" json:"key_file,omitempty"`
	CAFile             string `yaml:"ca_file,omitempty" json:"ca_file,omitempty"`
	MinVersion         string `yaml:"min_version,omitempty" json:"min_version,omitempty"`
}

// BuildTLSConfig materializes the TLS settings.
func (c *TLSConfig) BuildTLSConfig() (*tls.Config, error) {
	if c == nil {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: c.InsecureSkipVerify,
	}

	if c.CertFile != "" && c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if c.CAFile != "" {
		caCert, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	switch c.MinVersion {
	case "":
	case "1.2":
		tlsConfig.MinVersion = tls.VersionTLS12
	case "1.3":
		tlsConfig.MinVersion = tls.VersionTLS13
	default:
		return nil, fmt.Errorf("unsupported TLS minimum version %q (supported: 1.2, 1.3)", c.MinVersion)
	}

	return tlsConfig, nil
}

// BasicAuthConfig holds basic auth credentials.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// TransportConfig holds connection pool tuning.
type TransportConfig struct {
	// Compression enables gzip request bodies where the operation supports it.
	Compression bool `yaml:"compression" json:"compression"`
	// MaxConnsPerHost bounds the pool per cluster node.
	MaxConnsPerHost int `yaml:"max_conns_per_host,omitempty" json:"max_conns_per_host,omitempty"`
}

// DefaultClientOptions returns the built-in client options.
func DefaultClientOptions() *ClientOptions {
	return &ClientOptions{
		Timeout: &TimeoutConfig{
			Connect: 10 * time.Second,
			Read:    60 * time.Second,
			Write:   60 * time.Second,
			Total:   60 * time.Second,
		},
		Transport: &TransportConfig{
			Compression:     false,
			MaxConnsPerHost: 128,
		},
		Headers:   make(map[string]string),
		Variables: make(map[string]any),
	}
}

// ClientOptionsFromCluster derives client options from the daemon-level
// cluster section so a plain config file works without a separate options
// block.
func ClientOptionsFromCluster(cluster *ClusterConfig) *ClientOptions {
	opts := DefaultClientOptions()
	if cluster == nil {
		return opts
	}

	if cluster.Timeout > 0 {
		opts.Timeout.Read = cluster.Timeout
		opts.Timeout.Write = cluster.Timeout
		opts.Timeout.Total = cluster.Timeout
	}
	if cluster.MaxConnsPerHost > 0 {
		opts.Transport.MaxConnsPerHost = cluster.MaxConnsPerHost
	}
	if cluster.Username != "" {
		opts.BasicAuth = &BasicAuthConfig{
			Username: cluster.Username,
			Password: cluster.Password,
		}
	}
	if cluster.InsecureSkipTLSVerify || cluster.CAFile != "" {
		opts.TLS = &TLSConfig{
			InsecureSkipVerify: cluster.InsecureSkipTLSVerify,
			CAFile:             cluster.CAFile,
		}
	}

	return opts
}

// ToMap renders the options as a generic map for the wire.
func (c *ClientOptions) ToMap() (map[string]any, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode client options: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode client options: %w", err)
	}
	return m, nil
}

// ClientOptionsFromMap parses options received over the wire.
func ClientOptionsFromMap(m map[string]any) (*ClientOptions, error) {
	if m == nil {
		return DefaultClientOptions(), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode client options map: %w", err)
	}
	opts := &ClientOptions{}
	if err := json.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("failed to decode client options: %w", err)
	}
	return opts, nil
}
