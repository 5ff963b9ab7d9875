package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultClientOptions(t *testing.T) {
	opts := DefaultClientOptions()

	require.NotNil(t, opts.Timeout)
	assert.Equal(t, 10*time.Second, opts.Timeout.Connect)
	assert.Equal(t, 60*time.Second, opts.Timeout.Total)
	require.NotNil(t, opts.Transport)
	assert.Equal(t, 128, opts.Transport.MaxConnsPerHost)
	assert.False(t, opts.Transport.Compression)
	assert.Nil(t, opts.BasicAuth)
	assert.Nil(t, opts.TLS)
}

func TestClientOptionsMerge(t *testing.T) {
	base := DefaultClientOptions()
	base.Headers["x-opaque-id"] = "bench"
	base.Variables["corpus"] = "geonames"

	override := &ClientOptions{
		Timeout: &TimeoutConfig{Total: 120 * time.Second},
		BasicAuth: &BasicAuthConfig{
			Username: "admin",
			Password: "secret",
		},
		Headers:   map[string]string{"x-opaque-id": "run-42"},
		Variables: map[string]any{"bulk_size": 5000},
	}

	merged := base.Merge(override)

	// Overridden fields win.
	assert.Equal(t, 120*time.Second, merged.Timeout.Total)
	assert.Equal(t, "run-42", merged.Headers["x-opaque-id"])
	require.NotNil(t, merged.BasicAuth)
	assert.Equal(t, "admin", merged.BasicAuth.Username)

	// Untouched fields survive from the base.
	assert.Equal(t, 10*time.Second, merged.Timeout.Connect)
	assert.Equal(t, 60*time.Second, merged.Timeout.Read)
	assert.Equal(t, "geonames", merged.Variables["corpus"])
	assert.Equal(t, 5000, merged.Variables["bulk_size"])

	// The base must not be mutated.
	assert.Equal(t, 60*time.Second, base.Timeout.Total)
	assert.Equal(t, "bench", base.Headers["x-opaque-id"])
	assert.Nil(t, base.BasicAuth)
}

func TestClientOptionsMergeNil(t *testing.T) {
	opts := DefaultClientOptions()
	assert.Same(t, opts, opts.Merge(nil))

	var empty *ClientOptions
	merged := empty.Merge(opts)
	require.NotNil(t, merged)
	assert.Equal(t, opts.Timeout.Total, merged.Timeout.Total)
}

func TestClientOptionsClone(t *testing.T) {
	opts := DefaultClientOptions()
	opts.TLS = &TLSConfig{InsecureSkipVerify: true, CAFile: "/certs/ca.pem"}
	opts.Headers["authorization"] = "ApiKey abc"

	clone := opts.Clone()
	clone.Timeout.Total = time.Second
	clone.TLS.CAFile = "/other/ca.pem"
	clone.Headers["authorization"] = "changed"

	assert.Equal(t, 60*time.Second, opts.Timeout.Total)
	assert.Equal(t, "/certs/ca.pem", opts.TLS.CAFile)
	assert.Equal(t, "ApiKey abc", opts.Headers["authorization"])
}

func TestTimeoutConfigMerge(t *testing.T) {
	base := &TimeoutConfig{Connect: 1 * time.Second, Read: 2 * time.Second}
	override := &TimeoutConfig{Read: 5 * time.Second, Total: 10 * time.Second}

	merged := base.Merge(override)

	assert.Equal(t, 1*time.Second, merged.Connect)
	assert.Equal(t, 5*time.Second, merged.Read)
	assert.Equal(t, 10*time.Second, merged.Total)
	assert.Equal(t, time.Duration(0), merged.Write)
}

func TestClientOptionsFromCluster(t *testing.T) {
	cluster := &ClusterConfig{
		Hosts:                 []string{"https://node:9200"},
		Username:              "admin",
		Password:              "secret",
		Timeout:               90 * time.Second,
		MaxConnsPerHost:       64,
		InsecureSkipTLSVerify: true,
	}

	opts := ClientOptionsFromCluster(cluster)

	assert.Equal(t, 90*time.Second, opts.Timeout.Total)
	assert.Equal(t, 90*time.Second, opts.Timeout.Read)
	assert.Equal(t, 10*time.Second, opts.Timeout.Connect)
	assert.Equal(t, 64, opts.Transport.MaxConnsPerHost)
	require.NotNil(t, opts.BasicAuth)
	assert.Equal(t, "admin", opts.BasicAuth.Username)
	require.NotNil(t, opts.TLS)
	assert.True(t, opts.TLS.InsecureSkipVerify)

	defaults := ClientOptionsFromCluster(nil)
	assert.Equal(t, 60*time.Second, defaults.Timeout.Total)
}

func TestClientOptionsMapRoundTrip(t *testing.T) {
	opts := DefaultClientOptions()
	opts.BasicAuth = &BasicAuthConfig{Username: "admin", Password: "secret"}
	opts.Headers["x-opaque-id"] = "run-1"

	m, err := opts.ToMap()
	require.NoError(t, err)
	require.NotNil(t, m)

	parsed, err := ClientOptionsFromMap(m)
	require.NoError(t, err)

	assert.Equal(t, opts.Timeout.Total, parsed.Timeout.Total)
	require.NotNil(t, parsed.BasicAuth)
	assert.Equal(t, "admin", parsed.BasicAuth.Username)
	assert.Equal(t, "run-1", parsed.Headers["x-opaque-id"])

	fromNil, err := ClientOptionsFromMap(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultClientOptions().Timeout.Total, fromNil.Timeout.Total)
}
