package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8080", normalizeURL("localhost:8080"))
	assert.Equal(t, "http://localhost:8080", normalizeURL("http://localhost:8080"))
	assert.Equal(t, "https://bench.example.com", normalizeURL("https://bench.example.com"))
}

func TestExecuteRequiresSubcommand(t *testing.T) {
	err := Execute(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subcommand is required")
}

func TestExecuteRejectsUnknownSubcommand(t *testing.T) {
	err := Execute([]string{"restart"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown subcommand")
}

func TestLoadConfigRejectsMalformedOverride(t *testing.T) {
	_, err := loadConfig("", []string{"slots=8=9extra", "broken"})
	require.Error(t, err)
}
