package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCasterAddrURLShaped(t *testing.T) {
	host, port, err := parseCasterAddr("https://rbmc.example.com:2101", "9999")
	assert.NoError(t, err)
	assert.Equal(t, "rbmc.example.com", host)
	assert.Equal(t, 2101, port)
}

func TestParseCasterAddrBareHost(t *testing.T) {
	host, port, err := parseCasterAddr("rbmc.example.com", "2101")
	assert.NoError(t, err)
	assert.Equal(t, "rbmc.example.com", host)
	assert.Equal(t, 2101, port)
}

func TestParseCasterAddrURLShapedNoPortFallsBackToEnv(t *testing.T) {
	host, port, err := parseCasterAddr("https://rbmc.example.com", "2101")
	assert.NoError(t, err)
	assert.Equal(t, "rbmc.example.com", host)
	assert.Equal(t, 2101, port)
}

func TestLoadCasterRejectsMissingFields(t *testing.T) {
	t.Setenv("RBMC_CASTER", "")
	t.Setenv("RBMC_PORT", "2101")
	t.Setenv("RBMC_USER", "")
	t.Setenv("RBMC_PASS", "")
	t.Setenv("IBGE_ENDPOINT_URL", "")
	t.Setenv("LOCAL_NTRIP_PORT", "2102")

	_, err := LoadCaster()
	assert.Error(t, err)
}

func TestLoadCasterAcceptsCompleteConfig(t *testing.T) {
	t.Setenv("RBMC_CASTER", "rbmc.example.com")
	t.Setenv("RBMC_PORT", "2101")
	t.Setenv("RBMC_USER", "user")
	t.Setenv("RBMC_PASS", "pass")
	t.Setenv("IBGE_ENDPOINT_URL", "https://directory.example.com/sourcetable")
	t.Setenv("LOCAL_NTRIP_PORT", "2102")

	c, err := LoadCaster()
	assert.NoError(t, err)
	assert.Equal(t, "rbmc.example.com", c.UpstreamHost)
	assert.Equal(t, 2101, c.UpstreamPort)
	assert.Equal(t, 2102, c.ListenPort)
}
