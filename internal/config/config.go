// Package config loads the relay's process-environment configuration
// for both the Caster and the Gateway binaries, validated through
// struct tags rather than ad hoc getenv checks.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// Caster holds everything the Caster binary needs.
type Caster struct {
	UpstreamHost string `validate:"required"`
	UpstreamPort int    `validate:"required,gt=0"`
	UpstreamUser string `validate:"required"`
	UpstreamPass string `validate:"required"`
	DirectoryURL string `validate:"required,url"`
	ListenPort   int    `validate:"required,gt=0"`
}

// Gateway holds everything the Gateway binary needs.
type Gateway struct {
	SerialPort string `validate:"required"`
	CasterHost string `validate:"required"`
	CasterPort int     `validate:"required,gt=0"`
}

// LoadCaster reads and validates the Caster's environment variables.
func LoadCaster() (Caster, error) {
	host, port, err := parseCasterAddr(os.Getenv("RBMC_CASTER"), os.Getenv("RBMC_PORT"))
	if err != nil {
		return Caster{}, err
	}
	listenPort, err := strconv.Atoi(os.Getenv("LOCAL_NTRIP_PORT"))
	if err != nil {
		return Caster{}, fmt.Errorf("config: LOCAL_NTRIP_PORT: %w", err)
	}

	c := Caster{
		UpstreamHost: host,
		UpstreamPort: port,
		UpstreamUser: os.Getenv("RBMC_USER"),
		UpstreamPass: os.Getenv("RBMC_PASS"),
		DirectoryURL: os.Getenv("IBGE_ENDPOINT_URL"),
		ListenPort:   listenPort,
	}
	if err := validator.New().Struct(c); err != nil {
		return Caster{}, fmt.Errorf("config: %w", err)
	}
	return c, nil
}

// LoadGateway reads and validates the Gateway's environment variables.
func LoadGateway() (Gateway, error) {
	port, err := strconv.Atoi(os.Getenv("ORCH_PORT"))
	if err != nil {
		return Gateway{}, fmt.Errorf("config: ORCH_PORT: %w", err)
	}

	g := Gateway{
		SerialPort: os.Getenv("SERIAL_PORT"),
		CasterHost: os.Getenv("ORCH_HOST"),
		CasterPort: port,
	}
	if err := validator.New().Struct(g); err != nil {
		return Gateway{}, fmt.Errorf("config: %w", err)
	}
	return g, nil
}

// parseCasterAddr accepts either a URL-shaped address (its hostname,
// and port if present, wins) or a bare hostname, in which case
// portEnv supplies the port.
func parseCasterAddr(raw, portEnv string) (host string, port int, err error) {
	if u, err := url.Parse(raw); err == nil && u.Scheme != "" && u.Hostname() != "" {
		host = u.Hostname()
		if p := u.Port(); p != "" {
			port, err = strconv.Atoi(p)
			if err != nil {
				return "", 0, fmt.Errorf("config: RBMC_CASTER port: %w", err)
			}
			return host, port, nil
		}
	} else {
		host = raw
	}
	port, err = strconv.Atoi(portEnv)
	if err != nil {
		return "", 0, fmt.Errorf("config: RBMC_PORT: %w", err)
	}
	return host, port, nil
}
