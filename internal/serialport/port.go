// Package serialport wraps go.bug.st/serial for the Gateway's single,
// exclusively-owned GNSS receiver connection: open once at startup,
// read NMEA lines, write RTCM3 frames, close on shutdown.
package serialport

import (
	"fmt"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Port is the subset of serial I/O the Gateway depends on, narrow
// enough to fake in tests without a real device attached.
type Port interface {
	Read(buffer []byte) (int, error)
	Write(data []byte) (int, error)
	Close() error
}

// Config configures the physical link to the GNSS receiver.
type Config struct {
	BaudRate int
	DataBits int
	Parity   serial.Parity
	StopBits serial.StopBits
	Timeout  time.Duration
}

// DefaultConfig returns the line settings for a TOPGNSS TOP708
// receiver, the baseline this relay targets.
func DefaultConfig() Config {
	return Config{
		BaudRate: 38400,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
		Timeout:  1 * time.Second,
	}
}

// gnssPort is the Config-backed Port implementation used outside tests.
type gnssPort struct {
	port   serial.Port
	config Config
}

// Open opens portName under cfg and returns a ready-to-use Port.
func Open(portName string, cfg Config) (Port, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		Parity:   cfg.Parity,
		StopBits: cfg.StopBits,
	}

	p, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", portName, err)
	}
	if err := p.SetReadTimeout(cfg.Timeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("serialport: set read timeout: %w", err)
	}
	return &gnssPort{port: p, config: cfg}, nil
}

func (p *gnssPort) Read(buffer []byte) (int, error)  { return p.port.Read(buffer) }
func (p *gnssPort) Write(data []byte) (int, error)   { return p.port.Write(data) }
func (p *gnssPort) Close() error                     { return p.port.Close() }

// ListPorts enumerates attached serial devices by name.
func ListPorts() ([]string, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("serialport: enumerate: %w", err)
	}
	names := make([]string, 0, len(details))
	for _, d := range details {
		names = append(names, d.Name)
	}
	return names, nil
}
