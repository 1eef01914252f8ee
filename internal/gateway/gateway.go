// Package gateway implements the rover-side half of the relay: it
// owns the serial GNSS receiver, opens a TCP session to the Caster,
// forwards GGA position reports with a 60 s resend interval, and
// writes CRC-validated RTCM3 frames read off the wire back to the
// serial port.
package gateway

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/gnss-relay/rbmc-ntrip/internal/chunked"
	"github.com/gnss-relay/rbmc-ntrip/internal/relayerr"
	"github.com/gnss-relay/rbmc-ntrip/internal/rtcm"
	"github.com/gnss-relay/rbmc-ntrip/internal/serialport"
)

// GGAInterval bounds how often a GGA line is resent to the Caster
// once the link is up.
const GGAInterval = 60 * time.Second

// ReconnectInterval is the fixed backoff between restart attempts
// after either activity fails.
const ReconnectInterval = 5 * time.Second

// Config configures one Gateway instance.
type Config struct {
	SerialPortName string
	SerialConfig   serialport.Config
	CasterHost     string
	CasterPort     int
}

// Gateway owns the serial port and the TCP session for its lifetime.
type Gateway struct {
	cfg     Config
	log     logrus.FieldLogger
	nmeaLog logrus.FieldLogger
}

// New builds a Gateway bound to cfg. nmeaLog receives every serial
// line regardless of log's configured level; pass log again if no
// separate NMEA log file is wired up.
func New(cfg Config, log logrus.FieldLogger, nmeaLog logrus.FieldLogger) *Gateway {
	return &Gateway{cfg: cfg, log: log, nmeaLog: nmeaLog}
}

// Run opens the serial port once and then supervises repeated
// connect/stream/reconnect cycles against the Caster until ctx is
// canceled.
func (g *Gateway) Run(ctx context.Context) error {
	port, err := serialport.Open(g.cfg.SerialPortName, g.cfg.SerialConfig)
	if err != nil {
		return fmt.Errorf("gateway: open serial port: %w: %v", relayerr.ErrSerialIO, err)
	}
	defer port.Close()

	for {
		if ctx.Err() != nil {
			return relayerr.ErrStopped
		}
		if err := g.runOnce(ctx, port); err != nil {
			g.log.WithError(err).Warn("gateway cycle ended, reconnecting")
		}
		select {
		case <-ctx.Done():
			return relayerr.ErrStopped
		case <-time.After(ReconnectInterval):
		}
	}
}

// runOnce opens one TCP session to the Caster and runs the two
// activities to completion, joining both before returning so a
// restart never races a still-running activity on the same socket or
// serial port.
func (g *Gateway) runOnce(parent context.Context, port serialport.Port) error {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", g.cfg.CasterHost, g.cfg.CasterPort), 60*time.Second)
	if err != nil {
		return fmt.Errorf("gateway: dial caster: %w: %v", relayerr.ErrSocketIO, err)
	}
	defer conn.Close()

	g.log.WithField("caster", conn.RemoteAddr().String()).Info("connected to caster")

	group, ctx := errgroup.WithContext(parent)
	group.Go(func() error { return g.serialToNetwork(ctx, port, conn) })
	group.Go(func() error { return g.networkToSerial(ctx, conn, port) })

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	return group.Wait()
}

// serialToNetwork reads one NMEA line at a time from the serial
// receiver and forwards GGA position reports to the Caster, subject
// to GGAInterval throttling.
func (g *Gateway) serialToNetwork(ctx context.Context, port serialport.Port, conn net.Conn) error {
	reader := bufio.NewReader(newSerialLineReader(ctx, port))
	var lastGGA time.Time
	first := true

	for {
		if ctx.Err() != nil {
			return relayerr.ErrStopped
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("gateway: serial read: %w: %v", relayerr.ErrSerialIO, err)
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		g.logNMEALine(trimmed)

		switch {
		case strings.HasPrefix(trimmed, "$PUBX"):
			// logged only
		case strings.Contains(trimmed, "GGA"):
			if !ggaHasPosition(trimmed) {
				continue
			}
			if !first && time.Since(lastGGA) < GGAInterval {
				continue
			}
			if _, err := conn.Write([]byte(trimmed + "\r\n")); err != nil {
				return fmt.Errorf("gateway: forward gga: %w: %v", relayerr.ErrSocketIO, err)
			}
			lastGGA = time.Now()
			first = false
		default:
			// other $GN... sentences: logged only
		}
	}
}

// networkToSerial wraps conn in a ChunkedReader, discards the HTTP
// response header, and writes every CRC-validated RTCM3 frame to the
// serial port.
func (g *Gateway) networkToSerial(ctx context.Context, conn net.Conn, port serialport.Port) error {
	if err := discardHTTPHeader(conn); err != nil {
		return err
	}

	cr := chunked.NewReader(conn)
	var buf []byte
	for {
		if ctx.Err() != nil {
			return relayerr.ErrStopped
		}
		payload, err := cr.ReadChunk()
		if err != nil {
			return fmt.Errorf("gateway: read chunk: %w", err)
		}
		buf = append(buf, payload...)
		for _, frame := range rtcm.Drain(&buf) {
			if _, err := port.Write(frame); err != nil {
				return fmt.Errorf("gateway: write serial frame: %w: %v", relayerr.ErrSerialIO, err)
			}
			rtcm.LogFrame(g.log, frame)
		}
	}
}

func discardHTTPHeader(r interface{ Read([]byte) (int, error) }) error {
	var hdr []byte
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n == 0 && err != nil {
			return fmt.Errorf("gateway: read header: %w: %v", relayerr.ErrSocketIO, err)
		}
		hdr = append(hdr, buf[:n]...)
		if len(hdr) >= 4 && string(hdr[len(hdr)-4:]) == "\r\n\r\n" {
			return nil
		}
	}
}

func (g *Gateway) logNMEALine(line string) {
	if g.nmeaLog != nil {
		g.nmeaLog.WithField("nmea", line).Debug("serial line")
	}
}

// ggaHasPosition reports whether a GGA sentence's latitude field (the
// 3rd comma-separated field) is non-empty.
func ggaHasPosition(line string) bool {
	fields := strings.Split(line, ",")
	return len(fields) > 2 && fields[2] != ""
}

// serialLineReader adapts a serialport.Port's Read into an io.Reader
// bufio.NewReader can wrap, so serial timeouts surface as ordinary
// read errors rather than a Port-specific type.
type serialLineReader struct {
	ctx  context.Context
	port serialport.Port
}

func newSerialLineReader(ctx context.Context, port serialport.Port) *serialLineReader {
	return &serialLineReader{ctx: ctx, port: port}
}

// Read retries on a bare read-timeout (go.bug.st/serial returns
// (0, nil) rather than an error when the configured timeout elapses
// with no data) so bufio never sees the repeated zero-byte reads that
// would otherwise trip its no-progress guard. Checking ctx on every
// retry keeps cancellation latency bounded by one serial read timeout.
func (r *serialLineReader) Read(p []byte) (int, error) {
	for {
		if r.ctx.Err() != nil {
			return 0, r.ctx.Err()
		}
		n, err := r.port.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
	}
}
