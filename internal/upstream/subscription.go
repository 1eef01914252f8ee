// Package upstream runs the Caster's long-lived NTRIP v2 client
// against a chosen reference station: connect, send the mountpoint
// request with Basic auth, and buffer the raw bytes of its response
// body for the session to forward to the rover untouched, reconnecting
// with a fixed backoff on any socket error. It does not decode the
// chunked transfer encoding or the RTCM3 framing inside it — that
// decode happens exactly once, at the Gateway, so the bytes a rover
// receives are the same bytes the reference station sent.
package upstream

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/gnss-relay/rbmc-ntrip/internal/relayerr"
)

// ReconnectInterval is the fixed delay between connection attempts.
const ReconnectInterval = 5 * time.Second

// readChunkSize is the maximum number of bytes read from the socket
// per call, matching the Gateway's network-to-serial read size.
const readChunkSize = 4096

// Subscription owns the socket to the remote NTRIP caster and exposes
// the raw bytes it receives through a mutex-guarded buffer that a
// consumer drains on its own schedule (the Caster session's STREAM
// loop).
type Subscription struct {
	Host, Mount, User, Pass string
	Port                    int
	Log                     logrus.FieldLogger

	mu     sync.Mutex
	chunks [][]byte
}

// Start runs the connect/read/reconnect loop until ctx is canceled.
// Every read off the wire is appended to the internal buffer, raw and
// undecoded, for Drain to collect.
func (s *Subscription) Start(ctx context.Context) error {
	bo := backoff.WithContext(backoff.NewConstantBackOff(ReconnectInterval), ctx)

	for {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return relayerr.ErrStopped
		}
		if err != nil && s.Log != nil {
			s.Log.WithError(err).Warn("upstream subscription dropped, reconnecting")
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("upstream: backoff exhausted: %w", err)
		}
		select {
		case <-ctx.Done():
			return relayerr.ErrStopped
		case <-time.After(wait):
		}
	}
}

// runOnce performs one connect-request-stream cycle and returns when
// the connection drops or ctx is canceled.
func (s *Subscription) runOnce(ctx context.Context) error {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", s.Host, s.Port), 10*time.Second)
	if err != nil {
		return fmt.Errorf("upstream: dial: %w: %v", relayerr.ErrSocketIO, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	auth := base64.StdEncoding.EncodeToString([]byte(s.User + ":" + s.Pass))
	req := fmt.Sprintf("GET /%s HTTP/1.1\r\nHost: %s\r\nNtrip-Version: Ntrip/2.0\r\nUser-Agent: NTRIP rbmc-ntrip/relay\r\nAuthorization: Basic %s\r\n\r\n",
		s.Mount, s.Host, auth)
	if _, err := conn.Write([]byte(req)); err != nil {
		return fmt.Errorf("upstream: send request: %w: %v", relayerr.ErrSocketIO, err)
	}

	if err := discardHTTPHeader(conn); err != nil {
		return err
	}

	buf := make([]byte, readChunkSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			s.append(append([]byte(nil), buf[:n]...))
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("upstream: read: %w: %v", relayerr.ErrSocketIO, err)
		}
	}
}

// discardHTTPHeader reads byte by byte until the blank line ending
// the HTTP response header.
func discardHTTPHeader(r io.Reader) error {
	var hdr []byte
	buf := make([]byte, 1)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("upstream: read header: %w: %v", relayerr.ErrSocketIO, err)
		}
		hdr = append(hdr, buf[0])
		if len(hdr) >= 4 && string(hdr[len(hdr)-4:]) == "\r\n\r\n" {
			return nil
		}
	}
}

func (s *Subscription) append(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunk)
}

// Drain returns every raw byte chunk buffered since the last Drain
// call and clears the buffer, giving the caller exclusive ownership
// of the returned slice.
func (s *Subscription) Drain() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.chunks) == 0 {
		return nil
	}
	out := s.chunks
	s.chunks = nil
	return out
}
