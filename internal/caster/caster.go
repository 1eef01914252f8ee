// Package caster implements the downstream half of the relay: it
// terminates the rover's TCP connection and drives a five-state
// session machine from initial handshake through base selection,
// subscription, and continuous streaming with hot base-switching on
// rover motion.
package caster

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gnss-relay/rbmc-ntrip/internal/directory"
	"github.com/gnss-relay/rbmc-ntrip/internal/nmea"
	"github.com/gnss-relay/rbmc-ntrip/internal/upstream"
)

const (
	icyResponse   = "ICY 200 OK\r\nContent-Type: gnss/data\r\n\r\n"
	roverReadTick = 100 * time.Millisecond
	streamIdle    = 10 * time.Millisecond
)

// Config carries everything a session needs to select a base and open
// an upstream subscription, sourced from process environment by
// internal/config.
type Config struct {
	ListenAddr       string
	DirectoryURL     string
	UpstreamHost     string
	UpstreamPort     int
	UpstreamUser     string
	UpstreamPass     string
}

// Caster accepts rover connections sequentially; it is a single-rover
// design, not a multi-client caster.
type Caster struct {
	cfg       Config
	log       logrus.FieldLogger
	directory *directory.Client
}

// New builds a Caster bound to cfg.
func New(cfg Config, log logrus.FieldLogger) *Caster {
	return &Caster{
		cfg:       cfg,
		log:       log,
		directory: directory.NewClient(cfg.DirectoryURL),
	}
}

// Serve listens on cfg.ListenAddr and runs sessions one rover at a
// time until ctx is canceled.
func (c *Caster) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", c.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("caster: listen %s: %w", c.cfg.ListenAddr, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		c.log.WithField("addr", c.cfg.ListenAddr).Info("awaiting rover connection")
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("caster: accept: %w", err)
		}

		sessID := uuid.New().String()
		sessLog := c.log.WithFields(logrus.Fields{"session": sessID, "remote": conn.RemoteAddr().String()})
		sessLog.Info("rover connected")

		s := &session{conn: conn, directory: c.directory, upstreamCfg: c.cfg, log: sessLog}
		s.run(ctx)
	}
}

// session drives one rover's state machine to completion (either a
// terminal I/O error, or ctx cancellation).
type session struct {
	conn        net.Conn
	directory   *directory.Client
	upstreamCfg Config
	log         logrus.FieldLogger

	state   SessionState
	primary directory.Station
	helper  directory.Station

	sub       *upstream.Subscription
	subCancel context.CancelFunc

	icySent bool
}

// run executes states in order, looping STREAM -> CONNECT_UPSTREAM on
// a base switch, until the rover connection closes.
func (s *session) run(ctx context.Context) {
	defer s.conn.Close()
	defer s.stopSubscription()

	var reader *bufio.Reader
	var position nmea.Fix

	s.state = StateInitialize
	for {
		switch s.state {
		case StateInitialize:
			reader = bufio.NewReader(s.conn)
			s.state = StateGetCoordinates
			s.log.Info("state -> GET_COORDINATES")

		case StateGetCoordinates:
			fix, err := s.awaitCoordinates(ctx, reader)
			if err != nil {
				s.log.WithError(err).Warn("rover disconnected before a position was reported")
				return
			}
			position = fix
			s.state = StateDefineBase
			s.log.Info("state -> DEFINE_BASE")

		case StateDefineBase:
			primary, helper, err := s.selectBases(ctx, position)
			if err != nil {
				s.log.WithError(err).Error("directory unavailable, resetting session")
				return
			}
			s.primary, s.helper = primary, helper
			s.log.WithFields(logrus.Fields{"primary": primary.ID, "helper": helper.ID}).Info("state -> CONNECT_UPSTREAM")
			s.state = StateConnectUpstream

		case StateConnectUpstream:
			s.startSubscription(ctx, s.primary.ID)
			s.state = StateStream
			s.log.Info("state -> STREAM")

		case StateStream:
			nextState, newPosition, err := s.stream(ctx, reader, position)
			if err != nil {
				s.log.WithError(err).Warn("stream terminated")
				return
			}
			position = newPosition
			s.state = nextState
		}
	}
}

// awaitCoordinates reads lines from the rover, with no deadline,
// until one parses as a GGA sentence.
func (s *session) awaitCoordinates(ctx context.Context, reader *bufio.Reader) (nmea.Fix, error) {
	for {
		if ctx.Err() != nil {
			return nmea.Fix{}, ctx.Err()
		}
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return nmea.Fix{}, err
		}
		fix, parseErr := nmea.ParseGGA(line)
		if parseErr != nil {
			continue
		}
		return fix, nil
	}
}

// selectBases asks the directory for rankings and returns the two
// nearest stations.
func (s *session) selectBases(ctx context.Context, position nmea.Fix) (primary, helper directory.Station, err error) {
	stations, err := s.directory.Fetch(ctx, position.Latitude, position.Longitude)
	if err != nil {
		return directory.Station{}, directory.Station{}, err
	}
	if len(stations) == 0 {
		return directory.Station{}, directory.Station{}, fmt.Errorf("caster: directory returned no stations")
	}
	primary = stations[0]
	if len(stations) > 1 {
		helper = stations[1]
	} else {
		helper = stations[0]
	}
	return primary, helper, nil
}

func (s *session) startSubscription(ctx context.Context, mountID string) {
	subCtx, cancel := context.WithCancel(ctx)
	s.subCancel = cancel
	s.sub = &upstream.Subscription{
		Host: s.upstreamCfg.UpstreamHost,
		Port: s.upstreamCfg.UpstreamPort,
		User: s.upstreamCfg.UpstreamUser,
		Pass: s.upstreamCfg.UpstreamPass,
		Mount: mountID,
		Log:  s.log,
	}
	go func() {
		if err := s.sub.Start(subCtx); err != nil && subCtx.Err() == nil {
			s.log.WithError(err).Warn("upstream subscription exited")
		}
	}()
}

func (s *session) stopSubscription() {
	if s.subCancel != nil {
		s.subCancel()
		s.subCancel = nil
	}
	s.sub = nil
}

// stream sends the ICY header once per session, then interleaves
// non-blocking rover reads (for base-switch detection) with draining
// the subscription buffer into the rover socket. A base switch
// re-enters this state without closing the rover connection, so the
// header must not be sent again — re-announcing it would inject ASCII
// bytes into an already-live RTCM3 stream.
func (s *session) stream(ctx context.Context, reader *bufio.Reader, position nmea.Fix) (SessionState, nmea.Fix, error) {
	if !s.icySent {
		if _, err := s.conn.Write([]byte(icyResponse)); err != nil {
			return 0, position, fmt.Errorf("caster: send ICY header: %w", err)
		}
		s.icySent = true
	}

	for {
		if ctx.Err() != nil {
			return 0, position, ctx.Err()
		}

		s.conn.SetReadDeadline(time.Now().Add(roverReadTick))
		line, err := reader.ReadString('\n')
		s.conn.SetReadDeadline(time.Time{})

		if err == nil {
			if fix, parseErr := nmea.ParseGGA(line); parseErr == nil {
				newPrimary, newHelper, selErr := s.selectBases(ctx, fix)
				if selErr == nil && (newPrimary.ID != s.primary.ID || newHelper.ID != s.helper.ID) {
					s.log.WithFields(logrus.Fields{
						"old_primary": s.primary.ID, "new_primary": newPrimary.ID,
					}).Info("base switch detected")
					s.stopSubscription()
					s.primary, s.helper = newPrimary, newHelper
					return StateConnectUpstream, fix, nil
				}
				position = fix
			}
		} else if !isTimeout(err) {
			return 0, position, fmt.Errorf("caster: rover read: %w", err)
		}

		if s.sub == nil {
			time.Sleep(streamIdle)
			continue
		}
		chunks := s.sub.Drain()
		if len(chunks) == 0 {
			time.Sleep(streamIdle)
			continue
		}
		for _, c := range chunks {
			if _, err := s.conn.Write(c); err != nil {
				return 0, position, fmt.Errorf("caster: forward upstream bytes to rover: %w", err)
			}
		}
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
