package caster

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/gnss-relay/rbmc-ntrip/internal/directory"
)

const threeStationSourcetable = "STR;A;A;RTCM 3.3;;2;GPS;N1;BRA;0.0;0.0;0;0;s;n;N;N;0;\r\n" +
	"STR;B;B;RTCM 3.3;;2;GPS;N1;BRA;50.0;50.0;0;0;s;n;N;N;0;\r\n" +
	"STR;C;C;RTCM 3.3;;2;GPS;N1;BRA;100.0;100.0;0;0;s;n;N;N;0;\r\n" +
	"ENDSOURCETABLE\r\n"

func newTestSession(t *testing.T, conn net.Conn) (*session, func()) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(threeStationSourcetable))
	}))

	// Point the upstream at a local listener that accepts and idles,
	// so the subscription's dial succeeds without needing a real caster.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	var idle []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			idle = append(idle, c) // kept open and unread; the subscription just idles on it
		}
	}()
	addr := ln.Addr().(*net.TCPAddr)

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	s := &session{
		conn:      conn,
		directory: directory.NewClient(server.URL),
		upstreamCfg: Config{
			UpstreamHost: "127.0.0.1",
			UpstreamPort: addr.Port,
			UpstreamUser: "u",
			UpstreamPass: "p",
		},
		log: log,
	}
	cleanup := func() {
		server.Close()
		ln.Close()
	}
	return s, cleanup
}

// TestBaseSwitchKeepsRoverConnectionOpen covers a rover moving closer
// to a different station mid-session: a second GGA placing it near a
// different station switches the session's primary station, and the
// session keeps running (so the rover's TCP connection stays open)
// across the switch.
func TestBaseSwitchKeepsRoverConnectionOpen(t *testing.T) {
	roverSide, casterSide := net.Pipe()
	defer roverSide.Close()

	s, cleanup := newTestSession(t, casterSide)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.run(ctx)
		close(done)
	}()

	roverWriter := bufio.NewWriter(roverSide)
	roverReader := bufio.NewReader(roverSide)

	// First position: near station A.
	roverWriter.WriteString("$GPGGA,000000,0000.000,N,00000.000,E,1,08,0.9,0.0,M,0.0,M,,*73\r\n")
	roverWriter.Flush()

	// Read the ICY header sent once STREAM is entered.
	header := make([]byte, len(icyResponse))
	roverSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := readFull(roverReader, header)
	assert.NoError(t, err)
	assert.Equal(t, icyResponse, string(header))

	time.Sleep(200 * time.Millisecond) // allow STREAM state to settle

	assert.Equal(t, "A", s.primary.ID)

	// Second position: near station C, 5s of rover-motion later.
	roverWriter.WriteString("$GPGGA,000005,10000.000,N,10000.000,E,1,08,0.9,0.0,M,0.0,M,,*46\r\n")
	roverWriter.Flush()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for base switch, primary=%s", s.primary.ID)
		default:
		}
		if s.primary.ID == "C" {
			goto switched
		}
		time.Sleep(20 * time.Millisecond)
	}
switched:

	select {
	case <-done:
		t.Fatalf("session exited unexpectedly; rover connection should remain open across a base switch")
	default:
	}

	cancel()
	<-done
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
