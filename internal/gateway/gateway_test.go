package gateway

import (
	"bufio"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

// fakePort is an in-memory serialport.Port backed by a byte channel
// for reads and a buffer for writes, avoiding any real hardware
// dependency in tests.
type fakePort struct {
	mu      sync.Mutex
	toRead  []byte
	written []byte
	closed  bool
}

func (p *fakePort) feed(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.toRead = append(p.toRead, []byte(s)...)
}

func (p *fakePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.toRead) == 0 {
		return 0, nil // mimics go.bug.st/serial's timeout-with-no-data behavior
	}
	n := copy(buf, p.toRead)
	p.toRead = p.toRead[n:]
	return n, nil
}

func (p *fakePort) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = append(p.written, data...)
	return len(data), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) snapshotWritten() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written...)
}

func TestSerialToNetworkForwardsFirstGGAImmediately(t *testing.T) {
	port := &fakePort{}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		received <- line
	}()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	gw := New(Config{}, log, log)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer clientConn.Close()

	port.feed("$GNGGA,131804.00,2290.63642,S,05125.61568,W,5,12,2.18,368.8,M,-5.5,M,,0000*5D\r\n")
	go gw.serialToNetwork(ctx, port, clientConn)

	select {
	case line := <-received:
		assert.NotEmpty(t, line)
	case <-time.After(1500 * time.Millisecond):
		t.Fatalf("timed out waiting for forwarded GGA line")
	}
}

func TestSerialToNetworkThrottlesSubsequentGGA(t *testing.T) {
	port := &fakePort{}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	lineCount := make(chan int, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		count := 0
		conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		for {
			if _, err := reader.ReadString('\n'); err != nil {
				break
			}
			count++
		}
		lineCount <- count
	}()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	gw := New(Config{}, log, log)

	ctx, cancel := context.WithTimeout(context.Background(), 1200*time.Millisecond)
	defer cancel()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer clientConn.Close()

	gga := "$GNGGA,131804.00,2290.63642,S,05125.61568,W,5,12,2.18,368.8,M,-5.5,M,,0000*5D\r\n"
	for i := 0; i < 5; i++ {
		port.feed(gga)
	}
	go gw.serialToNetwork(ctx, port, clientConn)

	select {
	case count := <-lineCount:
		assert.Equal(t, 1, count)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for line count")
	}
}

func TestNetworkToSerialWritesValidatedFrames(t *testing.T) {
	port := &fakePort{}
	frame := buildFrameForTest([]byte("abc"))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("HTTP/1.1 200 OK\r\n\r\n"))
		chunkLen := len(frame)
		conn.Write([]byte(hexString(chunkLen) + "\r\n"))
		conn.Write(frame)
		conn.Write([]byte("\r\n0\r\n\r\n"))
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer clientConn.Close()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	gw := New(Config{}, log, log)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	gw.networkToSerial(ctx, clientConn, port)

	written := port.snapshotWritten()
	assert.Equal(t, frame, written)
}

func hexString(n int) string {
	const digits = "0123456789abcdef"
	if n == 0 {
		return "0"
	}
	var out []byte
	for n > 0 {
		out = append([]byte{digits[n%16]}, out...)
		n /= 16
	}
	return string(out)
}

func buildFrameForTest(payload []byte) []byte {
	const poly = 0x1864CFB
	header := []byte{0xD3, byte(len(payload) >> 8 & 0x03), byte(len(payload))}
	body := append(append([]byte{}, header...), payload...)
	var crc uint32
	for _, b := range body {
		crc ^= uint32(b) << 16
		for i := 0; i < 8; i++ {
			if crc&0x800000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
			crc &= 0xFFFFFF
		}
	}
	return append(body, byte(crc>>16), byte(crc>>8), byte(crc))
}
