// Package rtcm implements a pure, allocation-light, bytewise state
// machine that extracts length-delimited, CRC-24/LTE-A validated
// frames from a rolling buffer, resynchronizing on corruption.
package rtcm

import "bytes"

const preamble = 0xD3

// Consume inspects the start of *buf for one RTCM3 frame.
//
// It mutates *buf in place and returns the delivered frame (nil unless
// a CRC-valid frame was found) and n: 0 when more data is needed or
// the buffer was only resynchronized, otherwise the length of the
// frame that was consumed (whether or not its CRC matched).
//
// Consume never reads past frameLen-1 and never returns a frame whose
// CRC-24/LTE-A does not match its header+payload.
func Consume(buf *[]byte) (frame []byte, n int) {
	b := *buf
	if len(b) < 6 {
		return nil, 0
	}

	if b[0] != preamble {
		idx := bytes.IndexByte(b, preamble)
		if idx < 0 {
			*buf = b[:0]
		} else {
			*buf = b[idx:]
		}
		return nil, 0
	}

	length := (int(b[1]&0x03) << 8) | int(b[2])
	frameLen := 3 + length + 3
	if len(b) < frameLen {
		return nil, 0
	}

	crc := crc24LTEA(b[:3+length])
	var want [3]byte
	putCRC24(want[:], crc)
	got := b[3+length : frameLen]

	*buf = b[frameLen:]

	if want[0] == got[0] && want[1] == got[1] && want[2] == got[2] {
		frame = append([]byte(nil), b[:frameLen]...)
		return frame, frameLen
	}
	return nil, frameLen
}

// Drain runs Consume to completion over *buf, returning every
// CRC-valid frame found in wire order. It always
// terminates: a call that leaves *buf unchanged and delivers no frame
// means "need more data", and the loop stops.
func Drain(buf *[]byte) [][]byte {
	var frames [][]byte
	for {
		before := len(*buf)
		frame, n := Consume(buf)
		if frame != nil {
			frames = append(frames, frame)
			continue
		}
		if n > 0 {
			continue
		}
		if len(*buf) == before {
			return frames
		}
	}
}
