package rtcm

import (
	gognssrtcm "github.com/go-gnss/rtcm"
	"github.com/sirupsen/logrus"
)

// LogFrame logs the RTCM message type carried by a CRC-validated
// frame, purely for operator diagnostics. Parse failures here are
// swallowed: go-gnss/rtcm decodes whole messages against the
// RTCM-standard CRC-24Q, a different polynomial than the CRC-24/LTE-A
// this package validates frames against, so an occasional decode
// mismatch is expected and must never gate delivery of the frame that
// Consume already validated.
func LogFrame(log logrus.FieldLogger, frame []byte) {
	if log == nil {
		return
	}
	messages, err := gognssrtcm.ParseMessages(frame)
	if err != nil || len(messages) == 0 {
		log.WithField("bytes", len(frame)).Debug("rtcm frame forwarded (type undecoded)")
		return
	}
	for _, msg := range messages {
		log.WithFields(logrus.Fields{
			"type":  msg.Number(),
			"bytes": len(frame),
		}).Debug("rtcm frame forwarded")
	}
}
