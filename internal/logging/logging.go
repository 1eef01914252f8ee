// Package logging configures structured logrus output and the
// Gateway's per-NMEA-sentence log file: one UTF-8 line per NMEA
// sentence appended to logs/LOG<ddmmyy-HHMMSS>.txt, timestamped by
// process start time.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// New builds a console logger at level with a timestamped text
// formatter.
func New(level string) (*logrus.Logger, error) {
	logger := logrus.New()
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logging: invalid level %q: %w", level, err)
	}
	logger.SetLevel(parsed)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logger, nil
}

// nmeaFileHook appends every log entry carrying an "nmea" field, and
// nothing else, to a single process-lifetime log file.
type nmeaFileHook struct {
	file *os.File
}

// NewNMEALog opens logs/LOG<ddmmyy-HHMMSS>.txt (created relative to
// the working directory) and returns a logger dedicated to it, kept
// separate from the console logger so the file is appended to
// regardless of the console's configured verbosity. The returned
// logger writes nothing to its own output; only the attached hook
// writes, and only for entries carrying an "nmea" field.
func NewNMEALog(startedAt time.Time) (*logrus.Logger, error) {
	if err := os.MkdirAll("logs", 0o755); err != nil {
		return nil, fmt.Errorf("logging: create logs dir: %w", err)
	}
	name := filepath.Join("logs", fmt.Sprintf("LOG%s.txt", startedAt.Format("020106-150405")))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open %s: %w", name, err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)
	logger.AddHook(&nmeaFileHook{file: f})
	return logger, nil
}

func (h *nmeaFileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *nmeaFileHook) Fire(entry *logrus.Entry) error {
	line, ok := entry.Data["nmea"]
	if !ok {
		return nil
	}
	_, err := fmt.Fprintf(h.file, "%s\n", line)
	return err
}
