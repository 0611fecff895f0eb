// Package build provides the shared logging backend used by every
// subsystem: a single btclog.Backend, written through an optional
// rotating log file, with one sub-logger created per subsystem tag.
// Modeled on this codebase's daemon/log.go, trimmed to the
// subsystems the mempool tracker actually has.
package build

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// LogWriter is an io.Writer that always writes to stdout, and also to
// a rotator pipe once one has been installed by InitLogRotator.
type LogWriter struct {
	RotatorPipe *io.PipeWriter
}

// Write implements io.Writer.
func (w *LogWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	if w.RotatorPipe != nil {
		w.RotatorPipe.Write(p)
	}
	return len(p), nil
}

var (
	logWriter  = &LogWriter{}
	backendLog = btclog.NewBackend(logWriter)
	logRotator *rotator.Rotator

	subsystemsMu sync.Mutex
	subsystems   = map[string]btclog.Logger{}
)

// NewSubLogger creates a named logger over the shared backend at the
// info level and registers it by tag so SetLevel/SetLevels can find
// it again later, regardless of which package created it or when.
func NewSubLogger(tag string) btclog.Logger {
	logger := backendLog.Logger(tag)
	logger.SetLevel(btclog.LevelInfo)

	subsystemsMu.Lock()
	subsystems[tag] = logger
	subsystemsMu.Unlock()

	return logger
}

// InitLogRotator wires the shared LogWriter to a rotating file at
// logFile, creating its directory if necessary. It must be called
// before any logger produced by NewSubLogger is used, if file output
// is desired at all; logging to stdout works without it.
func InitLogRotator(logFile string, maxFileSizeKB, maxFiles int) error {
	logDir, _ := filepath.Split(logFile)
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0700); err != nil {
			return err
		}
	}

	r, err := rotator.New(logFile, int64(maxFileSizeKB*1024), false, maxFiles)
	if err != nil {
		return err
	}

	pr, pw := io.Pipe()
	go r.Run(pr)

	logWriter.RotatorPipe = pw
	logRotator = r
	return nil
}

// SetLevel sets the level of one logger dynamically created by
// NewSubLogger, identified by the same tag it was created with.
func SetLevel(tag, level string) {
	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		return
	}

	subsystemsMu.Lock()
	defer subsystemsMu.Unlock()
	if logger, ok := subsystems[tag]; ok {
		logger.SetLevel(lvl)
	}
}

// SetLevels applies level to every subsystem logger created so far via
// NewSubLogger, the way this codebase's daemon/log.go setLogLevels
// configures every subsystem from a single command-line flag.
func SetLevels(level string) {
	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		return
	}

	subsystemsMu.Lock()
	defer subsystemsMu.Unlock()
	for _, logger := range subsystems {
		logger.SetLevel(lvl)
	}
}
