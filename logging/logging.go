// Package logging provides protocol-level debug logging for taglink.
// It is intended for troubleshooting wire-level issues such as connection
// errors, malformed replies, and unexpected status codes. Logging is off
// by default and has no effect on protocol behavior.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/phsym/console-slog"
)

var (
	mu      sync.RWMutex
	logger  *slog.Logger
	enabled bool
)

// SetDebug enables or disables debug logging. The first enable installs a
// console handler on stderr unless SetLogger was called earlier.
func SetDebug(on bool) {
	mu.Lock()
	defer mu.Unlock()
	enabled = on
	if on && logger == nil {
		logger = newConsoleLogger(os.Stderr)
	}
}

// SetLogger replaces the destination logger. Passing nil reverts to the
// default console handler on the next enable.
func SetLogger(l *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

func newConsoleLogger(w io.Writer) *slog.Logger {
	return slog.New(console.NewHandler(w, &console.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func active() (*slog.Logger, bool) {
	mu.RLock()
	defer mu.RUnlock()
	if !enabled || logger == nil {
		return nil, false
	}
	return logger, true
}

// Debugf logs a formatted message for the given subsystem ("eip", "cip",
// "logix", "discovery").
func Debugf(subsys, format string, args ...any) {
	l, ok := active()
	if !ok {
		return
	}
	l.Debug(fmt.Sprintf(format, args...), "sub", subsys)
}

// Errorf logs an operation failure.
func Errorf(subsys, op string, err error) {
	l, ok := active()
	if !ok {
		return
	}
	l.Error(op, "sub", subsys, "err", err)
}

// TX logs a transmitted frame as a hex dump.
func TX(subsys string, frame []byte) {
	l, ok := active()
	if !ok {
		return
	}
	l.Debug("TX", "sub", subsys, "len", len(frame), "bytes", HexDump(frame))
}

// RX logs a received frame as a hex dump.
func RX(subsys string, frame []byte) {
	l, ok := active()
	if !ok {
		return
	}
	l.Debug("RX", "sub", subsys, "len", len(frame), "bytes", HexDump(frame))
}

// HexDump renders bytes as space-separated hex pairs, 16 per group.
func HexDump(data []byte) string {
	var b strings.Builder
	for i, c := range data {
		if i > 0 {
			if i%16 == 0 {
				b.WriteString(" | ")
			} else {
				b.WriteByte(' ')
			}
		}
		fmt.Fprintf(&b, "%02X", c)
	}
	return b.String()
}
