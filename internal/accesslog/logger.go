// Package accesslog formats and buffers the access log line (spec.md
// §6 "Access log line format"), flushing on a configured line-count
// threshold or on shutdown (spec.md §5 "Shared resources").
package accesslog

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger buffers formatted access lines and flushes them to an
// io.Writer in batches, the way the teacher's Logger wraps logrus for
// structured diagnostic logging (package root Config.Logger) while
// this buffer owns only the fixed-format access line.
type Logger struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	lines     int
	threshold int
	out       io.Writer
	diag      *logrus.Logger
}

// New returns a Logger writing to out, flushing every threshold lines
// (threshold <= 0 disables count-based flushing; Close always flushes).
func New(out io.Writer, threshold int, diag *logrus.Logger) *Logger {
	return &Logger{out: out, threshold: threshold, diag: diag}
}

// Log appends one formatted line (spec.md §6): `address - user
// [dd/Mon/YYYY:HH:MM:SS ±zzzz] "request-line" status bytes "referer"
// "user-agent"`.
func (l *Logger) Log(peer, user, requestLine string, status int, bytes_ int64, referer, userAgent string) {
	if user == "" {
		user = "-"
	}
	if referer == "" {
		referer = "-"
	}
	if userAgent == "" {
		userAgent = "-"
	}
	ts := time.Now().Format("02/Jan/2006:15:04:05 -0700")

	l.mu.Lock()
	fmt.Fprintf(&l.buf, "%s - %s [%s] %q %d %d %q %q\n",
		peer, user, ts, requestLine, status, bytes_, referer, userAgent)
	l.lines++
	shouldFlush := l.threshold > 0 && l.lines >= l.threshold
	l.mu.Unlock()

	if shouldFlush {
		l.Flush()
	}
}

// Flush writes buffered lines to the underlying writer.
func (l *Logger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buf.Len() == 0 {
		return
	}
	if _, err := l.out.Write(l.buf.Bytes()); err != nil && l.diag != nil {
		l.diag.WithError(err).Warn("accesslog: flush failed")
	}
	l.buf.Reset()
	l.lines = 0
}

// Close flushes any remaining buffered lines (spec.md §5 "flushed...
// on shutdown").
func (l *Logger) Close() error {
	l.Flush()
	return nil
}
