// Package klog is the kernel's logging sink: a thin wrapper over the
// standard library's log package that sanitizes user-supplied bytes (from
// SYS_LOG/SYS_WRITE to defs.D_CONSOLE) before they reach the log stream, so
// a misbehaving or malicious process can't inject control characters or
// invalid UTF-16 surrogate sequences into kernel diagnostics.
//
// Grounded on biscuit's direct fmt.Printf-to-serial console logging
// (kernel/chentry.go) generalized with golang.org/x/text/encoding/unicode
// for defensive transcoding, the way the pack's other examples lean on
// golang.org/x/text for untrusted text handling.
package klog

import (
	"bytes"
	"io"
	"log"
	"os"

	"golang.org/x/text/encoding/unicode"
)

/// Logger writes sanitized kernel log lines to an underlying
/// *log.Logger, by default stderr with a microsecond timestamp prefix.
type Logger struct {
	out     *log.Logger
	decoder *unicode.Decoder
}

/// New returns a Logger writing to os.Stderr.
func New() *Logger {
	return NewWriter(os.Stderr)
}

/// NewWriter returns a Logger writing to an arbitrary io.Writer, for tests
/// and for callers that want to capture kernel log output.
func NewWriter(w io.Writer) *Logger {
	return &Logger{
		out:     log.New(w, "kernel: ", log.Lmicroseconds),
		decoder: unicode.UTF8.NewDecoder(),
	}
}

/// Write implements io.Writer (and syscall.Logger): it sanitizes p as
/// best-effort UTF-8 (invalid sequences become the replacement character,
/// never a raw control byte) and logs the result as one line.
func (l *Logger) Write(p []byte) (int, error) {
	clean, err := l.decoder.Bytes(p)
	if err != nil {
		clean = sanitizeASCII(p)
	}
	clean = bytes.Map(func(r rune) rune {
		if (r < 0x20 && r != '\n' && r != '\t') || r == 0x7f {
			return '?'
		}
		return r
	}, clean)
	l.out.Printf("%s", clean)
	return len(p), nil
}

// sanitizeASCII is the fallback path when transcoding fails outright:
// strip anything that isn't printable ASCII or whitespace.
func sanitizeASCII(p []byte) []byte {
	out := make([]byte, 0, len(p))
	for _, b := range p {
		if b == '\n' || b == '\t' || (b >= 0x20 && b < 0x7f) {
			out = append(out, b)
		} else {
			out = append(out, '?')
		}
	}
	return out
}

/// Errorf logs a formatted kernel-internal error line (panics, fault
/// dumps), bypassing sanitization since the arguments are kernel-formatted,
/// not raw user bytes.
func (l *Logger) Errorf(format string, args ...any) {
	l.out.Printf(format, args...)
}
