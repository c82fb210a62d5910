package build

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Stream identifies which output stream of the build tool a line came from.
type Stream int

// Output streams of the build tool.
const (
	Stdout Stream = iota
	Stderr
)

const (
	maxLineLength = 64 << 10
	waitDelay     = 5 * time.Second
)

// secretEnvKeys never reach the build tool; user build scripts run with the worker's
// remaining environment.
var secretEnvKeys = []string{
	"S3_ACCESS_KEY",
	"S3_SECRET_KEY",
	"ACCESS_KEY_ID",
	"SECRET_ACCESS_KEY",
	"AWS_ACCESS_KEY",
	"AWS_SECRET_KEY",
	"AWS_ACCESS_KEY_ID",
	"AWS_SECRET_ACCESS_KEY",
	"AWS_SESSION_TOKEN",
	"BUS_URL",
	"REDIS_URL",
}

// Runner executes the build command in dir and reports every output line.
type Runner interface {
	Run(ctx context.Context, dir, command string, onLine func(Stream, string)) error
}

// ShellRunner runs the build command through sh -c.
type ShellRunner struct {
	Env []string
}

// Run starts the command and blocks until it exits. onLine is called from two goroutines.
func (r ShellRunner) Run(ctx context.Context, dir, command string, onLine func(Stream, string)) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = r.Env
	if cmd.Env == nil {
		cmd.Env = SanitizedEnv(os.Environ())
	}
	// Bounds Wait when a background process inherited the output pipes.
	cmd.WaitDelay = waitDelay
	stdout := &lineWriter{stream: Stdout, emit: onLine}
	stderr := &lineWriter{stream: Stderr, emit: onLine}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	err := cmd.Run()
	stdout.Flush()
	stderr.Flush()
	return err
}

// SanitizedEnv drops credentials from environ.
func SanitizedEnv(environ []string) []string {
	out := make([]string, 0, len(environ))
	for _, kv := range environ {
		key, _, _ := strings.Cut(kv, "=")
		if isSecretKey(key) {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func isSecretKey(key string) bool {
	for _, secret := range secretEnvKeys {
		if strings.EqualFold(key, secret) {
			return true
		}
	}
	return false
}

// lineWriter splits a byte stream into lines. Overlong lines are emitted in pieces.
type lineWriter struct {
	mu     sync.Mutex
	stream Stream
	emit   func(Stream, string)
	buf    []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.line(w.split(w.buf[:i]))
		w.buf = w.buf[i+1:]
	}
	w.buf = w.split(w.buf)
	if len(w.buf) == 0 {
		w.buf = nil
	}
	return len(p), nil
}

// split emits leading maxLineLength pieces of b and returns the rest.
func (w *lineWriter) split(b []byte) []byte {
	for len(b) > maxLineLength {
		cut := runeBoundary(b, maxLineLength)
		w.line(b[:cut])
		b = b[cut:]
	}
	return b
}

// runeBoundary moves n back to the start of the rune it falls in, so a split never cuts a
// multi-byte character in two. Input that is not UTF-8 is cut at n.
func runeBoundary(b []byte, n int) int {
	for i := n; i > 0 && i > n-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			return i
		}
	}
	return n
}

// Flush emits a trailing line that had no newline.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.line(w.buf)
		w.buf = nil
	}
}

func (w *lineWriter) line(raw []byte) {
	text := strings.TrimRight(string(raw), "\r")
	// Progress bars redraw with carriage returns; keep the final frame.
	if i := strings.LastIndexByte(text, '\r'); i >= 0 {
		text = text[i+1:]
	}
	if strings.TrimSpace(text) == "" {
		return
	}
	w.emit(w.stream, text)
}
