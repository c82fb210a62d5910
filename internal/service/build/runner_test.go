package build

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"
)

type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) add(stream Stream, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefix := "out:"
	if stream == Stderr {
		prefix = "err:"
	}
	r.lines = append(r.lines, prefix+line)
}

func TestShellRunnerStreamsLines(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	rec := &lineRecorder{}
	err := ShellRunner{}.Run(context.Background(), t.TempDir(), "echo one; echo two 1>&2; printf three", rec.add)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	joined := strings.Join(rec.lines, ",")
	for _, want := range []string{"out:one", "err:two", "out:three"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in %q", want, joined)
		}
	}
}

func TestShellRunnerReportsExitStatus(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	err := ShellRunner{}.Run(context.Background(), t.TempDir(), "exit 3", func(Stream, string) {})
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Fatalf("expected exit status 3, got %v", err)
	}
}

func TestLineWriterSplitsChunks(t *testing.T) {
	rec := &lineRecorder{}
	w := &lineWriter{stream: Stdout, emit: rec.add}
	_, _ = w.Write([]byte("hel"))
	_, _ = w.Write([]byte("lo\r\nwor"))
	_, _ = w.Write([]byte("ld\n\n  \n10%\r55%\r100%\n"))
	_, _ = w.Write([]byte("tail"))
	w.Flush()

	want := []string{"out:hello", "out:world", "out:100%", "out:tail"}
	if strings.Join(rec.lines, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected lines %q", rec.lines)
	}
}

func TestLineWriterBreaksOverlongLines(t *testing.T) {
	rec := &lineRecorder{}
	w := &lineWriter{stream: Stdout, emit: rec.add}
	_, _ = w.Write([]byte(strings.Repeat("x", maxLineLength+10)))
	w.Flush()
	if len(rec.lines) != 2 {
		t.Fatalf("expected two pieces, got %d", len(rec.lines))
	}
}

func TestLineWriterKeepsRunesWhole(t *testing.T) {
	rec := &lineRecorder{}
	w := &lineWriter{stream: Stdout, emit: rec.add}
	long := strings.Repeat("x", maxLineLength-1) + "é✓" + "tail"
	_, _ = w.Write([]byte(long[:maxLineLength]))
	_, _ = w.Write([]byte(long[maxLineLength:]))
	w.Flush()

	if len(rec.lines) != 2 {
		t.Fatalf("expected two pieces, got %d", len(rec.lines))
	}
	for _, line := range rec.lines {
		if !utf8.ValidString(line) {
			t.Fatalf("piece is not valid UTF-8: %q", line[len(line)-8:])
		}
	}
	if got := strings.TrimPrefix(rec.lines[1], "out:"); got != "é✓tail" {
		t.Fatalf("unexpected second piece %q", got)
	}
}

func TestLineWriterCapsTerminatedLines(t *testing.T) {
	rec := &lineRecorder{}
	w := &lineWriter{stream: Stdout, emit: rec.add}
	_, _ = w.Write([]byte(strings.Repeat("y", 2*maxLineLength+1) + "\nnext\n"))

	if len(rec.lines) != 4 || rec.lines[3] != "out:next" {
		t.Fatalf("expected three capped pieces then next, got %d lines", len(rec.lines))
	}
	for _, line := range rec.lines[:3] {
		if len(line)-len("out:") > maxLineLength {
			t.Fatalf("piece of %d bytes exceeds the cap", len(line)-len("out:"))
		}
	}
}

func TestSanitizedEnvDropsCredentials(t *testing.T) {
	env := SanitizedEnv([]string{
		"PATH=/usr/bin",
		"S3_SECRET_KEY=shh",
		"aws_secret_access_key=shh",
		"REDIS_URL=redis://x",
		"NODE_ENV=production",
	})
	if strings.Join(env, ",") != "PATH=/usr/bin,NODE_ENV=production" {
		t.Fatalf("unexpected env %q", env)
	}
}

func TestLogStreamPreservesOrderAndSingleTerminal(t *testing.T) {
	pub := &publisherStub{}
	s := newLogStream(pub, slog.New(slog.NewJSONHandler(io.Discard, nil)), "order-test", 0)
	for i := 0; i < 200; i++ {
		s.Publish(strings.Repeat("a", i%7))
	}
	s.Finish("Done")
	s.Finish("Failed: late")
	s.Publish("after terminal")
	s.Close()
	s.Publish("after close")

	lines := pub.snapshot()
	if len(lines) != 201 {
		t.Fatalf("expected 201 lines, got %d", len(lines))
	}
	for i := 0; i < 200; i++ {
		if lines[i] != strings.Repeat("a", i%7) {
			t.Fatalf("line %d out of order: %q", i, lines[i])
		}
	}
	if lines[200] != "Done" {
		t.Fatalf("expected Done last, got %q", lines[200])
	}
}
