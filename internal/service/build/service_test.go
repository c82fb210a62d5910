package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/splax/edgeship/internal/channel"
	"github.com/splax/edgeship/internal/domain"
	"github.com/splax/edgeship/internal/workspace"
	"github.com/splax/edgeship/pkg/config"
)

type publisherStub struct {
	mu       sync.Mutex
	channels []string
	lines    []string
}

func (p *publisherStub) Publish(ctx context.Context, ch string, payload []byte) error {
	event, err := domain.DecodeLogEvent("", payload)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, ch)
	p.lines = append(p.lines, event.Text)
	return nil
}

func (p *publisherStub) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.lines...)
}

type storeStub struct {
	mu      sync.Mutex
	objects map[string]storedObject
	failOn  map[string]bool
	failAll error
	onPut   func(rel string)
}

type storedObject struct {
	body        string
	contentType string
	size        int64
}

func newStoreStub() *storeStub {
	return &storeStub{objects: make(map[string]storedObject), failOn: make(map[string]bool)}
}

func (s *storeStub) Put(ctx context.Context, entry domain.ArtifactEntry) error {
	if s.onPut != nil {
		s.onPut(entry.RelativePath)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.failAll != nil {
		return s.failAll
	}
	if s.failOn[entry.RelativePath] {
		return errors.New("access denied")
	}
	body, err := io.ReadAll(entry.Body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[entry.DeploymentID+"/"+entry.RelativePath] = storedObject{body: string(body), contentType: entry.ContentType, size: entry.Size}
	return nil
}

type runnerStub struct {
	lines []struct {
		stream Stream
		text   string
	}
	err    error
	called bool
}

func (r *runnerStub) Run(ctx context.Context, dir, command string, onLine func(Stream, string)) error {
	r.called = true
	for _, l := range r.lines {
		onLine(l.stream, l.text)
	}
	return r.err
}

func fetchFiles(files map[string]string) Fetcher {
	return func(ctx context.Context, repoURL, dest string) error {
		for rel, body := range files {
			p := filepath.Join(dest, filepath.FromSlash(rel))
			if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
				return err
			}
		}
		return nil
	}
}

func newTestService(t *testing.T, pub *publisherStub, store *storeStub, cfg config.BuilderConfig) *Service {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	return New(pub, store, ws, slog.New(slog.NewJSONHandler(io.Discard, nil)), cfg)
}

func deployment() domain.Deployment {
	return domain.Deployment{ID: "calm-blue-otter", SourceURL: "https://github.com/acme/site.git"}
}

func assertSingleTerminal(t *testing.T, lines []string) {
	t.Helper()
	terminals := 0
	for _, line := range lines {
		if (domain.LogEvent{Text: line}).Terminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Fatalf("expected exactly one terminal line, got %d in %q", terminals, lines)
	}
	if last := lines[len(lines)-1]; !(domain.LogEvent{Text: last}).Terminal() {
		t.Fatalf("terminal line must be last, got %q", last)
	}
}

func TestRunPublishesOrderedProgressAndUploads(t *testing.T) {
	pub := &publisherStub{}
	store := newStoreStub()
	svc := newTestService(t, pub, store, config.BuilderConfig{})
	svc.fetch = fetchFiles(map[string]string{
		"package.json":       "{}",
		"dist/index.html":    "<html></html>",
		"dist/assets/app.js": "console.log(1)",
	})
	svc.runner = &runnerStub{lines: []struct {
		stream Stream
		text   string
	}{
		{Stdout, "added 1 package"},
		{Stderr, "npm WARN deprecated"},
		{Stdout, "vite build done"},
	}}

	report, err := svc.Run(context.Background(), deployment())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Status != domain.StatusDone || report.Uploaded != 2 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}

	want := []string{
		"Cloning https://github.com/acme/site.git",
		LineBuildStarted,
		"added 1 package",
		"error: npm WARN deprecated",
		"vite build done",
		LineBuildComplete,
		LineUploadStarting,
		"uploading assets/app.js",
		"uploaded assets/app.js",
		"uploading index.html",
		"uploaded index.html",
		domain.DoneLine,
	}
	got := pub.snapshot()
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("unexpected lines:\n got %q\nwant %q", got, want)
	}
	for _, ch := range pub.channels {
		if ch != channel.ForDeployment("calm-blue-otter") {
			t.Fatalf("published on unexpected channel %q", ch)
		}
	}

	index, ok := store.objects["calm-blue-otter/index.html"]
	if !ok || index.body != "<html></html>" || !strings.HasPrefix(index.contentType, "text/html") {
		t.Fatalf("unexpected index object %+v", index)
	}
	if index.size != int64(len("<html></html>")) {
		t.Fatalf("unexpected size %d", index.size)
	}
	if _, ok := store.objects["calm-blue-otter/package.json"]; ok {
		t.Fatalf("files outside the output directory must not be uploaded")
	}
}

func TestRunMissingOutputDirectoryFails(t *testing.T) {
	pub := &publisherStub{}
	store := newStoreStub()
	svc := newTestService(t, pub, store, config.BuilderConfig{})
	svc.fetch = fetchFiles(map[string]string{"package.json": "{}"})
	svc.runner = &runnerStub{}

	report, err := svc.Run(context.Background(), deployment())
	if !errors.Is(err, domain.ErrBuildOutputMissing) {
		t.Fatalf("expected ErrBuildOutputMissing, got %v", err)
	}
	if report.Status != domain.StatusFailed {
		t.Fatalf("unexpected status %s", report.Status)
	}
	if len(store.objects) != 0 {
		t.Fatalf("no artifact entries may exist, got %d", len(store.objects))
	}
	lines := pub.snapshot()
	assertSingleTerminal(t, lines)
	if !strings.HasPrefix(lines[len(lines)-1], domain.FailedPrefix) {
		t.Fatalf("expected failure line, got %q", lines[len(lines)-1])
	}
	for _, line := range lines {
		if line == LineUploadStarting {
			t.Fatalf("upload must not start without output")
		}
	}
}

func TestRunFetchFailureSkipsBuild(t *testing.T) {
	pub := &publisherStub{}
	svc := newTestService(t, pub, newStoreStub(), config.BuilderConfig{})
	svc.fetch = func(ctx context.Context, repoURL, dest string) error {
		return errors.New("repository not found")
	}
	runner := &runnerStub{}
	svc.runner = runner

	_, err := svc.Run(context.Background(), deployment())
	if !errors.Is(err, domain.ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
	if runner.called {
		t.Fatalf("build tool must not run after a failed fetch")
	}
	lines := pub.snapshot()
	assertSingleTerminal(t, lines)
	if !strings.Contains(lines[len(lines)-1], "repository not found") {
		t.Fatalf("failure line should carry the reason, got %q", lines[len(lines)-1])
	}
}

func TestRunBuildToolFailure(t *testing.T) {
	pub := &publisherStub{}
	store := newStoreStub()
	svc := newTestService(t, pub, store, config.BuilderConfig{})
	svc.fetch = fetchFiles(map[string]string{"dist/index.html": "stale"})
	svc.runner = &runnerStub{err: errors.New("exit status 1")}

	_, err := svc.Run(context.Background(), deployment())
	if !errors.Is(err, domain.ErrBuildToolFailed) {
		t.Fatalf("expected ErrBuildToolFailed, got %v", err)
	}
	if len(store.objects) != 0 {
		t.Fatalf("nothing may be uploaded after a failed build")
	}
	assertSingleTerminal(t, pub.snapshot())
}

func TestRunPartialUploadFailureStillDone(t *testing.T) {
	pub := &publisherStub{}
	store := newStoreStub()
	store.failOn["b.css"] = true
	svc := newTestService(t, pub, store, config.BuilderConfig{})
	svc.fetch = fetchFiles(map[string]string{
		"dist/a.js":       "a",
		"dist/b.css":      "b",
		"dist/index.html": "c",
	})
	svc.runner = &runnerStub{}

	report, err := svc.Run(context.Background(), deployment())
	if err != nil {
		t.Fatalf("partial upload failure must not fail the run: %v", err)
	}
	if report.Uploaded != 2 || report.Failed != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	lines := pub.snapshot()
	assertSingleTerminal(t, lines)
	if lines[len(lines)-1] != domain.DoneLine {
		t.Fatalf("expected Done, got %q", lines[len(lines)-1])
	}
	if lines[len(lines)-2] != "upload finished with 1 failed files" {
		t.Fatalf("expected failure count before Done, got %q", lines[len(lines)-2])
	}
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "failed to upload b.css: access denied") {
		t.Fatalf("expected per-file failure line in %q", lines)
	}
	if !strings.Contains(joined, "uploaded index.html") {
		t.Fatalf("walk must continue past a failed file")
	}
}

func TestRunEveryUploadFailingFailsTheRun(t *testing.T) {
	pub := &publisherStub{}
	store := newStoreStub()
	store.failAll = errors.New("NoSuchBucket")
	svc := newTestService(t, pub, store, config.BuilderConfig{})
	svc.fetch = fetchFiles(map[string]string{
		"dist/app.js":     "a",
		"dist/index.html": "b",
	})
	svc.runner = &runnerStub{}

	report, err := svc.Run(context.Background(), deployment())
	if !errors.Is(err, domain.ErrUploadPartialFailure) {
		t.Fatalf("expected ErrUploadPartialFailure, got %v", err)
	}
	if report.Status != domain.StatusFailed || report.Uploaded != 0 || report.Failed != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	lines := pub.snapshot()
	assertSingleTerminal(t, lines)
	if last := lines[len(lines)-1]; !strings.HasPrefix(last, domain.FailedPrefix) {
		t.Fatalf("expected failure line, got %q", last)
	}
}

func TestRunCancelledDuringUploadFails(t *testing.T) {
	pub := &publisherStub{}
	store := newStoreStub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.onPut = func(rel string) {
		if rel == "index.html" {
			cancel()
		}
	}
	svc := newTestService(t, pub, store, config.BuilderConfig{})
	svc.fetch = fetchFiles(map[string]string{
		"dist/app.js":     "a",
		"dist/index.html": "b",
	})
	svc.runner = &runnerStub{}

	report, err := svc.Run(ctx, deployment())
	if !errors.Is(err, domain.ErrUploadPartialFailure) {
		t.Fatalf("expected ErrUploadPartialFailure, got %v", err)
	}
	if report.Status != domain.StatusFailed || report.Uploaded != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	lines := pub.snapshot()
	assertSingleTerminal(t, lines)
	if last := lines[len(lines)-1]; !strings.HasPrefix(last, domain.FailedPrefix) || !strings.Contains(last, "interrupted") {
		t.Fatalf("expected interrupted failure line, got %q", last)
	}
}

func TestRunConcurrentUploadsFinishBeforeDone(t *testing.T) {
	pub := &publisherStub{}
	store := newStoreStub()
	svc := newTestService(t, pub, store, config.BuilderConfig{UploadConcurrency: 4})
	files := make(map[string]string)
	for i := 0; i < 25; i++ {
		files[fmt.Sprintf("dist/chunk-%02d.js", i)] = fmt.Sprintf("chunk %d", i)
	}
	svc.fetch = fetchFiles(files)
	svc.runner = &runnerStub{}

	report, err := svc.Run(context.Background(), deployment())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Uploaded != 25 || len(store.objects) != 25 {
		t.Fatalf("expected 25 uploads, got report %+v and %d objects", report, len(store.objects))
	}
	lines := pub.snapshot()
	assertSingleTerminal(t, lines)
	if lines[len(lines)-1] != domain.DoneLine {
		t.Fatalf("Done must come after every upload, got %q", lines[len(lines)-1])
	}
}

func TestRunRejectsInvalidDeploymentID(t *testing.T) {
	pub := &publisherStub{}
	svc := newTestService(t, pub, newStoreStub(), config.BuilderConfig{})

	_, err := svc.Run(context.Background(), domain.Deployment{ID: "../etc", SourceURL: "https://github.com/acme/site.git"})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if len(pub.snapshot()) != 0 {
		t.Fatalf("nothing may be published for an unroutable id")
	}
}

func TestRunUnreadableOutputDirectoryCountsAsFailure(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	pub := &publisherStub{}
	store := newStoreStub()
	svc := newTestService(t, pub, store, config.BuilderConfig{})
	files := fetchFiles(map[string]string{
		"dist/index.html":        "<html></html>",
		"dist/private/notes.txt": "x",
	})
	var locked string
	svc.fetch = func(ctx context.Context, repoURL, dest string) error {
		if err := files(ctx, repoURL, dest); err != nil {
			return err
		}
		locked = filepath.Join(dest, "dist", "private")
		return os.Chmod(locked, 0)
	}
	svc.keepWorkspace = true
	t.Cleanup(func() {
		if locked != "" {
			_ = os.Chmod(locked, 0o755)
		}
	})
	svc.runner = &runnerStub{}

	report, err := svc.Run(context.Background(), deployment())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Status != domain.StatusDone || report.Uploaded != 1 || report.Failed != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	lines := pub.snapshot()
	assertSingleTerminal(t, lines)
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "failed to upload private/") {
		t.Fatalf("expected the unreadable directory to be reported, got %q", lines)
	}
	if !strings.Contains(joined, "upload finished with 1 failed files") {
		t.Fatalf("expected failure count line, got %q", lines)
	}
}
