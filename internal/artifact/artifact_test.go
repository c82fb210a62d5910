package artifact

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/splax/edgeship/internal/domain"
)

func TestKeyLayout(t *testing.T) {
	cases := []struct {
		id, rel, want string
	}{
		{"brave-fox", "index.html", "__outputs/brave-fox/index.html"},
		{"brave-fox", "assets/app.js", "__outputs/brave-fox/assets/app.js"},
		{"brave-fox", "/assets/app.js", "__outputs/brave-fox/assets/app.js"},
	}
	for _, tc := range cases {
		if got := Key(tc.id, tc.rel); got != tc.want {
			t.Fatalf("Key(%q, %q) = %q, want %q", tc.id, tc.rel, got, tc.want)
		}
	}
}

func TestContentType(t *testing.T) {
	if got := ContentType("index.html"); !strings.HasPrefix(got, "text/html") {
		t.Fatalf("expected html content type, got %q", got)
	}
	if got := ContentType("assets/app.css"); !strings.HasPrefix(got, "text/css") {
		t.Fatalf("expected css content type, got %q", got)
	}
	if got := ContentType("blob.unknownext"); got != DefaultContentType {
		t.Fatalf("expected fallback, got %q", got)
	}
	if got := ContentType("LICENSE"); got != DefaultContentType {
		t.Fatalf("expected fallback for extensionless file, got %q", got)
	}
}

func TestWalkListsRegularFilesDepthFirst(t *testing.T) {
	fsys := fstest.MapFS{
		"index.html":          {Data: []byte("<html></html>")},
		"assets/app.js":       {Data: []byte("console.log(1)")},
		"assets/img/logo.svg": {Data: []byte("<svg/>")},
		"assets/z.css":        {Data: []byte("body{}")},
		"empty":               {Mode: fs.ModeDir},
	}
	files, skipped, err := Walk(fsys)
	if err != nil || len(skipped) != 0 {
		t.Fatalf("walk: %v, skipped %v", err, skipped)
	}
	want := []string{"assets/app.js", "assets/img/logo.svg", "assets/z.css", "index.html"}
	if strings.Join(files, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected files %v", files)
	}
	again, _, err := Walk(fsys)
	if err != nil {
		t.Fatalf("second walk: %v", err)
	}
	if strings.Join(again, ",") != strings.Join(files, ",") {
		t.Fatalf("walk is not restartable: %v vs %v", again, files)
	}
}

func TestWalkOnDisk(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "nested", "deeper"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "nested", "deeper", "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	files, _, err := Walk(os.DirFS(root))
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(files) != 1 || files[0] != "nested/deeper/a.txt" {
		t.Fatalf("unexpected files %v", files)
	}
}

// unreadableDirFS fails ReadDir for one directory.
type unreadableDirFS struct {
	fstest.MapFS
	dir string
}

func (f unreadableDirFS) ReadDir(name string) ([]fs.DirEntry, error) {
	if name == f.dir {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrPermission}
	}
	return f.MapFS.ReadDir(name)
}

func TestWalkSkipsUnreadableDirectory(t *testing.T) {
	fsys := unreadableDirFS{
		MapFS: fstest.MapFS{
			"index.html":        {Data: []byte("<html></html>")},
			"locked/secret.txt": {Data: []byte("x")},
			"static/app.js":     {Data: []byte("1")},
		},
		dir: "locked",
	}
	files, skipped, err := Walk(fsys)
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if strings.Join(files, ",") != "index.html,static/app.js" {
		t.Fatalf("unexpected files %v", files)
	}
	if len(skipped) != 1 || skipped[0].Path != "locked" || !errors.Is(skipped[0].Err, fs.ErrPermission) {
		t.Fatalf("unexpected skipped %+v", skipped)
	}

	root := unreadableDirFS{MapFS: fstest.MapFS{"a.txt": {Data: []byte("a")}}, dir: "."}
	if _, _, err := Walk(root); err == nil {
		t.Fatalf("an unreadable root must fail the walk")
	}
}

type fakePutter struct {
	inputs []*s3.PutObjectInput
	bodies []string
	err    error
}

func (f *fakePutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, _ := io.ReadAll(params.Body)
	f.inputs = append(f.inputs, params)
	f.bodies = append(f.bodies, string(data))
	return &s3.PutObjectOutput{}, nil
}

func TestS3StorePut(t *testing.T) {
	api := &fakePutter{}
	store := &S3Store{api: api, bucket: "deployments"}
	err := store.Put(context.Background(), domain.ArtifactEntry{
		DeploymentID: "brave-fox",
		RelativePath: "assets/app.js",
		Body:         bytes.NewReader([]byte("console.log(1)")),
		Size:         14,
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if len(api.inputs) != 1 {
		t.Fatalf("expected one put, got %d", len(api.inputs))
	}
	in := api.inputs[0]
	if aws.ToString(in.Bucket) != "deployments" {
		t.Fatalf("unexpected bucket %q", aws.ToString(in.Bucket))
	}
	if aws.ToString(in.Key) != "__outputs/brave-fox/assets/app.js" {
		t.Fatalf("unexpected key %q", aws.ToString(in.Key))
	}
	if ct := aws.ToString(in.ContentType); !strings.Contains(ct, "javascript") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if aws.ToInt64(in.ContentLength) != 14 {
		t.Fatalf("unexpected content length %d", aws.ToInt64(in.ContentLength))
	}
	if api.bodies[0] != "console.log(1)" {
		t.Fatalf("unexpected body %q", api.bodies[0])
	}
}

func TestS3StorePutWrapsErrors(t *testing.T) {
	boom := errors.New("boom")
	store := &S3Store{api: &fakePutter{err: boom}, bucket: "deployments"}
	err := store.Put(context.Background(), domain.ArtifactEntry{
		DeploymentID: "brave-fox",
		RelativePath: "index.html",
		Body:         strings.NewReader("x"),
		Size:         1,
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
